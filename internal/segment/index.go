package segment

import (
	"os"
	"sync"
	"syscall"

	"streamlog/pkg"
)

// indexRecordWidth is the fixed 8-byte record:
// relative_offset:u32 | file_position:u32.
const indexRecordWidth = 8

// IndexRecord is one (relative_offset, file_position) pair.
type IndexRecord struct {
	RelativeOffset uint32
	FilePosition   uint32
}

// Index is the offset -> file-position sidecar: mmap-backed, append-only,
// little-endian, with an optional decoded in-memory cache gated by
// Config.CacheIndexes. With the cache disabled, lookups bisect the mapped
// file directly.
type Index struct {
	mu    sync.RWMutex
	file  *os.File
	data  []byte // mmap region
	size  int64  // bytes written
	cache []IndexRecord
}

func openIndex(path string, capacity int64, cacheEnabled bool) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < capacity {
		if err := f.Truncate(capacity); err != nil {
			f.Close()
			return nil, err
		}
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(capacity), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	idx := &Index{file: f, data: data, size: 0}
	if cacheEnabled {
		idx.cache = make([]IndexRecord, 0)
	}
	return idx, nil
}

func (i *Index) recordAt(pos int64) IndexRecord {
	return IndexRecord{
		RelativeOffset: pkg.Enc.Uint32(i.data[pos : pos+4]),
		FilePosition:   pkg.Enc.Uint32(i.data[pos+4 : pos+8]),
	}
}

// Write appends one (relativeOffset, filePosition) entry.
func (i *Index) Write(relativeOffset, filePosition uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.size+indexRecordWidth > int64(len(i.data)) {
		return ErrIndexFull
	}

	pkg.Enc.PutUint32(i.data[i.size:i.size+4], relativeOffset)
	pkg.Enc.PutUint32(i.data[i.size+4:i.size+8], filePosition)
	i.size += indexRecordWidth

	if i.cache != nil {
		i.cache = append(i.cache, IndexRecord{RelativeOffset: relativeOffset, FilePosition: filePosition})
	}
	return nil
}

// Count returns the number of records currently stored.
func (i *Index) Count() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.size / indexRecordWidth
}

// FindPosition bisects on relative offset. An exact match returns its
// file position; otherwise the
// file_position of the largest record with relative_offset <= target, or 0
// (start of the log) if there is none.
func (i *Index) FindPosition(target uint32) uint32 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.cache != nil {
		return bisectCache(i.cache, target)
	}

	entries := int(i.size / indexRecordWidth)
	best := uint32(0)
	found := false
	low, high := 0, entries-1
	for low <= high {
		mid := (low + high) / 2
		rec := i.recordAt(int64(mid) * indexRecordWidth)
		if rec.RelativeOffset <= target {
			best = rec.FilePosition
			found = true
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	if !found {
		return 0
	}
	return best
}

func bisectCache(cache []IndexRecord, target uint32) uint32 {
	low, high := 0, len(cache)-1
	best := uint32(0)
	found := false
	for low <= high {
		mid := (low + high) / 2
		if cache[mid].RelativeOffset <= target {
			best = cache[mid].FilePosition
			found = true
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	if !found {
		return 0
	}
	return best
}

// LastEntry returns the most recently written record, used by recovery to
// seed its scan position.
func (i *Index) LastEntry() (IndexRecord, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.size == 0 {
		return IndexRecord{}, false
	}
	return i.recordAt(i.size - indexRecordWidth), true
}

// adoptMatching compares the on-disk records against what the log scan says
// should be there, adopts the longest matching prefix as the index's logical
// size, and returns its record count. This is how an index recovers its
// extent after a reopen or a crash: the mmap region is pre-allocated and
// zero-padded, so the file length alone cannot distinguish written records
// from padding.
func (i *Index) adoptMatching(expected []IndexRecord) int64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	limit := int64(len(expected))
	if byCapacity := int64(len(i.data)) / indexRecordWidth; limit > byCapacity {
		limit = byCapacity
	}
	var n int64
	for n < limit {
		if i.recordAt(n*indexRecordWidth) != expected[n] {
			break
		}
		n++
	}
	i.size = n * indexRecordWidth
	return n
}

// loadAll decodes every on-disk record into the cache slice. Called once
// during Load when Config.CacheIndexes is true.
func (i *Index) loadAll() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cache == nil {
		return
	}
	entries := int(i.size / indexRecordWidth)
	i.cache = make([]IndexRecord, 0, entries)
	for n := 0; n < entries; n++ {
		i.cache = append(i.cache, i.recordAt(int64(n)*indexRecordWidth))
	}
}

// Truncate drops the index down to count records, used by recovery when the
// log and index disagree.
func (i *Index) Truncate(count int64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.size = count * indexRecordWidth
	if i.cache != nil {
		if int64(len(i.cache)) > count {
			i.cache = i.cache[:count]
		}
	}
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := syscall.Munmap(i.data); err != nil {
		return err
	}
	if err := i.file.Truncate(i.size); err != nil {
		return err
	}
	return i.file.Close()
}

func (i *Index) Delete() error {
	path := i.file.Name()
	_ = syscall.Munmap(i.data)
	_ = i.file.Close()
	return os.Remove(path)
}

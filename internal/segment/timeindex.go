package segment

import (
	"os"
	"sync"
	"syscall"

	"streamlog/pkg"
)

// timeIndexRecordWidth is the fixed 12-byte record:
// relative_offset:u32 | timestamp:u64.
const timeIndexRecordWidth = 12

type TimeIndexRecord struct {
	RelativeOffset uint32
	Timestamp      uint64
}

// TimeIndex is the timestamp -> offset sidecar. It mirrors Index's
// mmap-backed, optionally-cached layout with a wider record that carries
// the message timestamp instead of a file position.
type TimeIndex struct {
	mu    sync.RWMutex
	file  *os.File
	data  []byte
	size  int64
	cache []TimeIndexRecord
}

func openTimeIndex(path string, capacity int64, cacheEnabled bool) (*TimeIndex, error) {
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

	ti := &TimeIndex{file: f, data: data, size: 0}
	if cacheEnabled {
		ti.cache = make([]TimeIndexRecord, 0)
	}
	return ti, nil
}

func (t *TimeIndex) recordAt(pos int64) TimeIndexRecord {
	return TimeIndexRecord{
		RelativeOffset: pkg.Enc.Uint32(t.data[pos : pos+4]),
		Timestamp:      pkg.Enc.Uint64(t.data[pos+4 : pos+12]),
	}
}

// Write appends one record. Timestamps must be non-decreasing within a
// segment; callers are responsible for only calling Write in timestamp
// order, same as the log itself.
func (t *TimeIndex) Write(relativeOffset uint32, timestamp uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size+timeIndexRecordWidth > int64(len(t.data)) {
		return ErrIndexFull
	}

	pkg.Enc.PutUint32(t.data[t.size:t.size+4], relativeOffset)
	pkg.Enc.PutUint64(t.data[t.size+4:t.size+12], timestamp)
	t.size += timeIndexRecordWidth

	if t.cache != nil {
		t.cache = append(t.cache, TimeIndexRecord{RelativeOffset: relativeOffset, Timestamp: timestamp})
	}
	return nil
}

func (t *TimeIndex) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size / timeIndexRecordWidth
}

// FindRelativeOffset bisects to the smallest record with timestamp >=
// target. The second return value is false when no such record exists (the
// caller should fall back to end-of-segment).
func (t *TimeIndex) FindRelativeOffset(target uint64) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.cache != nil {
		return bisectTimeCache(t.cache, target)
	}

	entries := int(t.size / timeIndexRecordWidth)
	low, high := 0, entries
	for low < high {
		mid := (low + high) / 2
		rec := t.recordAt(int64(mid) * timeIndexRecordWidth)
		if rec.Timestamp >= target {
			high = mid
		} else {
			low = mid + 1
		}
	}
	if low == entries {
		return 0, false
	}
	return t.recordAt(int64(low) * timeIndexRecordWidth).RelativeOffset, true
}

func bisectTimeCache(cache []TimeIndexRecord, target uint64) (uint32, bool) {
	low, high := 0, len(cache)
	for low < high {
		mid := (low + high) / 2
		if cache[mid].Timestamp >= target {
			high = mid
		} else {
			low = mid + 1
		}
	}
	if low == len(cache) {
		return 0, false
	}
	return cache[low].RelativeOffset, true
}

// adoptMatching is the time-index counterpart of Index.adoptMatching: adopt
// the longest on-disk prefix that agrees with the log scan as the logical
// size, and report its record count.
func (t *TimeIndex) adoptMatching(expected []TimeIndexRecord) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit := int64(len(expected))
	if byCapacity := int64(len(t.data)) / timeIndexRecordWidth; limit > byCapacity {
		limit = byCapacity
	}
	var n int64
	for n < limit {
		if t.recordAt(n*timeIndexRecordWidth) != expected[n] {
			break
		}
		n++
	}
	t.size = n * timeIndexRecordWidth
	return n
}

func (t *TimeIndex) loadAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cache == nil {
		return
	}
	entries := int(t.size / timeIndexRecordWidth)
	t.cache = make([]TimeIndexRecord, 0, entries)
	for n := 0; n < entries; n++ {
		t.cache = append(t.cache, t.recordAt(int64(n)*timeIndexRecordWidth))
	}
}

func (t *TimeIndex) Truncate(count int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.size = count * timeIndexRecordWidth
	if t.cache != nil {
		if int64(len(t.cache)) > count {
			t.cache = t.cache[:count]
		}
	}
}

func (t *TimeIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := syscall.Munmap(t.data); err != nil {
		return err
	}
	if err := t.file.Truncate(t.size); err != nil {
		return err
	}
	return t.file.Close()
}

func (t *TimeIndex) Delete() error {
	path := t.file.Name()
	_ = syscall.Munmap(t.data)
	_ = t.file.Close()
	return os.Remove(path)
}

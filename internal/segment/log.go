package segment

import (
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Log is the append-only segment log file. The file is pre-truncated to
// its configured capacity and mapped once, so Append is a plain memcpy
// rather than a syscall per record.
type Log struct {
	mu   sync.RWMutex
	file *os.File
	data []byte // mmap region, length == capacity
	size int64  // logical size (valid data written so far)
}

func openLog(path string, capacity int64) (*Log, error) {
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

	return &Log{file: f, data: data, size: 0}, nil
}

func (l *Log) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// setSize is used only during recovery, to reconcile logical size with what
// was actually verified on disk.
func (l *Log) setSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
}

// Append copies b to the end of the log and returns the byte position it
// was written at.
func (l *Log) Append(b []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size+int64(len(b)) > int64(len(l.data)) {
		return 0, ErrSegmentFull
	}

	pos := l.size
	copy(l.data[pos:pos+int64(len(b))], b)
	l.size += int64(len(b))
	return pos, nil
}

// ReadRaw returns a view of exactly size bytes starting at pos, or an error
// if that would run past the logical size.
func (l *Log) ReadRaw(pos int64, size int) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos < 0 || pos+int64(size) > l.size {
		return nil, ErrOffsetOutOfRange
	}
	out := make([]byte, size)
	copy(out, l.data[pos:pos+int64(size)])
	return out, nil
}

// physicalCapacity is the size of the mmap'd region, used only by recovery
// to bound its scan.
func (l *Log) physicalCapacity() int64 {
	return int64(len(l.data))
}

func (l *Log) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return unix.Msync(l.data, unix.MS_SYNC)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = unix.Msync(l.data, unix.MS_SYNC)
	if err := syscall.Munmap(l.data); err != nil {
		return err
	}
	if err := l.file.Truncate(l.size); err != nil {
		return err
	}
	return l.file.Close()
}

func (l *Log) Delete() error {
	path := l.file.Name()
	_ = syscall.Munmap(l.data)
	_ = l.file.Close()
	return os.Remove(path)
}

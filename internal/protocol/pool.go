package protocol

import "sync"

// PoolConfig bounds the sync.Pool this package uses to recycle request
// buffers, keeping the hot append/fetch path free of a per-request
// allocation.
type PoolConfig struct {
	MaxPoolSize int
}

var DefaultPoolConfig = PoolConfig{
	MaxPoolSize: 1024 * 64,
}

var bytePool = sync.Pool{
	New: func() any {
		b := make([]byte, 4096)
		return &b
	},
}

// GetBufferWithCapacity returns a pooled buffer at least `capacity` bytes
// long. A request larger than anything currently pooled falls back to a
// fresh allocation rather than growing the shared pool's steady-state size.
func GetBufferWithCapacity(capacity int) *[]byte {
	ptr := bytePool.Get().(*[]byte)
	if cap(*ptr) < capacity {
		b := make([]byte, capacity)
		return &b
	}
	*ptr = (*ptr)[:capacity]
	return ptr
}

// PutBuffer returns ptr to the pool, unless it has grown past
// MaxPoolSize: an oversized buffer is simply dropped rather than pinning
// that much memory in the pool for the rest of the process's life.
func PutBuffer(ptr *[]byte) {
	if len(*ptr) > DefaultPoolConfig.MaxPoolSize {
		return
	}
	bytePool.Put(ptr)
}

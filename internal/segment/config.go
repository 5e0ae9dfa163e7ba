package segment

// MaxSizeBytes is the hard ceiling on any segment's byte size, independent
// of the configured rollover threshold.
const MaxSizeBytes = 1_000_000_000

// Config controls rollover, caching and expiry for every Segment created
// under a Partition. Callers build it directly; there is no config-file
// loader at this layer.
type Config struct {
	// Size is the rollover threshold in bytes.
	Size int64
	// IndexMaxBytes bounds the pre-allocated mmap region for the offset
	// index sidecar.
	IndexMaxBytes int64
	// TimeIndexMaxBytes bounds the pre-allocated mmap region for the
	// time-index sidecar.
	TimeIndexMaxBytes int64
	// CacheIndexes mirrors "segment.cache_indexes": keep a decoded copy of
	// the index records in memory.
	CacheIndexes bool
	// CacheTimeIndexes mirrors "segment.cache_time_indexes".
	CacheTimeIndexes bool
	// MessageExpirySeconds is "segment.message_expiry"; 0 means never.
	MessageExpirySeconds int64
}

func DefaultConfig() Config {
	return Config{
		Size:                 1 << 30, // 1GB, clamped to MaxSizeBytes below
		IndexMaxBytes:        10 << 20,
		TimeIndexMaxBytes:    10 << 20,
		CacheIndexes:         true,
		CacheTimeIndexes:     true,
		MessageExpirySeconds: 0,
	}
}

func (c Config) Normalized() Config {
	if c.Size <= 0 || c.Size > MaxSizeBytes {
		c.Size = MaxSizeBytes
	}
	if c.IndexMaxBytes <= 0 {
		c.IndexMaxBytes = 10 << 20
	}
	if c.TimeIndexMaxBytes <= 0 {
		c.TimeIndexMaxBytes = 10 << 20
	}
	return c
}

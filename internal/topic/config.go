package topic

import "streamlog/internal/partition"

// Config controls a Topic's retention policy and the PartitionConfig every
// partition it creates inherits.
type Config struct {
	// MessageExpirySeconds is propagated into every partition's
	// SegmentConfig.MessageExpirySeconds, and is also the cutoff
	// time-based retention uses against sealed segments.
	MessageExpirySeconds int64
	// MaxTopicSizeBytes is "retention.max_topic_size"; 0 means unlimited.
	MaxTopicSizeBytes int64

	PartitionConfig partition.Config
}

func DefaultConfig() Config {
	return Config{
		MessageExpirySeconds: 0,
		MaxTopicSizeBytes:    0,
		PartitionConfig:      partition.DefaultConfig(),
	}
}

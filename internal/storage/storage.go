// Package storage defines the persistence port for metadata: a capability
// set factored into independent sub-ports per aggregate (stream, topic,
// partition, system). Segment log/index/time-index bytes are deliberately
// NOT routed through this port; the segment package owns that I/O
// directly via mmap'd files. What this port persists is stream.info,
// topic.info, partition.info, consumer offset cursors and the system-level
// metadata.
package storage

import "errors"

// ErrNotFound is returned by a Load call when the requested aggregate has
// no persisted metadata.
var ErrNotFound = errors.New("storage: not found")

// StreamInfo is the persisted shape of stream.info.
type StreamInfo struct {
	ID   uint32
	Name string
}

// TopicInfo is the persisted shape of topic.info.
type TopicInfo struct {
	ID                   uint32
	Name                 string
	MessageExpirySeconds int64
	MaxTopicSizeBytes    int64
}

// PartitionInfo is the persisted shape of partition.info.
type PartitionInfo struct {
	ID        uint32
	CreatedAt uint64 // micros since epoch
}

// SystemMeta is the handful of process-wide facts System needs across a
// restart (currently just a format/version marker for forward
// compatibility; System's counters are always recomputed from segment
// sizes on load rather than trusted from a stale snapshot).
type SystemMeta struct {
	Version int
}

// StreamStore persists Stream-level metadata.
type StreamStore interface {
	SaveStream(info StreamInfo) error
	LoadStreams() ([]StreamInfo, error)
	DeleteStream(streamID uint32) error
}

// TopicStore persists Topic-level metadata, scoped by owning stream.
type TopicStore interface {
	SaveTopic(streamID uint32, info TopicInfo) error
	LoadTopics(streamID uint32) ([]TopicInfo, error)
	DeleteTopic(streamID, topicID uint32) error
}

// PartitionStore persists Partition-level metadata and consumer offset
// cursors, scoped by owning stream/topic.
type PartitionStore interface {
	SavePartition(streamID, topicID uint32, info PartitionInfo) error
	LoadPartitions(streamID, topicID uint32) ([]PartitionInfo, error)
	DeletePartition(streamID, topicID, partitionID uint32) error

	SaveConsumerOffset(streamID, topicID, partitionID uint32, consumerID string, offset uint64) error
	LoadConsumerOffsets(streamID, topicID, partitionID uint32) (map[string]uint64, error)
}

// SystemStore persists root-level metadata.
type SystemStore interface {
	SaveSystemMeta(meta SystemMeta) error
	LoadSystemMeta() (SystemMeta, error)
}

// Port bundles the four sub-ports System needs. Any backend that
// implements all four is a valid store: the core calls only these
// methods.
type Port struct {
	System     SystemStore
	Streams    StreamStore
	Topics     TopicStore
	Partitions PartitionStore
}

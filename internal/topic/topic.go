// Package topic implements the named group of partitions within a stream,
// plus the two retention policies that prune sealed segments: by age and
// by aggregate topic size.
package topic

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamlog/internal/counters"
	"streamlog/internal/partition"
	"streamlog/internal/segment"
	"streamlog/internal/storage"
)

// Topic owns an id-keyed map of Partitions plus the two shared counter
// cells (size, messages) every descendant segment increments through in
// one pass.
type Topic struct {
	mu sync.RWMutex

	ID       uint32
	Name     string
	streamID uint32
	baseDir  string
	config   Config

	ownCounters    *counters.Pair
	streamCounters *counters.Pair
	systemCounters *counters.Pair

	store  storage.Port
	logger *zap.Logger

	partitions        map[uint32]*partition.Partition
	partitionCounters map[uint32]*counters.Pair
	nextPartitionID   uint32
}

// New constructs an empty Topic and persists its metadata. Callers creating
// a brand new topic (no partitions yet) use this; Load is used to
// reconstruct one from existing on-disk/storage state.
func New(id uint32, name string, streamID uint32, baseDir string, config Config, streamCounters, systemCounters *counters.Pair, store storage.Port, logger *zap.Logger) (*Topic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.PartitionConfig.SegmentConfig.MessageExpirySeconds = config.MessageExpirySeconds
	t := &Topic{
		ID:                id,
		Name:              name,
		streamID:          streamID,
		baseDir:           baseDir,
		config:            config,
		ownCounters:       counters.NewPair(),
		streamCounters:    streamCounters,
		systemCounters:    systemCounters,
		store:             store,
		logger:            logger,
		partitions:        make(map[uint32]*partition.Partition),
		partitionCounters: make(map[uint32]*counters.Pair),
	}
	if err := t.store.Topics.SaveTopic(t.streamID, storage.TopicInfo{
		ID:                   t.ID,
		Name:                 t.Name,
		MessageExpirySeconds: config.MessageExpirySeconds,
		MaxTopicSizeBytes:    config.MaxTopicSizeBytes,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reconstructs a Topic from persisted metadata, opening (and
// recovering) every partition it previously had.
func Load(info storage.TopicInfo, streamID uint32, baseDir string, partitionConfig partition.Config, streamCounters, systemCounters *counters.Pair, store storage.Port, logger *zap.Logger) (*Topic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := Config{
		MessageExpirySeconds: info.MessageExpirySeconds,
		MaxTopicSizeBytes:    info.MaxTopicSizeBytes,
		PartitionConfig:      partitionConfig,
	}
	config.PartitionConfig.SegmentConfig.MessageExpirySeconds = info.MessageExpirySeconds

	t := &Topic{
		ID:                info.ID,
		Name:              info.Name,
		streamID:          streamID,
		baseDir:           baseDir,
		config:            config,
		ownCounters:       counters.NewPair(),
		streamCounters:    streamCounters,
		systemCounters:    systemCounters,
		store:             store,
		logger:            logger,
		partitions:        make(map[uint32]*partition.Partition),
		partitionCounters: make(map[uint32]*counters.Pair),
	}

	partInfos, err := store.Partitions.LoadPartitions(streamID, info.ID)
	if err != nil {
		return nil, err
	}
	for _, pinfo := range partInfos {
		if err := t.openPartitionLocked(pinfo.ID); err != nil {
			return nil, err
		}
		if pinfo.ID >= t.nextPartitionID {
			t.nextPartitionID = pinfo.ID + 1
		}
		offsets, err := store.Partitions.LoadConsumerOffsets(streamID, info.ID, pinfo.ID)
		if err != nil {
			return nil, err
		}
		t.partitions[pinfo.ID].RestoreConsumerOffsets(offsets)
	}

	return t, nil
}

// openPartitionLocked opens (creating if absent) partitionID's segments and
// wires its counter cells. Callers must hold t.mu.
func (t *Topic) openPartitionLocked(partitionID uint32) error {
	dir := segment.PartitionDir(t.baseDir, t.streamID, t.ID, partitionID)
	ids := segment.IDs{StreamID: t.streamID, TopicID: t.ID, PartitionID: partitionID}

	ownCounters := counters.NewPair()
	parents := counters.ParentSet{
		Partition: ownCounters,
		Topic:     t.ownCounters,
		Stream:    t.streamCounters,
		System:    t.systemCounters,
	}

	p, err := partition.Open(ids, dir, t.config.PartitionConfig, parents, ownCounters, t.logger)
	if err != nil {
		return err
	}
	t.partitions[partitionID] = p
	t.partitionCounters[partitionID] = ownCounters
	return nil
}

// CreatePartition creates a new partition with an auto-assigned id,
// persists its metadata and returns it.
func (t *Topic) CreatePartition() (*partition.Partition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextPartitionID
	t.nextPartitionID++

	if err := t.openPartitionLocked(id); err != nil {
		return nil, err
	}
	createdAt := uint64(time.Now().UnixMicro())
	if err := t.store.Partitions.SavePartition(t.streamID, t.ID, storage.PartitionInfo{ID: id, CreatedAt: createdAt}); err != nil {
		return nil, err
	}
	return t.partitions[id], nil
}

// GetPartition returns the partition with the given id.
func (t *Topic) GetPartition(id uint32) (*partition.Partition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[id]
	return p, ok
}

// PartitionIDs returns every partition id, ascending.
func (t *Topic) PartitionIDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint32, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DeletePartition tears down one partition, subtracting its counters from
// the topic's own totals first.
func (t *Topic) DeletePartition(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[id]
	if !ok {
		return ErrNotFound
	}
	if err := p.Delete(); err != nil {
		return err
	}
	delete(t.partitions, id)
	delete(t.partitionCounters, id)
	return t.store.Partitions.DeletePartition(t.streamID, t.ID, id)
}

// Size returns the topic's aggregated byte size.
func (t *Topic) Size() int64 {
	return t.ownCounters.Size()
}

// Messages returns the topic's aggregated message count.
func (t *Topic) Messages() int64 {
	return t.ownCounters.Messages()
}

// EnforceRetention runs both retention policies:
// time-based (per partition, against every sealed segment) and size-based
// (across partitions, oldest sealed segment first, only once time-based
// deletion has run). Only sealed segments are ever eligible; the active
// segment of any partition is never deleted.
func (t *Topic) EnforceRetention(nowMicros uint64) {
	t.mu.RLock()
	parts := make([]*partition.Partition, 0, len(t.partitions))
	for _, p := range t.partitions {
		parts = append(parts, p)
	}
	expiry := t.config.MessageExpirySeconds
	maxSize := t.config.MaxTopicSizeBytes
	t.mu.RUnlock()

	if expiry > 0 {
		expiryMicros := uint64(expiry) * 1_000_000
		if nowMicros > expiryMicros {
			cutoff := nowMicros - expiryMicros
			for _, p := range parts {
				if n, err := p.DeleteSegmentsOlderThan(cutoff); err != nil {
					t.logger.Error("time-based retention failed, will retry next tick",
						zap.Uint32("topic_id", t.ID), zap.Uint32("partition_id", p.ID()), zap.Error(err))
				} else if n > 0 {
					t.logger.Info("deleted expired sealed segments",
						zap.Uint32("topic_id", t.ID), zap.Uint32("partition_id", p.ID()), zap.Int("count", n))
				}
			}
		}
	}

	if maxSize <= 0 {
		return
	}
	for t.ownCounters.Size() > maxSize {
		victim, ok := oldestSealedAcross(parts)
		if !ok {
			break
		}
		if err := victim.DeleteOldestSealed(); err != nil {
			t.logger.Error("size-based retention failed, will retry next tick",
				zap.Uint32("topic_id", t.ID), zap.Error(err))
			break
		}
	}
}

// oldestSealedAcross picks the partition whose oldest sealed segment has
// the smallest newest-message timestamp, i.e. the globally oldest sealed
// segment across the topic.
func oldestSealedAcross(parts []*partition.Partition) (*partition.Partition, bool) {
	var best *partition.Partition
	var bestTs uint64
	found := false
	for _, p := range parts {
		_, _, _, ts, ok := p.OldestSealedInfo()
		if !ok {
			continue
		}
		if !found || ts < bestTs {
			best, bestTs, found = p, ts, true
		}
	}
	return best, found
}

// Delete tears every partition down (purging its segments, which walks the
// byte/message deltas back out of all ancestor counters) and removes the
// topic's persisted metadata. Used by Stream.DeleteTopic so that deletion
// leaves the hierarchy's counters consistent.
func (t *Topic) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.partitions {
		if err := p.Delete(); err != nil {
			return err
		}
		if err := t.store.Partitions.DeletePartition(t.streamID, t.ID, id); err != nil {
			return err
		}
		delete(t.partitions, id)
		delete(t.partitionCounters, id)
	}
	return t.store.Topics.DeleteTopic(t.streamID, t.ID)
}

// Close releases every partition's file handles.
func (t *Topic) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for _, p := range t.partitions {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PersistConsumerOffsets flushes every partition's in-memory consumer
// cursors to the PartitionStore sub-port. Intended to be called from the
// same periodic tick that runs retention, and on shutdown.
func (t *Topic) PersistConsumerOffsets() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, p := range t.partitions {
		for consumerID, offset := range p.ConsumerOffsets() {
			if err := t.store.Partitions.SaveConsumerOffset(t.streamID, t.ID, id, consumerID, offset); err != nil {
				return err
			}
		}
	}
	return nil
}

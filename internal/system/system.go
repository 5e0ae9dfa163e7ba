// Package system implements the root of the stream/topic/partition/segment
// hierarchy: lifecycle (init/load/shutdown), global byte/message counters,
// and registry lookup by id or name.
package system

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamlog/internal/counters"
	"streamlog/internal/retention"
	"streamlog/internal/storage"
	"streamlog/internal/stream"
	"streamlog/internal/streamerr"
)

// System is a single-writer / many-readers guarded registry: mutations
// (create/delete stream/topic/partition) take the write side; read
// commands take the read side and delegate into a Partition, which then
// serializes its own appends independently.
type System struct {
	mu sync.RWMutex

	config Config
	store  storage.Port
	logger *zap.Logger

	counters *counters.Pair

	streams       map[uint32]*stream.Stream
	streamsByName map[string]uint32
	nextStreamID  uint32

	cleaner *retention.Cleaner
}

// Init loads system metadata, then for each stream loads its topics, and
// for each topic its partitions and segments, recovering each partition
// and marking it read-only when recovery dropped acknowledged data.
func Init(config Config, store storage.Port, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := store.System.LoadSystemMeta(); err != nil {
		return nil, err
	}

	s := &System{
		config:        config,
		store:         store,
		logger:        logger,
		counters:      counters.NewPair(),
		streams:       make(map[uint32]*stream.Stream),
		streamsByName: make(map[string]uint32),
	}

	streamInfos, err := store.Streams.LoadStreams()
	if err != nil {
		return nil, err
	}
	for _, info := range streamInfos {
		st, err := stream.Load(info, config.BaseDir, config.DefaultTopicConfig.PartitionConfig, s.counters, store, logger)
		if err != nil {
			return nil, err
		}
		s.streams[info.ID] = st
		s.streamsByName[info.Name] = info.ID
		if info.ID >= s.nextStreamID {
			s.nextStreamID = info.ID + 1
		}
	}

	if err := store.System.SaveSystemMeta(storage.SystemMeta{Version: 1}); err != nil {
		return nil, err
	}

	logger.Info("system initialized",
		zap.Int("streams", len(s.streams)),
		zap.Int64("total_size_bytes", s.counters.Size()),
		zap.Int64("total_messages", s.counters.Messages()))

	return s, nil
}

// StartRetention launches the periodic retention sweep, registering the
// System itself as the sweep target so streams created after startup are
// covered too.
func (s *System) StartRetention() {
	interval := time.Duration(s.config.RetentionCheckIntervalSeconds) * time.Second
	s.cleaner = retention.NewCleaner(retention.CleanerConfig{CheckInterval: interval}, s.logger)
	s.cleaner.Register(s)
	s.cleaner.Start()
}

// EnforceRetention runs every stream's retention policies once, against the
// supplied clock reading. It satisfies retention.Target; administrative
// commands and tests call it directly for an immediate sweep.
func (s *System) EnforceRetention(nowMicros uint64) {
	s.mu.RLock()
	streams := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.RUnlock()

	for _, st := range streams {
		st.EnforceRetention(nowMicros)
		if err := st.PersistConsumerOffsets(); err != nil {
			s.logger.Error("failed to persist consumer offsets, will retry next tick",
				zap.Uint32("stream_id", st.ID), zap.Error(err))
		}
	}
}

// CreateStream validates name uniqueness at system scope and creates a new
// Stream with an auto-assigned id.
func (s *System) CreateStream(name string) (*stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.streamsByName[name]; exists {
		return nil, streamerr.ErrAlreadyExists
	}

	id := s.nextStreamID
	s.nextStreamID++

	st, err := stream.New(id, name, s.config.BaseDir, s.counters, s.store, s.logger)
	if err != nil {
		return nil, err
	}
	s.streams[id] = st
	s.streamsByName[name] = id
	return st, nil
}

func (s *System) GetStreamByID(id uint32) (*stream.Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return st, ok
}

func (s *System) GetStreamByName(name string) (*stream.Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.streamsByName[name]
	if !ok {
		return nil, false
	}
	return s.streams[id], true
}

// StreamIDs returns every stream id, ascending.
func (s *System) StreamIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DeleteStream recursively tears down a stream's topics and partitions,
// releasing storage.
func (s *System) DeleteStream(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return streamerr.ErrNotFound
	}
	if err := st.Delete(); err != nil {
		return err
	}
	delete(s.streams, id)
	delete(s.streamsByName, st.Name)
	return nil
}

// TotalSize returns the process-wide aggregated byte size.
func (s *System) TotalSize() int64 {
	return s.counters.Size()
}

// TotalMessages returns the process-wide aggregated message count.
func (s *System) TotalMessages() int64 {
	return s.counters.Messages()
}

// Shutdown stops the retention sweep, persists every consumer offset
// cursor, and closes every open file handle. Safe to call once.
func (s *System) Shutdown() error {
	if s.cleaner != nil {
		s.cleaner.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, st := range s.streams {
		if err := st.PersistConsumerOffsets(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("system shut down")
	return firstErr
}

// Package stream implements the top-level named namespace: an id- and
// name-indexed map of Topics, with the shared counter cells every
// descendant segment increments through. Organized the same way
// topic.Topic indexes partitions, one level up.
package stream

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"streamlog/internal/counters"
	"streamlog/internal/partition"
	"streamlog/internal/storage"
	"streamlog/internal/streamerr"
	"streamlog/internal/topic"
)

type Stream struct {
	mu sync.RWMutex

	ID      uint32
	Name    string
	baseDir string

	ownCounters    *counters.Pair
	systemCounters *counters.Pair

	store  storage.Port
	logger *zap.Logger

	topics       map[uint32]*topic.Topic
	topicsByName map[string]uint32
	nextTopicID  uint32
}

// New creates a brand new, empty Stream and persists its metadata.
func New(id uint32, name string, baseDir string, systemCounters *counters.Pair, store storage.Port, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		ID:             id,
		Name:           name,
		baseDir:        baseDir,
		ownCounters:    counters.NewPair(),
		systemCounters: systemCounters,
		store:          store,
		logger:         logger,
		topics:         make(map[uint32]*topic.Topic),
		topicsByName:   make(map[string]uint32),
	}
	if err := store.Streams.SaveStream(storage.StreamInfo{ID: id, Name: name}); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reconstructs a Stream and every topic (and its partitions) it
// previously had.
func Load(info storage.StreamInfo, baseDir string, defaultPartitionConfig partition.Config, systemCounters *counters.Pair, store storage.Port, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		ID:             info.ID,
		Name:           info.Name,
		baseDir:        baseDir,
		ownCounters:    counters.NewPair(),
		systemCounters: systemCounters,
		store:          store,
		logger:         logger,
		topics:         make(map[uint32]*topic.Topic),
		topicsByName:   make(map[string]uint32),
	}

	topicInfos, err := store.Topics.LoadTopics(info.ID)
	if err != nil {
		return nil, err
	}
	for _, tinfo := range topicInfos {
		t, err := topic.Load(tinfo, info.ID, baseDir, defaultPartitionConfig, s.ownCounters, s.systemCounters, store, logger)
		if err != nil {
			return nil, err
		}
		s.topics[tinfo.ID] = t
		s.topicsByName[tinfo.Name] = tinfo.ID
		if tinfo.ID >= s.nextTopicID {
			s.nextTopicID = tinfo.ID + 1
		}
	}
	return s, nil
}

// CreateTopic validates name uniqueness within the stream and creates a
// new Topic with an auto-assigned id.
func (s *Stream) CreateTopic(name string, config topic.Config) (*topic.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.topicsByName[name]; exists {
		return nil, streamerr.ErrAlreadyExists
	}

	id := s.nextTopicID
	s.nextTopicID++

	t, err := topic.New(id, name, s.ID, s.baseDir, config, s.ownCounters, s.systemCounters, s.store, s.logger)
	if err != nil {
		return nil, err
	}
	s.topics[id] = t
	s.topicsByName[name] = id
	return t, nil
}

func (s *Stream) GetTopicByID(id uint32) (*topic.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	return t, ok
}

func (s *Stream) GetTopicByName(name string) (*topic.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.topicsByName[name]
	if !ok {
		return nil, false
	}
	return s.topics[id], true
}

// TopicIDs returns every topic id, ascending.
func (s *Stream) TopicIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.topics))
	for id := range s.topics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DeleteTopic tears a topic and all its partitions down, removing it from
// both lookup maps.
func (s *Stream) DeleteTopic(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return streamerr.ErrNotFound
	}
	if err := t.Delete(); err != nil {
		return err
	}
	delete(s.topics, id)
	delete(s.topicsByName, t.Name)
	return nil
}

// Delete tears down every topic (and its partitions), walking their sizes
// back out of the system counters, then removes the stream's persisted
// metadata. Used by System.DeleteStream.
func (s *Stream) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.topics {
		if err := t.Delete(); err != nil {
			return err
		}
		delete(s.topics, id)
		delete(s.topicsByName, t.Name)
	}
	return s.store.Streams.DeleteStream(s.ID)
}

// EnforceRetention runs every topic's retention policies.
func (s *Stream) EnforceRetention(nowMicros uint64) {
	s.mu.RLock()
	topics := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.RUnlock()

	for _, t := range topics {
		t.EnforceRetention(nowMicros)
	}
}

func (s *Stream) PersistConsumerOffsets() error {
	s.mu.RLock()
	topics := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.RUnlock()

	for _, t := range topics {
		if err := t.PersistConsumerOffsets(); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the stream's aggregated byte size.
func (s *Stream) Size() int64 {
	return s.ownCounters.Size()
}

// Messages returns the stream's aggregated message count.
func (s *Stream) Messages() int64 {
	return s.ownCounters.Messages()
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, t := range s.topics {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

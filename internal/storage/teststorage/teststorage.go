// Package teststorage is an in-memory metadata backend used to exercise
// the domain in tests without a real store. It backs the metadata
// sub-ports only; Segment bytes always live on disk via the segment
// package, independent of which metadata backend System is wired to.
package teststorage

import (
	"sync"

	"streamlog/internal/storage"
)

type topicKey struct {
	streamID uint32
	topicID  uint32
}

type partitionKey struct {
	streamID    uint32
	topicID     uint32
	partitionID uint32
}

// Store is a thread-safe in-memory implementation of storage.Port's four
// sub-ports.
type Store struct {
	mu sync.Mutex

	systemMeta storage.SystemMeta
	hasMeta    bool

	streams map[uint32]storage.StreamInfo
	topics  map[topicKey]storage.TopicInfo
	parts   map[partitionKey]storage.PartitionInfo
	offsets map[partitionKey]map[string]uint64
}

func New() *Store {
	return &Store{
		streams: make(map[uint32]storage.StreamInfo),
		topics:  make(map[topicKey]storage.TopicInfo),
		parts:   make(map[partitionKey]storage.PartitionInfo),
		offsets: make(map[partitionKey]map[string]uint64),
	}
}

func (s *Store) AsPort() storage.Port {
	return storage.Port{System: s, Streams: s, Topics: s, Partitions: s}
}

func (s *Store) SaveSystemMeta(meta storage.SystemMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemMeta = meta
	s.hasMeta = true
	return nil
}

func (s *Store) LoadSystemMeta() (storage.SystemMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasMeta {
		return storage.SystemMeta{Version: 1}, nil
	}
	return s.systemMeta, nil
}

func (s *Store) SaveStream(info storage.StreamInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[info.ID] = info
	return nil
}

func (s *Store) LoadStreams() ([]storage.StreamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.StreamInfo, 0, len(s.streams))
	for _, v := range s.streams {
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) DeleteStream(streamID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
	for k := range s.topics {
		if k.streamID == streamID {
			delete(s.topics, k)
		}
	}
	for k := range s.parts {
		if k.streamID == streamID {
			delete(s.parts, k)
			delete(s.offsets, k)
		}
	}
	return nil
}

func (s *Store) SaveTopic(streamID uint32, info storage.TopicInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topicKey{streamID, info.ID}] = info
	return nil
}

func (s *Store) LoadTopics(streamID uint32) ([]storage.TopicInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.TopicInfo
	for k, v := range s.topics {
		if k.streamID == streamID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) DeleteTopic(streamID, topicID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topicKey{streamID, topicID})
	for k := range s.parts {
		if k.streamID == streamID && k.topicID == topicID {
			delete(s.parts, k)
			delete(s.offsets, k)
		}
	}
	return nil
}

func (s *Store) SavePartition(streamID, topicID uint32, info storage.PartitionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[partitionKey{streamID, topicID, info.ID}] = info
	return nil
}

func (s *Store) LoadPartitions(streamID, topicID uint32) ([]storage.PartitionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PartitionInfo
	for k, v := range s.parts {
		if k.streamID == streamID && k.topicID == topicID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) DeletePartition(streamID, topicID, partitionID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := partitionKey{streamID, topicID, partitionID}
	delete(s.parts, key)
	delete(s.offsets, key)
	return nil
}

func (s *Store) SaveConsumerOffset(streamID, topicID, partitionID uint32, consumerID string, offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := partitionKey{streamID, topicID, partitionID}
	if s.offsets[key] == nil {
		s.offsets[key] = make(map[string]uint64)
	}
	s.offsets[key][consumerID] = offset
	return nil
}

func (s *Store) LoadConsumerOffsets(streamID, topicID, partitionID uint32) (map[string]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := partitionKey{streamID, topicID, partitionID}
	out := make(map[string]uint64, len(s.offsets[key]))
	for k, v := range s.offsets[key] {
		out[k] = v
	}
	return out, nil
}

// Package fsstorage is the default metadata backend: it persists
// stream.info/topic.info/partition.info as line-oriented key=value files
// colocated with the segment data they describe. Consumer offsets are
// kept in one file per partition, one "consumerID=offset" line each.
package fsstorage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"streamlog/internal/storage"
)

// FSStorage implements storage.Port's four sub-ports directly (it embeds
// itself into a storage.Port at the call site rather than being a single
// interface, since Go has no multiple-inheritance sugar for that).
type FSStorage struct {
	baseDir string
}

func New(baseDir string) *FSStorage {
	return &FSStorage{baseDir: baseDir}
}

// AsPort returns the four sub-ports bundled for a System to consume.
func (f *FSStorage) AsPort() storage.Port {
	return storage.Port{
		System:     f,
		Streams:    f,
		Topics:     f,
		Partitions: f,
	}
}

func (f *FSStorage) systemInfoPath() string {
	return filepath.Join(f.baseDir, "system.info")
}

func (f *FSStorage) streamDir(streamID uint32) string {
	return filepath.Join(f.baseDir, "streams", fmt.Sprintf("%d", streamID))
}

func (f *FSStorage) streamInfoPath(streamID uint32) string {
	return filepath.Join(f.streamDir(streamID), "stream.info")
}

func (f *FSStorage) topicDir(streamID, topicID uint32) string {
	return filepath.Join(f.streamDir(streamID), "topics", fmt.Sprintf("%d", topicID))
}

func (f *FSStorage) topicInfoPath(streamID, topicID uint32) string {
	return filepath.Join(f.topicDir(streamID, topicID), "topic.info")
}

func (f *FSStorage) partitionDir(streamID, topicID, partitionID uint32) string {
	return filepath.Join(f.topicDir(streamID, topicID), "partitions", fmt.Sprintf("%d", partitionID))
}

func (f *FSStorage) partitionInfoPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(f.partitionDir(streamID, topicID, partitionID), "partition.info")
}

func (f *FSStorage) consumerOffsetsPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(f.partitionDir(streamID, topicID, partitionID), "consumer_offsets.info")
}

func writeKV(path string, kv [][2]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, pair := range kv {
		b.WriteString(pair[0])
		b.WriteString("=")
		b.WriteString(pair[1])
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func readKV(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out, sc.Err()
}

// --- SystemStore ---

func (f *FSStorage) SaveSystemMeta(meta storage.SystemMeta) error {
	return writeKV(f.systemInfoPath(), [][2]string{
		{"version", strconv.Itoa(meta.Version)},
	})
}

func (f *FSStorage) LoadSystemMeta() (storage.SystemMeta, error) {
	kv, err := readKV(f.systemInfoPath())
	if err == storage.ErrNotFound {
		return storage.SystemMeta{Version: 1}, nil
	}
	if err != nil {
		return storage.SystemMeta{}, err
	}
	v, _ := strconv.Atoi(kv["version"])
	return storage.SystemMeta{Version: v}, nil
}

// --- StreamStore ---

func (f *FSStorage) SaveStream(info storage.StreamInfo) error {
	return writeKV(f.streamInfoPath(info.ID), [][2]string{
		{"id", strconv.FormatUint(uint64(info.ID), 10)},
		{"name", info.Name},
	})
}

func (f *FSStorage) LoadStreams() ([]storage.StreamInfo, error) {
	root := filepath.Join(f.baseDir, "streams")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []storage.StreamInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		kv, err := readKV(f.streamInfoPath(uint32(id)))
		if err != nil {
			return nil, err
		}
		out = append(out, storage.StreamInfo{ID: uint32(id), Name: kv["name"]})
	}
	return out, nil
}

func (f *FSStorage) DeleteStream(streamID uint32) error {
	err := os.RemoveAll(f.streamDir(streamID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- TopicStore ---

func (f *FSStorage) SaveTopic(streamID uint32, info storage.TopicInfo) error {
	return writeKV(f.topicInfoPath(streamID, info.ID), [][2]string{
		{"id", strconv.FormatUint(uint64(info.ID), 10)},
		{"name", info.Name},
		{"message_expiry_seconds", strconv.FormatInt(info.MessageExpirySeconds, 10)},
		{"max_topic_size_bytes", strconv.FormatInt(info.MaxTopicSizeBytes, 10)},
	})
}

func (f *FSStorage) LoadTopics(streamID uint32) ([]storage.TopicInfo, error) {
	root := filepath.Join(f.streamDir(streamID), "topics")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []storage.TopicInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		kv, err := readKV(f.topicInfoPath(streamID, uint32(id)))
		if err != nil {
			return nil, err
		}
		expiry, _ := strconv.ParseInt(kv["message_expiry_seconds"], 10, 64)
		maxSize, _ := strconv.ParseInt(kv["max_topic_size_bytes"], 10, 64)
		out = append(out, storage.TopicInfo{
			ID:                   uint32(id),
			Name:                 kv["name"],
			MessageExpirySeconds: expiry,
			MaxTopicSizeBytes:    maxSize,
		})
	}
	return out, nil
}

func (f *FSStorage) DeleteTopic(streamID, topicID uint32) error {
	err := os.RemoveAll(f.topicDir(streamID, topicID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- PartitionStore ---

func (f *FSStorage) SavePartition(streamID, topicID uint32, info storage.PartitionInfo) error {
	return writeKV(f.partitionInfoPath(streamID, topicID, info.ID), [][2]string{
		{"id", strconv.FormatUint(uint64(info.ID), 10)},
		{"created_at", strconv.FormatUint(info.CreatedAt, 10)},
	})
}

func (f *FSStorage) LoadPartitions(streamID, topicID uint32) ([]storage.PartitionInfo, error) {
	root := filepath.Join(f.topicDir(streamID, topicID), "partitions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []storage.PartitionInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		kv, err := readKV(f.partitionInfoPath(streamID, topicID, uint32(id)))
		if err != nil {
			return nil, err
		}
		createdAt, _ := strconv.ParseUint(kv["created_at"], 10, 64)
		out = append(out, storage.PartitionInfo{ID: uint32(id), CreatedAt: createdAt})
	}
	return out, nil
}

func (f *FSStorage) DeletePartition(streamID, topicID, partitionID uint32) error {
	err := os.RemoveAll(f.partitionDir(streamID, topicID, partitionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FSStorage) SaveConsumerOffset(streamID, topicID, partitionID uint32, consumerID string, offset uint64) error {
	path := f.consumerOffsetsPath(streamID, topicID, partitionID)
	kv, err := readKV(path)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if kv == nil {
		kv = make(map[string]string)
	}
	kv[consumerID] = strconv.FormatUint(offset, 10)

	pairs := make([][2]string, 0, len(kv))
	for k, v := range kv {
		pairs = append(pairs, [2]string{k, v})
	}
	return writeKV(path, pairs)
}

func (f *FSStorage) LoadConsumerOffsets(streamID, topicID, partitionID uint32) (map[string]uint64, error) {
	kv, err := readKV(f.consumerOffsetsPath(streamID, topicID, partitionID))
	if err == storage.ErrNotFound {
		return map[string]uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(kv))
	for k, v := range kv {
		n, _ := strconv.ParseUint(v, 10, 64)
		out[k] = n
	}
	return out, nil
}

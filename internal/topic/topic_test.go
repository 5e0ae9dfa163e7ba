package topic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"streamlog/internal/counters"
	"streamlog/internal/message"
	"streamlog/internal/partition"
	"streamlog/internal/storage/teststorage"
)

const fiftyBytePayloadLen = 50 - 45

func smallSegmentConfig() Config {
	cfg := DefaultConfig()
	cfg.PartitionConfig.SegmentConfig.Size = 100
	cfg.PartitionConfig.SegmentConfig.IndexMaxBytes = 64 << 10
	cfg.PartitionConfig.SegmentConfig.TimeIndexMaxBytes = 64 << 10
	return cfg
}

func newTestTopic(t *testing.T, cfg Config) (*Topic, *counters.Pair, *counters.Pair) {
	t.Helper()
	streamCounters := counters.NewPair()
	systemCounters := counters.NewPair()
	topic, err := New(1, "orders", 1, t.TempDir(), cfg, streamCounters, systemCounters, teststorage.New().AsPort(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { topic.Close() })
	return topic, streamCounters, systemCounters
}

func fillPartition(t *testing.T, p *partition.Partition, n int) []message.Message {
	t.Helper()
	payload := make([]byte, fiftyBytePayloadLen)
	var out []message.Message
	for i := 0; i < n; i++ {
		msgs, err := p.AppendMessages([]message.PendingMessage{{Payload: payload}})
		require.NoError(t, err)
		out = append(out, msgs...)
	}
	return out
}

func TestTopic_CreatePartition_AssignsSequentialIDs(t *testing.T) {
	topic, _, _ := newTestTopic(t, smallSegmentConfig())

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	p1, err := topic.CreatePartition()
	require.NoError(t, err)

	require.EqualValues(t, 0, p0.ID())
	require.EqualValues(t, 1, p1.ID())
	require.Equal(t, []uint32{0, 1}, topic.PartitionIDs())
}

func TestTopic_CountersAggregateAcrossPartitions(t *testing.T) {
	topic, streamCounters, systemCounters := newTestTopic(t, smallSegmentConfig())

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	p1, err := topic.CreatePartition()
	require.NoError(t, err)

	fillPartition(t, p0, 3)
	fillPartition(t, p1, 3)

	require.EqualValues(t, 150, p0.Size())
	require.EqualValues(t, 150, p1.Size())
	require.EqualValues(t, 300, topic.Size())
	require.EqualValues(t, 6, topic.Messages())
	require.EqualValues(t, 300, streamCounters.Size())
	require.EqualValues(t, 300, systemCounters.Size())
}

func TestTopic_DeletePartition_ReleasesCounters(t *testing.T) {
	topic, streamCounters, _ := newTestTopic(t, smallSegmentConfig())

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	fillPartition(t, p0, 4)
	require.EqualValues(t, 200, topic.Size())

	require.NoError(t, topic.DeletePartition(0))
	require.EqualValues(t, 0, topic.Size())
	require.EqualValues(t, 0, topic.Messages())
	require.EqualValues(t, 0, streamCounters.Size())
	require.Empty(t, topic.PartitionIDs())

	require.ErrorIs(t, topic.DeletePartition(0), ErrNotFound)
}

func TestTopic_SizeRetention_DeletesOldestSealedFirst(t *testing.T) {
	cfg := smallSegmentConfig()
	cfg.MaxTopicSizeBytes = 300
	topic, _, _ := newTestTopic(t, cfg)

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	p1, err := topic.CreatePartition()
	require.NoError(t, err)

	// 4 messages per partition: one sealed 100-byte segment each plus a
	// full-but-active segment. Aggregate 400 bytes, limit 300.
	fillPartition(t, p0, 4)
	msgs1 := fillPartition(t, p1, 4)

	topic.EnforceRetention(msgs1[3].Timestamp + 1)

	require.LessOrEqual(t, topic.Size(), int64(300))
	require.EqualValues(t, 6, topic.Messages(), "exactly one sealed segment deleted")
}

func TestTopic_TimeRetention_DeletesExpiredSealedSegments(t *testing.T) {
	cfg := smallSegmentConfig()
	cfg.MessageExpirySeconds = 10
	cfg.PartitionConfig.SegmentConfig.MessageExpirySeconds = 10
	topic, _, _ := newTestTopic(t, cfg)

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	msgs := fillPartition(t, p0, 3) // one sealed segment (0,1) + active (2)

	// Just before the sealed segment's newest message expires: nothing
	// happens.
	topic.EnforceRetention(msgs[1].Timestamp + 9_999_999)
	require.EqualValues(t, 3, topic.Messages())

	// Past expiry: the sealed segment goes; the active one stays even
	// though its message is also past expiry.
	topic.EnforceRetention(msgs[2].Timestamp + 10_000_001)
	require.EqualValues(t, 1, topic.Messages())
	require.EqualValues(t, 50, topic.Size())
}

func TestTopic_LoadRestoresPartitionsAndConsumerOffsets(t *testing.T) {
	baseDir := t.TempDir()
	store := teststorage.New().AsPort()
	streamCounters := counters.NewPair()
	systemCounters := counters.NewPair()

	cfg := smallSegmentConfig()
	topic, err := New(7, "orders", 3, baseDir, cfg, streamCounters, systemCounters, store, nil)
	require.NoError(t, err)

	p0, err := topic.CreatePartition()
	require.NoError(t, err)
	fillPartition(t, p0, 3)
	_, err = p0.GetMessagesByConsumer("c1", 2)
	require.NoError(t, err)
	require.NoError(t, topic.PersistConsumerOffsets())
	require.NoError(t, topic.Close())

	infos, err := store.Topics.LoadTopics(3)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	loadedStream := counters.NewPair()
	loadedSystem := counters.NewPair()
	loaded, err := Load(infos[0], 3, baseDir, cfg.PartitionConfig, loadedStream, loadedSystem, store, nil)
	require.NoError(t, err)
	defer loaded.Close()

	require.Equal(t, []uint32{0}, loaded.PartitionIDs())
	require.EqualValues(t, 150, loaded.Size())
	require.EqualValues(t, 3, loaded.Messages())

	lp, ok := loaded.GetPartition(0)
	require.True(t, ok)
	got, err := lp.GetMessagesByConsumer("c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "cursor resumed at offset 2")
	require.EqualValues(t, 2, got[0].Offset)
}

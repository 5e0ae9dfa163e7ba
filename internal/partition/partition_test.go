package partition

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"streamlog/internal/counters"
	"streamlog/internal/message"
	"streamlog/internal/segment"
	"streamlog/internal/streamerr"
)

// fiftyBytePayloadLen pads a payload so every encoded message is exactly 50
// bytes, making segment byte math in rollover tests explicit.
const fiftyBytePayloadLen = 50 - 45 // 45 = fixed header + two length fields

type testEnv struct {
	parents counters.ParentSet
	own     *counters.Pair
}

func newTestEnv() testEnv {
	own := counters.NewPair()
	return testEnv{
		parents: counters.ParentSet{
			Partition: own,
			Topic:     counters.NewPair(),
			Stream:    counters.NewPair(),
			System:    counters.NewPair(),
		},
		own: own,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SegmentConfig.Size = 1 << 20
	cfg.SegmentConfig.IndexMaxBytes = 64 << 10
	cfg.SegmentConfig.TimeIndexMaxBytes = 64 << 10
	return cfg
}

func openTestPartition(t *testing.T, dir string, cfg Config, env testEnv) *Partition {
	t.Helper()
	p, err := Open(segment.IDs{StreamID: 1, TopicID: 1, PartitionID: 0}, dir, cfg, env.parents, env.own, nil)
	require.NoError(t, err)
	return p
}

func pending(payload string) message.PendingMessage {
	return message.PendingMessage{Payload: []byte(payload)}
}

func appendOne(t *testing.T, p *Partition, payload string) message.Message {
	t.Helper()
	msgs, err := p.AppendMessages([]message.PendingMessage{pending(payload)})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestPartition_Append_AssignsGapFreeOffsets(t *testing.T) {
	env := newTestEnv()
	p := openTestPartition(t, t.TempDir(), testConfig(), env)
	defer p.Close()

	var all []message.Message
	for i := 0; i < 3; i++ {
		msgs, err := p.AppendMessages([]message.PendingMessage{pending("a"), pending("b")})
		require.NoError(t, err)
		all = append(all, msgs...)
	}

	for i, m := range all {
		require.EqualValues(t, i, m.Offset)
		if i > 0 {
			require.GreaterOrEqual(t, m.Timestamp, all[i-1].Timestamp)
		}
		require.NotEqual(t, [16]byte{}, [16]byte(m.ID), "partition mints an id when the producer supplies none")
	}
	require.EqualValues(t, 6, p.CurrentOffset())
}

func TestPartition_Rollover_AndCrossSegmentRead(t *testing.T) {
	// With 50-byte messages and a 100-byte segment the third append
	// rolls, and an offset read starting before the boundary stitches
	// both segments.
	env := newTestEnv()
	cfg := testConfig()
	cfg.SegmentConfig.Size = 100

	payload := string(make([]byte, fiftyBytePayloadLen))
	p := openTestPartition(t, t.TempDir(), cfg, env)
	defer p.Close()

	for i := 0; i < 5; i++ {
		appendOne(t, p, payload)
	}

	require.Equal(t, []uint64{0, 2}, p.sealedOffsets, "segments 0 and 2 sealed, segment 4 active")
	require.EqualValues(t, 4, p.active.StartOffset)

	got, err := p.GetMessagesByOffset(1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.EqualValues(t, 1, got[0].Offset)
	require.EqualValues(t, 2, got[1].Offset)
	require.EqualValues(t, 3, got[2].Offset)
}

func TestPartition_GetMessagesByOffset_CacheDisabledMatchesEnabled(t *testing.T) {
	run := func(cacheEnabled bool) []message.Message {
		env := newTestEnv()
		cfg := testConfig()
		cfg.CacheEnabled = cacheEnabled
		cfg.SegmentConfig.Size = 100

		p := openTestPartition(t, t.TempDir(), cfg, env)
		defer p.Close()

		payload := string(make([]byte, fiftyBytePayloadLen))
		for i := 0; i < 5; i++ {
			appendOne(t, p, payload)
		}
		got, err := p.GetMessagesByOffset(0, 5)
		require.NoError(t, err)
		return got
	}

	withCache := run(true)
	withoutCache := run(false)
	require.Len(t, withoutCache, 5)
	require.Equal(t, len(withCache), len(withoutCache))
	for i := range withCache {
		require.Equal(t, withCache[i].Offset, withoutCache[i].Offset)
		require.Equal(t, withCache[i].Payload, withoutCache[i].Payload)
	}
}

func TestPartition_GetMessagesByTimestamp(t *testing.T) {
	env := newTestEnv()
	p := openTestPartition(t, t.TempDir(), testConfig(), env)
	defer p.Close()

	var all []message.Message
	for i := 0; i < 5; i++ {
		all = append(all, appendOne(t, p, "v"))
	}

	got, err := p.GetMessagesByTimestamp(all[2].Timestamp, 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.EqualValues(t, 2, got[0].Offset)
	require.Len(t, got, 3)

	// A timestamp newer than everything returns nothing.
	got, err = p.GetMessagesByTimestamp(all[4].Timestamp+1, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPartition_GetMessagesByConsumer_AdvancesCursor(t *testing.T) {
	env := newTestEnv()
	p := openTestPartition(t, t.TempDir(), testConfig(), env)
	defer p.Close()

	for i := 0; i < 6; i++ {
		appendOne(t, p, "v")
	}

	first, err := p.GetMessagesByConsumer("c1", 4)
	require.NoError(t, err)
	require.Len(t, first, 4)
	require.EqualValues(t, 0, first[0].Offset)

	second, err := p.GetMessagesByConsumer("c1", 4)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.EqualValues(t, 4, second[0].Offset)

	// An independent consumer starts from the beginning.
	other, err := p.GetMessagesByConsumer("c2", 1)
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.EqualValues(t, 0, other[0].Offset)

	require.Equal(t, map[string]uint64{"c1": 6, "c2": 1}, p.ConsumerOffsets())
}

func TestPartition_Reopen_RestoresStateAndCounters(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SegmentConfig.Size = 100
	payload := string(make([]byte, fiftyBytePayloadLen))

	env := newTestEnv()
	p := openTestPartition(t, dir, cfg, env)
	var appended []message.Message
	for i := 0; i < 5; i++ {
		appended = append(appended, appendOne(t, p, payload))
	}
	require.NoError(t, p.Close())

	env2 := newTestEnv()
	p2 := openTestPartition(t, dir, cfg, env2)
	defer p2.Close()

	require.False(t, p2.ReadOnly())
	require.EqualValues(t, 5, p2.CurrentOffset())
	require.EqualValues(t, 250, env2.own.Size())
	require.EqualValues(t, 5, env2.own.Messages())
	require.EqualValues(t, 250, env2.parents.System.Size())

	got, err := p2.GetMessagesByOffset(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		require.Equal(t, appended[i].Offset, m.Offset)
		require.Equal(t, appended[i].Timestamp, m.Timestamp)
		require.Equal(t, appended[i].ID, m.ID)
		require.Equal(t, appended[i].Payload, m.Payload)
	}

	// Appends continue from where the previous process stopped.
	m := appendOne(t, p2, "next")
	require.EqualValues(t, 5, m.Offset)
}

func TestPartition_SealedSegmentCorruption_MarksReadOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.SegmentConfig.Size = 100
	payload := string(make([]byte, fiftyBytePayloadLen))

	env := newTestEnv()
	p := openTestPartition(t, dir, cfg, env)
	for i := 0; i < 5; i++ {
		appendOne(t, p, payload)
	}
	require.NoError(t, p.Close())

	// Drop one record from the first sealed segment's time-index: that
	// data was acknowledged, so recovery must refuse to keep writing.
	require.NoError(t, os.Truncate(segment.TimeIndexPath(dir, 0), 12))

	env2 := newTestEnv()
	p2 := openTestPartition(t, dir, cfg, env2)
	defer p2.Close()

	require.True(t, p2.ReadOnly())
	_, err := p2.AppendMessages([]message.PendingMessage{pending("x")})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestPartition_Purge_ResetsToEmpty(t *testing.T) {
	env := newTestEnv()
	cfg := testConfig()
	cfg.SegmentConfig.Size = 100
	payload := string(make([]byte, fiftyBytePayloadLen))

	p := openTestPartition(t, t.TempDir(), cfg, env)
	defer p.Close()

	for i := 0; i < 5; i++ {
		appendOne(t, p, payload)
	}
	require.NoError(t, p.Purge())

	require.EqualValues(t, 0, p.CurrentOffset())
	require.EqualValues(t, 0, env.own.Size())
	require.EqualValues(t, 0, env.own.Messages())
	require.EqualValues(t, 0, env.parents.System.Size())

	m := appendOne(t, p, "fresh")
	require.EqualValues(t, 0, m.Offset)
}

func TestPartition_DeleteSegmentsOlderThan(t *testing.T) {
	env := newTestEnv()
	cfg := testConfig()
	cfg.SegmentConfig.Size = 100
	payload := string(make([]byte, fiftyBytePayloadLen))

	p := openTestPartition(t, t.TempDir(), cfg, env)
	defer p.Close()

	var all []message.Message
	for i := 0; i < 5; i++ {
		all = append(all, appendOne(t, p, payload))
	}
	require.Len(t, p.sealedOffsets, 2)

	// Cut off at the newest message of the first sealed segment: only
	// that segment qualifies; the second sealed one is younger.
	deleted, err := p.DeleteSegmentsOlderThan(all[1].Timestamp)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, []uint64{2}, p.sealedOffsets)
	require.EqualValues(t, 150, env.own.Size())
	require.EqualValues(t, 3, env.own.Messages())

	// The active segment is never deleted, whatever the cutoff.
	deleted, err = p.DeleteSegmentsOlderThan(^uint64(0))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Empty(t, p.sealedOffsets)
	require.EqualValues(t, 1, env.own.Messages())
}

func TestPartition_GetMessagesByOffset_PastHeadIsInvalid(t *testing.T) {
	env := newTestEnv()
	p := openTestPartition(t, t.TempDir(), testConfig(), env)
	defer p.Close()

	_, err := p.GetMessagesByOffset(0, 1)
	require.ErrorIs(t, err, streamerr.ErrInvalidOffset, "empty partition has no readable offsets")

	appendOne(t, p, "v")
	_, err = p.GetMessagesByOffset(1, 1)
	require.ErrorIs(t, err, streamerr.ErrInvalidOffset)

	got, err := p.GetMessagesByOffset(0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestPartition_GetMessagesByConsumer_CaughtUpReturnsEmpty(t *testing.T) {
	env := newTestEnv()
	p := openTestPartition(t, t.TempDir(), testConfig(), env)
	defer p.Close()

	appendOne(t, p, "v")

	first, err := p.GetMessagesByConsumer("c1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := p.GetMessagesByConsumer("c1", 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

package segment

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"streamlog/internal/counters"
	"streamlog/internal/message"
)

func testParents() counters.ParentSet {
	return counters.ParentSet{
		Partition: counters.NewPair(),
		Topic:     counters.NewPair(),
		Stream:    counters.NewPair(),
		System:    counters.NewPair(),
	}
}

func buildMessage(offset, timestamp uint64, payload string) message.Message {
	return message.Message{
		Offset:    offset,
		Timestamp: timestamp,
		Payload:   []byte(payload),
	}
}

func messageEncodedSize(t *testing.T, m message.Message) int64 {
	t.Helper()
	return int64(m.Size())
}

func TestSegment_AppendAndPersist_AssignsSequentialState(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, truncated, err := Open(IDs{1, 2, 3}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	require.False(t, truncated)
	defer s.Close()

	msgs := []message.Message{
		buildMessage(0, 100, "aaaa"),
		buildMessage(1, 101, "bbbb"),
	}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())

	require.EqualValues(t, 0, s.StartOffset)
	require.EqualValues(t, 1, s.EndOffset)
	require.EqualValues(t, 2, s.CurrentOffset)
	require.True(t, s.HasMessages())

	got, err := s.GetMessages(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("aaaa"), got[0].Payload)
	require.Equal(t, []byte("bbbb"), got[1].Payload)
}

func TestSegment_Rollover_AtSize(t *testing.T) {
	// With a threshold that fits exactly two messages, the segment
	// reports full only after the third lands.
	dir := t.TempDir()

	one := buildMessage(0, 1, "")
	perMsgSize := int64(one.Size()) + 24 // pad payload so each message is 69 bytes (45 + 24)
	payload := make([]byte, perMsgSize-int64(one.Size()))

	cfg := DefaultConfig()
	cfg.Size = (int64(one.Size())+int64(len(payload)))*2 + 1 // 2 messages fit, 3rd crosses it

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	for i := uint64(0); i < 2; i++ {
		require.NoError(t, s.AppendMessages([]message.Message{buildMessage(i, i, string(payload))}))
		require.NoError(t, s.PersistMessages())
	}

	require.False(t, s.IsFull(0), "segment should not be full before crossing threshold")

	require.NoError(t, s.AppendMessages([]message.Message{buildMessage(2, 2, string(payload))}))
	require.NoError(t, s.PersistMessages())

	require.True(t, s.IsFull(0))
	require.EqualValues(t, 2, s.EndOffset)
}

func TestSegment_Expiry(t *testing.T) {
	// Expiry is measured from the newest message's timestamp.
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	const expirySeconds = 10
	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, expirySeconds, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendMessages([]message.Message{buildMessage(0, 0, "x")}))
	require.NoError(t, s.PersistMessages())

	require.False(t, s.IsExpired(9_000_000))
	require.True(t, s.IsExpired(11_000_000))
	require.True(t, s.IsFull(11_000_000))
}

func TestSegment_GetMessages_BoundedByCount(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 10, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	var msgs []message.Message
	for i := uint64(10); i < 20; i++ {
		msgs = append(msgs, buildMessage(i, i, "v"))
	}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())

	got, err := s.GetMessages(15, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.EqualValues(t, 15, got[0].Offset)
	require.EqualValues(t, 16, got[1].Offset)
	require.EqualValues(t, 17, got[2].Offset)

	_, err = s.GetMessages(9, 1)
	require.ErrorIs(t, err, ErrOffsetOutOfRange)
}

func TestSegment_GetNewestMessagesBySize(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	var msgs []message.Message
	for i := uint64(0); i < 5; i++ {
		msgs = append(msgs, buildMessage(i, i, "payload"))
	}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())

	oneMsgSize := messageEncodedSize(t, msgs[0])
	got, err := s.GetNewestMessagesBySize(oneMsgSize * 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.EqualValues(t, 3, got[0].Offset)
	require.EqualValues(t, 4, got[1].Offset)
}

func TestSegment_AppendRejectedWhenClosed(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	s.Seal()
	err = s.AppendMessages([]message.Message{buildMessage(0, 0, "x")})
	require.ErrorIs(t, err, ErrSegmentClosed)
}

func TestSegment_PersistMessages_PropagatesParentCounters(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20
	parents := testParents()

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, parents, nil)
	require.NoError(t, err)
	defer s.Close()

	msgs := []message.Message{buildMessage(0, 0, "abc"), buildMessage(1, 1, "defg")}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())

	require.Equal(t, s.SizeBytes, parents.Partition.Size())
	require.Equal(t, s.SizeBytes, parents.Topic.Size())
	require.Equal(t, s.SizeBytes, parents.Stream.Size())
	require.Equal(t, s.SizeBytes, parents.System.Size())
	require.EqualValues(t, 2, parents.Partition.Messages())
	require.EqualValues(t, 2, parents.Topic.Messages())
	require.EqualValues(t, 2, parents.Stream.Messages())
	require.EqualValues(t, 2, parents.System.Messages())
}

func TestSegment_PersistMessages_IsNoOpOnEmptyBuffer(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20
	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PersistMessages())
	require.EqualValues(t, 0, s.SizeBytes)
	require.False(t, s.HasMessages())
}

func TestSegment_Reopen_RestoresState(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)

	var msgs []message.Message
	for i := uint64(0); i < 10; i++ {
		msgs = append(msgs, buildMessage(i, 100+i, "payload"))
	}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())
	persistedSize := s.SizeBytes
	require.NoError(t, s.Close())

	s2, truncated, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s2.Close()

	require.False(t, truncated)
	require.Equal(t, persistedSize, s2.SizeBytes)
	require.EqualValues(t, 9, s2.EndOffset)
	require.EqualValues(t, 10, s2.CurrentOffset)

	got, err := s2.GetMessages(0, 100)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, m := range got {
		require.EqualValues(t, i, m.Offset)
		require.EqualValues(t, 100+uint64(i), m.Timestamp)
		require.Equal(t, []byte("payload"), m.Payload)
	}
}

func TestSegment_Recovery_TruncatesToShortestPrefix(t *testing.T) {
	// Log has 10 messages, index 10 records, time-index only 9; on load
	// all three are realigned to 9 records.
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)

	var msgs []message.Message
	for i := uint64(0); i < 10; i++ {
		msgs = append(msgs, buildMessage(i, 100+i, "payload"))
	}
	require.NoError(t, s.AppendMessages(msgs))
	require.NoError(t, s.PersistMessages())
	require.NoError(t, s.Close())

	require.NoError(t, os.Truncate(TimeIndexPath(dir, 0), 9*timeIndexRecordWidth))

	s2, truncated, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s2.Close()

	require.True(t, truncated)
	require.EqualValues(t, 8, s2.EndOffset)
	require.EqualValues(t, 9, s2.CurrentOffset)
	require.EqualValues(t, 9, s2.index.Count())
	require.EqualValues(t, 9, s2.timeIndex.Count())

	got, err := s2.GetMessages(0, 100)
	require.NoError(t, err)
	require.Len(t, got, 9)
}

func TestSegment_Recovery_IgnoresPartialTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Size = 1 << 20

	s, _, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessages([]message.Message{buildMessage(0, 100, "keep-me")}))
	require.NoError(t, s.PersistMessages())
	goodSize := s.SizeBytes
	require.NoError(t, s.Close())

	// Simulate a crashed append: raw garbage in the log past the last
	// persisted record, with no matching sidecar entries.
	f, err := os.OpenFile(LogPath(dir, 0), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, truncated, err := Open(IDs{1, 1, 1}, 0, dir, cfg, 0, testParents(), nil)
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, goodSize, s2.SizeBytes)
	require.EqualValues(t, 0, s2.EndOffset)
	_ = truncated

	got, err := s2.GetMessages(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("keep-me"), got[0].Payload)
}

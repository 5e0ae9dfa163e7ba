package system

import (
	"testing"

	"github.com/stretchr/testify/require"

	"streamlog/internal/message"
	"streamlog/internal/storage"
	"streamlog/internal/storage/teststorage"
	"streamlog/internal/streamerr"
	"streamlog/internal/topic"
)

const fiftyBytePayloadLen = 50 - 45

func testSystemConfig(baseDir string) Config {
	cfg := DefaultConfig(baseDir)
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.Size = 1 << 20
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.IndexMaxBytes = 64 << 10
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.TimeIndexMaxBytes = 64 << 10
	return cfg
}

func initTestSystem(t *testing.T, baseDir string, port storage.Port) *System {
	t.Helper()
	sys, err := Init(testSystemConfig(baseDir), port, nil)
	require.NoError(t, err)
	return sys
}

func TestSystem_HierarchicalCounters(t *testing.T) {
	// Stream S, topic T, partitions P0/P1, three 50-byte messages each;
	// every level reports the same totals.
	sys := initTestSystem(t, t.TempDir(), teststorage.New().AsPort())
	defer sys.Shutdown()

	st, err := sys.CreateStream("S")
	require.NoError(t, err)
	tp, err := st.CreateTopic("T", sys.config.DefaultTopicConfig)
	require.NoError(t, err)

	p0, err := tp.CreatePartition()
	require.NoError(t, err)
	p1, err := tp.CreatePartition()
	require.NoError(t, err)

	payload := make([]byte, fiftyBytePayloadLen)
	for i := 0; i < 3; i++ {
		_, err = p0.AppendMessages([]message.PendingMessage{{Payload: payload}})
		require.NoError(t, err)
		_, err = p1.AppendMessages([]message.PendingMessage{{Payload: payload}})
		require.NoError(t, err)
	}

	require.EqualValues(t, 150, p0.Size())
	require.EqualValues(t, 150, p1.Size())
	require.EqualValues(t, 300, tp.Size())
	require.EqualValues(t, 300, st.Size())
	require.EqualValues(t, 300, sys.TotalSize())
	require.EqualValues(t, 6, sys.TotalMessages())
}

func TestSystem_StreamNameUniqueness(t *testing.T) {
	sys := initTestSystem(t, t.TempDir(), teststorage.New().AsPort())
	defer sys.Shutdown()

	_, err := sys.CreateStream("S")
	require.NoError(t, err)
	_, err = sys.CreateStream("S")
	require.ErrorIs(t, err, streamerr.ErrAlreadyExists)

	st, _ := sys.GetStreamByName("S")
	_, err = st.CreateTopic("T", topic.DefaultConfig())
	require.NoError(t, err)
	_, err = st.CreateTopic("T", topic.DefaultConfig())
	require.ErrorIs(t, err, streamerr.ErrAlreadyExists)
}

func TestSystem_LookupByIDAndName(t *testing.T) {
	sys := initTestSystem(t, t.TempDir(), teststorage.New().AsPort())
	defer sys.Shutdown()

	st, err := sys.CreateStream("S")
	require.NoError(t, err)

	byID, ok := sys.GetStreamByID(st.ID)
	require.True(t, ok)
	byName, ok := sys.GetStreamByName("S")
	require.True(t, ok)
	require.Same(t, byID, byName)

	_, ok = sys.GetStreamByID(99)
	require.False(t, ok)
	_, ok = sys.GetStreamByName("missing")
	require.False(t, ok)
}

func TestSystem_RestartRestoresEverything(t *testing.T) {
	baseDir := t.TempDir()
	store := teststorage.New().AsPort()

	sys := initTestSystem(t, baseDir, store)
	st, err := sys.CreateStream("S")
	require.NoError(t, err)
	tp, err := st.CreateTopic("T", sys.config.DefaultTopicConfig)
	require.NoError(t, err)
	p0, err := tp.CreatePartition()
	require.NoError(t, err)

	payload := make([]byte, fiftyBytePayloadLen)
	appended, err := p0.AppendMessages([]message.PendingMessage{
		{Payload: payload}, {Payload: payload}, {Payload: payload},
	})
	require.NoError(t, err)
	require.NoError(t, sys.Shutdown())

	sys2 := initTestSystem(t, baseDir, store)
	defer sys2.Shutdown()

	require.EqualValues(t, 150, sys2.TotalSize())
	require.EqualValues(t, 3, sys2.TotalMessages())

	st2, ok := sys2.GetStreamByName("S")
	require.True(t, ok)
	tp2, ok := st2.GetTopicByName("T")
	require.True(t, ok)
	p02, ok := tp2.GetPartition(0)
	require.True(t, ok)

	got, err := p02.GetMessagesByOffset(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		require.Equal(t, appended[i].Offset, m.Offset)
		require.Equal(t, appended[i].Timestamp, m.Timestamp)
		require.Equal(t, appended[i].ID, m.ID)
		require.Equal(t, appended[i].Payload, m.Payload)
	}
}

func TestSystem_DeleteStream_ReleasesEverything(t *testing.T) {
	sys := initTestSystem(t, t.TempDir(), teststorage.New().AsPort())
	defer sys.Shutdown()

	st, err := sys.CreateStream("S")
	require.NoError(t, err)
	tp, err := st.CreateTopic("T", sys.config.DefaultTopicConfig)
	require.NoError(t, err)
	p0, err := tp.CreatePartition()
	require.NoError(t, err)

	payload := make([]byte, fiftyBytePayloadLen)
	_, err = p0.AppendMessages([]message.PendingMessage{{Payload: payload}})
	require.NoError(t, err)
	require.EqualValues(t, 50, sys.TotalSize())

	require.NoError(t, sys.DeleteStream(st.ID))
	require.EqualValues(t, 0, sys.TotalSize())
	require.EqualValues(t, 0, sys.TotalMessages())
	_, ok := sys.GetStreamByName("S")
	require.False(t, ok)

	// The freed name is available again.
	_, err = sys.CreateStream("S")
	require.NoError(t, err)

	require.ErrorIs(t, sys.DeleteStream(12345), streamerr.ErrNotFound)
}

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"streamlog/internal/streamerr"
	"streamlog/pkg"
)

func frame(body []byte) []byte {
	out := make([]byte, 4, 4+len(body))
	pkg.Enc.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func TestReadRequest_RoundTrip(t *testing.T) {
	body := []byte{1, 2, 3, 4, 5}
	req, err := ReadRequest(bytes.NewReader(frame(body)))
	require.NoError(t, err)
	defer req.Release()

	require.Equal(t, body, req.Body)
}

func TestReadRequest_RejectsZeroLength(t *testing.T) {
	_, err := ReadRequest(bytes.NewReader(frame(nil)))
	require.ErrorIs(t, err, ErrInvalidRequestSize)
}

func TestReadRequest_RejectsOversizedDeclaration(t *testing.T) {
	var lenBuf [4]byte
	pkg.Enc.PutUint32(lenBuf[:], MaxRequestSize+1)
	_, err := ReadRequest(bytes.NewReader(lenBuf[:]))
	require.ErrorIs(t, err, ErrInvalidRequestSize)
}

func TestReadRequest_RejectsShortBody(t *testing.T) {
	// Declared length 10, only 3 bytes follow: the prefix must not be
	// trusted over what actually arrived.
	var buf bytes.Buffer
	var lenBuf [4]byte
	pkg.Enc.PutUint32(lenBuf[:], 10)
	buf.Write(lenBuf[:])
	buf.Write([]byte{1, 2, 3})

	_, err := ReadRequest(&buf)
	require.ErrorIs(t, err, ErrLengthMismatch)
	require.ErrorIs(t, err, streamerr.ErrInvalidRequest)
}

func TestWriteResponse_FramesLikeRequests(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello")
	require.NoError(t, WriteResponse(&buf, body))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	defer req.Release()
	require.Equal(t, body, req.Body)
}

func TestReadRequest_SequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame([]byte("first")))
	buf.Write(frame([]byte("second")))

	a, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), a.Body)
	a.Release()

	b, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), b.Body)
	b.Release()
}

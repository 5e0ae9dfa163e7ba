package message

import (
	"errors"
	"hash/crc32"
	"sort"

	"streamlog/pkg"
)

var (
	ErrInsufficientBuffer = errors.New("buffer too small")
	ErrInvalidChecksum    = errors.New("invalid checksum")
)

const (
	offsetSize    = 8
	stateSize     = 1
	timestampSize = 8
	idSize        = 16
	checksumSize  = 4
	lengthSize    = 4

	fixedHeaderSize = offsetSize + stateSize + timestampSize + idSize + checksumSize
)

// MinRecordHeaderBytes is the minimum number of leading bytes a buffer must
// have before PeekTotalSize/Decode can make any sense of it (the fixed
// header plus the headers_length field). Callers scanning a log file
// sequentially (segment recovery, segment reads) use it to decide whether
// there is enough data left to even attempt a parse.
const MinRecordHeaderBytes = fixedHeaderSize + lengthSize

// Each header entry is framed as: key length, key bytes, value kind byte,
// value length, value bytes.
const headerEntryFixedSize = lengthSize + 1 + lengthSize

func encodedHeadersSize(h map[string]HeaderValue) int {
	n := 0
	for k, v := range h {
		n += headerEntryFixedSize + len(k) + len(v.Raw)
	}
	return n
}

// Size returns the total encoded length of m.
func (m Message) Size() int {
	return fixedHeaderSize + lengthSize + encodedHeadersSize(m.Headers) + lengthSize + len(m.Payload)
}

// sortedHeaderKeys gives Encode a deterministic header order so that two
// calls with the same logical headers produce byte-identical output,
// which keeps the checksum reproducible.
func sortedHeaderKeys(h map[string]HeaderValue) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode serializes m into dest:
//
//	offset:u64 | state:u8 | timestamp:u64 | id:u128 | checksum:u32 |
//	headers_length:u32 | headers:bytes | payload_length:u32 | payload:bytes
//
// The checksum covers everything from the timestamp through the payload,
// excluding offset and state: offset is assigned by the partition at
// persist time, and state can be mutated in place later
// (e.g. MarkedForDeletion) without invalidating the record.
func Encode(m Message, dest []byte) (int, error) {
	size := m.Size()
	if len(dest) < size {
		return 0, ErrInsufficientBuffer
	}

	pkg.Enc.PutUint64(dest[0:8], m.Offset)
	dest[8] = byte(m.State)
	pkg.Enc.PutUint64(dest[9:17], m.Timestamp)
	copy(dest[17:33], m.ID[:])
	// checksum placeholder at dest[33:37]; filled in below.

	off := fixedHeaderSize
	headersLenPos := off
	off += lengthSize
	headersStart := off

	keys := sortedHeaderKeys(m.Headers)
	for _, k := range keys {
		v := m.Headers[k]
		pkg.Enc.PutUint32(dest[off:off+lengthSize], uint32(len(k)))
		off += lengthSize
		copy(dest[off:off+len(k)], k)
		off += len(k)
		dest[off] = byte(v.Kind)
		off++
		pkg.Enc.PutUint32(dest[off:off+lengthSize], uint32(len(v.Raw)))
		off += lengthSize
		copy(dest[off:off+len(v.Raw)], v.Raw)
		off += len(v.Raw)
	}
	pkg.Enc.PutUint32(dest[headersLenPos:headersLenPos+lengthSize], uint32(off-headersStart))

	pkg.Enc.PutUint32(dest[off:off+lengthSize], uint32(len(m.Payload)))
	off += lengthSize
	copy(dest[off:off+len(m.Payload)], m.Payload)
	off += len(m.Payload)

	checksum := checksumOf(dest[9:33], dest[37:off])
	pkg.Enc.PutUint32(dest[33:37], checksum)

	return off, nil
}

func checksumOf(parts ...[]byte) uint32 {
	h := crc32.NewIEEE()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum32()
}

// Decode parses one Message starting at buf[0], returning the number of
// bytes consumed so the caller can advance a sequential cursor (segment
// recovery and segment reads both scan this way).
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < fixedHeaderSize+lengthSize {
		return Message{}, 0, ErrInsufficientBuffer
	}

	var m Message
	m.Offset = pkg.Enc.Uint64(buf[0:8])
	m.State = State(buf[8])
	m.Timestamp = pkg.Enc.Uint64(buf[9:17])
	copy(m.ID[:], buf[17:33])
	storedChecksum := pkg.Enc.Uint32(buf[33:37])

	off := fixedHeaderSize
	headersLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
	off += lengthSize
	headersStart := off
	if len(buf) < off+headersLen {
		return Message{}, 0, ErrInsufficientBuffer
	}

	headers, err := decodeHeaders(buf[headersStart : headersStart+headersLen])
	if err != nil {
		return Message{}, 0, err
	}
	off += headersLen

	if len(buf) < off+lengthSize {
		return Message{}, 0, ErrInsufficientBuffer
	}
	payloadLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
	off += lengthSize
	if len(buf) < off+payloadLen {
		return Message{}, 0, ErrInsufficientBuffer
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[off:off+payloadLen])
	off += payloadLen

	calculated := checksumOf(buf[9:33], buf[37:off])
	if calculated != storedChecksum {
		return Message{}, 0, ErrInvalidChecksum
	}
	m.Checksum = storedChecksum
	m.Headers = headers
	m.Payload = payload

	return m, off, nil
}

func decodeHeaders(buf []byte) (map[string]HeaderValue, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	headers := make(map[string]HeaderValue)
	off := 0
	for off < len(buf) {
		if len(buf)-off < lengthSize {
			return nil, ErrInsufficientBuffer
		}
		keyLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
		off += lengthSize
		if len(buf)-off < keyLen+1+lengthSize {
			return nil, ErrInsufficientBuffer
		}
		key := string(buf[off : off+keyLen])
		off += keyLen
		kind := HeaderKind(buf[off])
		off++
		valLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
		off += lengthSize
		if len(buf)-off < valLen {
			return nil, ErrInsufficientBuffer
		}
		raw := make([]byte, valLen)
		copy(raw, buf[off:off+valLen])
		off += valLen
		headers[key] = HeaderValue{Kind: kind, Raw: raw}
	}
	return headers, nil
}

// PeekTotalSize reads just enough of buf (starting at a record boundary)
// to know how many bytes the whole record occupies, without allocating a
// Message. Segment recovery uses this to walk the log without decoding
// every header/payload.
func PeekTotalSize(buf []byte) (int, bool) {
	if len(buf) < fixedHeaderSize+lengthSize {
		return 0, false
	}
	off := fixedHeaderSize
	headersLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
	off += lengthSize + headersLen
	if len(buf) < off+lengthSize {
		return 0, false
	}
	payloadLen := int(pkg.Enc.Uint32(buf[off : off+lengthSize]))
	off += lengthSize + payloadLen
	if len(buf) < off {
		return 0, false
	}
	return off, true
}

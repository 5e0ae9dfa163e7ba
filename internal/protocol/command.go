// command.go is the transport-independent command codec the wire request
// prefix wraps: a CommandType byte, then a fixed layout per command. It
// covers the data plane (append and the three read modes), not
// stream/topic/partition administration.
package protocol

import (
	"errors"

	"streamlog/pkg"
)

type CommandType uint8

const (
	CmdAppendMessages CommandType = iota
	CmdFetchByOffset
	CmdFetchByTimestamp
	CmdFetchByConsumer
)

var ErrMalformedCommand = errors.New("malformed command body")

// target identifies the (stream, topic, partition) triple every command
// addresses.
type target struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
}

func decodeTarget(buf []byte) (target, []byte, error) {
	if len(buf) < 12 {
		return target{}, nil, ErrMalformedCommand
	}
	return target{
		StreamID:    pkg.Enc.Uint32(buf[0:4]),
		TopicID:     pkg.Enc.Uint32(buf[4:8]),
		PartitionID: pkg.Enc.Uint32(buf[8:12]),
	}, buf[12:], nil
}

func encodeTarget(dest []byte, t target) []byte {
	buf := make([]byte, 12)
	pkg.Enc.PutUint32(buf[0:4], t.StreamID)
	pkg.Enc.PutUint32(buf[4:8], t.TopicID)
	pkg.Enc.PutUint32(buf[8:12], t.PartitionID)
	return append(dest, buf...)
}

// AppendMessagesCommand carries one or more raw payloads to append; the
// partition assigns offset/timestamp/id.
type AppendMessagesCommand struct {
	StreamID, TopicID, PartitionID uint32
	Payloads                       [][]byte
}

func EncodeAppendMessages(c AppendMessagesCommand) []byte {
	body := []byte{byte(CmdAppendMessages)}
	body = encodeTarget(body, target{c.StreamID, c.TopicID, c.PartitionID})

	countBuf := make([]byte, 4)
	pkg.Enc.PutUint32(countBuf, uint32(len(c.Payloads)))
	body = append(body, countBuf...)

	for _, p := range c.Payloads {
		lenBuf := make([]byte, 4)
		pkg.Enc.PutUint32(lenBuf, uint32(len(p)))
		body = append(body, lenBuf...)
		body = append(body, p...)
	}
	return body
}

func decodeAppendMessages(buf []byte) (AppendMessagesCommand, error) {
	t, rest, err := decodeTarget(buf)
	if err != nil {
		return AppendMessagesCommand{}, err
	}
	if len(rest) < 4 {
		return AppendMessagesCommand{}, ErrMalformedCommand
	}
	count := pkg.Enc.Uint32(rest[0:4])
	rest = rest[4:]

	payloads := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return AppendMessagesCommand{}, ErrMalformedCommand
		}
		n := pkg.Enc.Uint32(rest[0:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return AppendMessagesCommand{}, ErrMalformedCommand
		}
		payload := make([]byte, n)
		copy(payload, rest[:n])
		payloads = append(payloads, payload)
		rest = rest[n:]
	}

	return AppendMessagesCommand{StreamID: t.StreamID, TopicID: t.TopicID, PartitionID: t.PartitionID, Payloads: payloads}, nil
}

// FetchByOffsetCommand requests up to Count messages starting at
// StartOffset.
type FetchByOffsetCommand struct {
	StreamID, TopicID, PartitionID uint32
	StartOffset                    uint64
	Count                          uint32
}

func EncodeFetchByOffset(c FetchByOffsetCommand) []byte {
	body := []byte{byte(CmdFetchByOffset)}
	body = encodeTarget(body, target{c.StreamID, c.TopicID, c.PartitionID})
	tail := make([]byte, 12)
	pkg.Enc.PutUint64(tail[0:8], c.StartOffset)
	pkg.Enc.PutUint32(tail[8:12], c.Count)
	return append(body, tail...)
}

func decodeFetchByOffset(buf []byte) (FetchByOffsetCommand, error) {
	t, rest, err := decodeTarget(buf)
	if err != nil {
		return FetchByOffsetCommand{}, err
	}
	if len(rest) < 12 {
		return FetchByOffsetCommand{}, ErrMalformedCommand
	}
	return FetchByOffsetCommand{
		StreamID: t.StreamID, TopicID: t.TopicID, PartitionID: t.PartitionID,
		StartOffset: pkg.Enc.Uint64(rest[0:8]),
		Count:       pkg.Enc.Uint32(rest[8:12]),
	}, nil
}

// FetchByTimestampCommand requests up to Count messages starting at the
// first offset whose timestamp is >= Timestamp.
type FetchByTimestampCommand struct {
	StreamID, TopicID, PartitionID uint32
	Timestamp                      uint64
	Count                          uint32
}

func EncodeFetchByTimestamp(c FetchByTimestampCommand) []byte {
	body := []byte{byte(CmdFetchByTimestamp)}
	body = encodeTarget(body, target{c.StreamID, c.TopicID, c.PartitionID})
	tail := make([]byte, 12)
	pkg.Enc.PutUint64(tail[0:8], c.Timestamp)
	pkg.Enc.PutUint32(tail[8:12], c.Count)
	return append(body, tail...)
}

func decodeFetchByTimestamp(buf []byte) (FetchByTimestampCommand, error) {
	t, rest, err := decodeTarget(buf)
	if err != nil {
		return FetchByTimestampCommand{}, err
	}
	if len(rest) < 12 {
		return FetchByTimestampCommand{}, ErrMalformedCommand
	}
	return FetchByTimestampCommand{
		StreamID: t.StreamID, TopicID: t.TopicID, PartitionID: t.PartitionID,
		Timestamp: pkg.Enc.Uint64(rest[0:8]),
		Count:     pkg.Enc.Uint32(rest[8:12]),
	}, nil
}

// FetchByConsumerCommand requests up to Count messages from ConsumerID's
// saved cursor, advancing it past what is returned.
type FetchByConsumerCommand struct {
	StreamID, TopicID, PartitionID uint32
	ConsumerID                     string
	Count                          uint32
}

func EncodeFetchByConsumer(c FetchByConsumerCommand) []byte {
	body := []byte{byte(CmdFetchByConsumer)}
	body = encodeTarget(body, target{c.StreamID, c.TopicID, c.PartitionID})
	idLen := make([]byte, 2)
	pkg.Enc.PutUint16(idLen, uint16(len(c.ConsumerID)))
	body = append(body, idLen...)
	body = append(body, []byte(c.ConsumerID)...)
	countBuf := make([]byte, 4)
	pkg.Enc.PutUint32(countBuf, c.Count)
	return append(body, countBuf...)
}

func decodeFetchByConsumer(buf []byte) (FetchByConsumerCommand, error) {
	t, rest, err := decodeTarget(buf)
	if err != nil {
		return FetchByConsumerCommand{}, err
	}
	if len(rest) < 2 {
		return FetchByConsumerCommand{}, ErrMalformedCommand
	}
	idLen := int(pkg.Enc.Uint16(rest[0:2]))
	rest = rest[2:]
	if len(rest) < idLen+4 {
		return FetchByConsumerCommand{}, ErrMalformedCommand
	}
	consumerID := string(rest[:idLen])
	rest = rest[idLen:]
	count := pkg.Enc.Uint32(rest[0:4])

	return FetchByConsumerCommand{
		StreamID: t.StreamID, TopicID: t.TopicID, PartitionID: t.PartitionID,
		ConsumerID: consumerID, Count: count,
	}, nil
}

// DecodeCommand dispatches on the leading command-type byte and returns
// one of the *Command structs above as an any.
func DecodeCommand(body []byte) (CommandType, any, error) {
	if len(body) < 1 {
		return 0, nil, ErrMalformedCommand
	}
	cmdType := CommandType(body[0])
	rest := body[1:]

	switch cmdType {
	case CmdAppendMessages:
		c, err := decodeAppendMessages(rest)
		return cmdType, c, err
	case CmdFetchByOffset:
		c, err := decodeFetchByOffset(rest)
		return cmdType, c, err
	case CmdFetchByTimestamp:
		c, err := decodeFetchByTimestamp(rest)
		return cmdType, c, err
	case CmdFetchByConsumer:
		c, err := decodeFetchByConsumer(rest)
		return cmdType, c, err
	default:
		return cmdType, nil, ErrUnknownCommand
	}
}

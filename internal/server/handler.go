package server

import (
	"io"

	"streamlog/internal/message"
	"streamlog/internal/partition"
	"streamlog/internal/protocol"
	"streamlog/internal/streamerr"
	"streamlog/internal/system"
)

// Handle decodes one framed command body, delegates into the System, and
// writes a framed reply to sink. It is the handle(command, reply_sink,
// system_handle) entrypoint the core exposes to any transport; the TCP
// loop in this package is just one caller.
func Handle(body []byte, sink io.Writer, sys *system.System) error {
	cmdType, cmd, err := protocol.DecodeCommand(body)
	if err != nil {
		return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
	}

	var msgs []message.Message
	switch cmdType {
	case protocol.CmdAppendMessages:
		c := cmd.(protocol.AppendMessagesCommand)
		p, err := resolvePartition(sys, c.StreamID, c.TopicID, c.PartitionID)
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}
		pending := make([]message.PendingMessage, len(c.Payloads))
		for i, payload := range c.Payloads {
			pending[i] = message.PendingMessage{Payload: payload}
		}
		msgs, err = p.AppendMessages(pending)
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}

	case protocol.CmdFetchByOffset:
		c := cmd.(protocol.FetchByOffsetCommand)
		p, err := resolvePartition(sys, c.StreamID, c.TopicID, c.PartitionID)
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}
		msgs, err = p.GetMessagesByOffset(c.StartOffset, int(c.Count))
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}

	case protocol.CmdFetchByTimestamp:
		c := cmd.(protocol.FetchByTimestampCommand)
		p, err := resolvePartition(sys, c.StreamID, c.TopicID, c.PartitionID)
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}
		msgs, err = p.GetMessagesByTimestamp(c.Timestamp, int(c.Count))
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}

	case protocol.CmdFetchByConsumer:
		c := cmd.(protocol.FetchByConsumerCommand)
		p, err := resolvePartition(sys, c.StreamID, c.TopicID, c.PartitionID)
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}
		msgs, err = p.GetMessagesByConsumer(c.ConsumerID, int(c.Count))
		if err != nil {
			return protocol.WriteResponse(sink, protocol.EncodeErrorResponse(err.Error()))
		}
	}

	resp, err := protocol.EncodeMessagesResponse(msgs)
	if err != nil {
		return err
	}
	return protocol.WriteResponse(sink, resp)
}

func resolvePartition(sys *system.System, streamID, topicID, partitionID uint32) (*partition.Partition, error) {
	st, ok := sys.GetStreamByID(streamID)
	if !ok {
		return nil, streamerr.ErrNotFound
	}
	t, ok := st.GetTopicByID(topicID)
	if !ok {
		return nil, streamerr.ErrNotFound
	}
	p, ok := t.GetPartition(partitionID)
	if !ok {
		return nil, streamerr.ErrNotFound
	}
	return p, nil
}

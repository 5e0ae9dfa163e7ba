package protocol

import (
	"streamlog/internal/message"
	"streamlog/pkg"
)

const (
	statusOK    = 0
	statusError = 1
)

// EncodeErrorResponse frames a failure the same way a successful response
// is framed, so callers can always read one status byte first.
func EncodeErrorResponse(errMsg string) []byte {
	body := make([]byte, 0, 1+4+len(errMsg))
	body = append(body, statusError)
	lenBuf := make([]byte, 4)
	pkg.Enc.PutUint32(lenBuf, uint32(len(errMsg)))
	body = append(body, lenBuf...)
	body = append(body, []byte(errMsg)...)
	return body
}

// EncodeMessagesResponse frames a successful fetch/append reply: a status
// byte, a count, then each message in the log record layout.
func EncodeMessagesResponse(msgs []message.Message) ([]byte, error) {
	body := []byte{statusOK}
	countBuf := make([]byte, 4)
	pkg.Enc.PutUint32(countBuf, uint32(len(msgs)))
	body = append(body, countBuf...)

	for _, m := range msgs {
		buf := make([]byte, m.Size())
		n, err := message.Encode(m, buf)
		if err != nil {
			return nil, err
		}
		lenBuf := make([]byte, 4)
		pkg.Enc.PutUint32(lenBuf, uint32(n))
		body = append(body, lenBuf...)
		body = append(body, buf[:n]...)
	}
	return body, nil
}

// DecodeMessagesResponse is the client-side counterpart to
// EncodeMessagesResponse.
func DecodeMessagesResponse(body []byte) ([]message.Message, error) {
	if len(body) < 1 {
		return nil, ErrMalformedCommand
	}
	if body[0] == statusError {
		return nil, ErrUnknownCommand
	}
	rest := body[1:]
	if len(rest) < 4 {
		return nil, ErrMalformedCommand
	}
	count := pkg.Enc.Uint32(rest[0:4])
	rest = rest[4:]

	out := make([]message.Message, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, ErrMalformedCommand
		}
		n := pkg.Enc.Uint32(rest[0:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return nil, ErrMalformedCommand
		}
		msg, _, err := message.Decode(rest[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
		rest = rest[n:]
	}
	return out, nil
}

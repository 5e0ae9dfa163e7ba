package protocol

import (
	"errors"
	"fmt"

	"streamlog/internal/streamerr"
)

var (
	// ErrInvalidRequestSize: the declared request length is zero or past
	// MaxRequestSize. Classified as an invalid request.
	ErrInvalidRequestSize = fmt.Errorf("%w: declared size out of bounds", streamerr.ErrInvalidRequest)
	// ErrLengthMismatch: the declared request length prefix did not match
	// the number of bytes actually following it. Rejected rather than
	// silently continuing.
	ErrLengthMismatch = fmt.Errorf("%w: declared length does not match body", streamerr.ErrInvalidRequest)

	ErrUnknownCommand = errors.New("unknown command")
)

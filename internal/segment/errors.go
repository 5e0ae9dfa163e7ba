package segment

import (
	"errors"

	"streamlog/internal/streamerr"
)

var (
	ErrSegmentFull = errors.New("segment is full")
	ErrIndexFull   = errors.New("index is full")

	// Aliases of the shared sentinels, so callers inside and outside this
	// package classify these failures identically.
	ErrOffsetOutOfRange = streamerr.ErrInvalidOffset
	ErrSegmentClosed    = streamerr.ErrSegmentClosed
)

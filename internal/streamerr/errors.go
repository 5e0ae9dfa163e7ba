// Package streamerr holds the error kinds shared by more than one core
// package, distinguished by sentinel identity (errors.Is). Packages that
// surface one of these concerns alias the sentinel under their own name
// (segment.ErrSegmentClosed, partition.ErrReadOnly) so call sites read
// naturally while classification stays uniform across the tree.
package streamerr

import "errors"

var (
	// ErrNotFound covers a missing stream/topic/partition/segment id or name.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists covers a duplicate name or id on create.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidOffset covers a request offset outside any segment.
	ErrInvalidOffset = errors.New("invalid offset")
	// ErrSegmentClosed covers an append to a sealed segment.
	ErrSegmentClosed = errors.New("segment closed")
	// ErrPartitionReadOnly covers a partition that recovery marked read-only
	// because truncation would have removed acknowledged data.
	ErrPartitionReadOnly = errors.New("partition is read-only")
	// ErrInvalidRequest covers a wire request whose declared length does
	// not match the bytes that actually arrived.
	ErrInvalidRequest = errors.New("invalid request")
)

// Package message defines the wire-level Message record and its
// encode/decode pair: a fixed header (offset, state, timestamp, id,
// checksum) followed by length-prefixed headers and payload, all
// little-endian.
package message

import (
	"github.com/google/uuid"
)

// Message is immutable once appended. Offset and Timestamp are stamped by
// the owning Partition at append time, not by the caller.
type Message struct {
	Offset    uint64
	Timestamp uint64 // microseconds since epoch
	ID        uuid.UUID
	State     State
	Checksum  uint32
	Headers   map[string]HeaderValue
	Payload   []byte
}

// PendingMessage is what a producer hands to Partition.AppendMessages:
// everything a Message needs except Offset/Timestamp, which the partition
// assigns, and Checksum, which persist_messages computes.
type PendingMessage struct {
	// ID is optional; zero-value uuid.UUID means "mint a fresh one". A
	// caller-supplied ID serves as an idempotency/dedup key.
	ID      uuid.UUID
	Headers map[string]HeaderValue
	Payload []byte
}

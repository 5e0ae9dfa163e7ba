// Package counters implements the shared atomic byte/message counters
// threaded from Segment up through Partition, Topic, Stream and System. A
// Segment is handed the ancestor cells it must keep in lockstep with its
// own size/message count; totals are never recomputed by walking children.
package counters

import "sync/atomic"

// Pair bundles the two atomic cells an aggregate (partition/topic/stream/
// system) exposes to its descendants: total size in bytes and total message
// count. Children hold a reference to the Pair, never to the aggregate
// itself, so there is no cyclic parent pointer.
type Pair struct {
	size     atomic.Int64
	messages atomic.Int64
}

// NewPair returns a zeroed counter pair.
func NewPair() *Pair {
	return &Pair{}
}

// Add applies a delta to both cells. Each field update is individually
// atomic; callers only apply a delta after a successful persist.
func (p *Pair) Add(sizeDelta, messagesDelta int64) {
	if sizeDelta != 0 {
		p.size.Add(sizeDelta)
	}
	if messagesDelta != 0 {
		p.messages.Add(messagesDelta)
	}
}

// Size returns the current aggregated byte size.
func (p *Pair) Size() int64 {
	return p.size.Load()
}

// Messages returns the current aggregated message count.
func (p *Pair) Messages() int64 {
	return p.messages.Load()
}

// Set overwrites both cells. Load does not use it: partitions seed their
// ancestors' counters on open with Add.
func (p *Pair) Set(size, messages int64) {
	p.size.Store(size)
	p.messages.Store(messages)
}

// ParentSet is the four counter cells a Segment receives at creation time:
// its owning partition, that partition's topic, that topic's stream, and
// the process-wide system totals. The segment's own size/message count is
// tracked locally (Segment.SizeBytes etc.); these four are only ever
// incremented, never the source of truth.
type ParentSet struct {
	Partition *Pair
	Topic     *Pair
	Stream    *Pair
	System    *Pair
}

// Add mirrors a persisted delta into all four ancestor levels in one pass.
func (ps ParentSet) Add(sizeDelta, messagesDelta int64) {
	ps.Partition.Add(sizeDelta, messagesDelta)
	ps.Topic.Add(sizeDelta, messagesDelta)
	ps.Stream.Add(sizeDelta, messagesDelta)
	ps.System.Add(sizeDelta, messagesDelta)
}

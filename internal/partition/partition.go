// Package partition implements the ordered chain of segments that makes up
// the unit of ordering: offset/timestamp assignment on append,
// cross-segment stitching on offset, timestamp and consumer-cursor reads,
// and segment-level retention.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamlog/internal/counters"
	"streamlog/internal/message"
	"streamlog/internal/segment"
	"streamlog/internal/streamerr"
)

// Partition owns an ordered, contiguous chain of Segments and the single
// monotonically increasing offset counter behind them.
type Partition struct {
	mu sync.RWMutex

	ids         segment.IDs
	dir         string
	config      Config
	parents     counters.ParentSet
	ownCounters *counters.Pair
	logger      *zap.Logger

	sealedOffsets []uint64 // ascending; the active segment is not in this slice
	active        *segment.Segment

	cache    *openSegmentCache
	msgCache *messageCache

	consumerOffsets map[string]uint64

	currentOffset uint64
	lastTimestamp uint64
	createdAt     uint64 // micros since epoch

	readOnly bool
}

// Open scans partitionDir for existing segments, validates and loads them
// in offset order with the last one as active, and otherwise creates a
// fresh partition starting at offset 0.
func Open(ids segment.IDs, partitionDir string, cfg Config, parents counters.ParentSet, ownCounters *counters.Pair, logger *zap.Logger) (*Partition, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	offsets, err := scanSegmentOffsets(partitionDir)
	if err != nil {
		return nil, err
	}

	p := &Partition{
		ids:             ids,
		dir:             partitionDir,
		config:          cfg,
		parents:         parents,
		ownCounters:     ownCounters,
		logger:          logger,
		cache:           newOpenSegmentCache(cfg.MaxOpenSegments),
		consumerOffsets: make(map[string]uint64),
		createdAt:       uint64(time.Now().UnixMicro()),
	}
	if cfg.CacheEnabled {
		p.msgCache = newMessageCache(cfg.CacheMessagesAmount)
	}

	activeOffset := uint64(0)
	if len(offsets) > 0 {
		p.sealedOffsets = offsets[:len(offsets)-1]
		activeOffset = offsets[len(offsets)-1]
	}

	// Sealed segments are validated in offset order before the active one
	// is taken over. Everything in a sealed segment was acknowledged, so a
	// truncating recovery there means lost data: the partition goes
	// read-only. The handles are closed again afterwards; reads reopen
	// them lazily through the LRU.
	for _, off := range p.sealedOffsets {
		seg, truncated, err := segment.Open(ids, off, partitionDir, cfg.SegmentConfig, cfg.SegmentConfig.MessageExpirySeconds, parents, logger)
		if err != nil {
			return nil, err
		}
		if truncated {
			p.readOnly = true
			logger.Warn("sealed segment lost records during recovery; partition marked read-only",
				zap.Uint32("partition_id", ids.PartitionID),
				zap.Uint64("start_offset", off))
		}
		parents.Add(seg.Size(), seg.MessageCount())
		if err := seg.Close(); err != nil {
			return nil, err
		}
	}

	active, truncated, err := segment.Open(ids, activeOffset, partitionDir, cfg.SegmentConfig, cfg.SegmentConfig.MessageExpirySeconds, parents, logger)
	if err != nil {
		return nil, err
	}
	parents.Add(active.Size(), active.MessageCount())
	p.active = active
	if truncated {
		// A trailing tail the sidecars never acknowledged is a crashed
		// append: recovery realigned the files and the partition stays
		// writable.
		logger.Warn("active segment realigned during recovery",
			zap.Uint32("partition_id", ids.PartitionID),
			zap.Uint64("start_offset", activeOffset))
	}

	p.currentOffset = active.CurrentOffset
	if ts, ok := active.LastMessageTimestamp(); ok {
		p.lastTimestamp = ts
	}

	return p, nil
}

func scanSegmentOffsets(partitionDir string) ([]uint64, error) {
	dir := filepath.Join(partitionDir, "segments")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var offsets []uint64
	suffix := "." + segment.LogExtension
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), suffix)
		off, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid segment filename %q: %w", e.Name(), err)
		}
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// AppendMessages stamps offset/timestamp/id on each pending message,
// rolling to a new segment first if the active one is full, then persists
// them and mirrors the result into the message cache.
func (p *Partition) AppendMessages(pending []message.PendingMessage) ([]message.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnly {
		return nil, ErrReadOnly
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := uint64(time.Now().UnixMicro())
	if p.active.IsFull(now) {
		if err := p.rollLocked(); err != nil {
			return nil, err
		}
	}

	stamped := make([]message.Message, len(pending))
	for i, pm := range pending {
		id := pm.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		ts := now
		if p.lastTimestamp+1 > ts {
			ts = p.lastTimestamp + 1
		}
		stamped[i] = message.Message{
			Offset:    p.currentOffset,
			Timestamp: ts,
			ID:        id,
			State:     message.Available,
			Headers:   pm.Headers,
			Payload:   pm.Payload,
		}
		p.currentOffset++
		p.lastTimestamp = ts
	}

	if err := p.active.AppendMessages(stamped); err != nil {
		return nil, err
	}
	if err := p.active.PersistMessages(); err != nil {
		return nil, err
	}

	for _, m := range stamped {
		p.msgCache.Put(m.Offset, m)
	}

	return stamped, nil
}

// rollLocked seals the active segment and opens a new one at its next
// offset. Callers must hold p.mu.
func (p *Partition) rollLocked() error {
	if err := p.active.PersistMessages(); err != nil {
		return err
	}
	sealedOffset := p.active.StartOffset
	nextOffset := p.active.CurrentOffset
	p.active.Seal()
	p.sealedOffsets = append(p.sealedOffsets, sealedOffset)

	newActive, truncated, err := segment.Open(p.ids, nextOffset, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
	if err != nil {
		return err
	}
	if truncated {
		p.readOnly = true
	}
	p.active = newActive
	return nil
}

// segmentHandle resolves the k-th segment in offset order (0..len(sealedOffsets)
// is the active segment) to an open *segment.Segment, lazily loading sealed
// segments through the LRU cache.
func (p *Partition) segmentHandle(idx int) (*segment.Segment, error) {
	if idx == len(p.sealedOffsets) {
		return p.active, nil
	}
	startOffset := p.sealedOffsets[idx]
	return p.cache.GetOrLoad(startOffset, func() (*segment.Segment, error) {
		seg, _, err := segment.Open(p.ids, startOffset, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
		if err != nil {
			return nil, err
		}
		// Everything before the active segment is sealed by definition,
		// even if it rolled on expiry before reaching the size threshold.
		seg.Seal()
		return seg, nil
	})
}

// coveringIndexLocked returns the index (per segmentHandle's numbering) of
// the segment whose start_offset is the largest one <= target.
func (p *Partition) coveringIndexLocked(target uint64) int {
	n := len(p.sealedOffsets) + 1
	idx := sort.Search(n, func(i int) bool {
		var start uint64
		if i == len(p.sealedOffsets) {
			start = p.active.StartOffset
		} else {
			start = p.sealedOffsets[i]
		}
		return start > target
	}) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// GetMessagesByOffset returns up to count messages starting at startOffset,
// stitching across segment boundaries when the range spans more than one
// segment.
func (p *Partition) GetMessagesByOffset(startOffset uint64, count int) ([]message.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if count <= 0 {
		return nil, nil
	}
	if startOffset >= p.currentOffset {
		return nil, streamerr.ErrInvalidOffset
	}
	if msg, ok := p.msgCache.Get(startOffset); ok && count == 1 {
		return []message.Message{msg}, nil
	}

	startIdx := p.coveringIndexLocked(startOffset)
	out := make([]message.Message, 0, count)

	n := len(p.sealedOffsets) + 1
	for idx := startIdx; idx < n && len(out) < count; idx++ {
		seg, err := p.segmentHandle(idx)
		if err != nil {
			return nil, err
		}
		if !seg.HasMessages() {
			continue
		}

		from := seg.StartOffset
		if idx == startIdx && startOffset > from {
			from = startOffset
		}

		msgs, err := seg.GetMessages(from, count-len(out))
		if err != nil {
			if err == segment.ErrOffsetOutOfRange && idx != startIdx {
				continue
			}
			return nil, err
		}
		out = append(out, msgs...)
	}
	for _, m := range out {
		p.msgCache.Put(m.Offset, m)
	}
	return out, nil
}

// GetMessagesByTimestamp locates the first message with timestamp >= ts and
// returns up to count messages from there, stitching across segments the
// same way GetMessagesByOffset does.
func (p *Partition) GetMessagesByTimestamp(ts uint64, count int) ([]message.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if count <= 0 {
		return nil, nil
	}

	n := len(p.sealedOffsets) + 1
	for idx := 0; idx < n; idx++ {
		seg, err := p.segmentHandle(idx)
		if err != nil {
			return nil, err
		}
		offset, ok := seg.FindOffsetByTimestamp(ts)
		if !ok {
			continue
		}
		return p.getMessagesFromLocked(idx, offset, count)
	}
	return nil, nil
}

func (p *Partition) getMessagesFromLocked(startIdx int, startOffset uint64, count int) ([]message.Message, error) {
	out := make([]message.Message, 0, count)
	n := len(p.sealedOffsets) + 1
	for idx := startIdx; idx < n && len(out) < count; idx++ {
		seg, err := p.segmentHandle(idx)
		if err != nil {
			return nil, err
		}
		if !seg.HasMessages() {
			continue
		}
		from := seg.StartOffset
		if idx == startIdx && startOffset > from {
			from = startOffset
		}
		msgs, err := seg.GetMessages(from, count-len(out))
		if err != nil {
			if err == segment.ErrOffsetOutOfRange {
				continue
			}
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// GetMessagesByConsumer reads forward from consumerID's saved cursor
// (defaulting to 0) and advances the cursor past the last message
// returned.
func (p *Partition) GetMessagesByConsumer(consumerID string, count int) ([]message.Message, error) {
	p.mu.RLock()
	cursor := p.consumerOffsets[consumerID]
	caughtUp := cursor >= p.currentOffset
	p.mu.RUnlock()

	// A cursor at the head is not an invalid offset, just nothing new yet.
	if caughtUp {
		return nil, nil
	}

	msgs, err := p.GetMessagesByOffset(cursor, count)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	p.mu.Lock()
	p.consumerOffsets[consumerID] = msgs[len(msgs)-1].Offset + 1
	p.mu.Unlock()
	return msgs, nil
}

// Flush forces any buffered-but-unpersisted messages in the active segment
// to disk. AppendMessages already persists synchronously, so in normal
// operation this is a no-op; it exists for callers (e.g. a periodic
// flusher) that want an explicit durability checkpoint.
func (p *Partition) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.PersistMessages()
}

// Purge deletes every segment (sealed and active), decrementing parent
// counters first, and resets the partition to a fresh, empty state at
// offset 0.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, off := range p.sealedOffsets {
		seg := p.cache.Pop(off)
		if seg == nil {
			var err error
			seg, _, err = segment.Open(p.ids, off, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
			if err != nil {
				return err
			}
		}
		p.parents.Add(-seg.Size(), -seg.MessageCount())
		if err := seg.Delete(); err != nil {
			return err
		}
	}
	p.parents.Add(-p.active.Size(), -p.active.MessageCount())
	if err := p.active.Delete(); err != nil {
		return err
	}

	fresh, _, err := segment.Open(p.ids, 0, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
	if err != nil {
		return err
	}

	p.sealedOffsets = nil
	p.active = fresh
	p.currentOffset = 0
	p.lastTimestamp = 0
	p.consumerOffsets = make(map[string]uint64)
	p.msgCache.Reset()
	p.readOnly = false
	return nil
}

// Delete removes the partition outright: every segment's bytes and message
// counts are walked back out of the ancestor counters, file handles are
// released, and the partition directory is unlinked. Unlike Purge it does
// not leave a fresh active segment behind; the Partition is unusable
// afterwards.
func (p *Partition) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, off := range p.sealedOffsets {
		seg := p.cache.Pop(off)
		if seg == nil {
			var err error
			seg, _, err = segment.Open(p.ids, off, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
			if err != nil {
				return err
			}
		}
		p.parents.Add(-seg.Size(), -seg.MessageCount())
		if err := seg.Delete(); err != nil {
			return err
		}
	}
	p.sealedOffsets = nil

	p.parents.Add(-p.active.Size(), -p.active.MessageCount())
	if err := p.active.Delete(); err != nil {
		return err
	}
	if err := p.cache.Close(); err != nil {
		return err
	}
	return os.RemoveAll(p.dir)
}

// DeleteSegmentsOlderThan deletes sealed segments, oldest first, whose
// newest message is at or before cutoffMicros. It stops at the first
// sealed segment that does not qualify,
// since sealed segments are ordered by start_offset and therefore by age.
// The active segment is never deleted.
func (p *Partition) DeleteSegmentsOlderThan(cutoffMicros uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deleted := 0
	for len(p.sealedOffsets) > 0 {
		off := p.sealedOffsets[0]
		seg, err := p.segmentHandle(0)
		if err != nil {
			return deleted, err
		}
		ts, ok := seg.LastMessageTimestamp()
		if !ok || ts > cutoffMicros {
			break
		}

		p.cache.Pop(off)
		p.parents.Add(-seg.Size(), -seg.MessageCount())
		boundary := seg.CurrentOffset
		if err := seg.Delete(); err != nil {
			return deleted, err
		}
		p.sealedOffsets = p.sealedOffsets[1:]
		p.msgCache.DropBelow(boundary)
		deleted++
	}
	return deleted, nil
}

// OldestSealedInfo reports the start offset, byte size, message count and
// newest-message timestamp of this partition's oldest sealed segment, used
// by Topic-level size-based retention to compare ages across partitions.
func (p *Partition) OldestSealedInfo() (startOffset uint64, sizeBytes int64, messageCount int64, newestTimestamp uint64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.sealedOffsets) == 0 {
		return 0, 0, 0, 0, false
	}
	off := p.sealedOffsets[0]
	seg, err := p.segmentHandle(0)
	if err != nil {
		return 0, 0, 0, 0, false
	}
	ts, _ := seg.LastMessageTimestamp()
	return off, seg.Size(), seg.MessageCount(), ts, true
}

// DeleteOldestSealed removes this partition's oldest sealed segment. Used by
// Topic-level size retention after comparing ages with OldestSealedInfo.
func (p *Partition) DeleteOldestSealed() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sealedOffsets) == 0 {
		return streamerr.ErrNotFound
	}
	off := p.sealedOffsets[0]
	seg := p.cache.Pop(off)
	if seg == nil {
		var err error
		seg, _, err = segment.Open(p.ids, off, p.dir, p.config.SegmentConfig, p.config.SegmentConfig.MessageExpirySeconds, p.parents, p.logger)
		if err != nil {
			return err
		}
	}
	p.parents.Add(-seg.Size(), -seg.MessageCount())
	boundary := seg.CurrentOffset
	if err := seg.Delete(); err != nil {
		return err
	}
	p.sealedOffsets = p.sealedOffsets[1:]
	p.msgCache.DropBelow(boundary)
	return nil
}

// ID returns the partition's id within its topic.
func (p *Partition) ID() uint32 {
	return p.ids.PartitionID
}

// ConsumerOffsets returns a snapshot of every consumer cursor, used to
// persist them through the PartitionStore sub-port.
func (p *Partition) ConsumerOffsets() map[string]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]uint64, len(p.consumerOffsets))
	for k, v := range p.consumerOffsets {
		out[k] = v
	}
	return out
}

// RestoreConsumerOffsets seeds the in-memory cursor map from persisted
// state on load, before any reads have happened.
func (p *Partition) RestoreConsumerOffsets(offsets map[string]uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range offsets {
		p.consumerOffsets[k] = v
	}
}

// Size returns the partition's own aggregated byte size, used by
// Topic-level size retention.
func (p *Partition) Size() int64 {
	return p.ownCounters.Size()
}

// MessageCount returns the partition's own aggregated message count.
func (p *Partition) MessageCount() int64 {
	return p.ownCounters.Messages()
}

// ReadOnly reports whether corrupted-index recovery has marked this
// partition unwritable.
func (p *Partition) ReadOnly() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readOnly
}

// CurrentOffset returns the next offset that would be assigned.
func (p *Partition) CurrentOffset() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentOffset
}

func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if err := p.active.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

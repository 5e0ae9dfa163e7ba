// Package segment implements the append-only log file plus its two sidecar
// indexes: the offset index and the time index. A segment buffers appended
// messages, persists them with one sidecar record each, and owns its own
// rollover and expiry checks.
package segment

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"streamlog/internal/counters"
	"streamlog/internal/message"
)

// IDs identifies a segment's position in the stream/topic/partition
// hierarchy.
type IDs struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
}

type Segment struct {
	mu sync.RWMutex

	IDs         IDs
	StartOffset uint64
	// EndOffset is only meaningful when hasMessages is true; when the
	// segment is non-empty it equals CurrentOffset - 1.
	EndOffset     uint64
	CurrentOffset uint64 // next offset this segment would assign
	SizeBytes     int64
	IsClosed      bool

	messageExpirySeconds int64
	hasMessages          bool
	lastTimestamp        uint64

	LogPath       string
	IndexPath     string
	TimeIndexPath string

	log       *Log
	index     *Index
	timeIndex *TimeIndex

	config  Config
	parents counters.ParentSet
	logger  *zap.Logger

	unsaved []message.Message
}

// Open derives a segment's paths, opens (creating if needed) its three
// files and recovers in-memory state from them in one step. truncated
// reports whether recovery had to drop records to realign the log and its
// sidecars.
func Open(ids IDs, startOffset uint64, partitionDir string, cfg Config, expirySeconds int64, parents counters.ParentSet, logger *zap.Logger) (s *Segment, truncated bool, err error) {
	cfg = cfg.Normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(segmentsDir(partitionDir), 0o755); err != nil {
		return nil, false, err
	}

	logPath := LogPath(partitionDir, startOffset)
	idxPath := IndexPath(partitionDir, startOffset)
	tidxPath := TimeIndexPath(partitionDir, startOffset)

	// The log is mapped up to the hard ceiling, not the rollover threshold:
	// IsFull is checked before an append, so the last batch written to a
	// segment may cross cfg.Size.
	l, err := openLog(logPath, MaxSizeBytes)
	if err != nil {
		return nil, false, err
	}
	idx, err := openIndex(idxPath, cfg.IndexMaxBytes, cfg.CacheIndexes)
	if err != nil {
		l.Close()
		return nil, false, err
	}
	tidx, err := openTimeIndex(tidxPath, cfg.TimeIndexMaxBytes, cfg.CacheTimeIndexes)
	if err != nil {
		l.Close()
		idx.Close()
		return nil, false, err
	}

	s = &Segment{
		IDs:                  ids,
		StartOffset:          startOffset,
		CurrentOffset:        startOffset,
		LogPath:              logPath,
		IndexPath:            idxPath,
		TimeIndexPath:        tidxPath,
		log:                  l,
		index:                idx,
		timeIndex:            tidx,
		config:               cfg,
		parents:              parents,
		messageExpirySeconds: expirySeconds,
		logger:               logger,
	}

	truncated, err = s.recover()
	if err != nil {
		s.Close()
		return nil, false, err
	}

	return s, truncated, nil
}

type recoveredEntry struct {
	offset    uint64
	timestamp uint64
	startPos  int64
	endPos    int64
}

// recover scans the log from the start, rebuilding SizeBytes, EndOffset and
// the expected index/time-index records, then asks each sidecar to adopt
// the longest on-disk prefix that agrees with the scan. When the three
// files disagree, all of them are truncated to the shortest common prefix.
func (s *Segment) recover() (bool, error) {
	capacity := s.log.physicalCapacity()
	var entries []recoveredEntry
	var pos int64

	for pos+int64(message.MinRecordHeaderBytes) <= capacity {
		raw := s.log.data[pos:capacity]
		size, ok := message.PeekTotalSize(raw)
		if !ok || size == 0 {
			break
		}
		if pos+int64(size) > capacity {
			s.logger.Warn("truncating segment at incomplete trailing record",
				zap.String("log_path", s.LogPath), zap.Int64("position", pos))
			break
		}
		msg, _, err := message.Decode(raw[:size])
		if err != nil {
			s.logger.Warn("truncating segment at corrupted record",
				zap.String("log_path", s.LogPath), zap.Int64("position", pos), zap.Error(err))
			break
		}
		entries = append(entries, recoveredEntry{offset: msg.Offset, timestamp: msg.Timestamp, startPos: pos, endPos: pos + int64(size)})
		pos += int64(size)
	}

	s.log.setSize(pos)
	s.SizeBytes = pos
	s.applyRecoveredEntries(entries)

	expectedIdx := make([]IndexRecord, len(entries))
	expectedTime := make([]TimeIndexRecord, len(entries))
	for k, e := range entries {
		rel := uint32(e.offset - s.StartOffset)
		expectedIdx[k] = IndexRecord{RelativeOffset: rel, FilePosition: uint32(e.startPos)}
		expectedTime[k] = TimeIndexRecord{RelativeOffset: rel, Timestamp: e.timestamp}
	}

	idxCount := s.index.adoptMatching(expectedIdx)
	tidxCount := s.timeIndex.adoptMatching(expectedTime)
	target := int64(len(entries))
	truncated := false
	if idxCount < target {
		target = idxCount
		truncated = true
	}
	if tidxCount < target {
		target = tidxCount
		truncated = true
	}

	if truncated {
		s.logger.Warn("corrupted index: truncating log, index and time-index to shortest common prefix",
			zap.String("partition_segment", s.LogPath),
			zap.Int64("log_records", int64(len(entries))),
			zap.Int64("index_records", idxCount),
			zap.Int64("time_index_records", tidxCount),
			zap.Int64("kept", target))

		var endPos int64
		if target > 0 {
			endPos = entries[target-1].endPos
		}
		s.log.setSize(endPos)
		s.SizeBytes = endPos
		s.applyRecoveredEntries(entries[:target])
		s.index.Truncate(target)
		s.timeIndex.Truncate(target)
	}

	if s.config.CacheIndexes {
		s.index.loadAll()
	}
	if s.config.CacheTimeIndexes {
		s.timeIndex.loadAll()
	}

	s.IsClosed = s.SizeBytes >= s.config.Size

	return truncated, nil
}

func (s *Segment) applyRecoveredEntries(entries []recoveredEntry) {
	if len(entries) == 0 {
		s.hasMessages = false
		s.CurrentOffset = s.StartOffset
		return
	}
	last := entries[len(entries)-1]
	s.hasMessages = true
	s.CurrentOffset = last.offset + 1
	s.EndOffset = last.offset
	s.lastTimestamp = last.timestamp
}

// AppendMessages buffers fully-stamped messages (offset/timestamp already
// assigned by the owning Partition) until the next PersistMessages call.
// Rejects if the segment is sealed.
func (s *Segment) AppendMessages(msgs []message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsClosed {
		return ErrSegmentClosed
	}
	s.unsaved = append(s.unsaved, msgs...)
	return nil
}

// PersistMessages writes every buffered message to the log, appends one
// Index and one TimeIndex record per message, and mirrors the byte/message
// deltas into the ancestor counters. It is the only mutation that
// advances persisted state.
func (s *Segment) PersistMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.unsaved) == 0 {
		return nil
	}

	var sizeDelta int64
	var messagesDelta int64

	for i := range s.unsaved {
		msg := &s.unsaved[i]
		buf := make([]byte, msg.Size())
		n, err := message.Encode(*msg, buf)
		if err != nil {
			return err
		}

		pos, err := s.log.Append(buf[:n])
		if err != nil {
			return err
		}

		relOffset := uint32(msg.Offset - s.StartOffset)
		if err := s.index.Write(relOffset, uint32(pos)); err != nil {
			return err
		}
		if err := s.timeIndex.Write(relOffset, msg.Timestamp); err != nil {
			return err
		}

		s.CurrentOffset = msg.Offset + 1
		s.EndOffset = msg.Offset
		s.hasMessages = true
		s.lastTimestamp = msg.Timestamp
		sizeDelta += int64(n)
		messagesDelta++
	}

	s.SizeBytes += sizeDelta
	s.unsaved = s.unsaved[:0]
	s.parents.Add(sizeDelta, messagesDelta)
	return nil
}

// GetMessages returns up to count messages starting at startOffset, which
// must lie within [StartOffset, EndOffset].
func (s *Segment) GetMessages(startOffset uint64, count int) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasMessages || startOffset < s.StartOffset || startOffset > s.EndOffset {
		return nil, ErrOffsetOutOfRange
	}
	if count <= 0 {
		return nil, nil
	}

	relTarget := uint32(startOffset - s.StartOffset)
	pos := int64(s.index.FindPosition(relTarget))

	out := make([]message.Message, 0, count)
	for pos < s.SizeBytes && len(out) < count {
		raw := s.log.data[pos:s.SizeBytes]
		size, ok := message.PeekTotalSize(raw)
		if !ok {
			break
		}
		msg, _, err := message.Decode(raw[:size])
		if err != nil {
			return nil, err
		}
		pos += int64(size)
		if msg.Offset < startOffset {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// FindOffsetByTimestamp bisects the TimeIndex for the smallest record with
// timestamp >= target. ok is false when every message in this segment is
// older than target, meaning the caller should continue into the next
// segment.
func (s *Segment) FindOffsetByTimestamp(target uint64) (offset uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasMessages {
		return 0, false
	}
	rel, found := s.timeIndex.FindRelativeOffset(target)
	if !found {
		return 0, false
	}
	return s.StartOffset + uint64(rel), true
}

// GetNewestMessagesBySize returns the trailing messages whose cumulative
// encoded size does not exceed sizeBytes.
func (s *Segment) GetNewestMessagesBySize(sizeBytes int64) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasMessages {
		return nil, nil
	}

	type sized struct {
		msg  message.Message
		size int64
	}
	var all []sized
	var pos int64
	for pos < s.SizeBytes {
		raw := s.log.data[pos:s.SizeBytes]
		size, ok := message.PeekTotalSize(raw)
		if !ok {
			break
		}
		msg, _, err := message.Decode(raw[:size])
		if err != nil {
			return nil, err
		}
		all = append(all, sized{msg: msg, size: int64(size)})
		pos += int64(size)
	}

	var total int64
	cut := len(all)
	for cut > 0 {
		next := all[cut-1].size
		if total+next > sizeBytes {
			break
		}
		total += next
		cut--
	}

	out := make([]message.Message, 0, len(all)-cut)
	for _, e := range all[cut:] {
		out = append(out, e.msg)
	}
	return out, nil
}

// IsFull reports whether the segment should be sealed and rolled over:
// either it has reached the configured size threshold, or it has expired.
func (s *Segment) IsFull(nowMicros uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.SizeBytes >= s.config.Size {
		return true
	}
	return s.isExpiredLocked(nowMicros)
}

// IsExpired reports whether the newest message in the segment has aged past
// the configured expiry. Measured from the newest message, not the oldest,
// so a segment keeps its whole tail alive until the last write ages out.
func (s *Segment) IsExpired(nowMicros uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isExpiredLocked(nowMicros)
}

func (s *Segment) isExpiredLocked(nowMicros uint64) bool {
	if s.messageExpirySeconds <= 0 || !s.hasMessages {
		return false
	}
	expiryMicros := uint64(s.messageExpirySeconds) * 1_000_000
	return s.lastTimestamp+expiryMicros <= nowMicros
}

// Seal marks the segment closed; it cannot be reopened for writes.
func (s *Segment) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsClosed = true
}

func (s *Segment) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IsClosed
}

func (s *Segment) HasMessages() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMessages
}

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.timeIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Delete removes all three files on disk. Callers must decrement the
// parent counters by SizeBytes/message-count before calling this.
func (s *Segment) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.index.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.timeIndex.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.log.Delete(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Size returns the current persisted byte size.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SizeBytes
}

// MessageCount returns the number of persisted messages, used by retention
// to decrement parent counters before deletion.
func (s *Segment) MessageCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasMessages {
		return 0
	}
	return int64(s.EndOffset-s.StartOffset) + 1
}

// LastMessageTimestamp returns the newest message's timestamp and whether
// the segment has any messages at all; used by topic-level size retention
// to order sealed segments by age.
func (s *Segment) LastMessageTimestamp() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTimestamp, s.hasMessages
}

package partition

import (
	"container/list"
	"sync"

	"streamlog/internal/segment"
)

// openSegmentCache is an LRU of open, sealed-segment file handles, scoped
// to one Partition and keyed by start offset. Each Partition owns its own
// segment directory and is the only thing that ever looks up its sealed
// segments, so there is no cross-partition sharing to coordinate.
type openSegmentCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[uint64]*list.Element
}

type segmentCacheEntry struct {
	startOffset uint64
	seg         *segment.Segment
}

func newOpenSegmentCache(capacity int) *openSegmentCache {
	if capacity <= 0 {
		capacity = 16
	}
	return &openSegmentCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// GetOrLoad returns the already-open segment for startOffset, or calls
// loader to open it and admits the result to the cache, evicting the least
// recently used entry (closing its file handles) if at capacity.
func (c *openSegmentCache) GetOrLoad(startOffset uint64, loader func() (*segment.Segment, error)) (*segment.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[startOffset]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*segmentCacheEntry).seg, nil
	}

	seg, err := loader()
	if err != nil {
		return nil, err
	}

	if c.order.Len() >= c.capacity {
		c.evictLocked()
	}

	entry := &segmentCacheEntry{startOffset: startOffset, seg: seg}
	elem := c.order.PushFront(entry)
	c.items[startOffset] = elem
	return seg, nil
}

// Evict removes and closes the entry for startOffset, if present. The
// partition's deletion paths (retention, purge, delete) use Pop instead.
func (c *openSegmentCache) Evict(startOffset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[startOffset]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.items, startOffset)
	_ = elem.Value.(*segmentCacheEntry).seg.Close()
}

// Pop removes startOffset from the cache without closing its segment,
// transferring ownership to the caller. Used when a segment is about to be
// deleted outright (retention), since Delete() already tears down the file
// handles and a subsequent Close() would be redundant.
func (c *openSegmentCache) Pop(startOffset uint64) *segment.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[startOffset]
	if !ok {
		return nil
	}
	c.order.Remove(elem)
	delete(c.items, startOffset)
	return elem.Value.(*segmentCacheEntry).seg
}

func (c *openSegmentCache) evictLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	entry := elem.Value.(*segmentCacheEntry)
	delete(c.items, entry.startOffset)
	_ = entry.seg.Close()
}

func (c *openSegmentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.order.Front(); e != nil; e = e.Next() {
		_ = e.Value.(*segmentCacheEntry).seg.Close()
	}
	c.order.Init()
	c.items = make(map[uint64]*list.Element)
	return nil
}

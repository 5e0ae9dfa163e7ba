package partition

import (
	"container/list"
	"sync"

	"streamlog/internal/message"
)

// messageCache is a bounded ring of decoded messages keyed by offset,
// populated on successful appends and on reads that miss. It does not
// promote on Get: entries are evicted oldest-first by insertion order
// regardless of read pattern, since the cache holds values, not file
// handles whose recency matters.
type messageCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[uint64]*list.Element
}

type messageCacheEntry struct {
	offset uint64
	msg    message.Message
}

func newMessageCache(capacity int) *messageCache {
	return &messageCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// Get returns the cached message for offset, if present. It does not affect
// eviction order.
func (c *messageCache) Get(offset uint64) (message.Message, bool) {
	if c == nil {
		return message.Message{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[offset]
	if !ok {
		return message.Message{}, false
	}
	return elem.Value.(*messageCacheEntry).msg, true
}

// Put inserts msg under offset, evicting the oldest entry if the cache is at
// capacity. Re-inserting an existing offset overwrites its value in place
// without moving it in eviction order.
func (c *messageCache) Put(offset uint64, msg message.Message) {
	if c == nil || c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[offset]; ok {
		elem.Value.(*messageCacheEntry).msg = msg
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*messageCacheEntry).offset)
		}
	}

	elem := c.order.PushBack(&messageCacheEntry{offset: offset, msg: msg})
	c.items[offset] = elem
}

// DropBelow removes every entry with an offset below boundary. Called when
// retention deletes a sealed segment, so the cache never serves messages
// whose backing segment is gone.
func (c *messageCache) DropBelow(boundary uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for offset, elem := range c.items {
		if offset < boundary {
			c.order.Remove(elem)
			delete(c.items, offset)
		}
	}
}

// Reset drops every entry. Called when the partition is purged, so stale
// offsets can never be served after the offset counter restarts at 0.
func (c *messageCache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[uint64]*list.Element)
}

func (c *messageCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

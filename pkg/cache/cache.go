package cache

import (
	"container/list"
	"sync"
)

// Stats holds cache statistics.
type Stats struct {
	Hits      int64 // Number of cache hits
	Misses    int64 // Number of cache misses
	Entries   int   // Current number of entries
	Bytes     int64 // Bytes currently held
	Capacity  int64 // Byte budget
	Evictions int64 // Number of evicted entries
}

// Cache is a threadsafe LRU of byte payloads bounded by total size.
// Values are copied on the way in and out so callers may mutate them.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	capacity int64
	used     int64
	stats    Stats
}

type entry struct {
	key   string
	value []byte
}

// New returns a cache holding at most capacity bytes of payload.
func New(capacity int64) *Cache {
	if capacity <= 0 {
		capacity = 64 << 20
	}
	return &Cache{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: capacity,
	}
}

// Get returns a copy of the payload stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		c.stats.Hits++
		return append([]byte(nil), ele.Value.(*entry).value...), true
	}
	c.stats.Misses++
	return nil, false
}

// Set stores a copy of value under key. Payloads larger than the whole
// budget are not cached.
func (c *Cache) Set(key string, value []byte) {
	size := int64(len(value))
	if size > c.capacity {
		c.Delete(key)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
	for c.used+size > c.capacity && c.ll.Len() > 0 {
		c.removeElement(c.ll.Back())
		c.stats.Evictions++
	}
	ent := &entry{key: key, value: append([]byte(nil), value...)}
	c.items[key] = c.ll.PushFront(ent)
	c.used += size
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.ll = list.New()
	c.used = 0
}

func (c *Cache) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	ent := ele.Value.(*entry)
	delete(c.items, ent.key)
	c.used -= int64(len(ent.value))
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	s.Bytes = c.used
	s.Capacity = c.capacity
	return s
}

// Cache maintains the map of user ids to the frontend sessions the
// session manager currently holds. Currently, we only have LRU policy
// implemented.
package teaclave_client

import (
	"container/list"
	"sync"
)

type Cache interface {
	// Store the session under key. A session previously stored
	// under the same key is replaced and handed to the eviction
	// callback.
	Set(key string, session *FrontendSession)

	// Get fetches the session corresponding to key, and returns
	// (session, true) if the key exists. Otherwise, Get returns
	// (nil, false).
	Get(key string) (*FrontendSession, bool)

	// Delete the entry if the key exists, and return the removed
	// session. Deleted sessions are not passed to the eviction
	// callback.
	Delete(key string) (*FrontendSession, bool)

	// Drain removes and returns every session.
	Drain() []*FrontendSession

	Len() int
}

type cacheEntry struct {
	key     string
	session *FrontendSession
}

type cache struct {
	sync.Mutex

	capacity int
	queue    *list.List // back of the queue is the oldest
	items    map[string]*list.Element

	onEvict func(key string, session *FrontendSession)
}

// NewCache creates an LRU cache. A capacity of -1, or any capacity
// that is not positive, means unbounded.
// onEvict, if not nil, is called for every session pushed out, outside
// of the cache lock.
func NewCache(capacity int, onEvict func(key string, session *FrontendSession)) Cache {
	c := &cache{
		capacity: capacity,
		queue:    list.New(),
		items:    make(map[string]*list.Element),
		onEvict:  onEvict,
	}
	return c
}

func (c *cache) Set(key string, session *FrontendSession) {
	var evicted []cacheEntry

	c.Lock()
	if elem, ok := c.items[key]; ok {
		old := elem.Value.(cacheEntry)
		if old.session != session {
			evicted = append(evicted, old)
		}
		elem.Value = cacheEntry{key: key, session: session}
		c.queue.MoveToFront(elem)
	} else {
		c.items[key] = c.queue.PushFront(cacheEntry{key: key, session: session})
	}

	// a capacity below one is unbounded
	for c.capacity > 0 && c.queue.Len() > c.capacity {
		oldest := c.queue.Back()
		entry := oldest.Value.(cacheEntry)
		c.queue.Remove(oldest)
		delete(c.items, entry.key)
		evicted = append(evicted, entry)
	}
	c.Unlock()

	if c.onEvict != nil {
		for _, entry := range evicted {
			c.onEvict(entry.key, entry.session)
		}
	}
}

func (c *cache) Get(key string) (*FrontendSession, bool) {
	c.Lock()
	defer c.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.queue.MoveToFront(elem)
	return elem.Value.(cacheEntry).session, true
}

func (c *cache) Delete(key string) (*FrontendSession, bool) {
	c.Lock()
	defer c.Unlock()
	elem, ok := c.items[key]
	if !ok { // if key's not in the cache, no problem
		return nil, false
	}

	c.queue.Remove(elem)
	delete(c.items, key)
	return elem.Value.(cacheEntry).session, true
}

func (c *cache) Drain() []*FrontendSession {
	c.Lock()
	defer c.Unlock()
	sessions := make([]*FrontendSession, 0, c.queue.Len())
	for elem := c.queue.Front(); elem != nil; elem = elem.Next() {
		sessions = append(sessions, elem.Value.(cacheEntry).session)
	}
	c.queue.Init()
	c.items = make(map[string]*list.Element)
	return sessions
}

func (c *cache) Len() int {
	c.Lock()
	defer c.Unlock()
	return c.queue.Len()
}

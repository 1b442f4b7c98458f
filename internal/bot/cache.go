package bot

import (
	"container/list"
	"sync"

	"github.com/unsafisica/unsabot/internal/retriever"
)

// defaultCacheSize bounds how many users can have cached context at once.
const defaultCacheSize = 512

// conversationCache remembers the last career-looking result set per
// user hash so explanatory follow-ups can be answered without a fresh
// retrieval. Bounded LRU: inserting past capacity evicts the least
// recently used user.
type conversationCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List               // front = most recent
	items map[string]*list.Element // user hash → element
}

type cacheEntry struct {
	key     string
	results []retriever.Result
}

func newConversationCache(capacity int) *conversationCache {
	if capacity <= 0 {
		capacity = defaultCacheSize
	}
	return &conversationCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Put stores results for the user, replacing any previous set.
func (c *conversationCache) Put(userHash string, results []retriever.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[userHash]; ok {
		el.Value.(*cacheEntry).results = results
		c.order.MoveToFront(el)
		return
	}

	c.items[userHash] = c.order.PushFront(&cacheEntry{key: userHash, results: results})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Get returns the cached results for the user, refreshing its recency.
func (c *conversationCache) Get(userHash string) ([]retriever.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[userHash]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).results, true
}

// Len returns the number of cached users.
func (c *conversationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

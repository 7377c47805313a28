// Package convcache tracks which locally observed conversation prefixes are
// bound to which upstream chat sessions.
//
// The upstream backend is stateful: every exchange belongs to a server-side
// session referenced by an opaque id. OpenAI-style clients are stateless and
// resend the whole message history on every turn. This package bridges the
// two by remembering, per session, the fingerprint sequence of all turns
// exchanged so far, so a follow-up request can be routed back to the session
// that already holds its history.
//
// Entries are bounded and evicted least-recently-used. Nothing survives a
// process restart; a lost entry only costs one extra upstream session.
package convcache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxConversations is the capacity bound used when no explicit limit
// is configured.
const DefaultMaxConversations = 100

// Record associates a conversation prefix with an upstream session.
type Record struct {
	// SessionID is the upstream-assigned chat session id. Owned exclusively
	// by this record once created.
	SessionID string

	// Endpoint identifies the upstream route the session is bound to.
	// Sessions are never shared across endpoints.
	Endpoint string

	// SystemSig is the signature of the request's concatenated system text.
	SystemSig uint64

	// Fingerprints holds one fingerprint per user and assistant turn
	// exchanged so far, in arrival order; system text is represented by
	// SystemSig instead. The last element is always the most recent
	// assistant reply.
	Fingerprints []string

	// LastAccess orders records for LRU eviction.
	LastAccess time.Time
}

// clone returns a copy whose fingerprint slice is independent of the cached
// one, so callers can hold results without racing cache mutations.
func (r Record) clone() Record {
	out := r
	out.Fingerprints = append([]string(nil), r.Fingerprints...)
	return out
}

type entry struct {
	key string
	rec Record
}

// Cache is a bounded, recency-ordered collection of affinity records.
// All methods are safe for concurrent use; the internal lock is only held
// for in-memory mutation, never across I/O.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element

	// onEvict, when set, is invoked after an LRU eviction with the lock
	// still held. Keep callbacks cheap and non-blocking.
	onEvict func(key string, rec Record)

	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictionHook registers a callback invoked whenever a record is evicted
// to make room for a new one.
func WithEvictionHook(fn func(key string, rec Record)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// withClock overrides the time source. Test use only.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache bounded to capacity records. A capacity of zero or
// less falls back to DefaultMaxConversations.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultMaxConversations
	}
	c := &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len reports the current number of records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Get returns a copy of the record stored under key. It does not refresh
// recency; use Touch for that.
func (c *Cache) Get(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Record{}, false
	}
	return el.Value.(*entry).rec.clone(), true
}

// Put inserts or replaces the record stored under key and marks it most
// recently used. If the insert pushes the cache over capacity, the single
// least-recently-used record is evicted in the same critical section, so no
// observer ever sees an over-capacity cache.
func (c *Cache) Put(key string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec = rec.clone()
	rec.LastAccess = c.now()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).rec = rec
		c.ll.MoveToFront(el)
		return
	}

	c.items[key] = c.ll.PushFront(&entry{key: key, rec: rec})

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		evicted := oldest.Value.(*entry)
		c.ll.Remove(oldest)
		delete(c.items, evicted.key)
		if c.onEvict != nil {
			c.onEvict(evicted.key, evicted.rec)
		}
	}
}

// Touch marks the record most recently used without modifying its content,
// so repeated reuse of a session protects it from eviction.
func (c *Cache) Touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).rec.LastAccess = c.now()
		c.ll.MoveToFront(el)
	}
}

// Entry pairs a conversation key with a copy of its record.
type Entry struct {
	Key    string
	Record Record
}

// Snapshot returns all entries ordered most-recently-used first. The result
// is a stable copy: mutations made by other callers after Snapshot returns
// are not observed through it.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, Entry{Key: e.key, Record: e.rec.clone()})
	}
	return out
}

// Package dedupe tracks relay message ids so retried envelopes are ingested once.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// Deduper records seen message IDs to ensure at-most-once ingest.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen within the window, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID so a failed ingest can be retried by the relay.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// node is an entry in the insertion-ordered list. head is the oldest entry.
type node struct {
	id     string
	seenAt time.Time
	prev   *node
	next   *node
}

func (n *node) reset() {
	*n = node{}
}

// inMemoryDeduper keeps ids in a map plus an insertion-ordered doubly linked list.
// Entries leave the window when they are older than ttl or when maxSize is exceeded (oldest first).
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node
	tail     *node
	maxSize  int           // <= 0 means no size bound
	ttl      time.Duration // <= 0 means no expiry
	now      func() time.Time
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.head)
	}

	n := d.nodePool.Get().(*node)
	n.id = id
	n.seenAt = now
	d.pushBack(n)
	d.seen[id] = n
	return false
}

// Unrecord removes an ID from the window.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		d.remove(n)
	}
}

// Size returns the number of ids currently in the window.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire(d.now())
	return int64(len(d.seen))
}

// expire drops entries from the head while they are older than ttl.
// Must be called with d.mu held.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for d.head != nil && now.Sub(d.head.seenAt) >= d.ttl {
		d.remove(d.head)
	}
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) pushBack(n *node) {
	n.prev = d.tail
	n.next = nil
	if d.tail != nil {
		d.tail.next = n
	} else {
		d.head = n
	}
	d.tail = n
}

// Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.id)
	n.reset()
	d.nodePool.Put(n)
}

// ABOUTME: Bounded window of recently seen keys used for id-collision detection
// ABOUTME: Evicts the oldest key at capacity and optionally expires keys by age

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers up to maxSize keys in arrival order. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.RWMutex
	keys    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize keys. When ttl is positive,
// keys older than ttl are treated as unseen and a background sweep removes
// them; Close stops the sweep.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	}
	return c
}

// CheckAndMark reports whether key was already in the window and, when it
// was not, records it. The check and the insert happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.keys[key]; ok && c.live(e, now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

func (c *Cache) live(e *entry, now time.Time) bool {
	return c.ttl <= 0 || now.Sub(e.seenAt) < c.ttl
}

// markLocked must be called with mu held
func (c *Cache) markLocked(key string, now time.Time) {
	if e, ok := c.keys[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	for len(c.keys) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		oldest, _ := front.Value.(string)
		c.order.Remove(front)
		delete(c.keys, oldest)
	}

	c.keys[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	// Keys sit in arrival order, so expiry stops at the first live key.
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if c.live(c.keys[key], now) {
			return
		}
		c.order.Remove(front)
		delete(c.keys, key)
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const DefaultCapacity = 256

// Memory is a capacity-bounded in-process LRU store with per-entry expiry.
// An expired entry behaves as a miss even while still LRU-resident; it is
// dropped lazily on the next Get. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type memEntry struct {
	key      string
	data     []byte
	deadline time.Time // zero means no expiry
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	ent := el.Value.(*memEntry)
	if !ent.deadline.IsZero() && time.Now().After(ent.deadline) {
		m.ll.Remove(el)
		delete(m.items, key)
		return nil, false, nil
	}
	m.ll.MoveToFront(el)

	// return a copy to avoid external mutation
	out := make([]byte, len(ent.data))
	copy(out, ent.data)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	_ = ctx
	b := make([]byte, len(data))
	copy(b, data)

	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		ent := el.Value.(*memEntry)
		ent.data = b
		ent.deadline = deadline
		m.ll.MoveToFront(el)
		return nil
	}

	// full — evict the least recently used entry
	if m.ll.Len() >= m.capacity {
		if tail := m.ll.Back(); tail != nil {
			ent := tail.Value.(*memEntry)
			m.ll.Remove(tail)
			delete(m.items, ent.key)
		}
	}

	m.items[key] = m.ll.PushFront(&memEntry{key: key, data: b, deadline: deadline})
	return nil
}

// Len reports the number of resident entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory) Close() error { return nil }

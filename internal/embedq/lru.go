package embedq

import "container/list"

// lruSet is a bounded set with least-recently-used eviction. It is not
// goroutine-safe; the queue guards it with its own mutex.
type lruSet struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

func newLRUSet(capacity int) *lruSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruSet{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Add inserts the key and reports whether it was new. Inserting beyond
// capacity evicts the least recently used key.
func (s *lruSet) Add(key string) bool {
	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		return false
	}
	s.items[key] = s.order.PushFront(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(string))
	}
	return true
}

// Contains reports whether the key is present and refreshes its recency.
func (s *lruSet) Contains(key string) bool {
	el, ok := s.items[key]
	if ok {
		s.order.MoveToFront(el)
	}
	return ok
}

func (s *lruSet) Len() int {
	return s.order.Len()
}

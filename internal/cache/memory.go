package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxItems 是内存层未显式配置容量时的条目上限。
const DefaultMaxItems = 50

// MemoryStore 是带逐条 TTL 的有界 LRU 缓存。所有操作由单把互斥锁串行化，
// 锁内不做任何 I/O，调用方观察到的是线性化的操作序列。
type MemoryStore[V any] struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // Front 为最久未使用端，Back 为最近使用端。
	now     func() time.Time
}

type memoryElement[V any] struct {
	key   string
	entry Entry[V]
}

// NewMemoryStore 构建容量为 maxSize 的内存缓存；非正值回退到 DefaultMaxItems。
func NewMemoryStore[V any](maxSize int) *MemoryStore[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxItems
	}
	return &MemoryStore[V]{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get 返回未过期的缓存值。命中时累加命中计数并刷新为最近使用；
// 过期条目作为查找的副作用被删除。
func (s *MemoryStore[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	elem, ok := s.entries[key]
	if !ok {
		return zero, false
	}

	item := elem.Value.(*memoryElement[V])
	if item.entry.Expired(s.now()) {
		s.removeElement(elem)
		return zero, false
	}

	s.order.MoveToBack(elem)
	item.entry.Hits++
	return item.entry.Value, true
}

// Set 写入（或覆盖）键值。覆盖会重置条目的 recency；
// 达到容量时先逐出最久未使用的条目，保证 size ≤ maxSize 恒成立。
func (s *MemoryStore[V]) Set(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}

	for len(s.entries) >= s.maxSize {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.removeElement(oldest)
	}

	item := &memoryElement[V]{
		key: key,
		entry: Entry[V]{
			Value:     value,
			CreatedAt: s.now(),
			TTL:       ttl,
		},
	}
	s.entries[key] = s.order.PushBack(item)
}

// Delete 删除键，返回键是否存在。
func (s *MemoryStore[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	return true
}

// Clear 清空全部条目并返回清除数量。
func (s *MemoryStore[V]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.entries)
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return count
}

// SweepExpired 主动清除已过期条目，返回清除数量。
func (s *MemoryStore[V]) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*memoryElement[V]).entry.Expired(now) {
			s.removeElement(elem)
			count++
		}
		elem = next
	}
	return count
}

// Len 返回当前条目数。
func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MemoryStats 汇总内存层的容量与命中信息。
type MemoryStats struct {
	Size      int          `json:"size"`
	MaxSize   int          `json:"max_size"`
	TotalHits int64        `json:"total_hits"`
	Entries   []EntryStats `json:"entries"`
}

// Stats 返回内存层快照，条目按从最久未使用到最近使用排列。
func (s *MemoryStore[V]) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := MemoryStats{
		Size:    len(s.entries),
		MaxSize: s.maxSize,
		Entries: make([]EntryStats, 0, len(s.entries)),
	}
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*memoryElement[V])
		stats.TotalHits += item.entry.Hits
		stats.Entries = append(stats.Entries, EntryStats{
			Key:        item.key,
			Hits:       item.entry.Hits,
			AgeSeconds: item.entry.Age(now).Seconds(),
			ExpiresAt:  item.entry.ExpiresAt(),
		})
	}
	return stats
}

// removeElement 同时维护 map 与链表；调用方必须持有 s.mu。
func (s *MemoryStore[V]) removeElement(elem *list.Element) {
	item := elem.Value.(*memoryElement[V])
	delete(s.entries, item.key)
	s.order.Remove(elem)
}

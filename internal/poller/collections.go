package poller

import (
	"sort"
	"strings"
	"sync"

	"github.com/fpluis/flipance-sub000/internal/metrics"
)

// CollectionSet 轮询目标集合的可变集合。
//
// 钱包同步任务整体替换，轮询循环每轮取快照，两侧不共享迭代状态。
type CollectionSet struct {
	mu       sync.RWMutex
	elements map[string]struct{}
}

// NewCollectionSet 创建集合
func NewCollectionSet(collections ...string) *CollectionSet {
	s := &CollectionSet{elements: make(map[string]struct{})}
	s.Replace(collections)
	return s
}

// Replace 整体替换集合内容
func (s *CollectionSet) Replace(collections []string) {
	elements := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		if c == "" {
			continue
		}
		elements[strings.ToLower(c)] = struct{}{}
	}

	s.mu.Lock()
	s.elements = elements
	s.mu.Unlock()

	metrics.PolledCollectionsGauge.Set(float64(len(elements)))
}

// Add 加入单个集合地址
func (s *CollectionSet) Add(collection string) {
	if collection == "" {
		return
	}
	s.mu.Lock()
	s.elements[strings.ToLower(collection)] = struct{}{}
	size := len(s.elements)
	s.mu.Unlock()

	metrics.PolledCollectionsGauge.Set(float64(size))
}

// Contains 是否包含集合地址
func (s *CollectionSet) Contains(collection string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.elements[strings.ToLower(collection)]
	return ok
}

// Snapshot 返回排序后的只读快照
func (s *CollectionSet) Snapshot() []string {
	s.mu.RLock()
	snapshot := make([]string, 0, len(s.elements))
	for c := range s.elements {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	sort.Strings(snapshot)
	return snapshot
}

// Len 当前集合数量
func (s *CollectionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}

package eviction

import "sort"

// lfuNode tracks access frequency and insertion order for one key.
type lfuNode struct {
	key       string
	frequency uint64
	insertSeq uint64
}

// LFU evicts the least frequently used key, breaking ties by oldest
// insertion order.
type LFU struct {
	nodes map[string]*lfuNode
	seq   uint64
}

// NewLFU creates an LFU eviction strategy.
func NewLFU() *LFU {
	return &LFU{nodes: make(map[string]*lfuNode)}
}

// RecordInsert registers a new key with frequency zero.
// Re-inserting an existing key resets its frequency and insertion order.
func (s *LFU) RecordInsert(key string) {
	s.seq++
	s.nodes[key] = &lfuNode{key: key, insertSeq: s.seq}
}

// RecordAccess increments the key's access frequency.
func (s *LFU) RecordAccess(key string) {
	if n, ok := s.nodes[key]; ok {
		n.frequency++
	}
}

// RecordDelete drops the key's bookkeeping.
func (s *LFU) RecordDelete(key string) {
	delete(s.nodes, key)
}

// Victims returns up to n keys ordered by lowest frequency, ties broken by
// oldest insertion.
func (s *LFU) Victims(n int) []string {
	if n <= 0 || len(s.nodes) == 0 {
		return nil
	}

	candidates := make([]*lfuNode, 0, len(s.nodes))
	for _, node := range s.nodes {
		candidates = append(candidates, node)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].frequency != candidates[j].frequency {
			return candidates[i].frequency < candidates[j].frequency
		}
		return candidates[i].insertSeq < candidates[j].insertSeq
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	victims := make([]string, n)
	for i := 0; i < n; i++ {
		victims[i] = candidates[i].key
	}
	return victims
}

// Len returns the number of tracked keys.
func (s *LFU) Len() int {
	return len(s.nodes)
}

// Reset drops all bookkeeping.
func (s *LFU) Reset() {
	s.nodes = make(map[string]*lfuNode)
	s.seq = 0
}

// Name returns "lfu".
func (s *LFU) Name() string {
	return "lfu"
}

package eviction

// FIFO evicts keys in pure insertion order. Accesses do not affect
// eviction order.
type FIFO struct {
	order   []string
	present map[string]bool
}

// NewFIFO creates a FIFO eviction strategy.
func NewFIFO() *FIFO {
	return &FIFO{present: make(map[string]bool)}
}

// RecordInsert appends the key to the insertion queue.
// Re-inserting an existing key moves it to the back of the queue.
func (s *FIFO) RecordInsert(key string) {
	if s.present[key] {
		s.remove(key)
	}
	s.order = append(s.order, key)
	s.present[key] = true
}

// RecordAccess is a no-op for FIFO.
func (s *FIFO) RecordAccess(string) {}

// RecordDelete drops the key from the queue.
func (s *FIFO) RecordDelete(key string) {
	if s.present[key] {
		s.remove(key)
		delete(s.present, key)
	}
}

// Victims returns up to n keys in insertion order, oldest first.
func (s *FIFO) Victims(n int) []string {
	if n <= 0 || len(s.order) == 0 {
		return nil
	}
	if n > len(s.order) {
		n = len(s.order)
	}
	victims := make([]string, n)
	copy(victims, s.order[:n])
	return victims
}

// Len returns the number of tracked keys.
func (s *FIFO) Len() int {
	return len(s.order)
}

// Reset drops all bookkeeping.
func (s *FIFO) Reset() {
	s.order = nil
	s.present = make(map[string]bool)
}

// Name returns "fifo".
func (s *FIFO) Name() string {
	return "fifo"
}

func (s *FIFO) remove(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

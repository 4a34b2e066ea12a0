// Package eviction provides pluggable eviction strategies for the local
// cache tier. A strategy only tracks key metadata; the store owns the
// values and calls back into the strategy on every insert, access, and
// delete.
package eviction

import "fmt"

// Strategy picks eviction victims for a bounded store.
//
// Implementations are not safe for concurrent use on their own; the owning
// store serializes all calls under its own lock.
type Strategy interface {
	// RecordInsert registers a newly inserted key.
	RecordInsert(key string)

	// RecordAccess registers a read of an existing key.
	RecordAccess(key string)

	// RecordDelete removes a key from the strategy's bookkeeping.
	RecordDelete(key string)

	// Victims returns up to n keys to evict, best candidates first.
	Victims(n int) []string

	// Len returns the number of tracked keys.
	Len() int

	// Reset drops all bookkeeping.
	Reset()

	// Name returns the strategy name ("lfu", "fifo").
	Name() string
}

// New creates a strategy by name. Supported: "lfu", "fifo".
func New(name string) (Strategy, error) {
	switch name {
	case "lfu", "":
		return NewLFU(), nil
	case "fifo":
		return NewFIFO(), nil
	default:
		return nil, fmt.Errorf("unknown eviction strategy %q", name)
	}
}

package crawl

import (
	"slices"
	"sync"
)

// DedupSet tracks the keys handled during one run. It is safe for concurrent
// use; Claim is the only way keys enter the set.
type DedupSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewDedupSet returns an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{keys: make(map[string]struct{})}
}

// Claim adds key and reports whether it was absent. Exactly one caller wins
// the claim for a given key.
func (d *DedupSet) Claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[key]; ok {
		return false
	}
	d.keys[key] = struct{}{}
	return true
}

// Contains reports whether key has been claimed.
func (d *DedupSet) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[key]
	return ok
}

// Len returns the number of claimed keys.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// Keys returns the claimed keys in sorted order.
func (d *DedupSet) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.keys))
	for k := range d.keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

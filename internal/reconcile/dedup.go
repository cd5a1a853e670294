package reconcile

const (
	dedupSoftCapacity = 1000
	dedupEvictBatch   = 200
)

// DedupFilter is a bounded insertion-ordered set of event ids. When it grows
// past the soft capacity the oldest batch is evicted wholesale, keeping a
// recency window without per-entry bookkeeping.
type DedupFilter struct {
	capacity int
	evict    int
	order    []string
	seen     map[string]struct{}
}

// NewDedupFilter returns a filter with the default bounds.
func NewDedupFilter() *DedupFilter {
	return newDedupFilter(dedupSoftCapacity, dedupEvictBatch)
}

func newDedupFilter(capacity, evict int) *DedupFilter {
	if capacity <= 0 {
		capacity = dedupSoftCapacity
	}
	if evict <= 0 || evict > capacity {
		evict = capacity / 5
	}
	return &DedupFilter{
		capacity: capacity,
		evict:    evict,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen records id and reports whether it was already present. Empty ids are
// never deduplicated.
func (f *DedupFilter) Seen(id string) bool {
	if f == nil || id == "" {
		return false
	}
	if _, ok := f.seen[id]; ok {
		return true
	}
	f.seen[id] = struct{}{}
	f.order = append(f.order, id)
	if len(f.order) > f.capacity {
		for _, old := range f.order[:f.evict] {
			delete(f.seen, old)
		}
		f.order = append(f.order[:0:0], f.order[f.evict:]...)
	}
	return false
}

// Len reports the current number of remembered ids.
func (f *DedupFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.order)
}

// Reset forgets everything; called on strategy switch.
func (f *DedupFilter) Reset() {
	if f == nil {
		return
	}
	f.order = nil
	f.seen = make(map[string]struct{}, f.capacity)
}

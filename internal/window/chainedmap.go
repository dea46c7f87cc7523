// Package window implements the slice store and pre-aggregation operator:
// time-indexed slices, each holding a per-thread chained hash map, merged
// and emitted when the watermark advances past a slice's end + allowed
// lateness.
package window

// ChainedMap is a bucket-array hash map with open chaining, grounded on
// original_source's ChainedHashMap: pre-aggregation and join-build both
// need to merge two maps of identical shape at trigger/probe time without
// rehashing every key, which a plain Go map does not expose a way to do
// efficiently (no bucket-level access). Not safe for concurrent use; each
// instance belongs to exactly one (worker thread, slice, side) per the
// per-thread-shard concurrency model.
type ChainedMap[K comparable, V any] struct {
	buckets []chain[K, V]
	mask    uint64
	size    int
	hash    func(K) uint64
}

type entry[K comparable, V any] struct {
	key  K
	val  V
	next *entry[K, V]
}

type chain[K comparable, V any] struct {
	head *entry[K, V]
}

// NewChainedMap creates a map with numBuckets buckets (rounded up to the
// next power of two) hashing keys with hash.
func NewChainedMap[K comparable, V any](numBuckets int, hash func(K) uint64) *ChainedMap[K, V] {
	n := nextPow2(numBuckets)
	return &ChainedMap[K, V]{
		buckets: make([]chain[K, V], n),
		mask:    uint64(n - 1),
		hash:    hash,
	}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (m *ChainedMap[K, V]) bucketIdx(k K) uint64 {
	return m.hash(k) & m.mask
}

// Get returns the value stored for k, if present.
func (m *ChainedMap[K, V]) Get(k K) (V, bool) {
	for e := m.buckets[m.bucketIdx(k)].head; e != nil; e = e.next {
		if e.key == k {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// GetOrInsert returns the existing value for k, or inserts and returns
// init() if absent. Returns (value, existed).
func (m *ChainedMap[K, V]) GetOrInsert(k K, init func() V) (V, bool) {
	idx := m.bucketIdx(k)
	for e := m.buckets[idx].head; e != nil; e = e.next {
		if e.key == k {
			return e.val, true
		}
	}
	v := init()
	m.buckets[idx].head = &entry[K, V]{key: k, val: v, next: m.buckets[idx].head}
	m.size++
	return v, false
}

// Set overwrites (or inserts) the value for k.
func (m *ChainedMap[K, V]) Set(k K, v V) {
	idx := m.bucketIdx(k)
	for e := m.buckets[idx].head; e != nil; e = e.next {
		if e.key == k {
			e.val = v
			return
		}
	}
	m.buckets[idx].head = &entry[K, V]{key: k, val: v, next: m.buckets[idx].head}
	m.size++
}

// Len returns the number of keys stored.
func (m *ChainedMap[K, V]) Len() int { return m.size }

// ForEach visits every (key, value) pair. Order is unspecified.
func (m *ChainedMap[K, V]) ForEach(fn func(K, V)) {
	for i := range m.buckets {
		for e := m.buckets[i].head; e != nil; e = e.next {
			fn(e.key, e.val)
		}
	}
}

// Merge combines other into m using combine(existing, incoming) for keys
// present in both. Keys only in other are inserted as-is. Used to merge
// per-thread shards at slice-trigger time under the single-writer rule.
func (m *ChainedMap[K, V]) Merge(other *ChainedMap[K, V], combine func(a, b V) V) {
	other.ForEach(func(k K, v V) {
		if existing, ok := m.Get(k); ok {
			m.Set(k, combine(existing, v))
		} else {
			m.Set(k, v)
		}
	})
}

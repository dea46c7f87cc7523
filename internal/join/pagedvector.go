// Package join implements the streaming hash-join build/probe pipeline:
// an append-only paged vector per join key, a bilateral slice store
// holding a build-side chained map per stream, and a state machine driving
// a slice from its first tuple through probing and release.
package join

import "github.com/nebulastream/nebulastream-sub040/internal/buffer"

const defaultEntriesPerPage = 4096

// page is one fixed-capacity, append-only region of entries of a single
// join key's matching records. Grounded on original_source's FixedPage /
// PagedVectorRef: entries are appended sequentially and never individually
// removed; the whole PagedVector is torn down at once on slice release.
type page struct {
	buf        buffer.TupleBuffer
	entrySize  int
	capacity   int
	currentPos int
}

// PagedVector is an append-only, page-chained sequence of fixed-size
// entries, used as the per-key value store on the build side of a hash
// join. Unlike a Go slice it never reallocates and copies existing pages:
// once a page is full a new one is appended and the old one is left in
// place, matching the "no implicit destructor, no realloc" discipline of
// original_source's PagedVector (the paged-vector equivalent of "no copy
// constructor").
type PagedVector struct {
	pool       *buffer.Pool
	entrySize  int
	pages      []*page
	totalCount int
}

// NewPagedVector creates an empty paged vector allocating pages of
// defaultEntriesPerPage*entrySize bytes from pool on demand.
func NewPagedVector(pool *buffer.Pool, entrySize int) *PagedVector {
	return &PagedVector{pool: pool, entrySize: entrySize}
}

// AppendEntry reserves space for one new entry and returns the backing
// bytes for the caller to fill in. The returned slice is valid until the
// PagedVector is destroyed.
func (pv *PagedVector) AppendEntry() ([]byte, error) {
	if len(pv.pages) == 0 || pv.pages[len(pv.pages)-1].currentPos >= pv.pages[len(pv.pages)-1].capacity {
		if err := pv.appendPage(); err != nil {
			return nil, err
		}
	}
	p := pv.pages[len(pv.pages)-1]
	off := p.currentPos * pv.entrySize
	p.currentPos++
	pv.totalCount++
	return p.buf.Bytes()[off : off+pv.entrySize], nil
}

func (pv *PagedVector) appendPage() error {
	capacity := defaultEntriesPerPage
	buf := pv.pool.GetUnpooledBuffer(capacity * pv.entrySize)
	pv.pages = append(pv.pages, &page{buf: buf, entrySize: pv.entrySize, capacity: capacity})
	return nil
}

// Len returns the total number of entries appended so far.
func (pv *PagedVector) Len() int { return pv.totalCount }

// NumberOfPages reports how many pages back this vector.
func (pv *PagedVector) NumberOfPages() int { return len(pv.pages) }

// EntryAt returns the backing bytes for the entry at the given global
// position, 0 <= pos < Len().
func (pv *PagedVector) EntryAt(pos int) []byte {
	pageNo := pos / defaultEntriesPerPage
	offInPage := pos % defaultEntriesPerPage
	p := pv.pages[pageNo]
	off := offInPage * pv.entrySize
	return p.buf.Bytes()[off : off+pv.entrySize]
}

// ForEach visits every entry's bytes in append order.
func (pv *PagedVector) ForEach(fn func(entry []byte)) {
	for _, p := range pv.pages {
		data := p.buf.Bytes()
		for i := 0; i < p.currentPos; i++ {
			off := i * pv.entrySize
			fn(data[off : off+pv.entrySize])
		}
	}
}

// Destroy releases every page's buffer back to the pool. Must be called
// exactly once; there is no implicit destructor, matching
// original_source's explicit PagedVector teardown in the slice cleanup
// function.
func (pv *PagedVector) Destroy() {
	for _, p := range pv.pages {
		p.buf.Release()
	}
	pv.pages = nil
	pv.totalCount = 0
}

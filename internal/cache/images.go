package cache

import (
	"container/list"
)

// ImageTable is the image bytes table with a byte budget. Loaded images are
// evicted oldest-first once the budget is exceeded; Pending and Failed
// entries and pinned keys are never evicted, so eviction cannot lead to a
// second request while one is in flight.
type ImageTable struct {
	*Table[string, []byte]

	budget int64
	loaded int64
	order  *list.List
	elems  map[string]*list.Element
	pinned func(string) bool
}

// NewImageTable creates an image table. A budget of zero disables eviction.
// pinned may be nil.
func NewImageTable(budget int64, pinned func(string) bool) *ImageTable {
	if pinned == nil {
		pinned = func(string) bool { return false }
	}
	return &ImageTable{
		Table:  NewTable[string, []byte](),
		budget: budget,
		order:  list.New(),
		elems:  make(map[string]*list.Element),
		pinned: pinned,
	}
}

// Resolve stores the bytes for uri and evicts old images if the budget is
// exceeded. It returns the evicted keys.
func (t *ImageTable) Resolve(uri string, data []byte) []string {
	t.forget(uri)
	t.Table.Resolve(uri, data)
	t.loaded += int64(len(data))
	t.elems[uri] = t.order.PushBack(uri)
	return t.evict(uri)
}

// BeginFetch marks uri as Pending, dropping any loaded bytes it held
func (t *ImageTable) BeginFetch(uri string) {
	t.forget(uri)
	t.Table.BeginFetch(uri)
}

// Request calls BeginFetch only when uri is Absent
func (t *ImageTable) Request(uri string) bool {
	if t.Observe(uri).State != Absent {
		return false
	}
	t.BeginFetch(uri)
	return true
}

// Release removes uri in any state
func (t *ImageTable) Release(uri string) {
	t.forget(uri)
	t.Table.Release(uri)
}

// LoadedBytes returns the total size of loaded images
func (t *ImageTable) LoadedBytes() int64 {
	return t.loaded
}

func (t *ImageTable) forget(uri string) {
	el, ok := t.elems[uri]
	if !ok {
		return
	}
	t.loaded -= int64(len(t.Observe(uri).Value))
	t.order.Remove(el)
	delete(t.elems, uri)
}

// evict drops the oldest unpinned loaded images until the budget holds. The
// image that was just stored is kept even if it alone exceeds the budget.
func (t *ImageTable) evict(keep string) []string {
	if t.budget <= 0 {
		return nil
	}
	var evicted []string
	for el := t.order.Front(); el != nil && t.loaded > t.budget; {
		next := el.Next()
		uri := el.Value.(string)
		if uri != keep && !t.pinned(uri) {
			t.Release(uri)
			evicted = append(evicted, uri)
		}
		el = next
	}
	return evicted
}

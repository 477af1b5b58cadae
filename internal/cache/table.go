// Package cache holds the UI side's in-memory caches. Every entry is in one
// of the states Absent, Pending, Loaded or Failed; the presence of a key is
// what prevents a second fetch from being issued while one is in flight.
//
// Nothing in this package is safe for concurrent use. All tables are owned by
// the UI loop goroutine, which is also the only writer of Pending entries.
package cache

// State is the lifecycle state of a cache entry
type State int

const (
	// Absent means nothing is known and nothing was requested
	Absent State = iota
	// Pending means a fetch was issued and has not resolved
	Pending
	// Loaded means the value is available
	Loaded
	// Failed means the fetch returned an error
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry is the observed content of one key
type Entry[V any] struct {
	State State
	Value V
	Err   string
}

// Table maps keys to tri-state entries
type Table[K comparable, V any] struct {
	entries map[K]*Entry[V]
}

// NewTable creates an empty table
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{entries: make(map[K]*Entry[V])}
}

// Observe returns the entry for k without side effects. A missing key is
// reported as Absent with a zero value.
func (t *Table[K, V]) Observe(k K) Entry[V] {
	if e, ok := t.entries[k]; ok {
		return *e
	}
	return Entry[V]{State: Absent}
}

// BeginFetch marks k as Pending. Callers check Observe first and must not
// call it for a key that is already Pending.
func (t *Table[K, V]) BeginFetch(k K) {
	t.entries[k] = &Entry[V]{State: Pending}
}

// Request calls BeginFetch only when k is Absent. It returns true when the
// caller has to issue the fetch command.
func (t *Table[K, V]) Request(k K) bool {
	if _, ok := t.entries[k]; ok {
		return false
	}
	t.BeginFetch(k)
	return true
}

// Resolve stores v under k. A key that was released while its fetch was in
// flight is recreated as Loaded.
func (t *Table[K, V]) Resolve(k K, v V) {
	t.entries[k] = &Entry[V]{State: Loaded, Value: v}
}

// Fail moves a Pending entry to Failed. It reports whether the entry changed;
// Absent and Loaded entries are left alone.
func (t *Table[K, V]) Fail(k K, msg string) bool {
	e, ok := t.entries[k]
	if !ok || e.State != Pending {
		return false
	}
	e.State = Failed
	e.Err = msg
	return true
}

// Release removes k in any state
func (t *Table[K, V]) Release(k K) {
	delete(t.entries, k)
}

// Len returns the number of present keys
func (t *Table[K, V]) Len() int {
	return len(t.entries)
}

// Keys returns the present keys in no particular order
func (t *Table[K, V]) Keys() []K {
	keys := make([]K, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// Counts returns the number of entries per state
func (t *Table[K, V]) Counts() map[string]int {
	counts := make(map[string]int, 3)
	for _, e := range t.entries {
		counts[e.State.String()]++
	}
	return counts
}

// Package intern implements a small, refcounted string table: each
// distinct string handed to it is stored once and handed back as a
// one-byte index, 1-255. Callers that repeat the same topic name or
// client ID (a broker's common case) pay the cost of the string once
// instead of once per subscription or retained reference.
package intern

import "sync"

// Index identifies an interned string. Zero is never a valid index;
// it marks "no string" / table exhaustion, mirroring the original
// string table this package is modeled on.
type Index uint8

// Table is a mutex-guarded string table. The zero value is ready to
// use. A Table is safe for concurrent use by multiple goroutines.
type Table struct {
	mu      sync.Mutex
	entries map[Index]entry
}

// Default is the process-wide interner a Broker or ClientSession uses
// unless constructed with an explicit Table. Tests that want isolation
// from global state should build their own Table instead of using this.
var Default = &Table{}

type entry struct {
	str  string
	refs uint32
}

// Intern stores s if it is not already present and returns its index
// with its refcount incremented by one. An empty string always maps
// to index 0. Intern returns ok=false if the table already holds 255
// distinct strings and s is not among them.
func (t *Table) Intern(s string) (idx Index, ok bool) {
	if s == "" {
		return 0, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[Index]entry)
	}

	for i, e := range t.entries {
		if e.str == s {
			e.refs++
			t.entries[i] = e
			return i, true
		}
	}

	for i := Index(1); i != 0; i++ {
		if _, used := t.entries[i]; !used {
			t.entries[i] = entry{str: s, refs: 1}
			return i, true
		}
	}
	return 0, false
}

// Retain increments idx's refcount. It is a no-op for idx 0.
func (t *Table) Retain(idx Index) {
	if idx == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[idx]; ok {
		e.refs++
		t.entries[idx] = e
	}
}

// Release decrements idx's refcount, evicting the string once it
// reaches zero. It is a no-op for idx 0.
func (t *Table) Release(idx Index) {
	if idx == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[idx]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(t.entries, idx)
		return
	}
	t.entries[idx] = e
}

// String returns the string stored at idx, or "" if idx is 0 or no
// longer present.
func (t *Table) String(idx Index) string {
	if idx == 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[idx].str
}

// Len reports how many distinct strings are currently interned.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

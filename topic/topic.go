// Package topic implements MQTT 3.1.1 topic filter matching: the
// single-level `+` wildcard, the trailing multi-level `#` wildcard,
// and the rule that `$`-prefixed topics (used for broker-internal
// status, e.g. `$SYS/...`) never match a wildcard filter that doesn't
// itself start with `$`.
package topic

import (
	"strings"

	"github.com/golang-io/tinymqtt/intern"
)

// Matches reports whether name (a concrete, published topic name) is
// matched by filter (a subscription's topic filter, which may contain
// `+` and a trailing `#`). Both must already be validated as non-empty
// and free of spaces.
func Matches(filter, name string) bool {
	if filter == name {
		return true
	}
	if strings.HasPrefix(name, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	filterLevels := strings.Split(filter, "/")
	nameLevels := strings.Split(name, "/")

	for i, fl := range filterLevels {
		if fl == "#" {
			return true
		}
		if i >= len(nameLevels) {
			return false
		}
		if fl == "+" {
			continue
		}
		if fl != nameLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(nameLevels)
}

// Topic is an interned topic name. Comparing two Topics is an index
// comparison; falling back to Matches is only needed across distinct
// interning tables or against a filter.
type Topic struct {
	idx   intern.Index
	table *intern.Table
	name  string
}

// Intern interns name in table and returns the Topic handle.
func Intern(table *intern.Table, name string) (Topic, bool) {
	idx, ok := table.Intern(name)
	if !ok {
		return Topic{}, false
	}
	return Topic{idx: idx, table: table, name: name}, true
}

// Release drops this Topic's reference on its backing table.
func (t Topic) Release() {
	if t.table != nil {
		t.table.Release(t.idx)
	}
}

// Retain adds a reference on this Topic's backing table.
func (t Topic) Retain() {
	if t.table != nil {
		t.table.Retain(t.idx)
	}
}

// Name returns the topic's string form.
func (t Topic) Name() string {
	return t.name
}

// Equal reports whether t and other name the same topic. Same-table
// Topics compare by interned index; otherwise it falls back to a
// string compare.
func (t Topic) Equal(other Topic) bool {
	if t.table != nil && t.table == other.table {
		return t.idx == other.idx
	}
	return t.name == other.name
}

// MatchesFilter reports whether t is matched by the subscription
// filter string.
func (t Topic) MatchesFilter(filter string) bool {
	return Matches(filter, t.name)
}

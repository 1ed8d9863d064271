package reminder

import (
	"sort"
	"time"
)

// table holds armed reminders keyed by handle.
type table struct {
	entries map[string]Reminder
}

func newTable() *table {
	return &table{entries: make(map[string]Reminder)}
}

func (t *table) add(r Reminder) {
	t.entries[r.Handle] = r
}

// remove reports whether handle was armed.
func (t *table) remove(handle string) bool {
	if _, exists := t.entries[handle]; !exists {
		return false
	}
	delete(t.entries, handle)
	return true
}

// sweep removes and returns the reminders whose fire time is not after now,
// earliest first.
func (t *table) sweep(now time.Time) []Reminder {
	var due []Reminder
	for handle, r := range t.entries {
		if !r.FireAt.After(now) {
			due = append(due, r)
			delete(t.entries, handle)
		}
	}
	sortByFireAt(due)
	return due
}

func (t *table) list() []Reminder {
	out := make([]Reminder, 0, len(t.entries))
	for _, r := range t.entries {
		out = append(out, r)
	}
	sortByFireAt(out)
	return out
}

func sortByFireAt(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].FireAt.Equal(rs[j].FireAt) {
			return rs[i].FireAt.Before(rs[j].FireAt)
		}
		return rs[i].Handle < rs[j].Handle
	})
}

package sync

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Changes classifies the paths that differ between two snapshots.
// Each list is sorted.
type Changes struct {
	Added    []string
	Removed  []string
	Modified []string
}

// HasChanged reports whether any path was added, removed or modified.
func (c Changes) HasChanged() bool {
	return len(c.Added) > 0 || len(c.Removed) > 0 || len(c.Modified) > 0
}

func (c Changes) String() string {
	if !c.HasChanged() {
		return "no changes"
	}
	return fmt.Sprintf("%d added, %d removed, %d modified", len(c.Added), len(c.Removed), len(c.Modified))
}

// Compare classifies every path in the union of both snapshots: present only
// in after is added, only in before is removed, in both with a differing
// mtime is modified.
func Compare(before, after Snapshot) Changes {
	var c Changes
	for _, path := range lo.Union(lo.Keys(before), lo.Keys(after)) {
		b, inBefore := before[path]
		a, inAfter := after[path]
		switch {
		case !inBefore:
			c.Added = append(c.Added, path)
		case !inAfter:
			c.Removed = append(c.Removed, path)
		case b.Mtime != a.Mtime:
			c.Modified = append(c.Modified, path)
		}
	}
	slices.Sort(c.Added)
	slices.Sort(c.Removed)
	slices.Sort(c.Modified)
	return c
}

// HasChanged is shorthand for Compare(before, after).HasChanged().
func HasChanged(before, after Snapshot) bool {
	if len(before) != len(after) {
		return true
	}
	for path, b := range before {
		a, ok := after[path]
		if !ok || a.Mtime != b.Mtime {
			return true
		}
	}
	return false
}

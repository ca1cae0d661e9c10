package routedir

import (
	"fmt"
	"slices"
)

// ChangeSet contains the files found added, modified or removed by a
// single scan. The three sets are disjoint, and their items are sorted.
type ChangeSet struct {
	directory string
	added     []string
	modified  []string
	removed   []string
}

func sortedCopy(s []string) []string {
	c := slices.Clone(s)
	slices.Sort(c)
	return slices.Compact(c)
}

// NewChangeSet creates a change set of the directory.
func NewChangeSet(directory string, added, modified, removed []string) ChangeSet {
	return ChangeSet{
		directory: directory,
		added:     sortedCopy(added),
		modified:  sortedCopy(modified),
		removed:   sortedCopy(removed),
	}
}

// Directory returns the scanned directory.
func (c ChangeSet) Directory() string { return c.directory }

// Added returns the files that were not known before the scan.
func (c ChangeSet) Added() []string { return slices.Clone(c.added) }

// Modified returns the known files with a newer modification time.
func (c ChangeSet) Modified() []string { return slices.Clone(c.modified) }

// Removed returns the known files that were not found by the scan.
func (c ChangeSet) Removed() []string { return slices.Clone(c.removed) }

// Empty tells whether the scan found no changes.
func (c ChangeSet) Empty() bool {
	return len(c.added) == 0 && len(c.modified) == 0 && len(c.removed) == 0
}

func (c ChangeSet) String() string {
	return fmt.Sprintf("%s: added=%v modified=%v removed=%v", c.directory, c.added, c.modified, c.removed)
}

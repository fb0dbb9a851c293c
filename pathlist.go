package lwm2m

// PathList is a sorted, duplicate-collapsing list of Paths, used to back a
// classic Observe (one entry) or an LwM2M 1.1 composite Observe/Fetch/iPATCH
// (one or more entries). Per spec.md §9's design note, intrusive linked
// lists become an owned, index-free slice here rather than a pool of
// arena-linked nodes — this is a single-process, garbage-collected target,
// so the arena indirection the original embedded-C design needs buys
// nothing.
type PathList struct {
	paths []Path
}

// NewPathList builds a PathList from zero or more initial paths.
func NewPathList(paths ...Path) *PathList {
	pl := &PathList{}
	for _, p := range paths {
		pl.Insert(p)
	}
	return pl
}

// Insert adds p in sorted position. If p's prefix (an ancestor path, or p
// itself) is already present, p collapses into the existing shallower
// entry and the list is unchanged. If p is a prefix of existing entries,
// those entries are removed in favour of the shallower p.
func (pl *PathList) Insert(p Path) {
	for _, existing := range pl.paths {
		if p.HasPrefix(existing) {
			return // already covered by a shallower (or equal) entry
		}
	}
	kept := pl.paths[:0]
	for _, existing := range pl.paths {
		if existing.HasPrefix(p) {
			continue // existing is now redundant, p is shallower
		}
		kept = append(kept, existing)
	}
	pl.paths = append(kept, p)
	pl.sort()
}

func (pl *PathList) sort() {
	// insertion sort: O(n^2), which keeps this file dependency-free; no
	// bound on the list length is enforced here.
	for i := 1; i < len(pl.paths); i++ {
		for j := i; j > 0 && pl.paths[j].Less(pl.paths[j-1]); j-- {
			pl.paths[j], pl.paths[j-1] = pl.paths[j-1], pl.paths[j]
		}
	}
}

// Paths returns the sorted, de-duplicated path entries.
func (pl *PathList) Paths() []Path { return pl.paths }

// Len reports the number of entries.
func (pl *PathList) Len() int { return len(pl.paths) }

// Matches reports whether any entry in pl is a prefix of (or equal to) p —
// i.e. whether a change at p is relevant to an observer holding this list.
func (pl *PathList) Matches(p Path) bool {
	for _, entry := range pl.paths {
		if p.HasPrefix(entry) {
			return true
		}
	}
	return false
}

// Equal reports whether two path lists contain the same sorted entries.
func (pl *PathList) Equal(other *PathList) bool {
	if other == nil || len(pl.paths) != len(other.paths) {
		return false
	}
	for i, p := range pl.paths {
		if p != other.paths[i] {
			return false
		}
	}
	return true
}

package lfp

// Collection is a host-owned group of segments, typically one compartment
// section. Segment order within a collection must be stable for the
// lifetime of a tracker.
type Collection interface {
	Name() string
	NumSegments() int
	Geometry(i int) SegmentGeometry
	// CurrentRef resolves a fresh handle to segment i's current in the
	// representation selected by mode.
	CurrentRef(i int, mode Mode) CurrentRef
}

// Site identifies one segment visited by Traverse.
type Site struct {
	Collection      Collection
	CollectionIndex int
	SegmentIndex    int
	// Ordinal is the position of the segment in the whole walk and so the
	// index of its registry entry.
	Ordinal int
}

// Traverse visits every segment of collections in argument order, and
// within a collection in index order. Setup and rebind both walk through
// here so their orders cannot drift apart. It stops at the first error.
func Traverse(collections []Collection, visit func(Site) error) error {
	ordinal := 0
	for ci, c := range collections {
		n := c.NumSegments()
		for si := 0; si < n; si++ {
			if err := visit(Site{Collection: c, CollectionIndex: ci, SegmentIndex: si, Ordinal: ordinal}); err != nil {
				return err
			}
			ordinal++
		}
	}
	return nil
}

// CountSegments returns the number of sites Traverse would visit.
func CountSegments(collections []Collection) int {
	n := 0
	for _, c := range collections {
		n += c.NumSegments()
	}
	return n
}

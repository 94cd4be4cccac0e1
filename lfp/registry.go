package lfp

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFiniteWeight is returned when a NaN or infinite weight is
	// appended to a Registry.
	ErrNonFiniteWeight = errors.New("non-finite source weight")
	// ErrRebindLength is returned when RebindAll receives a reference list
	// whose length differs from the registry.
	ErrRebindLength = errors.New("rebind reference count mismatch")
)

// CurrentRef is a non-owning handle to a live current value kept by the
// host. A handle may go stale when the host relocates its storage.
type CurrentRef interface {
	Read() float64
}

// Validity is implemented by handles that can tell when their backing
// storage has been relocated.
type Validity interface {
	Valid() bool
}

// Bind returns a CurrentRef reading the float64 at p.
func Bind(p *float64) CurrentRef {
	if p == nil {
		return nil
	}
	return ptrRef{p: p}
}

type ptrRef struct {
	p *float64
}

func (r ptrRef) Read() float64 { return *r.p }

// WeightedSource pairs a fixed weight with the current it scales.
type WeightedSource struct {
	Factor float64
	Ref    CurrentRef
}

// Registry is the ordered set of weighted sources of one tracker. Entries
// are appended during setup only; their references may be rebound later.
// Entry order matches the traversal order and is the only link between an
// entry and its segment.
type Registry struct {
	sources    []WeightedSource
	generation uint64
}

// NewRegistry returns an empty registry with room for n sources.
func NewRegistry(n int) *Registry {
	return &Registry{sources: make([]WeightedSource, 0, n)}
}

// Append adds a source at the tail. ref may be nil, in which case the
// entry contributes nothing until rebound.
func (r *Registry) Append(weight float64, ref CurrentRef) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: %v at index %d", ErrNonFiniteWeight, weight, len(r.sources))
	}
	r.sources = append(r.sources, WeightedSource{Factor: weight, Ref: ref})
	return nil
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Generation counts successful RebindAll calls.
func (r *Registry) Generation() uint64 {
	return r.generation
}

// Sources returns a copy of the registry entries.
func (r *Registry) Sources() []WeightedSource {
	out := make([]WeightedSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Sum returns the weighted sum of all bound sources.
func (r *Registry) Sum() float64 {
	total, _ := r.sum()
	return total
}

// sum also reports how many entries were skipped because their handle was
// nil or reported itself stale.
func (r *Registry) sum() (float64, int) {
	var total float64
	skipped := 0
	for _, src := range r.sources {
		if src.Ref == nil {
			skipped++
			continue
		}
		if v, ok := src.Ref.(Validity); ok && !v.Valid() {
			skipped++
			continue
		}
		total += src.Factor * src.Ref.Read()
	}
	return total, skipped
}

// RebindAll replaces the reference of every entry, refs[i] going to entry i.
// refs must come from walking the same collections in the same order used
// at setup; a permuted list silently pairs weights with the wrong currents.
// A length mismatch is rejected without touching any entry.
func (r *Registry) RebindAll(refs []CurrentRef) error {
	if len(refs) != len(r.sources) {
		return fmt.Errorf("%w: got %d, registry holds %d", ErrRebindLength, len(refs), len(r.sources))
	}
	for i := range r.sources {
		r.sources[i].Ref = refs[i]
	}
	r.generation++
	return nil
}

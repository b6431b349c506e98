package resources

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

type arcInner[R any] struct {
	resource R
	hash     metadata.StructuralHash
	refs     atomic.Int64
	drops    *containers.Channel[*arcInner[R]]
}

// tryAcquire takes a reference unless the count already reached zero, in
// which case the resource is on its way to the destruction sink.
func (i *arcInner[R]) tryAcquire() bool {
	for {
		n := i.refs.Load()
		if n <= 0 {
			return false
		}
		if i.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// ResourceArc is one counted reference to a cached native resource. Every
// Clone must be paired with exactly one Release. When the last reference is
// released the resource is sent to its cache, which retires it into the
// deferred destruction sink instead of destroying it inline.
type ResourceArc[R any] struct {
	inner    *arcInner[R]
	released atomic.Bool
}

func newResourceArc[R any](resource R, hash metadata.StructuralHash, drops *containers.Channel[*arcInner[R]]) *ResourceArc[R] {
	inner := &arcInner[R]{
		resource: resource,
		hash:     hash,
		drops:    drops,
	}
	inner.refs.Store(1)
	return &ResourceArc[R]{inner: inner}
}

func (a *ResourceArc[R]) Get() R {
	return a.inner.resource
}

func (a *ResourceArc[R]) Hash() metadata.StructuralHash {
	return a.inner.hash
}

// RefCount is a snapshot of the shared count, for diagnostics and tests.
func (a *ResourceArc[R]) RefCount() int64 {
	return a.inner.refs.Load()
}

// SameResource reports whether both references point at the same native object.
func (a *ResourceArc[R]) SameResource(other *ResourceArc[R]) bool {
	return other != nil && a.inner == other.inner
}

func (a *ResourceArc[R]) Clone() *ResourceArc[R] {
	if a.released.Load() {
		panic(errors.AssertionFailedf("clone of a released resource reference (hash %x)", a.inner.hash))
	}
	a.inner.refs.Add(1)
	return &ResourceArc[R]{inner: a.inner}
}

func (a *ResourceArc[R]) Release() {
	if !a.released.CompareAndSwap(false, true) {
		core.ContractViolation("resource reference %x released twice", a.inner.hash)
		return
	}
	if a.inner.refs.Add(-1) == 0 {
		a.inner.drops.Send(a.inner)
	}
}

// ReleaseAll releases every non-nil reference in arcs.
func ReleaseAll[R any](arcs []*ResourceArc[R]) {
	for _, a := range arcs {
		if a != nil {
			a.Release()
		}
	}
}

// CloneAll clones every reference in arcs.
func CloneAll[R any](arcs []*ResourceArc[R]) []*ResourceArc[R] {
	out := make([]*ResourceArc[R], len(arcs))
	for i, a := range arcs {
		out[i] = a.Clone()
	}
	return out
}

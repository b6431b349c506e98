package assets

import (
	"slices"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// assetState holds the version in use (committed) and the version loaded
// but not yet switched to (uncommitted). At least one is set.
type assetState[T any] struct {
	committed   *T
	uncommitted *T
}

// AssetLookup tracks the loaded state of every asset of one kind. release is
// called on every value that is replaced or freed.
type AssetLookup[T any] struct {
	kind    AssetKind
	assets  map[LoadHandle]*assetState[T]
	release func(*T)
}

func NewAssetLookup[T any](kind AssetKind, release func(*T)) *AssetLookup[T] {
	if release == nil {
		release = func(*T) {}
	}
	return &AssetLookup[T]{
		kind:    kind,
		assets:  make(map[LoadHandle]*assetState[T]),
		release: release,
	}
}

func (l *AssetLookup[T]) Kind() AssetKind {
	return l.kind
}

// SetUncommitted stores v as the pending version of h. A pending version that
// was never committed is released.
func (l *AssetLookup[T]) SetUncommitted(h LoadHandle, v *T) {
	state, ok := l.assets[h]
	if !ok {
		state = &assetState[T]{}
		l.assets[h] = state
	}
	if state.uncommitted != nil {
		l.release(state.uncommitted)
	}
	state.uncommitted = v
}

// Commit makes the pending version of h the one in use.
func (l *AssetLookup[T]) Commit(h LoadHandle) {
	state, ok := l.assets[h]
	if !ok || state.uncommitted == nil {
		core.ContractViolation("commit of %s %s without an uncommitted version", l.kind, h)
		return
	}
	if state.committed != nil {
		l.release(state.committed)
	}
	state.committed = state.uncommitted
	state.uncommitted = nil
}

// Free forgets h and releases both of its versions.
func (l *AssetLookup[T]) Free(h LoadHandle) {
	state, ok := l.assets[h]
	if !ok {
		core.ContractViolation("free of unknown %s %s", l.kind, h)
		return
	}
	delete(l.assets, h)
	if state.committed != nil {
		l.release(state.committed)
	}
	if state.uncommitted != nil {
		l.release(state.uncommitted)
	}
}

// GetLatest prefers the uncommitted version so that dependents loaded in the
// same batch see it.
func (l *AssetLookup[T]) GetLatest(h LoadHandle) (*T, bool) {
	state, ok := l.assets[h]
	if !ok {
		return nil, false
	}
	if state.uncommitted != nil {
		return state.uncommitted, true
	}
	return state.committed, state.committed != nil
}

func (l *AssetLookup[T]) GetCommitted(h LoadHandle) (*T, bool) {
	state, ok := l.assets[h]
	if !ok || state.committed == nil {
		return nil, false
	}
	return state.committed, true
}

func (l *AssetLookup[T]) Len() int {
	return len(l.assets)
}

// Each calls fn for every committed and uncommitted value, ordered by handle.
func (l *AssetLookup[T]) Each(fn func(h LoadHandle, v *T)) {
	handles := make([]LoadHandle, 0, len(l.assets))
	for h := range l.assets {
		handles = append(handles, h)
	}
	slices.SortFunc(handles, compareHandles)
	for _, h := range handles {
		state := l.assets[h]
		if state.committed != nil {
			fn(h, state.committed)
		}
		if state.uncommitted != nil {
			fn(h, state.uncommitted)
		}
	}
}

// Destroy frees everything.
func (l *AssetLookup[T]) Destroy() {
	l.Each(func(_ LoadHandle, v *T) {
		l.release(v)
	})
	l.assets = make(map[LoadHandle]*assetState[T])
}

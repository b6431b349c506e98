package resources

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

/** @brief Counters reported by one resource cache. */
type CacheMetrics struct {
	Kind             metadata.ResourceKind
	Count            int
	CreatedLastFrame int
	PendingDestroy   int
}

type cacheEntry[R any] struct {
	inner *arcInner[R]
	// canonical encoding of the description, nil for inserted resources
	encoding []byte
}

// ResourceCache deduplicates native objects of one kind by the structural
// hash of their description. Entries are weak: the cache never holds a
// reference of its own, so an object lives exactly as long as some caller
// keeps a ResourceArc to it (plus the in-flight frames after that).
type ResourceCache[R any] struct {
	kind    metadata.ResourceKind
	entries map[metadata.StructuralHash]*cacheEntry[R]
	drops   *containers.Channel[*arcInner[R]]
	sink    *DestructionSink[R]

	nextUniqueKey    uint64
	createdThisFrame int
	createdLastFrame int
}

func NewResourceCache[R any](kind metadata.ResourceKind, maxFramesInFlight uint32, destroy func(R) error) *ResourceCache[R] {
	return &ResourceCache[R]{
		kind:    kind,
		entries: make(map[metadata.StructuralHash]*cacheEntry[R]),
		drops:   containers.NewChannel[*arcInner[R]](),
		sink:    NewDestructionSink(kind, maxFramesInFlight, destroy),
	}
}

func (c *ResourceCache[R]) Kind() metadata.ResourceKind {
	return c.kind
}

// Get returns a new reference to the live resource described by desc, if any.
func (c *ResourceCache[R]) Get(desc metadata.Hashable) (*ResourceArc[R], bool) {
	hash, encoding := metadata.HashOf(desc)
	return c.acquire(hash, encoding)
}

// GetOrCreate returns a reference to the resource described by desc, calling
// create on a miss. create runs at most once per call and never while a live
// equal resource exists.
func (c *ResourceCache[R]) GetOrCreate(desc metadata.Hashable, create func() (R, error)) (*ResourceArc[R], error) {
	hash, encoding := metadata.HashOf(desc)
	if arc, ok := c.acquire(hash, encoding); ok {
		return arc, nil
	}

	resource, err := create()
	if err != nil {
		return nil, core.NewResourceCreationFailed(c.kind.String(), desc, err)
	}
	core.LogDebug("created %s %016x", c.kind, uint64(hash))

	arc := newResourceArc(resource, hash, c.drops)
	c.entries[hash] = &cacheEntry[R]{
		inner:    arc.inner,
		encoding: bytes.Clone(encoding),
	}
	c.createdThisFrame++
	return arc, nil
}

// Insert registers a resource that has no shareable description (images,
// buffers). Every call yields a distinct entry.
func (c *ResourceCache[R]) Insert(resource R) *ResourceArc[R] {
	c.nextUniqueKey++
	hash := metadata.StructuralHash(c.nextUniqueKey)
	arc := newResourceArc(resource, hash, c.drops)
	c.entries[hash] = &cacheEntry[R]{inner: arc.inner}
	c.createdThisFrame++
	return arc
}

func (c *ResourceCache[R]) acquire(hash metadata.StructuralHash, encoding []byte) (*ResourceArc[R], bool) {
	entry, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	if entry.encoding != nil && !bytes.Equal(entry.encoding, encoding) {
		panic(errors.AssertionFailedf("structural hash collision in %s cache at %016x", c.kind, uint64(hash)))
	}
	// A zero count means the last reference was dropped this frame; the old
	// object is already headed for the sink, so the caller gets a fresh one.
	if !entry.inner.tryAcquire() {
		return nil, false
	}
	return &ResourceArc[R]{inner: entry.inner}, true
}

func (c *ResourceCache[R]) handleDropped() {
	for _, inner := range c.drops.Drain() {
		// The entry may already point at a replacement created after the drop.
		if entry, ok := c.entries[inner.hash]; ok && entry.inner == inner {
			delete(c.entries, inner.hash)
		}
		c.sink.Retire(inner.resource)
	}
}

// Update retires everything dropped since the last call and advances the
// destruction sink by one frame. Call once per completed frame.
func (c *ResourceCache[R]) Update() {
	c.handleDropped()
	c.sink.OnFrameComplete()
	c.createdLastFrame = c.createdThisFrame
	c.createdThisFrame = 0
}

func (c *ResourceCache[R]) Len() int {
	return len(c.entries)
}

func (c *ResourceCache[R]) Metrics() CacheMetrics {
	return CacheMetrics{
		Kind:             c.kind,
		Count:            len(c.entries),
		CreatedLastFrame: c.createdLastFrame,
		PendingDestroy:   c.sink.Len(),
	}
}

// Destroy flushes the sink immediately and returns how many resources are
// still referenced. Those are leaked. The device must be idle.
func (c *ResourceCache[R]) Destroy() int {
	c.handleDropped()
	c.sink.Destroy()
	if n := len(c.entries); n > 0 {
		core.LogWarn("%s count is %d at shutdown, resources will leak", c.kind, n)
		return n
	}
	return 0
}

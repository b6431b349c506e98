package descriptors

import (
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

type PoolMetrics struct {
	Hash           metadata.StructuralHash
	AllocatedCount int
	ChunkCount     int
}

// DescriptorSetPoolManager owns one DescriptorSetPool per descriptor set
// layout and the frame in flight index they all share.
type DescriptorSetPoolManager struct {
	lookup *resources.ResourceLookupSet
	cfg    PoolConfig
	pools  map[metadata.StructuralHash]*DescriptorSetPool
	frame  FrameInFlightIndex

	// Flush already ran for frame
	flushed bool
}

func NewDescriptorSetPoolManager(lookup *resources.ResourceLookupSet, cfg PoolConfig) *DescriptorSetPoolManager {
	return &DescriptorSetPoolManager{
		lookup: lookup,
		cfg:    cfg,
		pools:  make(map[metadata.StructuralHash]*DescriptorSetPool),
	}
}

func (m *DescriptorSetPoolManager) CurrentFrame() FrameInFlightIndex {
	return m.frame
}

func (m *DescriptorSetPoolManager) pool(layoutDesc *metadata.DescriptorSetLayoutDescription, layout *resources.ResourceArc[*resources.DescriptorSetLayoutResource]) *DescriptorSetPool {
	hash, _ := metadata.HashOf(layoutDesc)
	p, ok := m.pools[hash]
	if !ok {
		p = NewDescriptorSetPool(m.lookup, layoutDesc, layout.Clone(), m.cfg)
		p.frame = m.frame
		p.flushed = m.flushed
		m.pools[hash] = p
	}
	return p
}

// Insert allocates a descriptor set of the given layout. layout is borrowed;
// ownership of writeSet passes to the pool.
func (m *DescriptorSetPoolManager) Insert(
	layoutDesc *metadata.DescriptorSetLayoutDescription,
	layout *resources.ResourceArc[*resources.DescriptorSetLayoutResource],
	writeSet *WriteSet,
) (*DescriptorSetArc, error) {
	return m.pool(layoutDesc, layout).Insert(writeSet)
}

// CreateDynDescriptorSet allocates a set that starts out empty and can be
// edited after creation.
func (m *DescriptorSetPoolManager) CreateDynDescriptorSet(
	layoutDesc *metadata.DescriptorSetLayoutDescription,
	layout *resources.ResourceArc[*resources.DescriptorSetLayoutResource],
) (*DynDescriptorSet, error) {
	return m.CreateDynDescriptorSetFrom(layoutDesc, layout, CreateUninitializedWriteSetForLayout(layoutDesc))
}

// CreateDynDescriptorSetFrom is CreateDynDescriptorSet with initial content.
// Ownership of writeSet passes to the dynamic set.
func (m *DescriptorSetPoolManager) CreateDynDescriptorSetFrom(
	layoutDesc *metadata.DescriptorSetLayoutDescription,
	layout *resources.ResourceArc[*resources.DescriptorSetLayoutResource],
	writeSet *WriteSet,
) (*DynDescriptorSet, error) {
	p := m.pool(layoutDesc, layout)
	set, err := p.Insert(writeSet.Clone())
	if err != nil {
		writeSet.Release()
		return nil, err
	}
	return newDynDescriptorSet(set, layoutDesc, writeSet, p.writes), nil
}

// DescriptorSet resolves a set to its native handle for the current frame.
func (m *DescriptorSetPoolManager) DescriptorSet(set *DescriptorSetArc) renderer.DescriptorSetHandle {
	return set.DescriptorSet(m.frame)
}

// Flush applies every pending write to the current frame's copies. Call once
// per frame before recording.
func (m *DescriptorSetPoolManager) Flush() {
	m.flushed = true
	for _, hash := range containers.SortedKeys(m.pools) {
		p := m.pools[hash]
		p.scheduleWrites()
		p.Update(m.frame)
	}
}

// OnFrameComplete advances the frame in flight index and recycles dropped sets.
func (m *DescriptorSetPoolManager) OnFrameComplete() {
	m.frame = (m.frame + 1) % FrameInFlightIndex(m.cfg.MaxFramesInFlight+1)
	m.flushed = false
	for _, hash := range containers.SortedKeys(m.pools) {
		m.pools[hash].onFrameComplete(m.frame)
	}
}

// Metrics lists every pool ordered by layout hash.
func (m *DescriptorSetPoolManager) Metrics() []PoolMetrics {
	out := make([]PoolMetrics, 0, len(m.pools))
	for _, hash := range containers.SortedKeys(m.pools) {
		p := m.pools[hash]
		out = append(out, PoolMetrics{
			Hash:           hash,
			AllocatedCount: p.AllocatedCount(),
			ChunkCount:     p.ChunkCount(),
		})
	}
	return out
}

func (m *DescriptorSetPoolManager) Destroy() {
	for _, hash := range containers.SortedKeys(m.pools) {
		m.pools[hash].Destroy()
	}
	m.pools = make(map[metadata.StructuralHash]*DescriptorSetPool)
}

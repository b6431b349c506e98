package descriptors

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

type PoolConfig struct {
	MaxFramesInFlight     uint32
	MaxDescriptorsPerPool uint32
	MaxPoolsPerLayout     uint32
}

// setWrite is a write set scheduled from outside Insert. It holds a reference
// to the set so the slot cannot be recycled before the write is scheduled.
type setWrite struct {
	set      *DescriptorSetArc
	writeSet *WriteSet
}

// DescriptorSetPool allocates descriptor sets of one layout. Sets live in
// chunks of MaxDescriptorsPerPool; each set exists once per frame in flight
// plus one so the copy the CPU writes is never one the GPU reads.
type DescriptorSetPool struct {
	lookup     *resources.ResourceLookupSet
	layoutHash metadata.StructuralHash
	layoutDesc *metadata.DescriptorSetLayoutDescription
	layout     *resources.ResourceArc[*resources.DescriptorSetLayoutResource]

	slab      *containers.RawSlab
	drops     *containers.Channel[containers.RawSlabKey]
	writes    *containers.Channel[*setWrite]
	allocator *PoolAllocator

	bufferInfos  []internalBufferInfo
	chunks       []*poolChunk
	setsPerChunk uint32
	frameCount   uint32

	frame   FrameInFlightIndex
	flushed bool
}

// NewDescriptorSetPool takes ownership of layout.
func NewDescriptorSetPool(
	lookup *resources.ResourceLookupSet,
	layoutDesc *metadata.DescriptorSetLayoutDescription,
	layout *resources.ResourceArc[*resources.DescriptorSetLayoutResource],
	cfg PoolConfig,
) *DescriptorSetPool {
	setsPerChunk := cfg.MaxDescriptorsPerPool
	if setsPerChunk == 0 {
		setsPerChunk = core.DefaultMaxDescriptorsPerPool
	}
	frameCount := cfg.MaxFramesInFlight + 1

	counts := make(map[metadata.DescriptorType]uint32)
	var bufferInfos []internalBufferInfo
	for _, b := range layoutDesc.Bindings {
		counts[b.DescriptorType] += b.Count() * setsPerChunk * frameCount
		if b.InternalBufferPerDescriptorSize == 0 {
			continue
		}
		if b.DescriptorType != metadata.DescriptorTypeUniformBuffer {
			core.LogWarn("binding %d: internal buffers are only supported for uniform buffers, not %s", b.Binding, b.DescriptorType)
			continue
		}
		bufferInfos = append(bufferInfos, internalBufferInfo{
			binding:        b.Binding,
			descriptorType: b.DescriptorType,
			size:           b.InternalBufferPerDescriptorSize,
			stride:         uint32(metadata.Align(uint64(b.InternalBufferPerDescriptorSize), uniformBufferAlignment)),
		})
	}
	sizes := make([]renderer.DescriptorPoolSize, 0, len(counts))
	for _, t := range containers.SortedKeys(counts) {
		sizes = append(sizes, renderer.DescriptorPoolSize{Type: t, Count: counts[t]})
	}

	hash, _ := metadata.HashOf(layoutDesc)
	return &DescriptorSetPool{
		lookup:       lookup,
		layoutHash:   hash,
		layoutDesc:   layoutDesc,
		layout:       layout,
		slab:         containers.NewRawSlab(int(setsPerChunk)),
		drops:        containers.NewChannel[containers.RawSlabKey](),
		writes:       containers.NewChannel[*setWrite](),
		allocator:    NewPoolAllocator(lookup.Backend(), cfg.MaxFramesInFlight, cfg.MaxPoolsPerLayout, setsPerChunk*frameCount, sizes),
		bufferInfos:  bufferInfos,
		setsPerChunk: setsPerChunk,
		frameCount:   frameCount,
	}
}

func (p *DescriptorSetPool) LayoutHash() metadata.StructuralHash {
	return p.layoutHash
}

func (p *DescriptorSetPool) Layout() *metadata.DescriptorSetLayoutDescription {
	return p.layoutDesc
}

// nextFlushFrame is the first frame copy that will see a write scheduled now.
func (p *DescriptorSetPool) nextFlushFrame() FrameInFlightIndex {
	if p.flushed {
		return (p.frame + 1) % FrameInFlightIndex(p.frameCount)
	}
	return p.frame
}

// liveUntil is the last frame copy a write scheduled now must reach.
func (p *DescriptorSetPool) liveUntil() FrameInFlightIndex {
	n := FrameInFlightIndex(p.frameCount)
	return (p.nextFlushFrame() + n - 1) % n
}

// Insert allocates a set and schedules writeSet for all of its frame copies.
// The pool takes ownership of writeSet, also on failure.
func (p *DescriptorSetPool) Insert(writeSet *WriteSet) (*DescriptorSetArc, error) {
	writeSet.conform(p.layoutDesc)

	key := p.slab.Allocate()
	chunkIndex := int(uint32(key) / p.setsPerChunk)
	for chunkIndex >= len(p.chunks) {
		chunk, err := newPoolChunk(p.lookup, p.allocator, p.layout.Get().Handle, p.bufferInfos, p.setsPerChunk, p.frameCount)
		if err != nil {
			p.slab.Free(key)
			writeSet.Release()
			if !errors.Is(err, core.ErrPoolExhausted) {
				err = errors.Mark(err, core.ErrPoolExhausted)
			}
			return nil, errors.Wrapf(err, "growing descriptor pool %016x to %d chunks", uint64(p.layoutHash), len(p.chunks)+1)
		}
		p.chunks = append(p.chunks, chunk)
		core.LogDebug("descriptor pool %016x grew to %d chunks", uint64(p.layoutHash), len(p.chunks))
	}

	slot := uint32(key) % p.setsPerChunk
	perFrame := p.chunks[chunkIndex].schedule(key, slot, writeSet, p.liveUntil())
	return newDescriptorSetArc(key, p.layoutHash, perFrame, p.drops), nil
}

// scheduleWrites moves writes sent by dynamic sets into their chunks.
func (p *DescriptorSetPool) scheduleWrites() {
	for _, w := range p.writes.Drain() {
		w.writeSet.conform(p.layoutDesc)
		key := w.set.SlabKey()
		chunk := p.chunks[uint32(key)/p.setsPerChunk]
		chunk.schedule(key, uint32(key)%p.setsPerChunk, w.writeSet, p.liveUntil())
		w.set.Release()
	}
}

func (p *DescriptorSetPool) handleDropped() {
	for _, key := range p.drops.Drain() {
		p.chunks[uint32(key)/p.setsPerChunk].removeSet(key)
		p.slab.Free(key)
	}
}

// Update applies pending writes to the given frame copy of every chunk.
func (p *DescriptorSetPool) Update(frame FrameInFlightIndex) {
	p.frame = frame
	p.flushed = true
	for i, chunk := range p.chunks {
		if err := chunk.update(p.lookup.Backend(), frame, p.setsPerChunk); err != nil {
			core.LogError("descriptor pool %016x chunk %d: %s", uint64(p.layoutHash), i, err.Error())
		}
	}
}

// onFrameComplete makes frame the copy the next Update writes.
func (p *DescriptorSetPool) onFrameComplete(frame FrameInFlightIndex) {
	p.frame = frame
	p.flushed = false
	p.scheduleWrites()
	p.handleDropped()
	p.allocator.Update()
}

func (p *DescriptorSetPool) AllocatedCount() int {
	return p.slab.Count()
}

func (p *DescriptorSetPool) ChunkCount() int {
	return len(p.chunks)
}

// Destroy retires every chunk and releases the layout. Sets still referenced
// become dangling. The device must be idle.
func (p *DescriptorSetPool) Destroy() {
	for _, w := range p.writes.Drain() {
		w.writeSet.Release()
		w.set.Release()
	}
	p.drops.Drain()
	if n := p.slab.Count(); n > 0 {
		core.LogWarn("descriptor pool %016x destroyed with %d sets still allocated", uint64(p.layoutHash), n)
	}
	for _, chunk := range p.chunks {
		chunk.destroy(p.allocator)
	}
	p.chunks = nil
	p.allocator.Destroy()
	p.layout.Release()
}

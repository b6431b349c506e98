package descriptors

import (
	"cmp"
	"slices"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-gpu/engine/resources"
)

// Offsets into internal uniform buffers are aligned to the largest
// minUniformBufferOffsetAlignment any device reports.
const uniformBufferAlignment = 256

type internalBufferInfo struct {
	binding        uint32
	descriptorType metadata.DescriptorType
	size           uint32
	stride         uint32
}

type pendingWrite struct {
	slabKey        containers.RawSlabKey
	writeSet       *WriteSet
	liveUntilFrame FrameInFlightIndex
}

type elementKey struct {
	slabKey containers.RawSlabKey
	binding uint32
}

type poolChunk struct {
	pool renderer.DescriptorPoolHandle
	// [frame][slot]
	sets    [][]renderer.DescriptorSetHandle
	buffers map[uint32]*chunkBuffer

	pending []*pendingWrite
	// last fully applied element per set and binding, keeps what the sets
	// reference alive
	applied map[elementKey]*ElementWrite
}

type chunkBuffer struct {
	info internalBufferInfo
	// one per frame copy
	frames []*resources.ResourceArc[*resources.BufferResource]
}

func newPoolChunk(
	lookup *resources.ResourceLookupSet,
	allocator *PoolAllocator,
	layout renderer.DescriptorSetLayoutHandle,
	bufferInfos []internalBufferInfo,
	setsPerChunk uint32,
	frameCount uint32,
) (*poolChunk, error) {
	backend := lookup.Backend()
	pool, err := allocator.Allocate()
	if err != nil {
		return nil, err
	}

	c := &poolChunk{
		pool:    pool,
		sets:    make([][]renderer.DescriptorSetHandle, 0, frameCount),
		buffers: make(map[uint32]*chunkBuffer, len(bufferInfos)),
		applied: make(map[elementKey]*ElementWrite),
	}
	for i := uint32(0); i < frameCount; i++ {
		sets, err := backend.AllocateDescriptorSets(pool, layout, setsPerChunk)
		if err != nil {
			c.destroy(allocator)
			return nil, err
		}
		c.sets = append(c.sets, sets)
	}

	var writes []renderer.DescriptorWrite
	for _, info := range bufferInfos {
		cb := &chunkBuffer{info: info}
		c.buffers[info.binding] = cb
		for frame := uint32(0); frame < frameCount; frame++ {
			buf, err := lookup.CreateBuffer(metadata.BufferDescription{
				Size:        uint64(info.stride) * uint64(setsPerChunk),
				Usage:       metadata.BufferUsageUniform,
				MemoryUsage: metadata.MemoryUsageCPUToGPU,
			}, nil)
			if err != nil {
				c.destroy(allocator)
				return nil, err
			}
			cb.frames = append(cb.frames, buf)

			for slot, set := range c.sets[frame] {
				writes = append(writes, renderer.DescriptorWrite{
					Set:            set,
					Binding:        info.binding,
					DescriptorType: info.descriptorType,
					Buffers: []renderer.DescriptorBufferInfo{{
						Buffer: buf.Get().Handle,
						Offset: uint64(slot) * uint64(info.stride),
						Range:  uint64(info.size),
					}},
				})
			}
		}
	}
	if len(writes) > 0 {
		if err := backend.UpdateDescriptorSets(writes); err != nil {
			c.destroy(allocator)
			return nil, err
		}
	}
	return c, nil
}

// schedule queues writeSet for every frame copy of the set at slot and
// returns the native sets of that slot.
func (c *poolChunk) schedule(key containers.RawSlabKey, slot uint32, writeSet *WriteSet, liveUntil FrameInFlightIndex) []renderer.DescriptorSetHandle {
	c.pending = append(c.pending, &pendingWrite{
		slabKey:        key,
		writeSet:       writeSet,
		liveUntilFrame: liveUntil,
	})
	perFrame := make([]renderer.DescriptorSetHandle, len(c.sets))
	for frame := range c.sets {
		perFrame[frame] = c.sets[frame][slot]
	}
	return perFrame
}

// update applies every pending write to the given frame copy in one batch,
// then retires the writes that have now reached every copy.
func (c *poolChunk) update(backend renderer.Backend, frame FrameInFlightIndex, setsPerChunk uint32) error {
	// Last write wins per set and binding.
	latest := make(map[elementKey]*ElementWrite)
	for _, p := range c.pending {
		for binding, e := range p.writeSet.Elements {
			latest[elementKey{slabKey: p.slabKey, binding: binding}] = e
		}
	}

	keys := make([]elementKey, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sortElementKeys(keys)

	var writes []renderer.DescriptorWrite
	var err error
	for _, k := range keys {
		e := latest[k]
		slot := uint32(k.slabKey) % setsPerChunk
		set := c.sets[frame][slot]

		if w, ok := imageWrite(set, k.binding, e); ok {
			writes = append(writes, w)
		}
		if w, ok := bufferWrite(set, k.binding, e); ok {
			writes = append(writes, w)
		}
		if len(e.BufferData) > 0 {
			if werr := c.writeBufferData(backend, frame, slot, k.binding, e.BufferData); werr != nil {
				err = werr
			}
		}
	}

	if len(writes) > 0 {
		if uerr := backend.UpdateDescriptorSets(writes); uerr != nil {
			err = uerr
		}
	}

	// Every copy up to and including this frame has the write now.
	drained := 0
	for _, p := range c.pending {
		if p.liveUntilFrame != frame {
			break
		}
		c.retirePending(p)
		drained++
	}
	c.pending = c.pending[drained:]
	return err
}

func (c *poolChunk) retirePending(p *pendingWrite) {
	for binding, e := range p.writeSet.Elements {
		k := elementKey{slabKey: p.slabKey, binding: binding}
		if prev, ok := c.applied[k]; ok {
			prev.release()
		}
		c.applied[k] = e
	}
	p.writeSet.Elements = nil
}

func (c *poolChunk) writeBufferData(backend renderer.Backend, frame FrameInFlightIndex, slot, binding uint32, data [][]byte) error {
	cb, ok := c.buffers[binding]
	if !ok {
		core.LogWarn("buffer data for binding %d which has no internal buffer", binding)
		return nil
	}
	if len(data) > 1 {
		core.LogWarn("binding %d: only array element 0 of an internal buffer is written", binding)
	}
	bytes := data[0]
	if bytes == nil {
		return nil
	}
	if uint32(len(bytes)) > cb.info.size {
		core.LogError("wrote %d bytes to binding %d which holds %d bytes, skipping", len(bytes), binding, cb.info.size)
		return nil
	}
	if uint32(len(bytes)) != cb.info.size {
		core.LogWarn("wrote %d bytes to binding %d which holds %d bytes", len(bytes), binding, cb.info.size)
	}
	buf := cb.frames[frame].Get().Handle
	return backend.WriteBuffer(buf, uint64(slot)*uint64(cb.info.stride), bytes)
}

func imageWrite(set renderer.DescriptorSetHandle, binding uint32, e *ElementWrite) (renderer.DescriptorWrite, bool) {
	what := WhatToBind(e.DescriptorType, e.HasImmutableSampler)
	if !what.Image && !what.Sampler {
		return renderer.DescriptorWrite{}, false
	}

	infos := make([]renderer.DescriptorImageInfo, 0, len(e.Images))
	for _, img := range e.Images {
		if (what.Image && img.ImageView == nil) || (what.Sampler && img.Sampler == nil) {
			// Arrays are written as a prefix of assigned elements.
			break
		}
		info := renderer.DescriptorImageInfo{ImageLayout: metadata.ImageLayoutShaderReadOnlyOptimal}
		if what.Image {
			info.ImageView = img.ImageView.Get().Handle
		}
		if what.Sampler {
			info.Sampler = img.Sampler.Get().Handle
		}
		infos = append(infos, info)
	}
	// Nothing assigned yet; the set stays unwritten until something is.
	if len(infos) == 0 {
		return renderer.DescriptorWrite{}, false
	}
	return renderer.DescriptorWrite{
		Set:            set,
		Binding:        binding,
		DescriptorType: e.DescriptorType,
		Images:         infos,
	}, true
}

func bufferWrite(set renderer.DescriptorSetHandle, binding uint32, e *ElementWrite) (renderer.DescriptorWrite, bool) {
	if !WhatToBind(e.DescriptorType, e.HasImmutableSampler).Buffer {
		return renderer.DescriptorWrite{}, false
	}
	infos := make([]renderer.DescriptorBufferInfo, 0, len(e.Buffers))
	for _, b := range e.Buffers {
		if b.Buffer == nil {
			break
		}
		r := b.Range
		if r == 0 {
			r = b.Buffer.Get().Description.Size - b.Offset
		}
		infos = append(infos, renderer.DescriptorBufferInfo{
			Buffer: b.Buffer.Get().Handle,
			Offset: b.Offset,
			Range:  r,
		})
	}
	if len(infos) == 0 {
		return renderer.DescriptorWrite{}, false
	}
	return renderer.DescriptorWrite{
		Set:            set,
		Binding:        binding,
		DescriptorType: e.DescriptorType,
		Buffers:        infos,
	}, true
}

// removeSet forgets everything scheduled or applied for key.
func (c *poolChunk) removeSet(key containers.RawSlabKey) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.slabKey == key {
			p.writeSet.Release()
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = kept

	for k, e := range c.applied {
		if k.slabKey == key {
			e.release()
			delete(c.applied, k)
		}
	}
}

func (c *poolChunk) destroy(allocator *PoolAllocator) {
	for _, p := range c.pending {
		p.writeSet.Release()
	}
	c.pending = nil
	for k, e := range c.applied {
		e.release()
		delete(c.applied, k)
	}
	for _, cb := range c.buffers {
		resources.ReleaseAll(cb.frames)
	}
	c.buffers = nil
	allocator.Retire(c.pool)
}

func sortElementKeys(keys []elementKey) {
	slices.SortFunc(keys, func(a, b elementKey) int {
		if c := cmp.Compare(a.slabKey, b.slabKey); c != 0 {
			return c
		}
		return cmp.Compare(a.binding, b.binding)
	})
}

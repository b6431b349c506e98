// Package null implements a headless backend. It issues handles from
// in-memory tables, validates lifetimes and records the calls it receives, so
// the resource machinery can run without a device (tests, asset validation).
package null

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/metadata"
)

var ErrInjected = errors.New("injected failure")

type descriptorPool struct {
	maxSets uint32
	sets    []uint64
}

var _ renderer.Backend = (*Backend)(nil)

type Backend struct {
	mu sync.Mutex

	nextHandle uint64
	live       map[metadata.ResourceKind]map[uint64]struct{}
	created    map[metadata.ResourceKind]int
	destroyed  map[metadata.ResourceKind]int
	failures   map[metadata.ResourceKind][]error

	pools   map[uint64]*descriptorPool
	sets    map[uint64]uint64
	buffers map[uint64][]byte

	updates [][]renderer.DescriptorWrite
}

func NewBackend() *Backend {
	return &Backend{
		live:      make(map[metadata.ResourceKind]map[uint64]struct{}),
		created:   make(map[metadata.ResourceKind]int),
		destroyed: make(map[metadata.ResourceKind]int),
		failures:  make(map[metadata.ResourceKind][]error),
		pools:     make(map[uint64]*descriptorPool),
		sets:      make(map[uint64]uint64),
		buffers:   make(map[uint64][]byte),
	}
}

func (b *Backend) Name() string {
	return "null"
}

// FailNext makes the next creation of kind fail with err (ErrInjected when nil).
func (b *Backend) FailNext(kind metadata.ResourceKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	b.failures[kind] = append(b.failures[kind], err)
}

func (b *Backend) create(kind metadata.ResourceKind) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pending := b.failures[kind]; len(pending) > 0 {
		b.failures[kind] = pending[1:]
		return 0, pending[0]
	}
	b.nextHandle++
	h := b.nextHandle
	if b.live[kind] == nil {
		b.live[kind] = make(map[uint64]struct{})
	}
	b.live[kind][h] = struct{}{}
	b.created[kind]++
	return h, nil
}

func (b *Backend) destroy(kind metadata.ResourceKind, h uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.live[kind][h]; !ok {
		return errors.Newf("null backend: destroy of unknown %s %d", kind, h)
	}
	delete(b.live[kind], h)
	b.destroyed[kind]++
	return nil
}

// LiveCount is the number of objects of kind created and not destroyed yet.
func (b *Backend) LiveCount(kind metadata.ResourceKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live[kind])
}

func (b *Backend) CreatedCount(kind metadata.ResourceKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created[kind]
}

func (b *Backend) DestroyedCount(kind metadata.ResourceKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed[kind]
}

func (b *Backend) IsLive(kind metadata.ResourceKind, h uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.live[kind][h]
	return ok
}

// DescriptorUpdates returns every batch passed to UpdateDescriptorSets, oldest first.
func (b *Backend) DescriptorUpdates() [][]renderer.DescriptorWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]renderer.DescriptorWrite, len(b.updates))
	copy(out, b.updates)
	return out
}

func (b *Backend) ResetDescriptorUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = nil
}

// BufferContents returns a copy of the bytes written into a buffer.
func (b *Backend) BufferContents(h renderer.BufferHandle) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.buffers[uint64(h)]
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (b *Backend) CreateShaderModule(desc *metadata.ShaderModuleDescription) (renderer.ShaderModuleHandle, error) {
	if len(desc.Code) == 0 {
		return 0, errors.New("null backend: empty shader code")
	}
	h, err := b.create(metadata.ResourceKindShaderModule)
	return renderer.ShaderModuleHandle(h), err
}

func (b *Backend) DestroyShaderModule(h renderer.ShaderModuleHandle) error {
	return b.destroy(metadata.ResourceKindShaderModule, uint64(h))
}

func (b *Backend) CreateSampler(desc *metadata.SamplerDescription) (renderer.SamplerHandle, error) {
	h, err := b.create(metadata.ResourceKindSampler)
	return renderer.SamplerHandle(h), err
}

func (b *Backend) DestroySampler(h renderer.SamplerHandle) error {
	return b.destroy(metadata.ResourceKindSampler, uint64(h))
}

func (b *Backend) CreateDescriptorSetLayout(desc *metadata.DescriptorSetLayoutDescription, immutableSamplers [][]renderer.SamplerHandle) (renderer.DescriptorSetLayoutHandle, error) {
	for i, samplers := range immutableSamplers {
		for _, s := range samplers {
			if !b.IsLive(metadata.ResourceKindSampler, uint64(s)) {
				return 0, errors.Newf("null backend: binding %d references dead sampler %d", i, s)
			}
		}
	}
	h, err := b.create(metadata.ResourceKindDescriptorSetLayout)
	return renderer.DescriptorSetLayoutHandle(h), err
}

func (b *Backend) DestroyDescriptorSetLayout(h renderer.DescriptorSetLayoutHandle) error {
	return b.destroy(metadata.ResourceKindDescriptorSetLayout, uint64(h))
}

func (b *Backend) CreatePipelineLayout(desc *metadata.PipelineLayoutDescription, setLayouts []renderer.DescriptorSetLayoutHandle) (renderer.PipelineLayoutHandle, error) {
	for _, l := range setLayouts {
		if !b.IsLive(metadata.ResourceKindDescriptorSetLayout, uint64(l)) {
			return 0, errors.Newf("null backend: pipeline layout references dead set layout %d", l)
		}
	}
	h, err := b.create(metadata.ResourceKindPipelineLayout)
	return renderer.PipelineLayoutHandle(h), err
}

func (b *Backend) DestroyPipelineLayout(h renderer.PipelineLayoutHandle) error {
	return b.destroy(metadata.ResourceKindPipelineLayout, uint64(h))
}

func (b *Backend) CreateRenderPass(desc *metadata.RenderPassDescription, surface *metadata.SwapchainSurfaceInfo) (renderer.RenderPassHandle, error) {
	h, err := b.create(metadata.ResourceKindRenderPass)
	return renderer.RenderPassHandle(h), err
}

func (b *Backend) DestroyRenderPass(h renderer.RenderPassHandle) error {
	return b.destroy(metadata.ResourceKindRenderPass, uint64(h))
}

func (b *Backend) CreateGraphicsPipeline(desc *metadata.GraphicsPipelineDescription, layout renderer.PipelineLayoutHandle, renderPass renderer.RenderPassHandle, modules []renderer.ShaderModuleHandle) (renderer.PipelineHandle, error) {
	if !b.IsLive(metadata.ResourceKindPipelineLayout, uint64(layout)) {
		return 0, errors.Newf("null backend: pipeline references dead layout %d", layout)
	}
	if !b.IsLive(metadata.ResourceKindRenderPass, uint64(renderPass)) {
		return 0, errors.Newf("null backend: pipeline references dead render pass %d", renderPass)
	}
	for _, m := range modules {
		if !b.IsLive(metadata.ResourceKindShaderModule, uint64(m)) {
			return 0, errors.Newf("null backend: pipeline references dead shader module %d", m)
		}
	}
	h, err := b.create(metadata.ResourceKindGraphicsPipeline)
	return renderer.PipelineHandle(h), err
}

func (b *Backend) DestroyPipeline(h renderer.PipelineHandle) error {
	return b.destroy(metadata.ResourceKindGraphicsPipeline, uint64(h))
}

func (b *Backend) CreateImage(desc *metadata.ImageDescription, data []byte) (renderer.ImageHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, errors.Newf("null backend: image extent %dx%d", desc.Width, desc.Height)
	}
	h, err := b.create(metadata.ResourceKindImage)
	return renderer.ImageHandle(h), err
}

func (b *Backend) DestroyImage(h renderer.ImageHandle) error {
	return b.destroy(metadata.ResourceKindImage, uint64(h))
}

func (b *Backend) CreateImageView(image renderer.ImageHandle, desc *metadata.ImageViewDescription) (renderer.ImageViewHandle, error) {
	if !b.IsLive(metadata.ResourceKindImage, uint64(image)) {
		return 0, errors.Newf("null backend: view of dead image %d", image)
	}
	h, err := b.create(metadata.ResourceKindImageView)
	return renderer.ImageViewHandle(h), err
}

func (b *Backend) DestroyImageView(h renderer.ImageViewHandle) error {
	return b.destroy(metadata.ResourceKindImageView, uint64(h))
}

func (b *Backend) CreateBuffer(desc *metadata.BufferDescription) (renderer.BufferHandle, error) {
	h, err := b.create(metadata.ResourceKindBuffer)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.buffers[h] = make([]byte, desc.Size)
	b.mu.Unlock()
	return renderer.BufferHandle(h), nil
}

func (b *Backend) WriteBuffer(h renderer.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[uint64(h)]
	if !ok {
		return errors.Newf("null backend: write to unknown buffer %d", h)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return errors.Newf("null backend: write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, len(buf))
	}
	copy(buf[offset:], data)
	return nil
}

func (b *Backend) DestroyBuffer(h renderer.BufferHandle) error {
	if err := b.destroy(metadata.ResourceKindBuffer, uint64(h)); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.buffers, uint64(h))
	b.mu.Unlock()
	return nil
}

func (b *Backend) CreateDescriptorPool(maxSets uint32, sizes []renderer.DescriptorPoolSize) (renderer.DescriptorPoolHandle, error) {
	h, err := b.create(metadata.ResourceKindDescriptorPool)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.pools[h] = &descriptorPool{maxSets: maxSets}
	b.mu.Unlock()
	return renderer.DescriptorPoolHandle(h), nil
}

func (b *Backend) ResetDescriptorPool(h renderer.DescriptorPoolHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[uint64(h)]
	if !ok {
		return errors.Newf("null backend: reset of unknown descriptor pool %d", h)
	}
	for _, s := range pool.sets {
		delete(b.sets, s)
	}
	pool.sets = nil
	return nil
}

func (b *Backend) DestroyDescriptorPool(h renderer.DescriptorPoolHandle) error {
	if err := b.ResetDescriptorPool(h); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.pools, uint64(h))
	b.mu.Unlock()
	return b.destroy(metadata.ResourceKindDescriptorPool, uint64(h))
}

func (b *Backend) AllocateDescriptorSets(pool renderer.DescriptorPoolHandle, layout renderer.DescriptorSetLayoutHandle, count uint32) ([]renderer.DescriptorSetHandle, error) {
	if !b.IsLive(metadata.ResourceKindDescriptorSetLayout, uint64(layout)) {
		return nil, errors.Newf("null backend: allocation with dead set layout %d", layout)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pools[uint64(pool)]
	if !ok {
		return nil, errors.Newf("null backend: allocation from unknown pool %d", pool)
	}
	if uint32(len(p.sets))+count > p.maxSets {
		return nil, errors.Newf("null backend: pool %d out of sets (%d/%d)", pool, len(p.sets), p.maxSets)
	}
	out := make([]renderer.DescriptorSetHandle, count)
	for i := range out {
		b.nextHandle++
		p.sets = append(p.sets, b.nextHandle)
		b.sets[b.nextHandle] = uint64(pool)
		out[i] = renderer.DescriptorSetHandle(b.nextHandle)
	}
	return out, nil
}

func (b *Backend) UpdateDescriptorSets(writes []renderer.DescriptorWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range writes {
		if _, ok := b.sets[uint64(w.Set)]; !ok {
			return errors.Newf("null backend: write to unknown descriptor set %d", w.Set)
		}
		for _, img := range w.Images {
			if img.ImageView != 0 {
				if _, ok := b.live[metadata.ResourceKindImageView][uint64(img.ImageView)]; !ok {
					return errors.Newf("null backend: write references dead image view %d", img.ImageView)
				}
			}
		}
	}
	batch := make([]renderer.DescriptorWrite, len(writes))
	copy(batch, writes)
	b.updates = append(b.updates, batch)
	return nil
}

func (b *Backend) WaitIdle() error {
	return nil
}

// Shutdown fails when native objects are still alive, which means something leaked.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	leaked := 0
	for _, objects := range b.live {
		leaked += len(objects)
	}
	if leaked > 0 {
		return errors.Newf("null backend: %d native objects still alive at shutdown", leaked)
	}
	return nil
}

func (b *Backend) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("null backend (%d handles issued)", b.nextHandle)
}

package assets

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/containers"
	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// LoadOp reports the outcome of one load request back to its producer. It
// resolves exactly once.
type LoadOp struct {
	handle LoadHandle
	once   sync.Once
	done   chan struct{}
	err    error
}

func newLoadOp(h LoadHandle) *LoadOp {
	return &LoadOp{handle: h, done: make(chan struct{})}
}

func (op *LoadOp) Handle() LoadHandle {
	return op.handle
}

func (op *LoadOp) Complete() {
	op.resolve(nil)
}

func (op *LoadOp) Error(err error) {
	if err == nil {
		err = core.ErrUnknown
	}
	op.resolve(err)
}

func (op *LoadOp) resolve(err error) {
	resolved := false
	op.once.Do(func() {
		op.err = err
		close(op.done)
		resolved = true
	})
	if !resolved {
		core.ContractViolation("load op of %s resolved twice", op.handle)
	}
}

func (op *LoadOp) Done() <-chan struct{} {
	return op.done
}

// Err is the outcome once Done is closed, nil before.
func (op *LoadOp) Err() error {
	select {
	case <-op.done:
		return op.err
	default:
		return nil
	}
}

// Wait blocks until the consumer processed the request or ctx is done.
func (op *LoadOp) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type LoadRequest[T any] struct {
	Handle  LoadHandle
	Version uint32
	Asset   *T
	Op      *LoadOp
}

type CommitRequest struct {
	Handle  LoadHandle
	Version uint32
}

type FreeRequest struct {
	Handle LoadHandle
}

// LoadQueues carries the requests for one asset type from any number of
// producers to the consumer.
type LoadQueues[T any] struct {
	kind    AssetKind
	loads   *containers.Channel[LoadRequest[T]]
	commits *containers.Channel[CommitRequest]
	frees   *containers.Channel[FreeRequest]
}

func NewLoadQueues[T any](kind AssetKind) *LoadQueues[T] {
	return &LoadQueues[T]{
		kind:    kind,
		loads:   containers.NewChannel[LoadRequest[T]](),
		commits: containers.NewChannel[CommitRequest](),
		frees:   containers.NewChannel[FreeRequest](),
	}
}

func (q *LoadQueues[T]) Kind() AssetKind {
	return q.kind
}

func (q *LoadQueues[T]) Handler() *LoadHandler[T] {
	return &LoadHandler[T]{queues: q}
}

func (q *LoadQueues[T]) TakeLoadRequests() []LoadRequest[T] {
	return q.loads.Drain()
}

func (q *LoadQueues[T]) TakeCommitRequests() []CommitRequest {
	return q.commits.Drain()
}

func (q *LoadQueues[T]) TakeFreeRequests() []FreeRequest {
	return q.frees.Drain()
}

// Close rejects further requests and fails the loads nobody will process.
func (q *LoadQueues[T]) Close() {
	q.loads.Close()
	q.commits.Close()
	q.frees.Close()
	for _, req := range q.loads.Drain() {
		req.Op.Error(errors.Wrapf(core.ErrQueueClosed, "%s %s", q.kind, req.Handle))
	}
}

// LoadHandler is the producer side of a LoadQueues. Safe for concurrent use.
type LoadHandler[T any] struct {
	queues *LoadQueues[T]
}

// Load asks the consumer to build version of asset h. The returned op
// resolves once it did, successfully or not.
func (l *LoadHandler[T]) Load(h LoadHandle, version uint32, asset *T) *LoadOp {
	op := newLoadOp(h)
	if !l.queues.loads.Send(LoadRequest[T]{Handle: h, Version: version, Asset: asset, Op: op}) {
		op.Error(errors.Wrapf(core.ErrQueueClosed, "%s %s", l.queues.kind, h))
	}
	return op
}

// Commit switches h to the version loaded last.
func (l *LoadHandler[T]) Commit(h LoadHandle, version uint32) {
	l.queues.commits.Send(CommitRequest{Handle: h, Version: version})
}

func (l *LoadHandler[T]) Free(h LoadHandle) {
	l.queues.frees.Send(FreeRequest{Handle: h})
}

// LoadQueueSet holds the queues of every asset type the resource manager loads.
type LoadQueueSet struct {
	Shaders           *LoadQueues[ShaderAsset]
	Pipelines         *LoadQueues[PipelineAsset]
	Materials         *LoadQueues[MaterialAsset]
	MaterialInstances *LoadQueues[MaterialInstanceAsset]
	Images            *LoadQueues[ImageAsset]
	Buffers           *LoadQueues[BufferAsset]
}

func NewLoadQueueSet() *LoadQueueSet {
	return &LoadQueueSet{
		Shaders:           NewLoadQueues[ShaderAsset](AssetKindShader),
		Pipelines:         NewLoadQueues[PipelineAsset](AssetKindPipeline),
		Materials:         NewLoadQueues[MaterialAsset](AssetKindMaterial),
		MaterialInstances: NewLoadQueues[MaterialInstanceAsset](AssetKindMaterialInstance),
		Images:            NewLoadQueues[ImageAsset](AssetKindImage),
		Buffers:           NewLoadQueues[BufferAsset](AssetKindBuffer),
	}
}

// Load routes a decoded asset to the queue of its type.
func (s *LoadQueueSet) Load(h LoadHandle, version uint32, asset interface{}) (*LoadOp, error) {
	switch a := asset.(type) {
	case *ShaderAsset:
		return s.Shaders.Handler().Load(h, version, a), nil
	case *PipelineAsset:
		return s.Pipelines.Handler().Load(h, version, a), nil
	case *MaterialAsset:
		return s.Materials.Handler().Load(h, version, a), nil
	case *MaterialInstanceAsset:
		return s.MaterialInstances.Handler().Load(h, version, a), nil
	case *ImageAsset:
		return s.Images.Handler().Load(h, version, a), nil
	case *BufferAsset:
		return s.Buffers.Handler().Load(h, version, a), nil
	default:
		return nil, errors.Wrapf(core.ErrUnknownAsset, "%T", asset)
	}
}

func (s *LoadQueueSet) Commit(kind AssetKind, h LoadHandle, version uint32) {
	switch kind {
	case AssetKindShader:
		s.Shaders.Handler().Commit(h, version)
	case AssetKindPipeline:
		s.Pipelines.Handler().Commit(h, version)
	case AssetKindMaterial:
		s.Materials.Handler().Commit(h, version)
	case AssetKindMaterialInstance:
		s.MaterialInstances.Handler().Commit(h, version)
	case AssetKindImage:
		s.Images.Handler().Commit(h, version)
	case AssetKindBuffer:
		s.Buffers.Handler().Commit(h, version)
	}
}

func (s *LoadQueueSet) Free(kind AssetKind, h LoadHandle) {
	switch kind {
	case AssetKindShader:
		s.Shaders.Handler().Free(h)
	case AssetKindPipeline:
		s.Pipelines.Handler().Free(h)
	case AssetKindMaterial:
		s.Materials.Handler().Free(h)
	case AssetKindMaterialInstance:
		s.MaterialInstances.Handler().Free(h)
	case AssetKindImage:
		s.Images.Handler().Free(h)
	case AssetKindBuffer:
		s.Buffers.Handler().Free(h)
	}
}

func (s *LoadQueueSet) Close() {
	s.Shaders.Close()
	s.Pipelines.Close()
	s.Materials.Close()
	s.MaterialInstances.Close()
	s.Images.Close()
	s.Buffers.Close()
}

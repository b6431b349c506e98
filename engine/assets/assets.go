package assets

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs import jobs away from the watcher goroutine.
type Scheduler interface {
	Submit(task core.JobTask) error
}

type AssetManagerConfig struct {
	Dir string
	// Parallel imports during the initial scan.
	Workers         int
	ReloadCacheSize int
	// How often a load failing on a missing dependency is retried.
	RetryAttempts int
	RetryDelay    time.Duration
}

type assetFile struct {
	handle    LoadHandle
	kind      AssetKind
	version   uint32
	committed bool
	// imports waiting on the consumer right now
	loading int
	removed bool
}

// pendingImport is a decoded file on its way through the load queues.
type pendingImport struct {
	rel     string
	kind    AssetKind
	asset   interface{}
	sum     uint64
	file    *assetFile
	version uint32
	attempt int
}

// Dependencies are imported before the assets referencing them.
var importOrder = map[AssetKind]int{
	AssetKindShader:           0,
	AssetKindPipeline:         1,
	AssetKindImage:            2,
	AssetKindBuffer:           3,
	AssetKindMaterial:         4,
	AssetKindMaterialInstance: 5,
}

// AssetManager imports every file under a directory into the load queues and
// keeps them in sync with the file system: writes reload, removals free.
type AssetManager struct {
	config    AssetManagerConfig
	queues    *LoadQueueSet
	scheduler Scheduler

	loaders    map[string]Loader
	extensions []string

	// path -> digest of the content last committed
	digests *lru.Cache[string, uint64]

	mu     sync.Mutex
	files  map[string]*assetFile
	timers map[*time.Timer]struct{}
	// retries scheduled but not yet submitted
	retries sync.WaitGroup

	fsnotify *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	done     chan struct{}
}

func NewAssetManager(config AssetManagerConfig, queues *LoadQueueSet, scheduler Scheduler, loaders ...Loader) (*AssetManager, error) {
	if config.Workers <= 0 {
		return nil, core.ErrNoWorkers
	}
	digests, err := lru.New[string, uint64](config.ReloadCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating reload cache")
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	am := &AssetManager{
		config:    config,
		queues:    queues,
		scheduler: scheduler,
		loaders:   make(map[string]Loader),
		digests:   digests,
		files:     make(map[string]*assetFile),
		timers:    make(map[*time.Timer]struct{}),
		fsnotify:  fsWatch,
		done:      make(chan struct{}),
	}
	for _, l := range loaders {
		am.registerLoader(l)
	}
	return am, nil
}

// Register loaders for each file suffix. Longer suffixes win, so
// ".material.toml" is matched before a plain ".toml".
func (am *AssetManager) registerLoader(loader Loader) {
	for _, ext := range loader.Extensions() {
		ext = strings.ToLower(ext)
		if _, ok := am.loaders[ext]; !ok {
			am.extensions = append(am.extensions, ext)
		}
		am.loaders[ext] = loader
	}
	slices.SortFunc(am.extensions, func(a, b string) int {
		return len(b) - len(a)
	})
}

func (am *AssetManager) loaderFor(path string) Loader {
	lower := strings.ToLower(path)
	for _, ext := range am.extensions {
		if strings.HasSuffix(lower, ext) {
			return am.loaders[ext]
		}
	}
	return nil
}

// Initialize starts watching the asset directory and imports everything in
// it in the background. The consumer must keep processing the load queues
// for imports to finish.
func (am *AssetManager) Initialize(ctx context.Context) error {
	am.ctx, am.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(am.ctx)
	am.group = group
	am.ctx = gctx

	if err := am.addRecursive(am.config.Dir); err != nil {
		am.cancel()
		return err
	}
	go am.start()
	am.group.Go(func() error {
		if err := am.Scan(am.ctx); err != nil && !errors.Is(err, context.Canceled) {
			core.LogError("initial asset scan: %s", err.Error())
		}
		return nil
	})
	return nil
}

// collect lists the importable files under dir, dependencies first.
func (am *AssetManager) collect(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && am.loaderFor(path) != nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", dir)
	}
	slices.SortStableFunc(paths, func(a, b string) int {
		return importOrder[am.loaderFor(a).Kind()] - importOrder[am.loaderFor(b).Kind()]
	})
	return paths, nil
}

// Scan imports every file under the asset directory, Workers at a time, and
// returns once all of them are committed or failed. Imports missing a
// dependency give their slot back and go again in a later pass.
func (am *AssetManager) Scan(ctx context.Context) error {
	paths, err := am.collect(am.config.Dir)
	if err != nil {
		return err
	}
	deferred, err := am.importPass(ctx, len(paths), func(ctx context.Context, i int) (*pendingImport, error) {
		p, err := am.prepareImport(paths[i])
		if err != nil || p == nil {
			return nil, err
		}
		return p, am.tryImport(ctx, p)
	})
	for err == nil && len(deferred) > 0 {
		select {
		case <-time.After(am.config.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		retry := deferred
		slices.SortStableFunc(retry, func(a, b *pendingImport) int {
			return importOrder[a.kind] - importOrder[b.kind]
		})
		deferred, err = am.importPass(ctx, len(retry), func(ctx context.Context, i int) (*pendingImport, error) {
			retry[i].attempt++
			return retry[i], am.tryImport(ctx, retry[i])
		})
	}
	return err
}

// importPass runs n imports, Workers at a time, and returns those that
// failed on a missing dependency and still have attempts left.
func (am *AssetManager) importPass(ctx context.Context, n int, run func(context.Context, int) (*pendingImport, error)) ([]*pendingImport, error) {
	var (
		mu       sync.Mutex
		deferred []*pendingImport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(am.config.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			p, err := run(gctx, i)
			if am.shouldRetry(p, err) {
				mu.Lock()
				deferred = append(deferred, p)
				mu.Unlock()
				return nil
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				core.LogError("importing: %s", err.Error())
			}
			return nil
		})
	}
	err := g.Wait()
	return deferred, err
}

func (am *AssetManager) shouldRetry(p *pendingImport, err error) bool {
	return p != nil && errors.Is(err, core.ErrDependencyNotReady) && p.attempt < am.config.RetryAttempts
}

// addRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	return filepath.WalkDir(name, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := am.fsnotify.Add(path); err != nil {
				return errors.Wrapf(err, "watching %s", path)
			}
		}
		return nil
	})
}

func (am *AssetManager) start() {
	defer close(am.done)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("%s", err.Error())

		case <-am.ctx.Done():
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.addRecursive(e.Name); err != nil {
				core.LogError("%s", err.Error())
			}
			am.submitScan(e.Name)
			return
		}
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		am.submitImport(e.Name)
	}
	// Can't stat a deleted path, so treat it as a file and also drop any watch on it.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		am.removeFile(e.Name)
		_ = am.fsnotify.Remove(e.Name)
	}
}

func (am *AssetManager) submitImport(path string) {
	if am.loaderFor(path) == nil {
		return
	}
	am.submit(core.JobTask{
		Name: "import " + path,
		Run: func() error {
			p, err := am.prepareImport(path)
			if err != nil || p == nil {
				return err
			}
			return am.runImport(p)
		},
		OnFailure: func(err error) {
			core.LogError("importing %s: %s", path, err.Error())
		},
	})
}

// submitScan imports a directory that appeared after Initialize.
func (am *AssetManager) submitScan(dir string) {
	am.submit(core.JobTask{
		Name: "scan " + dir,
		Run: func() error {
			paths, err := am.collect(dir)
			if err != nil {
				return err
			}
			for _, path := range paths {
				p, err := am.prepareImport(path)
				if err == nil && p != nil {
					err = am.runImport(p)
				}
				if err != nil {
					core.LogError("importing %s: %s", path, err.Error())
				}
			}
			return nil
		},
		OnFailure: func(err error) {
			core.LogError("%s", err.Error())
		},
	})
}

// runImport makes one attempt at p. A missing dependency schedules the next
// attempt instead of holding the worker.
func (am *AssetManager) runImport(p *pendingImport) error {
	err := am.tryImport(am.ctx, p)
	if am.shouldRetry(p, err) {
		am.retryLater(p)
		return nil
	}
	return err
}

func (am *AssetManager) retryLater(p *pendingImport) {
	p.attempt++
	core.LogDebug("%s waits for a dependency, attempt %d in %s", p.rel, p.attempt, am.config.RetryDelay)

	am.mu.Lock()
	defer am.mu.Unlock()
	if am.ctx.Err() != nil {
		return
	}
	am.retries.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(am.config.RetryDelay, func() {
		defer am.retries.Done()
		am.mu.Lock()
		delete(am.timers, timer)
		am.mu.Unlock()
		if am.ctx.Err() != nil {
			return
		}
		am.submit(core.JobTask{
			Name: "retry " + p.rel,
			Run: func() error {
				return am.runImport(p)
			},
			OnFailure: func(err error) {
				core.LogError("importing %s: %s", p.rel, err.Error())
			},
		})
	})
	am.timers[timer] = struct{}{}
}

func (am *AssetManager) submit(task core.JobTask) {
	if am.scheduler != nil {
		if err := am.scheduler.Submit(task); err == nil {
			return
		}
	}
	am.group.Go(func() error {
		if err := task.Run(); err != nil {
			if task.OnFailure != nil {
				task.OnFailure(err)
			}
		} else if task.OnComplete != nil {
			task.OnComplete()
		}
		return nil
	})
}

func (am *AssetManager) relative(path string) string {
	rel, err := filepath.Rel(am.config.Dir, path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.ToSlash(rel)
}

func (am *AssetManager) resolve(ref string) LoadHandle {
	return HandleForPath(ref)
}

func digest(data []byte) uint64 {
	f := fnv.New64a()
	f.Write(data)
	return f.Sum64()
}

// prepareImport reads and decodes path and claims the next version of its
// slot. Nil means the content did not change since it was last committed.
func (am *AssetManager) prepareImport(path string) (*pendingImport, error) {
	loader := am.loaderFor(path)
	if loader == nil {
		return nil, nil
	}
	rel := am.relative(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", rel)
	}
	sum := digest(data)
	if prev, ok := am.digests.Get(rel); ok && prev == sum {
		core.LogDebug("%s unchanged, skipping reload", rel)
		return nil, nil
	}

	asset, err := loader.Load(path, data, am.resolve)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", rel)
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	file, ok := am.files[rel]
	if !ok {
		file = &assetFile{handle: HandleForPath(rel), kind: loader.Kind()}
		am.files[rel] = file
	}
	file.version++
	return &pendingImport{
		rel:     rel,
		kind:    loader.Kind(),
		asset:   asset,
		sum:     sum,
		file:    file,
		version: file.version,
	}, nil
}

// tryImport hands p to the consumer once and commits it if the load
// succeeded and p is still the newest version of a file that still exists.
func (am *AssetManager) tryImport(ctx context.Context, p *pendingImport) error {
	file := p.file
	am.mu.Lock()
	if file.removed {
		am.mu.Unlock()
		return nil
	}
	file.loading++
	am.mu.Unlock()

	op, err := am.queues.Load(file.handle, p.version, p.asset)
	if err == nil {
		err = op.Wait(ctx)
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	file.loading--
	if file.removed {
		// The last import in flight frees what the removal could not, unless
		// the path already came back and owns the handle again.
		if file.loading == 0 && (err == nil || file.committed) && am.files[p.rel] == nil {
			am.queues.Free(file.kind, file.handle)
			core.LogInfo("freed %s %s, removed while loading", file.kind, p.rel)
		}
		return nil
	}
	if err != nil {
		if errors.Is(err, core.ErrDependencyNotReady) {
			core.LogDebug("%s: %s", p.rel, err.Error())
		}
		return errors.Wrapf(err, "loading %s %s", p.kind, p.rel)
	}
	// A newer version may have been loaded meanwhile; only the newest commits.
	if file.version != p.version {
		return nil
	}
	file.committed = true
	am.queues.Commit(file.kind, file.handle, p.version)
	am.digests.Add(p.rel, p.sum)
	core.LogInfo("loaded %s %s (version %d)", p.kind, p.rel, p.version)
	return nil
}

func (am *AssetManager) removeFile(path string) {
	rel := am.relative(path)
	am.digests.Remove(rel)

	am.mu.Lock()
	defer am.mu.Unlock()
	file, ok := am.files[rel]
	if !ok {
		return
	}
	delete(am.files, rel)
	file.removed = true
	// Imports still in flight free the slot once they return.
	if !file.committed || file.loading > 0 {
		return
	}
	am.queues.Free(file.kind, file.handle)
	core.LogInfo("freed %s %s", file.kind, rel)
}

// Loaded is the number of files currently committed.
func (am *AssetManager) Loaded() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	n := 0
	for _, f := range am.files {
		if f.committed {
			n++
		}
	}
	return n
}

/**
 * @brief Stops watching and waits for running imports to return.
 */
func (am *AssetManager) Shutdown() error {
	if am.cancel == nil {
		return am.fsnotify.Close()
	}
	am.cancel()
	<-am.done

	am.mu.Lock()
	for timer := range am.timers {
		if timer.Stop() {
			am.retries.Done()
		}
		delete(am.timers, timer)
	}
	am.mu.Unlock()
	am.retries.Wait()

	err := am.group.Wait()
	if cerr := am.fsnotify.Close(); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	return err
}

package systems

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-gpu/engine/core"
)

var ErrJobSystemClosed = errors.New("job system is shut down")

// JobSystem runs tasks on a fixed number of worker goroutines. It is the
// scheduler the asset watcher imports files on.
type JobSystem struct {
	numWorkers int
	jobQueue   chan core.JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	completed atomic.Int64
	failed    atomic.Int64
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, core.ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, core.ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan core.JobTask, channelSize),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job core.JobTask) {
	if err := job.Run(); err != nil {
		js.failed.Add(1)
		if job.OnFailure != nil {
			job.OnFailure(err)
		} else {
			core.LogError("job %s failed: %s", job.Name, err.Error())
		}
		return
	}
	js.completed.Add(1)
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(jt core.JobTask) error {
	if jt.Run == nil {
		return errors.Newf("job %q has nothing to run", jt.Name)
	}
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}

// Completed and Failed count finished jobs.
func (js *JobSystem) Completed() int64 {
	return js.completed.Load()
}

func (js *JobSystem) Failed() int64 {
	return js.failed.Load()
}

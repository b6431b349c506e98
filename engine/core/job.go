package core

/**
 * @brief A unit of work handed to a worker pool. Run is required; the
 * callbacks are optional and run on the worker after Run returns.
 */
type JobTask struct {
	Name       string
	Run        func() error
	OnComplete func()
	OnFailure  func(err error)
}

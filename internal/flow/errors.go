package flow

import "errors"

var (
	// ErrNoScheduler is the reason of a future that needed a fresh loop turn
	// but the pipeline was built without a Scheduler.
	ErrNoScheduler = errors.New("flow: no scheduler to post continuation")

	// ErrSchedulerClosed is the reason of a future whose continuation could not
	// be posted because the scheduler was stopped.
	ErrSchedulerClosed = errors.New("flow: scheduler closed")

	// ErrSelfResolution is the reason of a future resolved with itself.
	ErrSelfResolution = errors.New("flow: future resolved with itself")
)

package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when work is triggered on a stopped component
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrNoStreams is returned when the scheduler is built without any sync streams
	ErrNoStreams = errors.New("no sync streams configured")
)

package worker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher busy")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

const defaultJobTimeout = 30 * time.Second

// Job is one unit of background work. Jobs sharing a Key run one at a time in
// submission order; different keys are served round robin.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error

	stop bool
}

// Config sizes the dispatcher and its worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"curiousminds/internal/logging"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool // in the ready list
	running  bool // a job for this key is on a worker
}

type Dispatcher struct {
	pool       *jobChannelPool
	jobs       chan Job // intake, drained by run
	wake       chan struct{}
	quit       chan struct{}
	done       chan struct{}
	jobTimeout time.Duration
	logger     *zap.Logger

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once

	mu       sync.Mutex
	queues   map[string]*keyQueue
	ready    *list.List // keys waiting for a worker, least recently served first
	inflight sync.WaitGroup
}

func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	d := &Dispatcher{
		jobs:       make(chan Job, cfg.QueueSize),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		jobTimeout: cfg.JobTimeout,
		logger:     logging.OrNop(logger).Named("dispatcher"),
		queues:     make(map[string]*keyQueue),
		ready:      list.New(),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking. It fails with ErrDispatcherBusy when the
// intake is full.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job run func required")
	}
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Close stops intake, runs every job already accepted and stops the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()
		close(d.quit)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			// take in one new job between dispatches so intake keeps moving
			select {
			case job := <-d.jobs:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.jobs:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobs:
			d.enqueueJob(job)
			continue
		default:
		}
		if d.dispatchOne() {
			continue
		}
		if d.idle() {
			break
		}
		<-d.wake
	}
	d.inflight.Wait()
	d.pool.shutdown()
}

func (d *Dispatcher) idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues) == 0
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the least recently served key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	d.inflight.Add(1)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog(d.logger, "assign job",
		zap.String("job", job.Name),
		zap.String("key", key),
		zap.Int("worker", d.pool.workerID(workerChan)),
	)
	workerChan <- job
	return true
}

// execute runs on a worker goroutine.
func (d *Dispatcher) execute(job Job) {
	defer d.finish(job.Key)

	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		d.logger.Warn("job failed",
			zap.String("job", job.Name),
			zap.String("key", job.Key),
			zap.Error(err),
		)
		return
	}
	debugLog(d.logger, "job done",
		zap.String("job", job.Name),
		zap.String("key", job.Key),
		zap.Duration("took", time.Since(start)),
	)
}

// finish lets the next job of key back into the ready list.
func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	if q := d.queues[key]; q != nil {
		q.running = false
		switch {
		case len(q.jobs) == 0:
			delete(d.queues, key)
		case !q.enqueued:
			q.enqueued = true
			d.ready.PushBack(key)
		}
	}
	d.mu.Unlock()
	d.inflight.Done()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

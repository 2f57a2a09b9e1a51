package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"attachflow/internal/logger"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type Config struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	Logger            logger.Logger
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds jobs to a bounded worker pool, round-robin across keys so
// one busy session cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	log      logger.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // keys waiting for a worker, LRU order
	positions map[string]*list.Element
	closed    bool

	inflight sync.WaitGroup
	quit     chan struct{}
	stopped  chan struct{}
}

func NewDispatcher(cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("component", "worker")
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, log),
		jobQueue:  make(chan Job, queueSize),
		log:       log,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking. A full queue yields ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	job.done = d.inflight.Done
	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.inflight.Done()
		return ErrDispatcherBusy
	}
}

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int { return d.pool.size() }

// Close refuses new jobs, waits for queued ones and stops the workers.
func (d *Dispatcher) Close() { _ = d.Shutdown(context.Background()) }

// Shutdown is Close bounded by ctx. When jobs are still running at the
// deadline it returns ctx.Err() and leaves the remaining workers to finish
// on their own.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		d.log.Warn("shutdown deadline passed with jobs still running", "err", ctx.Err())
		return ctx.Err()
	}
	close(d.quit)
	<-d.stopped
	d.pool.shutdown()
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		// dispatch one job of the key in the front of the LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // nothing ready, block
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
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
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne get the first key in LRU order and dispatch its oldest job
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
	if len(q.jobs) == 0 {
		// last job of this key, it leaves the ready list
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	d.log.Debug("assign job", "job", job.Name, "key", key, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

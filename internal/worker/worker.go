package worker

import "fmt"

// Job is one unit of work. Key groups jobs for fair scheduling, e.g. a session id.
type Job struct {
	Key  string
	Name string
	Run  func()

	stop bool
	done func()
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool, id int) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

// Start marks the worker idle and begins serving jobs.
func (w *Worker) Start() {
	if !w.pool.Release(w.jobChannel) {
		w.pool.retire(w.jobChannel)
		return
	}
	go func() {
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if job.done != nil {
			job.done()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("job panicked", "worker", w.id, "job", job.Name, "panic", fmt.Sprint(r))
		}
	}()
	if job.Run != nil {
		job.Run()
	}
}

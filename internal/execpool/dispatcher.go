package execpool

import "sync"

// PendingJob tracks a job waiting for dispatch or completion
type PendingJob struct {
	Job      *JobMessage
	ResultCh chan *JobResult
	WorkerID string // assigned worker (empty while queued)
}

// SendFunc sends a job to a worker
type SendFunc func(w *ConnectedWorker, job *JobMessage) error

// LocalFunc runs a job on the orchestrator host when no worker can take it
type LocalFunc func(job *JobMessage) *JobResult

// Dispatcher manages the job queue and worker assignment
type Dispatcher struct {
	registry *Registry
	local    LocalFunc
	sendFunc SendFunc

	queue   []*PendingJob
	pending map[string]*PendingJob // jobID -> pending job
	mu      sync.Mutex
}

// NewDispatcher creates a new job dispatcher. local may be nil, in which
// case jobs queue until a capable worker connects.
func NewDispatcher(registry *Registry, local LocalFunc) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		local:    local,
		pending:  make(map[string]*PendingJob),
	}
}

// SetSendFunc sets the function used to send jobs to workers
func (d *Dispatcher) SetSendFunc(fn SendFunc) {
	d.sendFunc = fn
}

// Submit adds a job to the queue and returns a channel for the result
func (d *Dispatcher) Submit(job *JobMessage) chan *JobResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	resultCh := make(chan *JobResult, 1)
	pending := &PendingJob{
		Job:      job,
		ResultCh: resultCh,
	}

	d.queue = append(d.queue, pending)
	d.pending[job.JobID] = pending

	return resultCh
}

// TryDispatch attempts to dispatch queued jobs to available workers. Jobs
// whose language no connected worker supports fall back to local execution.
func (d *Dispatcher) TryDispatch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var remaining []*PendingJob

	for _, pj := range d.queue {
		worker := d.registry.FindReady(pj.Job.Language)

		if worker != nil && d.sendFunc != nil {
			worker.DecrementSlots()
			pj.WorkerID = worker.ID

			if err := d.sendFunc(worker, pj.Job); err != nil {
				pj.WorkerID = ""
				remaining = append(remaining, pj)
				continue
			}
		} else if d.local != nil && !d.registry.SupportsLanguage(pj.Job.Language) {
			go func(pj *PendingJob) {
				result := d.local(pj.Job)
				d.Complete(pj.Job.JobID, result)
			}(pj)
		} else {
			remaining = append(remaining, pj)
		}
	}

	d.queue = remaining
}

// Complete marks a job as complete and delivers the result
func (d *Dispatcher) Complete(jobID string, result *JobResult) {
	d.mu.Lock()
	pj, ok := d.pending[jobID]
	if ok {
		delete(d.pending, jobID)
	}
	d.mu.Unlock()

	if ok && pj.ResultCh != nil {
		pj.ResultCh <- result
		close(pj.ResultCh)
	}
}

// Forget drops a pending job without delivering a result, used when the
// submitter's context is cancelled.
func (d *Dispatcher) Forget(jobID string) (workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pj, ok := d.pending[jobID]
	if !ok {
		return ""
	}
	delete(d.pending, jobID)

	var remaining []*PendingJob
	for _, queued := range d.queue {
		if queued.Job.JobID != jobID {
			remaining = append(remaining, queued)
		}
	}
	d.queue = remaining
	return pj.WorkerID
}

// RequeueWorkerJobs returns a disconnected worker's in-flight jobs to the
// queue so another worker can pick them up.
func (d *Dispatcher) RequeueWorkerJobs(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, pj := range d.pending {
		if pj.WorkerID == workerID {
			pj.WorkerID = ""
			d.queue = append(d.queue, pj)
		}
	}
}

// QueuedCount returns the number of queued jobs
func (d *Dispatcher) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// PendingCount returns the number of pending jobs (queued + in-progress)
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

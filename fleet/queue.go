package fleet

import (
	"errors"
	"sync"
)

// ErrDuplicateJob is returned when a job id is already present in a queue.
var ErrDuplicateJob = errors.New("fleet: job id already in queue")

// Queue is the ordered sequence of jobs bound to one printer. Jobs are
// unique by id. Every mutation is echoed to the UI as a queue_update event
// and signalled to the owning worker through the notify channel.
type Queue struct {
	mu        sync.Mutex
	printerID int64
	sink      EventSink
	jobs      []*Job
	notify    chan struct{}
}

// NewQueue creates an empty queue owned by the given printer.
func NewQueue(printerID int64, sink EventSink) *Queue {
	return &Queue{
		printerID: printerID,
		sink:      sink,
		notify:    make(chan struct{}, 1),
	}
}

// Notify is the channel the owning worker blocks on between polls; it
// receives a token whenever the queue changes.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) emitUpdate() {
	emit(q.sink, EventQueueUpdate, map[string]interface{}{
		"queue":     q.snapshotLocked(),
		"printerid": q.printerID,
	})
	q.wake()
}

// AddToBack appends a job, failing on a duplicate id.
func (q *Queue) AddToBack(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(job.ID()) >= 0 {
		return ErrDuplicateJob
	}
	q.jobs = append(q.jobs, job)
	q.emitUpdate()
	return nil
}

// AddToFront inserts a job at the head, or right behind the head when the
// head is currently printing so an active print is never displaced.
func (q *Queue) AddToFront(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(job.ID()) >= 0 {
		return ErrDuplicateJob
	}
	pos := 0
	if len(q.jobs) >= 1 && q.jobs[0].Status() == JobPrinting {
		pos = 1
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = job
	q.emitUpdate()
	return nil
}

// Reorder rebuilds the queue to match the given id order. Ids not present
// are skipped; jobs not named are dropped.
func (q *Queue) Reorder(ids []int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	reordered := make([]*Job, 0, len(q.jobs))
	for _, id := range ids {
		if i := q.indexLocked(id); i >= 0 {
			reordered = append(reordered, q.jobs[i])
		}
	}
	q.jobs = reordered
	q.emitUpdate()
}

// Bump moves a job one position up or down.
func (q *Queue) Bump(up bool, jobID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(jobID)
	if i < 0 {
		return
	}
	job := q.jobs[i]
	q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
	pos := i
	if up && i > 0 {
		pos = i - 1
	} else if !up && i < len(q.jobs) {
		pos = i + 1
	}
	if pos > len(q.jobs) {
		pos = len(q.jobs)
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = job
	q.emitUpdate()
}

// BumpExtreme moves a job to the absolute front (behind an active print) or
// the absolute back of the queue.
func (q *Queue) BumpExtreme(front bool, jobID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(jobID)
	if i < 0 {
		return
	}
	job := q.jobs[i]
	q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
	pos := len(q.jobs)
	if front {
		pos = 0
		if len(q.jobs) >= 1 && q.jobs[0].Status() == JobPrinting {
			pos = 1
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = job
	q.emitUpdate()
}

// DeleteJob removes the job with the given id and returns it, or nil when
// the id is not queued.
func (q *Queue) DeleteJob(jobID int64) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(jobID)
	if i < 0 {
		return nil
	}
	job := q.jobs[i]
	q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
	q.emitUpdate()
	return job
}

// GetNext returns the head of the queue without removing it, or nil.
func (q *Queue) GetNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// GetJobByID returns the queued job with the given id, or nil.
func (q *Queue) GetJobByID(jobID int64) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexLocked(jobID); i >= 0 {
		return q.jobs[i]
	}
	return nil
}

// JobExists reports whether the id is queued.
func (q *Queue) JobExists(jobID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(jobID) >= 0
}

// Size returns the number of queued jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Jobs returns a copy of the queue in order.
func (q *Queue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]*Job, len(q.jobs))
	copy(jobs, q.jobs)
	return jobs
}

// Snapshot returns the queue's JSON shape for queue_update payloads and
// printer snapshots.
func (q *Queue) Snapshot() []map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []map[string]interface{} {
	snapshot := make([]map[string]interface{}, 0, len(q.jobs))
	for _, job := range q.jobs {
		snapshot = append(snapshot, job.Snapshot())
	}
	return snapshot
}

func (q *Queue) indexLocked(jobID int64) int {
	for i, job := range q.jobs {
		if job.ID() == jobID {
			return i
		}
	}
	return -1
}

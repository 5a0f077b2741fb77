package fleet

import (
	"fmt"
	"sync"
	"time"
)

// Registry owns the ordered set of printer workers: one long-lived
// goroutine per registered printer, created at registration or boot and
// rebuilt on hard reset.
type Registry struct {
	mu       sync.Mutex
	deps     Deps
	printers []*Printer
}

// NewRegistry creates an empty registry sharing the given collaborators
// with every worker it starts.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps}
}

// CreateFromDescriptors starts a worker for each descriptor with the given
// initial status. Boot passes configuring; registration starts its single
// worker through Create with ready.
func (r *Registry) CreateFromDescriptors(descriptors []Descriptor, status string) {
	for _, d := range descriptors {
		r.create(d, status, nil)
	}
}

// Create starts a single worker.
func (r *Registry) Create(d Descriptor, status string) *Printer {
	return r.create(d, status, nil)
}

func (r *Registry) create(d Descriptor, status string, queue *Queue) *Printer {
	p := NewPrinter(d, status, r.deps)
	p.onLeaveError = func(id int64) {
		// Leaving error reinitializes the worker but keeps its queue.
		r.ResetAndRestore(id)
	}
	if queue != nil {
		p.setQueue(queue)
	}

	r.mu.Lock()
	r.printers = append(r.printers, p)
	r.mu.Unlock()

	go r.runWorker(p)
	if r.deps.Log != nil {
		r.deps.Log.Info("Printer worker started", "printer_id", d.ID, "device", d.Device, "status", status)
	}
	return p
}

// runWorker is the per-printer loop: wake on queue changes (or the fallback
// tick), and when the printer is ready with work queued, run the next job.
func (r *Registry) runWorker(p *Printer) {
	defer func() {
		if rec := recover(); rec != nil {
			job := p.Queue().GetNext()
			p.setError(fmt.Sprint(rec))
			if job != nil {
				p.Queue().DeleteJob(job.ID())
				p.sendStatusToJob(job, JobError)
			}
		}
	}()

	for {
		select {
		case <-p.Queue().Notify():
		case <-time.After(workerTick):
		}
		if p.Terminated() {
			return
		}
		status := p.Status()
		size := p.Queue().Size()
		p.resetResponseCount()
		if status == StatusReady && size > 0 {
			time.Sleep(workerSettle)
			if p.Status() != StatusOffline && !p.Terminated() {
				p.printNextInQueue()
			}
		}
	}
}

// FindByID returns the live printer with the given id, or nil.
func (r *Registry) FindByID(id int64) *Printer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(id)
}

func (r *Registry) findLocked(id int64) *Printer {
	for _, p := range r.printers {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// Printers returns the workers' printers in registry order.
func (r *Registry) Printers() []*Printer {
	r.mu.Lock()
	defer r.mu.Unlock()
	printers := make([]*Printer, len(r.printers))
	copy(printers, r.printers)
	return printers
}

// Reset terminates the worker and rebuilds it from the same descriptor with
// a fresh queue.
func (r *Registry) Reset(id int64) error {
	return r.reset(id, false)
}

// ResetAndRestore terminates the worker and rebuilds it from the same
// descriptor, preserving the current queue.
func (r *Registry) ResetAndRestore(id int64) error {
	return r.reset(id, true)
}

func (r *Registry) reset(id int64, restore bool) error {
	r.mu.Lock()
	old := r.findLocked(id)
	if old == nil {
		r.mu.Unlock()
		return fmt.Errorf("fleet: printer %d not registered", id)
	}
	d := old.Descriptor()
	var queue *Queue
	if restore {
		queue = old.Queue()
	}
	old.Terminate()
	r.removeLocked(id)
	r.mu.Unlock()

	r.create(d, StatusConfiguring, queue)
	if r.deps.Log != nil {
		r.deps.Log.Info("Printer worker reset", "printer_id", id, "restore_queue", restore)
	}
	return nil
}

// Delete terminates and removes the worker for a deregistered printer.
func (r *Registry) Delete(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(id)
	if p == nil {
		return fmt.Errorf("fleet: printer %d not registered", id)
	}
	p.Terminate()
	r.removeLocked(id)
	return nil
}

func (r *Registry) removeLocked(id int64) {
	for i, p := range r.printers {
		if p.ID() == id {
			r.printers = append(r.printers[:i], r.printers[i+1:]...)
			return
		}
	}
}

// EditName renames the live printer; the store row is the caller's concern.
func (r *Registry) EditName(id int64, name string) error {
	p := r.FindByID(id)
	if p == nil {
		return fmt.Errorf("fleet: printer %d not registered", id)
	}
	p.SetName(name)
	return nil
}

// Reorder rebuilds the registry order to match ids. Unknown ids are
// skipped; printers not named keep their workers but drop off the list, so
// callers should always pass the complete set.
func (r *Registry) Reorder(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reordered := make([]*Printer, 0, len(r.printers))
	for _, id := range ids {
		if p := r.findLocked(id); p != nil {
			reordered = append(reordered, p)
		}
	}
	r.printers = reordered
}

// Snapshot produces the UI shape of every live printer with its embedded
// queue.
func (r *Registry) Snapshot() []map[string]interface{} {
	printers := r.Printers()
	snapshot := make([]map[string]interface{}, 0, len(printers))
	for _, p := range printers {
		d := p.Descriptor()
		snapshot = append(snapshot, map[string]interface{}{
			"id":                p.ID(),
			"device":            d.Device,
			"description":       d.Description,
			"hwid":              d.Hwid,
			"name":              d.Name,
			"status":            p.Status(),
			"error":             p.Error(),
			"canPause":          p.CanPause(),
			"queue":             p.Queue().Snapshot(),
			"colorChangeBuffer": p.ColorBuff(),
		})
	}
	return snapshot
}

// StopAll terminates every worker; used at shutdown.
func (r *Registry) StopAll() {
	for _, p := range r.Printers() {
		p.Terminate()
	}
}

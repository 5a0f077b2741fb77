package fleet

import "fmt"

// SmallestQueue returns the id of the printer whose queue currently holds
// the fewest jobs; ties break toward registry order. Auto-queued jobs land
// here.
func (r *Registry) SmallestQueue() (int64, error) {
	printers := r.Printers()
	if len(printers) == 0 {
		return 0, fmt.Errorf("fleet: no printers registered")
	}
	best := printers[0]
	bestSize := best.Queue().Size()
	for _, p := range printers[1:] {
		if size := p.Queue().Size(); size < bestSize {
			best, bestSize = p, size
		}
	}
	return best.ID(), nil
}

// PlaceJob enqueues a job on the printer's queue, at the front when the
// user prioritized it.
func PlaceJob(q *Queue, job *Job, priority bool) error {
	if priority {
		return q.AddToFront(job)
	}
	return q.AddToBack(job)
}

package kernel

// Scheduler is a strict FIFO ready-queue of actor ids. Enqueuing the same
// actor twice before it runs is idempotent: the readiness bit lives on the
// Actor itself (see Actor.ready), not in the queue, so a double-enqueue
// never produces a duplicate run.
type Scheduler struct {
	queue []ActorID
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Enqueue appends id to the tail of the ready queue. Callers are expected to
// have already checked (and set) the actor's readiness bit via
// Actor.TryMarkReady, which owns the no-double-enqueue invariant.
func (s *Scheduler) Enqueue(id ActorID) {
	s.queue = append(s.queue, id)
}

// Dequeue pops the head of the ready queue.
func (s *Scheduler) Dequeue() (ActorID, bool) {
	if len(s.queue) == 0 {
		return Invalid, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, true
}

// IsEmpty reports whether the ready queue has no runnable actors.
func (s *Scheduler) IsEmpty() bool { return len(s.queue) == 0 }

// Len reports how many actors are currently queued.
func (s *Scheduler) Len() int { return len(s.queue) }

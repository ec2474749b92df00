package replica

import "github.com/duskmere/paxokv/paxosproto"

// enqueue appends req to the pending-request queue and reports whether it
// is now the only entry (the caller should immediately start an accept
// round in that case). Callers must hold r.mu.
func (r *Replica) enqueue(req paxosproto.Message) bool {
	r.queue = append(r.queue, req)
	return len(r.queue) == 1
}

// dequeue pops and returns the oldest pending request. Callers must hold
// r.mu and must only call this when the queue is non-empty.
func (r *Replica) dequeue() paxosproto.Message {
	req := r.queue[0]
	r.queue = r.queue[1:]
	return req
}

// queueLen reports the number of pending requests. Callers must hold r.mu.
func (r *Replica) queueLen() int {
	return len(r.queue)
}

// peekFront returns the oldest pending request without removing it.
// Callers must hold r.mu and must only call this when the queue is
// non-empty.
func (r *Replica) peekFront() paxosproto.Message {
	return r.queue[0]
}

// QueueSnapshot returns a copy of the pending client requests, oldest
// first, for status/REPL reporting.
func (r *Replica) QueueSnapshot() []paxosproto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]paxosproto.Message, len(r.queue))
	copy(out, r.queue)
	return out
}

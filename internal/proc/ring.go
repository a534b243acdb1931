package proc

import "sync"

// Ring is a bounded, append-only line buffer with broadcast to live
// subscribers. Oldest lines are evicted once the capacity is reached.
// Subscribers that fall behind drop lines rather than block the pump.
type Ring struct {
	mu    sync.Mutex
	cap   int
	lines []string
	subs  map[int]chan string
	next  int
}

// NewRing creates a ring holding at most capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 400
	}
	return &Ring{cap: capacity, subs: make(map[int]chan string)}
}

// Append records one line and broadcasts it.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
	for _, ch := range r.subs {
		select {
		case ch <- line:
		default:
		}
	}
	r.mu.Unlock()
}

// Tail returns up to n of the most recent lines.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// Subscribe returns a channel receiving future lines and a cancel func.
func (r *Ring) Subscribe() (<-chan string, func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	ch := make(chan string, 64)
	r.subs[id] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
		r.mu.Unlock()
	}
}

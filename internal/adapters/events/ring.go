package events

import "github.com/eleven-am/conduit/internal/domain"

// ring is a fixed-size event buffer; the oldest event is overwritten.
type ring struct {
	buf   []domain.Event
	next  int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]domain.Event, size)}
}

func (r *ring) push(event domain.Event) {
	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) last(limit int) []domain.Event {
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]domain.Event, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

package events

import (
	"sync"

	"github.com/spec-kit/request-engine/internal/domain"
)

// Deduper drops redelivered events. Delivery is at-least-once, so consumers
// apply an event only when its sequence is newer than the last one seen for
// the same request.
type Deduper struct {
	mu   sync.Mutex
	last map[int64]int64
}

// NewDeduper builds an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{last: make(map[int64]int64)}
}

// Seen records event and reports whether it was already applied.
func (d *Deduper) Seen(event domain.LifecycleEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if event.Sequence <= d.last[event.RequestID] {
		return true
	}
	d.last[event.RequestID] = event.Sequence
	return false
}

// Forget drops the state kept for a request.
func (d *Deduper) Forget(requestID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, requestID)
}

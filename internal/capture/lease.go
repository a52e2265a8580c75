package capture

import "sync"

// Leases grants at most one holder per stream id.
type Leases struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLeases returns an empty lease table.
func NewLeases() *Leases {
	return &Leases{held: make(map[int64]struct{})}
}

// TryAcquire takes the lease for id without blocking. ok is false if it is
// already held. release is idempotent.
func (l *Leases) TryAcquire(id int64) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return nil, false
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, true
}

package settlement

import (
	"fmt"
	"sync"
)

// EscrowRegistry tracks live rental escrows by correlation key. It enforces
// the two per-escrow concurrency rules: a correlation key is never reused
// while its escrow is tracked, and at most one lifecycle operation per escrow
// is in flight at a time. Distinct escrows are fully independent and may be
// driven in parallel.
type EscrowRegistry struct {
	mu       sync.Mutex
	escrows  map[string]*RentalEscrow
	inFlight map[string]struct{}
}

// NewEscrowRegistry creates an empty registry.
func NewEscrowRegistry() *EscrowRegistry {
	return &EscrowRegistry{
		escrows:  make(map[string]*RentalEscrow),
		inFlight: make(map[string]struct{}),
	}
}

// Track registers a new escrow. The correlation key must not already be
// tracked.
func (r *EscrowRegistry) Track(escrow *RentalEscrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.escrows[escrow.CorrelationKey]; exists {
		return fmt.Errorf("correlation key %s is already tracked", escrow.CorrelationKey)
	}
	r.escrows[escrow.CorrelationKey] = escrow
	return nil
}

// Acquire marks a lifecycle operation on the escrow as in flight. It fails if
// another operation on the same escrow has not yet completed; the caller must
// not submit while one is outstanding.
func (r *EscrowRegistry) Acquire(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.inFlight[key]; busy {
		return fmt.Errorf("a lifecycle operation for %s is already in flight", key)
	}
	r.inFlight[key] = struct{}{}
	return nil
}

// Release clears the in-flight marker set by Acquire.
func (r *EscrowRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, key)
}

// Get returns a clone of the tracked escrow for a correlation key. Cloning
// happens under the registry mutex, so reads are safe while a lifecycle
// operation is mutating the escrow through Update.
func (r *EscrowRegistry) Get(key string) (*RentalEscrow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	escrow, ok := r.escrows[key]
	if !ok {
		return nil, false
	}
	return escrow.Clone(), true
}

// Update applies fn to the tracked escrow under the registry mutex. All
// mutation of a tracked escrow's fields must go through here; it is what makes
// Get and Snapshot safe to call from other goroutines. Reports whether the key
// was tracked.
func (r *EscrowRegistry) Update(key string, fn func(*RentalEscrow)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	escrow, ok := r.escrows[key]
	if !ok {
		return false
	}
	fn(escrow)
	return true
}

// Evict forgets a settled escrow once the caller has recorded its outcome, so
// a long-lived registry does not grow without bound. Only terminal escrows
// with no operation in flight may be evicted; the correlation key becomes
// reusable afterwards, which is safe precisely because the escrow is terminal.
func (r *EscrowRegistry) Evict(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	escrow, ok := r.escrows[key]
	if !ok {
		return fmt.Errorf("correlation key %s is not tracked", key)
	}
	if _, busy := r.inFlight[key]; busy {
		return fmt.Errorf("a lifecycle operation for %s is still in flight", key)
	}
	if !escrow.State.Terminal() {
		return fmt.Errorf("escrow %s is %s, not terminal", key, escrow.State)
	}
	delete(r.escrows, key)
	return nil
}

// Snapshot returns clones of all tracked escrows, for callers that report
// settlement outcomes back to the system of record.
func (r *EscrowRegistry) Snapshot() []*RentalEscrow {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*RentalEscrow, 0, len(r.escrows))
	for _, escrow := range r.escrows {
		out = append(out, escrow.Clone())
	}
	return out
}

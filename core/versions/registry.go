package versions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ProtocolVersion is one observed protocol deployment. Rows are created once
// per deployment transaction and never mutated or deleted.
type ProtocolVersion struct {
	TxHash             string
	Slot               uint64
	BlockHeight        uint64
	RegistryPolicyID   string
	BaseCredentialHash string
}

// Store abstracts the durable protocol_versions log consumed by the registry.
type Store interface {
	InsertVersion(ctx context.Context, v ProtocolVersion) (bool, error)
	Versions(ctx context.Context) ([]ProtocolVersion, error)
}

// snapshot is an immutable view published to readers as one piece. ordered is
// always sorted ascending by slot.
type snapshot struct {
	ordered  []ProtocolVersion
	byTxHash map[string]ProtocolVersion
}

var emptySnapshot = &snapshot{byTxHash: map[string]ProtocolVersion{}}

// Registry is the append-only catalogue of deployed protocol configurations.
// Readers always observe a fully formed snapshot; Save publishes a new one
// under the writer lock.
type Registry struct {
	store Store

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry constructs a registry bound to the provided storage backend.
func NewRegistry(store Store) *Registry {
	r := &Registry{store: store}
	r.snap.Store(emptySnapshot)
	return r
}

// Load rebuilds the in-memory view from durable history. Called once at
// process start; the store is the source of truth across restarts.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("version store not configured")
	}
	rows, err := r.store.Versions(ctx)
	if err != nil {
		return fmt.Errorf("load protocol versions: %w", err)
	}
	next := &snapshot{
		ordered:  make([]ProtocolVersion, len(rows)),
		byTxHash: make(map[string]ProtocolVersion, len(rows)),
	}
	copy(next.ordered, rows)
	sort.SliceStable(next.ordered, func(i, j int) bool {
		return next.ordered[i].Slot < next.ordered[j].Slot
	})
	for _, v := range next.ordered {
		next.byTxHash[v.TxHash] = v
	}
	r.mu.Lock()
	r.snap.Store(next)
	r.mu.Unlock()
	return nil
}

// Save records a deployment. The write is idempotent by transaction hash:
// observing the same deployment again returns the already stored entry and
// reports inserted=false. Out-of-slot-order arrivals are placed so the
// ordered view stays sorted ascending by slot.
func (r *Registry) Save(ctx context.Context, v ProtocolVersion) (ProtocolVersion, bool, error) {
	if v.TxHash == "" {
		return ProtocolVersion{}, false, fmt.Errorf("version transaction hash required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if existing, ok := cur.byTxHash[v.TxHash]; ok {
		return existing, false, nil
	}
	if r.store != nil {
		if _, err := r.store.InsertVersion(ctx, v); err != nil {
			return ProtocolVersion{}, false, fmt.Errorf("persist version: %w", err)
		}
	}

	at := sort.Search(len(cur.ordered), func(i int) bool {
		return cur.ordered[i].Slot > v.Slot
	})
	ordered := make([]ProtocolVersion, 0, len(cur.ordered)+1)
	ordered = append(ordered, cur.ordered[:at]...)
	ordered = append(ordered, v)
	ordered = append(ordered, cur.ordered[at:]...)
	byTxHash := make(map[string]ProtocolVersion, len(cur.byTxHash)+1)
	for k, val := range cur.byTxHash {
		byTxHash[k] = val
	}
	byTxHash[v.TxHash] = v
	r.snap.Store(&snapshot{ordered: ordered, byTxHash: byTxHash})
	return v, true, nil
}

// Latest returns the version with the greatest slot, or false when no
// deployment has been observed yet.
func (r *Registry) Latest() (ProtocolVersion, bool) {
	cur := r.snap.Load()
	if len(cur.ordered) == 0 {
		return ProtocolVersion{}, false
	}
	return cur.ordered[len(cur.ordered)-1], true
}

// ValidAtSlot returns the version governing the given slot: the entry with
// the greatest slot not exceeding the argument, scanning from the newest
// entry backward.
func (r *Registry) ValidAtSlot(slot uint64) (ProtocolVersion, bool) {
	cur := r.snap.Load()
	for i := len(cur.ordered) - 1; i >= 0; i-- {
		if cur.ordered[i].Slot <= slot {
			return cur.ordered[i], true
		}
	}
	return ProtocolVersion{}, false
}

// ByTxHash returns the version deployed by the given transaction.
func (r *Registry) ByTxHash(txHash string) (ProtocolVersion, bool) {
	cur := r.snap.Load()
	v, ok := cur.byTxHash[txHash]
	return v, ok
}

// BySlot returns the version deployed exactly at the given slot.
func (r *Registry) BySlot(slot uint64) (ProtocolVersion, bool) {
	cur := r.snap.Load()
	at := sort.Search(len(cur.ordered), func(i int) bool {
		return cur.ordered[i].Slot >= slot
	})
	if at < len(cur.ordered) && cur.ordered[at].Slot == slot {
		return cur.ordered[at], true
	}
	return ProtocolVersion{}, false
}

// All returns every known version ordered ascending by slot.
func (r *Registry) All() []ProtocolVersion {
	cur := r.snap.Load()
	out := make([]ProtocolVersion, len(cur.ordered))
	copy(out, cur.ordered)
	return out
}

// ByRegistryPolicy returns the version whose registry marker policy matches.
func (r *Registry) ByRegistryPolicy(policyID string) (ProtocolVersion, bool) {
	if policyID == "" {
		return ProtocolVersion{}, false
	}
	cur := r.snap.Load()
	for i := len(cur.ordered) - 1; i >= 0; i-- {
		if cur.ordered[i].RegistryPolicyID == policyID {
			return cur.ordered[i], true
		}
	}
	return ProtocolVersion{}, false
}

// TrackedCredentials returns the set of payment credentials belonging to any
// known deployment. Addresses carrying one of these credentials are the ones
// the balance ledger follows.
func (r *Registry) TrackedCredentials() map[string]struct{} {
	cur := r.snap.Load()
	out := make(map[string]struct{}, len(cur.ordered))
	for _, v := range cur.ordered {
		if v.BaseCredentialHash != "" {
			out[v.BaseCredentialHash] = struct{}{}
		}
	}
	return out
}

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ledgersync/core/events"
)

// NodeRecord is one observed on-chain state of a registry list node. The log
// is append-only: every state a key has held is a distinct row, including the
// tombstone rows appended when a removal is inferred.
type NodeRecord struct {
	Key               string
	Next              string
	TransferLogic     string
	ThirdPartyLogic   string
	ProtocolVersionTx string
	TxHash            string
	Slot              uint64
	BlockHeight       uint64
	Deleted           bool
}

// Store abstracts the durable registry_log consumed by the mirror.
type Store interface {
	InsertNode(ctx context.Context, rec NodeRecord) (bool, error)
	Nodes(ctx context.Context) ([]NodeRecord, error)
}

// Mirror maintains, per protocol version, the latest known state of every
// registry list key alongside the durable append-only log.
type Mirror struct {
	store   Store
	emitter events.Emitter
	log     *slog.Logger

	mu     sync.RWMutex
	latest map[string]map[string]NodeRecord // version tx -> key -> latest row
}

// NewMirror constructs a mirror bound to the provided storage backend.
func NewMirror(store Store, emitter events.Emitter, log *slog.Logger) *Mirror {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		store:   store,
		emitter: emitter,
		log:     log,
		latest:  make(map[string]map[string]NodeRecord),
	}
}

// Load rebuilds the latest-per-key view by folding the durable log in its
// original insertion order.
func (m *Mirror) Load(ctx context.Context) error {
	if m.store == nil {
		return fmt.Errorf("registry store not configured")
	}
	rows, err := m.store.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("load registry log: %w", err)
	}
	latest := make(map[string]map[string]NodeRecord)
	for _, rec := range rows {
		perVersion, ok := latest[rec.ProtocolVersionTx]
		if !ok {
			perVersion = make(map[string]NodeRecord)
			latest[rec.ProtocolVersionTx] = perVersion
		}
		perVersion[rec.Key] = rec
	}
	m.mu.Lock()
	m.latest = latest
	m.mu.Unlock()
	return nil
}

// Apply folds one observed node state into the mirror. The insert is
// content-addressed and idempotent: re-observing the same (version, key,
// transaction) appends nothing. When the observation rewrites an active
// node's successor pointer, a tombstone row is appended for every key the
// rewrite implicitly unlinked, stamped with the rewrite's transaction, slot
// and height.
//
// Unlink inference runs even when the node row itself was a duplicate. The
// row and its tombstones are separate inserts, so a crash between them
// leaves the unlinked keys active in the durable log, and the redelivered
// rewrite is the only chance to finish them. The old successor is therefore
// derived from the live active-key set rather than the node's previous row,
// which after a reload already carries the rewritten pointer. Tombstone rows
// are themselves content-addressed, so the recomputation appends nothing
// once the chain is consistent.
func (m *Mirror) Apply(ctx context.Context, rec NodeRecord) error {
	if rec.ProtocolVersionTx == "" {
		return fmt.Errorf("node record missing protocol version")
	}
	if rec.TxHash == "" {
		return fmt.Errorf("node record missing transaction hash")
	}
	inserted := true
	if m.store != nil {
		var err error
		inserted, err = m.store.InsertNode(ctx, rec)
		if err != nil {
			return fmt.Errorf("persist node record: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	perVersion, ok := m.latest[rec.ProtocolVersionTx]
	if !ok {
		perVersion = make(map[string]NodeRecord)
		m.latest[rec.ProtocolVersionTx] = perVersion
	}

	prev, hadPrev := perVersion[rec.Key]
	if inserted {
		perVersion[rec.Key] = rec
		if !rec.Deleted && rec.Key != SentinelKey && (!hadPrev || prev.Deleted) {
			m.emitter.Emit(events.TokenRegistered{
				PolicyID:          rec.Key,
				ProtocolVersionTx: rec.ProtocolVersionTx,
				TxHash:            rec.TxHash,
				Slot:              rec.Slot,
			})
		}
	} else if !hadPrev || prev.TxHash != rec.TxHash {
		// A redelivered row superseded by a newer observation of the same
		// key must not re-run inference against the current chain.
		return nil
	}

	if rec.Deleted || perVersion[rec.Key].Deleted {
		return nil
	}

	oldNext := activeSuccessorLocked(perVersion, rec.Key)
	for _, orphan := range Orphans(oldNext, rec.Next, activeKeysLocked(perVersion)) {
		if orphan == rec.Key {
			continue
		}
		tombstone := perVersion[orphan]
		tombstone.TxHash = rec.TxHash
		tombstone.Slot = rec.Slot
		tombstone.BlockHeight = rec.BlockHeight
		tombstone.Deleted = true
		tombstoned := true
		if m.store != nil {
			var err error
			tombstoned, err = m.store.InsertNode(ctx, tombstone)
			if err != nil {
				return fmt.Errorf("persist tombstone %s: %w", orphan, err)
			}
		}
		perVersion[orphan] = tombstone
		if !tombstoned {
			continue
		}
		m.log.Info("registry node unlinked",
			"key", orphan,
			"version", rec.ProtocolVersionTx,
			"txHash", rec.TxHash,
			"slot", rec.Slot)
		m.emitter.Emit(events.TokenDelisted{
			PolicyID:          orphan,
			ProtocolVersionTx: rec.ProtocolVersionTx,
			TxHash:            rec.TxHash,
			Slot:              rec.Slot,
		})
	}
	return nil
}

// RegisteredTokens returns the latest state of every still-active,
// non-sentinel key for the version, ordered by key.
func (m *Mirror) RegisteredTokens(versionTx string) []NodeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perVersion := m.latest[versionTx]
	out := make([]NodeRecord, 0, len(perVersion))
	for key, rec := range perVersion {
		if rec.Deleted || key == SentinelKey {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AllNodes returns the latest state of every key for the version without the
// active/sentinel filters, for diagnostics.
func (m *Mirror) AllNodes(versionTx string) []NodeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perVersion := m.latest[versionTx]
	out := make([]NodeRecord, 0, len(perVersion))
	for _, rec := range perVersion {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IsRegistered reports whether the policy is an active, non-sentinel key
// under any protocol version.
func (m *Mirror) IsRegistered(policyID string) bool {
	if policyID == SentinelKey {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, perVersion := range m.latest {
		if rec, ok := perVersion[policyID]; ok && !rec.Deleted {
			return true
		}
	}
	return false
}

// ActiveKeys returns the keys of every non-deleted node for the version,
// including the sentinel, sorted ascending. Exposed for invariant checks.
func (m *Mirror) ActiveKeys(versionTx string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := activeKeysLocked(m.latest[versionTx])
	sort.Strings(keys)
	return keys
}

// activeSuccessorLocked returns the smallest active non-sentinel key
// strictly greater than key, or the sentinel when the chain wraps back.
func activeSuccessorLocked(perVersion map[string]NodeRecord, key string) string {
	next := SentinelKey
	for k, rec := range perVersion {
		if rec.Deleted || k == SentinelKey || k <= key {
			continue
		}
		if next == SentinelKey || k < next {
			next = k
		}
	}
	return next
}

func activeKeysLocked(perVersion map[string]NodeRecord) []string {
	keys := make([]string, 0, len(perVersion))
	for key, rec := range perVersion {
		if rec.Deleted {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

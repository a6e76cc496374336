package balances

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"ledgersync/core/events"
)

// Kind labels the best-effort classification of a balance change.
type Kind string

const (
	KindTransfer Kind = "TRANSFER"
	KindMint     Kind = "MINT"
	KindBurn     Kind = "BURN"
)

// Row is one append-only balance log entry. Rows are unique by
// (Address, TxHash); Snapshot is the authoritative running balance and must
// equal the previous row's snapshot plus Diff.
type Row struct {
	Address           string
	PaymentCredential string
	StakeCredential   string
	TxHash            string
	Slot              uint64
	BlockHeight       uint64
	Snapshot          map[string]*big.Int
	Diff              map[string]*big.Int
	Kind              Kind
}

// Store abstracts the durable balance_log consumed by the ledger.
type Store interface {
	InsertBalance(ctx context.Context, row Row) (bool, error)
	Balances(ctx context.Context) ([]Row, error)
}

// Ledger maintains the per-address multi-asset balance log for tracked
// addresses, holding the latest row per address in memory.
type Ledger struct {
	store   Store
	emitter events.Emitter
	log     *slog.Logger

	mu     sync.RWMutex
	latest map[string]Row
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Store, emitter events.Emitter, log *slog.Logger) *Ledger {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:   store,
		emitter: emitter,
		log:     log,
		latest:  make(map[string]Row),
	}
}

// Load rebuilds the latest-per-address view by folding the durable log in
// slot order.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("balance store not configured")
	}
	rows, err := l.store.Balances(ctx)
	if err != nil {
		return fmt.Errorf("load balance log: %w", err)
	}
	latest := make(map[string]Row)
	for _, row := range rows {
		latest[row.Address] = row
	}
	l.mu.Lock()
	l.latest = latest
	l.mu.Unlock()
	return nil
}

// Append records one transaction's net effect on an address. The snapshot is
// derived here: previous balance plus diff, with absent units treated as
// zero and exhausted units dropped. A duplicate (address, transaction)
// observation is a no-op, supporting at-least-once redelivery.
func (l *Ledger) Append(ctx context.Context, row Row) error {
	if row.Address == "" {
		return fmt.Errorf("balance row missing address")
	}
	if row.TxHash == "" {
		return fmt.Errorf("balance row missing transaction hash")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.latest[row.Address].Snapshot
	row.Snapshot = AddMaps(prev, row.Diff)

	inserted := true
	if l.store != nil {
		var err error
		inserted, err = l.store.InsertBalance(ctx, row)
		if err != nil {
			return fmt.Errorf("persist balance row: %w", err)
		}
	}
	if !inserted {
		return nil
	}
	l.latest[row.Address] = row
	l.emitter.Emit(events.BalanceChanged{
		Address: row.Address,
		TxHash:  row.TxHash,
		Slot:    row.Slot,
		Kind:    string(row.Kind),
		Diff:    CopyMap(row.Diff),
	})
	return nil
}

// PreviousBalance returns the snapshot of the latest existing row for the
// address, or an empty map if none exists yet.
func (l *Ledger) PreviousBalance(address string) map[string]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CopyMap(l.latest[address].Snapshot)
}

// CurrentBalance is the query-surface name for the latest snapshot.
func (l *Ledger) CurrentBalance(address string) map[string]*big.Int {
	return l.PreviousBalance(address)
}

// AddMaps returns a new map holding the per-unit integer sum of the two
// operands, dropping units whose sum is zero.
func AddMaps(a, b map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(a)+len(b))
	for unit, amount := range a {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out[unit] = new(big.Int).Set(amount)
	}
	for unit, amount := range b {
		if amount == nil {
			continue
		}
		sum, ok := out[unit]
		if !ok {
			sum = new(big.Int)
			out[unit] = sum
		}
		sum.Add(sum, amount)
		if sum.Sign() == 0 {
			delete(out, unit)
		}
	}
	return out
}

// CopyMap deep-copies a unit amount map.
func CopyMap(m map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(m))
	for unit, amount := range m {
		if amount == nil {
			continue
		}
		out[unit] = new(big.Int).Set(amount)
	}
	return out
}

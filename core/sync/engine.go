package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	stdsync "sync"
	"time"

	"ledgersync/core/balances"
	"ledgersync/core/chain"
	"ledgersync/core/datum"
	"ledgersync/core/events"
	"ledgersync/core/registry"
	"ledgersync/core/utxo"
	"ledgersync/core/versions"
	"ledgersync/observability"
)

// CursorStore persists the last fully processed batch position so restarts
// resume where they left off and ordering regressions stay detectable.
type CursorStore interface {
	Cursor(ctx context.Context) (slot, height uint64, ok bool, err error)
	SaveCursor(ctx context.Context, slot, height uint64) error
}

// Config wires the engine's collaborators.
type Config struct {
	Versions *versions.Registry
	Registry *registry.Mirror
	Balances *balances.Ledger
	Utxos    utxo.Index
	Cursor   CursorStore
	Emitter  events.Emitter
	Log      *slog.Logger
	Metrics  *observability.SyncMetrics
}

// Engine folds ordered batches of block effects into the three derived logs.
// One batch is processed at a time; a batch fully finishes before the next
// one starts so slot-based lookups stay consistent.
type Engine struct {
	versions *versions.Registry
	registry *registry.Mirror
	balances *balances.Ledger
	utxos    utxo.Index
	cursor   CursorStore
	emitter  events.Emitter
	log      *slog.Logger
	metrics  *observability.SyncMetrics

	mu        stdsync.Mutex
	lastSlot  uint64
	hasCursor bool
}

// NewEngine constructs the engine from its collaborators.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Versions == nil || cfg.Registry == nil || cfg.Balances == nil {
		return nil, fmt.Errorf("engine requires version registry, token mirror and balance ledger")
	}
	if cfg.Utxos == nil {
		return nil, fmt.Errorf("engine requires a utxo index")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Engine{
		versions: cfg.Versions,
		registry: cfg.Registry,
		balances: cfg.Balances,
		utxos:    cfg.Utxos,
		cursor:   cfg.Cursor,
		emitter:  cfg.Emitter,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}, nil
}

// Load rebuilds every in-memory view from durable history. Nothing is
// expected to survive in memory across a restart.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.versions.Load(ctx); err != nil {
		return err
	}
	if err := e.registry.Load(ctx); err != nil {
		return err
	}
	if err := e.balances.Load(ctx); err != nil {
		return err
	}
	if e.cursor != nil {
		slot, _, ok, err := e.cursor.Cursor(ctx)
		if err != nil {
			return fmt.Errorf("load sync cursor: %w", err)
		}
		e.mu.Lock()
		e.lastSlot = slot
		e.hasCursor = ok
		e.mu.Unlock()
	}
	return nil
}

// LastSlot returns the slot of the most recently completed batch.
func (e *Engine) LastSlot() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSlot, e.hasCursor
}

// ProcessBatch folds one batch. The protocol version catalogue is updated
// first so the registry and balance folds know which policies and
// credentials to watch. Individual output failures are logged and skipped;
// they never abort the remainder of the batch.
func (e *Engine) ProcessBatch(ctx context.Context, b chain.Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.hasCursor && b.Slot <= e.lastSlot {
		e.metrics.OrderingViolation()
		e.log.Error("batch slot not increasing, upstream ordering bug suspected",
			"slot", b.Slot,
			"lastSlot", e.lastSlot,
			"blockHeight", b.BlockHeight)
	}

	e.foldVersions(ctx, b)
	tracked := e.versions.TrackedCredentials()
	e.foldRegistry(ctx, b)
	e.foldBalances(ctx, b, tracked)

	// A violating batch is still folded, but the durable cursor only ever
	// moves forward so restarts keep detecting regressions.
	if advanced := !e.hasCursor || b.Slot > e.lastSlot; advanced {
		if e.cursor != nil {
			if err := e.cursor.SaveCursor(ctx, b.Slot, b.BlockHeight); err != nil {
				return fmt.Errorf("save sync cursor: %w", err)
			}
		}
		e.lastSlot = b.Slot
		e.hasCursor = true
	}
	e.metrics.ObserveBatch(b.Slot, time.Since(start))
	return nil
}

// foldVersions catalogues every deployment output observed in the batch.
func (e *Engine) foldVersions(ctx context.Context, b chain.Batch) {
	for _, tx := range b.Txs {
		for _, out := range tx.Outputs {
			if len(out.Datum) == 0 {
				continue
			}
			params, ok := datum.DecodeProtocolParams(out.Datum)
			if !ok {
				continue
			}
			v := versions.ProtocolVersion{
				TxHash:             tx.Hash,
				Slot:               b.Slot,
				BlockHeight:        b.BlockHeight,
				RegistryPolicyID:   params.RegistryPolicyID,
				BaseCredentialHash: params.BaseCredentialHash,
			}
			saved, inserted, err := e.versions.Save(ctx, v)
			if err != nil {
				e.log.Error("save protocol version", "txHash", tx.Hash, "error", err)
				continue
			}
			if inserted {
				e.metrics.RowAppended("protocol_versions")
				e.log.Info("protocol version observed",
					"txHash", saved.TxHash,
					"slot", saved.Slot,
					"registryPolicy", saved.RegistryPolicyID)
				e.emitter.Emit(events.VersionObserved{
					TxHash:           saved.TxHash,
					Slot:             saved.Slot,
					RegistryPolicyID: saved.RegistryPolicyID,
				})
			}
		}
	}
}

// foldRegistry mirrors every output carrying a registry marker token.
func (e *Engine) foldRegistry(ctx context.Context, b chain.Batch) {
	for _, tx := range b.Txs {
		for _, out := range tx.Outputs {
			version, marked := e.markerVersion(out)
			if !marked {
				continue
			}
			node, ok := datum.DecodeRegistryNode(out.Datum)
			if !ok {
				e.metrics.DecodeFailure("registry_node")
				e.log.Warn("registry-marked output with undecodable datum, skipping",
					"txHash", tx.Hash,
					"slot", b.Slot)
				continue
			}
			rec := registry.NodeRecord{
				Key:               node.Key,
				Next:              node.Next,
				TransferLogic:     node.TransferLogic,
				ThirdPartyLogic:   node.ThirdPartyLogic,
				ProtocolVersionTx: version.TxHash,
				TxHash:            tx.Hash,
				Slot:              b.Slot,
				BlockHeight:       b.BlockHeight,
			}
			if err := e.registry.Apply(ctx, rec); err != nil {
				e.log.Error("apply registry node", "key", rec.Key, "txHash", tx.Hash, "error", err)
				continue
			}
			e.metrics.RowAppended("registry_log")
		}
	}
}

// markerVersion reports whether the output carries a marker token of any
// known deployment's registry policy.
func (e *Engine) markerVersion(out chain.Output) (versions.ProtocolVersion, bool) {
	for _, amount := range out.Amounts {
		policy := chain.PolicyOf(amount.Unit)
		if policy == "" {
			continue
		}
		if v, ok := e.versions.ByRegistryPolicy(policy); ok {
			return v, true
		}
	}
	return versions.ProtocolVersion{}, false
}

// addressEffect accumulates a transaction's net change on one address.
type addressEffect struct {
	payment string
	stake   string
	diff    map[string]*big.Int
}

// foldBalances computes each transaction's net effect on tracked addresses
// and appends the resulting balance rows. Outputs are recorded in the utxo
// index as they are seen so later transactions, including later ones in the
// same batch, can resolve their spends.
func (e *Engine) foldBalances(ctx context.Context, b chain.Batch, tracked map[string]struct{}) {
	for _, tx := range b.Txs {
		effects := make(map[string]*addressEffect)

		for _, in := range tx.Inputs {
			entry, err := e.utxos.Lookup(ctx, in.TxHash, in.Index)
			if err != nil {
				if errors.Is(err, utxo.ErrNotFound) {
					e.metrics.LookupMiss()
					e.log.Warn("spent input not found in utxo index, treating as zero",
						"txHash", in.TxHash,
						"index", in.Index,
						"spendingTx", tx.Hash)
				} else {
					e.log.Error("utxo lookup", "txHash", in.TxHash, "index", in.Index, "error", err)
				}
				continue
			}
			if _, ok := tracked[entry.PaymentCredential]; !ok {
				continue
			}
			effect := ensureEffect(effects, entry.Address, entry.PaymentCredential, entry.StakeCredential)
			for _, amount := range entry.Amounts {
				subUnit(effect.diff, amount)
			}
		}

		for i, out := range tx.Outputs {
			if err := e.utxos.Record(ctx, tx.Hash, uint32(i), utxo.Entry{
				Address:           out.Address,
				PaymentCredential: out.PaymentCredential,
				StakeCredential:   out.StakeCredential,
				Amounts:           out.Amounts,
			}); err != nil {
				e.log.Error("record output", "txHash", tx.Hash, "index", i, "error", err)
			}
			if _, ok := tracked[out.PaymentCredential]; !ok {
				continue
			}
			effect := ensureEffect(effects, out.Address, out.PaymentCredential, out.StakeCredential)
			for _, amount := range out.Amounts {
				addUnit(effect.diff, amount)
			}
		}

		addresses := make([]string, 0, len(effects))
		for address := range effects {
			addresses = append(addresses, address)
		}
		sort.Strings(addresses)
		for _, address := range addresses {
			effect := effects[address]
			pruneZero(effect.diff)
			if len(effect.diff) == 0 {
				continue
			}
			row := balances.Row{
				Address:           address,
				PaymentCredential: effect.payment,
				StakeCredential:   effect.stake,
				TxHash:            tx.Hash,
				Slot:              b.Slot,
				BlockHeight:       b.BlockHeight,
				Diff:              effect.diff,
				Kind:              balances.Classify(tx.Mint, effect.diff),
			}
			if err := e.balances.Append(ctx, row); err != nil {
				e.log.Error("append balance row", "address", address, "txHash", tx.Hash, "error", err)
				continue
			}
			e.metrics.RowAppended("balance_log")
		}
	}
}

func ensureEffect(effects map[string]*addressEffect, address, payment, stake string) *addressEffect {
	effect, ok := effects[address]
	if !ok {
		effect = &addressEffect{payment: payment, stake: stake, diff: make(map[string]*big.Int)}
		effects[address] = effect
	}
	return effect
}

func addUnit(diff map[string]*big.Int, amount chain.AssetDelta) {
	if amount.Quantity == nil {
		return
	}
	cur, ok := diff[amount.Unit]
	if !ok {
		cur = new(big.Int)
		diff[amount.Unit] = cur
	}
	cur.Add(cur, amount.Quantity)
}

func subUnit(diff map[string]*big.Int, amount chain.AssetDelta) {
	if amount.Quantity == nil {
		return
	}
	cur, ok := diff[amount.Unit]
	if !ok {
		cur = new(big.Int)
		diff[amount.Unit] = cur
	}
	cur.Sub(cur, amount.Quantity)
}

func pruneZero(diff map[string]*big.Int) {
	for unit, amount := range diff {
		if amount == nil || amount.Sign() == 0 {
			delete(diff, unit)
		}
	}
}

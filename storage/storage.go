package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	_ "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"

	"ledgersync/core/balances"
	"ledgersync/core/chain"
	"ledgersync/core/registry"
	"ledgersync/core/utxo"
	"ledgersync/core/versions"
)

// Store wraps the ledgersync persistence layer: the three append-only derived
// logs, the utxo point-lookup table and the sync cursor.
type Store struct {
	db     *sql.DB
	driver string
}

var (
	// ErrDSNRequired is returned when the backing store DSN is missing.
	ErrDSNRequired = errors.New("storage dsn must be configured")

	// ErrUnsupportedDriver is returned for drivers other than sqlite and
	// postgres.
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// DriverSqlite and DriverPostgres name the supported backends.
const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open initialises the backing store and applies the schema.
func Open(driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSqlite
	}
	if driver != DriverSqlite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDSNRequired
	}
	db, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	schema := schemaSqlite
	if driver == DriverPostgres {
		schema = schemaPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to the postgres $n form when needed.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertVersion appends a protocol version row. The insert is idempotent by
// transaction hash; inserted reports whether a new row was written.
func (s *Store) InsertVersion(ctx context.Context, v versions.ProtocolVersion) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("storage not configured")
	}
	result, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO protocol_versions(tx_hash, slot, block_height, registry_policy_id, base_credential)
        VALUES(?, ?, ?, ?, ?)
        ON CONFLICT(tx_hash) DO NOTHING
    `), v.TxHash, v.Slot, v.BlockHeight, v.RegistryPolicyID, v.BaseCredentialHash)
	if err != nil {
		return false, fmt.Errorf("insert protocol version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected != 0, nil
}

// Versions returns every protocol version ordered ascending by slot.
func (s *Store) Versions(ctx context.Context) ([]versions.ProtocolVersion, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT tx_hash, slot, block_height, registry_policy_id, base_credential
        FROM protocol_versions
        ORDER BY slot ASC, tx_hash ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query protocol versions: %w", err)
	}
	defer rows.Close()
	out := make([]versions.ProtocolVersion, 0)
	for rows.Next() {
		var v versions.ProtocolVersion
		if err := rows.Scan(&v.TxHash, &v.Slot, &v.BlockHeight, &v.RegistryPolicyID, &v.BaseCredentialHash); err != nil {
			return nil, fmt.Errorf("scan protocol version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protocol versions: %w", err)
	}
	return out, nil
}

// InsertNode appends one registry log row, idempotent by the row's natural
// key (version, key, transaction, tombstone flag).
func (s *Store) InsertNode(ctx context.Context, rec registry.NodeRecord) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("storage not configured")
	}
	result, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO registry_log(version_tx, node_key, next_key, transfer_logic, third_party_logic, tx_hash, slot, block_height, deleted)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(version_tx, node_key, tx_hash, deleted) DO NOTHING
    `), rec.ProtocolVersionTx, rec.Key, rec.Next, rec.TransferLogic, rec.ThirdPartyLogic, rec.TxHash, rec.Slot, rec.BlockHeight, rec.Deleted)
	if err != nil {
		return false, fmt.Errorf("insert registry row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected != 0, nil
}

// Nodes returns the full registry log in insertion order.
func (s *Store) Nodes(ctx context.Context) ([]registry.NodeRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT version_tx, node_key, next_key, transfer_logic, third_party_logic, tx_hash, slot, block_height, deleted
        FROM registry_log
        ORDER BY id ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query registry log: %w", err)
	}
	defer rows.Close()
	out := make([]registry.NodeRecord, 0)
	for rows.Next() {
		var rec registry.NodeRecord
		if err := rows.Scan(&rec.ProtocolVersionTx, &rec.Key, &rec.Next, &rec.TransferLogic, &rec.ThirdPartyLogic, &rec.TxHash, &rec.Slot, &rec.BlockHeight, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry log: %w", err)
	}
	return out, nil
}

// InsertBalance appends one balance log row, idempotent by (address, tx).
func (s *Store) InsertBalance(ctx context.Context, row balances.Row) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("storage not configured")
	}
	snapshot, err := encodeAmountMap(row.Snapshot)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}
	diff, err := encodeAmountMap(row.Diff)
	if err != nil {
		return false, fmt.Errorf("encode diff: %w", err)
	}
	result, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO balance_log(address, payment_credential, stake_credential, tx_hash, slot, block_height, snapshot, diff, kind)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(address, tx_hash) DO NOTHING
    `), row.Address, row.PaymentCredential, row.StakeCredential, row.TxHash, row.Slot, row.BlockHeight, snapshot, diff, string(row.Kind))
	if err != nil {
		return false, fmt.Errorf("insert balance row: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected != 0, nil
}

// Balances returns the full balance log ordered by slot then insertion.
func (s *Store) Balances(ctx context.Context) ([]balances.Row, error) {
	return s.queryBalances(ctx, `
        SELECT address, payment_credential, stake_credential, tx_hash, slot, block_height, snapshot, diff, kind
        FROM balance_log
        ORDER BY slot ASC, id ASC
    `)
}

// BalanceHistory returns up to limit rows for the address, newest first.
func (s *Store) BalanceHistory(ctx context.Context, address string, limit int) ([]balances.Row, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryBalances(ctx, `
        SELECT address, payment_credential, stake_credential, tx_hash, slot, block_height, snapshot, diff, kind
        FROM balance_log
        WHERE address = ?
        ORDER BY slot DESC, id DESC
        LIMIT ?
    `, address, limit)
}

// BalancesByTransaction returns every balance row the transaction produced.
func (s *Store) BalancesByTransaction(ctx context.Context, txHash string) ([]balances.Row, error) {
	return s.queryBalances(ctx, `
        SELECT address, payment_credential, stake_credential, tx_hash, slot, block_height, snapshot, diff, kind
        FROM balance_log
        WHERE tx_hash = ?
        ORDER BY address ASC
    `, txHash)
}

func (s *Store) queryBalances(ctx context.Context, query string, args ...interface{}) ([]balances.Row, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query balance log: %w", err)
	}
	defer rows.Close()
	out := make([]balances.Row, 0)
	for rows.Next() {
		var row balances.Row
		var snapshot, diff, kind string
		if err := rows.Scan(&row.Address, &row.PaymentCredential, &row.StakeCredential, &row.TxHash, &row.Slot, &row.BlockHeight, &snapshot, &diff, &kind); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		if row.Snapshot, err = decodeAmountMap(snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		if row.Diff, err = decodeAmountMap(diff); err != nil {
			return nil, fmt.Errorf("decode diff: %w", err)
		}
		row.Kind = balances.Kind(kind)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance log: %w", err)
	}
	return out, nil
}

// Record stores the value carried by a produced output for later spend
// resolution. Re-recording the same outpoint is a no-op.
func (s *Store) Record(ctx context.Context, txHash string, index uint32, entry utxo.Entry) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	amounts, err := encodeAmounts(entry.Amounts)
	if err != nil {
		return fmt.Errorf("encode amounts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO utxo_index(tx_hash, output_index, address, payment_credential, stake_credential, amounts)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(tx_hash, output_index) DO NOTHING
    `), txHash, index, entry.Address, entry.PaymentCredential, entry.StakeCredential, amounts); err != nil {
		return fmt.Errorf("insert utxo: %w", err)
	}
	return nil
}

// Lookup resolves the value of a previously recorded output.
func (s *Store) Lookup(ctx context.Context, txHash string, index uint32) (utxo.Entry, error) {
	var entry utxo.Entry
	if s == nil {
		return entry, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
        SELECT address, payment_credential, stake_credential, amounts
        FROM utxo_index
        WHERE tx_hash = ? AND output_index = ?
    `), txHash, index)
	var amounts string
	if err := row.Scan(&entry.Address, &entry.PaymentCredential, &entry.StakeCredential, &amounts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, utxo.ErrNotFound
		}
		return entry, fmt.Errorf("query utxo: %w", err)
	}
	decoded, err := decodeAmounts(amounts)
	if err != nil {
		return entry, fmt.Errorf("decode amounts: %w", err)
	}
	entry.Amounts = decoded
	return entry, nil
}

// Cursor returns the last fully processed batch position.
func (s *Store) Cursor(ctx context.Context) (uint64, uint64, bool, error) {
	if s == nil {
		return 0, 0, false, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
        SELECT slot, block_height FROM sync_cursor WHERE id = ?
    `), cursorID)
	var slot, height uint64
	if err := row.Scan(&slot, &height); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("query cursor: %w", err)
	}
	return slot, height, true, nil
}

// SaveCursor upserts the last fully processed batch position.
func (s *Store) SaveCursor(ctx context.Context, slot, height uint64) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`
        INSERT INTO sync_cursor(id, slot, block_height)
        VALUES(?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            slot=excluded.slot,
            block_height=excluded.block_height
    `), cursorID, slot, height); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

const cursorID = "head"

func encodeAmountMap(m map[string]*big.Int) (string, error) {
	flat := make(map[string]string, len(m))
	for unit, amount := range m {
		if amount == nil {
			continue
		}
		flat[unit] = amount.String()
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAmountMap(raw string) (map[string]*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]*big.Int{}, nil
	}
	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, err
	}
	out := make(map[string]*big.Int, len(flat))
	for unit, stored := range flat {
		amount, ok := new(big.Int).SetString(stored, 10)
		if !ok {
			return nil, fmt.Errorf("parse amount %q", stored)
		}
		out[unit] = amount
	}
	return out, nil
}

func encodeAmounts(deltas []chain.AssetDelta) (string, error) {
	flat := make([]struct {
		Unit     string `json:"unit"`
		Quantity string `json:"quantity"`
	}, 0, len(deltas))
	for _, delta := range deltas {
		quantity := "0"
		if delta.Quantity != nil {
			quantity = delta.Quantity.String()
		}
		flat = append(flat, struct {
			Unit     string `json:"unit"`
			Quantity string `json:"quantity"`
		}{Unit: delta.Unit, Quantity: quantity})
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAmounts(raw string) ([]chain.AssetDelta, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var flat []struct {
		Unit     string `json:"unit"`
		Quantity string `json:"quantity"`
	}
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, err
	}
	out := make([]chain.AssetDelta, 0, len(flat))
	for _, item := range flat {
		quantity, ok := new(big.Int).SetString(item.Quantity, 10)
		if !ok {
			return nil, fmt.Errorf("parse quantity %q", item.Quantity)
		}
		out = append(out, chain.AssetDelta{Unit: item.Unit, Quantity: quantity})
	}
	return out, nil
}

const schemaSqlite = `
CREATE TABLE IF NOT EXISTS protocol_versions (
    tx_hash TEXT PRIMARY KEY,
    slot INTEGER NOT NULL,
    block_height INTEGER NOT NULL,
    registry_policy_id TEXT NOT NULL,
    base_credential TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_protocol_versions_slot ON protocol_versions(slot);

CREATE TABLE IF NOT EXISTS registry_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version_tx TEXT NOT NULL,
    node_key TEXT NOT NULL,
    next_key TEXT NOT NULL,
    transfer_logic TEXT NOT NULL,
    third_party_logic TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    slot INTEGER NOT NULL,
    block_height INTEGER NOT NULL,
    deleted BOOLEAN NOT NULL,
    UNIQUE(version_tx, node_key, tx_hash, deleted)
);
CREATE INDEX IF NOT EXISTS idx_registry_log_version_key ON registry_log(version_tx, node_key, id);

CREATE TABLE IF NOT EXISTS balance_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    address TEXT NOT NULL,
    payment_credential TEXT NOT NULL,
    stake_credential TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    slot INTEGER NOT NULL,
    block_height INTEGER NOT NULL,
    snapshot TEXT NOT NULL,
    diff TEXT NOT NULL,
    kind TEXT NOT NULL,
    UNIQUE(address, tx_hash)
);
CREATE INDEX IF NOT EXISTS idx_balance_log_address_slot ON balance_log(address, slot);
CREATE INDEX IF NOT EXISTS idx_balance_log_tx ON balance_log(tx_hash);

CREATE TABLE IF NOT EXISTS utxo_index (
    tx_hash TEXT NOT NULL,
    output_index INTEGER NOT NULL,
    address TEXT NOT NULL,
    payment_credential TEXT NOT NULL,
    stake_credential TEXT NOT NULL,
    amounts TEXT NOT NULL,
    PRIMARY KEY (tx_hash, output_index)
);

CREATE TABLE IF NOT EXISTS sync_cursor (
    id TEXT PRIMARY KEY,
    slot INTEGER NOT NULL,
    block_height INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS protocol_versions (
    tx_hash TEXT PRIMARY KEY,
    slot BIGINT NOT NULL,
    block_height BIGINT NOT NULL,
    registry_policy_id TEXT NOT NULL,
    base_credential TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_protocol_versions_slot ON protocol_versions(slot);

CREATE TABLE IF NOT EXISTS registry_log (
    id BIGSERIAL PRIMARY KEY,
    version_tx TEXT NOT NULL,
    node_key TEXT NOT NULL,
    next_key TEXT NOT NULL,
    transfer_logic TEXT NOT NULL,
    third_party_logic TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    slot BIGINT NOT NULL,
    block_height BIGINT NOT NULL,
    deleted BOOLEAN NOT NULL,
    UNIQUE(version_tx, node_key, tx_hash, deleted)
);
CREATE INDEX IF NOT EXISTS idx_registry_log_version_key ON registry_log(version_tx, node_key, id);

CREATE TABLE IF NOT EXISTS balance_log (
    id BIGSERIAL PRIMARY KEY,
    address TEXT NOT NULL,
    payment_credential TEXT NOT NULL,
    stake_credential TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    slot BIGINT NOT NULL,
    block_height BIGINT NOT NULL,
    snapshot TEXT NOT NULL,
    diff TEXT NOT NULL,
    kind TEXT NOT NULL,
    UNIQUE(address, tx_hash)
);
CREATE INDEX IF NOT EXISTS idx_balance_log_address_slot ON balance_log(address, slot);
CREATE INDEX IF NOT EXISTS idx_balance_log_tx ON balance_log(tx_hash);

CREATE TABLE IF NOT EXISTS utxo_index (
    tx_hash TEXT NOT NULL,
    output_index BIGINT NOT NULL,
    address TEXT NOT NULL,
    payment_credential TEXT NOT NULL,
    stake_credential TEXT NOT NULL,
    amounts TEXT NOT NULL,
    PRIMARY KEY (tx_hash, output_index)
);

CREATE TABLE IF NOT EXISTS sync_cursor (
    id TEXT PRIMARY KEY,
    slot BIGINT NOT NULL,
    block_height BIGINT NOT NULL
);
`

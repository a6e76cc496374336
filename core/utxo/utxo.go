package utxo

import (
	"context"
	"errors"

	"ledgersync/core/chain"
)

// ErrNotFound is returned when a referenced output is unknown to the index.
var ErrNotFound = errors.New("utxo not found")

// Entry is the resolved value of a previously produced output.
type Entry struct {
	Address           string
	PaymentCredential string
	StakeCredential   string
	Amounts           []chain.AssetDelta
}

// Index is the durable point-lookup used to resolve the value of spent
// inputs. Lookups are always performed fresh against the backing store; the
// engine never caches entries across batches.
type Index interface {
	Lookup(ctx context.Context, txHash string, index uint32) (Entry, error)
	Record(ctx context.Context, txHash string, index uint32, entry Entry) error
}

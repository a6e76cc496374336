package chain

import (
	"math/big"
	"strings"
)

// UnitLovelace identifies the native currency unit carried by every output.
const UnitLovelace = "lovelace"

// policyIDHexLen is the length of a hex-encoded minting policy hash. Asset
// units concatenate the policy hash with the hex-encoded asset name.
const policyIDHexLen = 56

// OutPoint references a previously produced output.
type OutPoint struct {
	TxHash string `json:"txHash"`
	Index  uint32 `json:"index"`
}

// AssetDelta carries a signed quantity of a single asset unit.
type AssetDelta struct {
	Unit     string   `json:"unit"`
	Quantity *big.Int `json:"quantity"`
}

// Output is a produced transaction output together with its attached datum,
// if any.
type Output struct {
	Address           string       `json:"address"`
	PaymentCredential string       `json:"paymentCredential"`
	StakeCredential   string       `json:"stakeCredential,omitempty"`
	Amounts           []AssetDelta `json:"amounts"`
	Datum             []byte       `json:"datum,omitempty"`
}

// Tx is one finalized transaction within a batch.
type Tx struct {
	Hash    string       `json:"hash"`
	Inputs  []OutPoint   `json:"inputs"`
	Outputs []Output     `json:"outputs"`
	Mint    []AssetDelta `json:"mint,omitempty"`
}

// Batch bundles the effects of one block as delivered by the upstream event
// source. Batches arrive strictly ordered by slot.
type Batch struct {
	Slot        uint64 `json:"slot"`
	BlockHeight uint64 `json:"blockHeight"`
	Txs         []Tx   `json:"txs"`
}

// PolicyOf extracts the minting policy hash from an asset unit. The native
// currency has no policy and yields the empty string.
func PolicyOf(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || unit == UnitLovelace {
		return ""
	}
	if len(unit) < policyIDHexLen {
		return unit
	}
	return strings.ToLower(unit[:policyIDHexLen])
}

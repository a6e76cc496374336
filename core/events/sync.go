package events

import "math/big"

const (
	// TypeVersionObserved is emitted when a protocol deployment is first seen.
	TypeVersionObserved = "sync.version_observed"
	// TypeTokenRegistered is emitted when a policy joins the token registry.
	TypeTokenRegistered = "sync.token_registered"
	// TypeTokenDelisted is emitted when a registry node is inferred removed.
	TypeTokenDelisted = "sync.token_delisted"
	// TypeBalanceChanged is emitted for every appended balance log row.
	TypeBalanceChanged = "sync.balance_changed"
)

// VersionObserved announces a newly catalogued protocol deployment.
type VersionObserved struct {
	TxHash           string
	Slot             uint64
	RegistryPolicyID string
}

func (VersionObserved) EventType() string { return TypeVersionObserved }

// TokenRegistered announces a policy becoming active in the registry list.
type TokenRegistered struct {
	PolicyID          string
	ProtocolVersionTx string
	TxHash            string
	Slot              uint64
}

func (TokenRegistered) EventType() string { return TypeTokenRegistered }

// TokenDelisted announces a registry node whose removal was inferred from a
// successor rewrite.
type TokenDelisted struct {
	PolicyID          string
	ProtocolVersionTx string
	TxHash            string
	Slot              uint64
}

func (TokenDelisted) EventType() string { return TypeTokenDelisted }

// BalanceChanged announces one appended balance row.
type BalanceChanged struct {
	Address string
	TxHash  string
	Slot    uint64
	Kind    string
	Diff    map[string]*big.Int
}

func (BalanceChanged) EventType() string { return TypeBalanceChanged }

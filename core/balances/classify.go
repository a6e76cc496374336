package balances

import (
	"math/big"

	"ledgersync/core/chain"
)

// Classify labels a transaction's effect on one address. It is a heuristic,
// not a derivation: when the transaction's declared mint field contains a
// unit whose policy also appears in the address's net change, the sign of the
// minted quantity decides between MINT and BURN; otherwise the movement is a
// plain TRANSFER. A transaction that both mints one unit and moves an
// unrelated one through the same address is inherently ambiguous and resolves
// to whichever mint entry matches first.
func Classify(mint []chain.AssetDelta, diff map[string]*big.Int) Kind {
	if len(mint) == 0 || len(diff) == 0 {
		return KindTransfer
	}
	policies := make(map[string]struct{}, len(diff))
	for unit := range diff {
		if policy := chain.PolicyOf(unit); policy != "" {
			policies[policy] = struct{}{}
		}
	}
	for _, delta := range mint {
		if delta.Quantity == nil || delta.Quantity.Sign() == 0 {
			continue
		}
		if _, ok := policies[chain.PolicyOf(delta.Unit)]; !ok {
			continue
		}
		if delta.Quantity.Sign() > 0 {
			return KindMint
		}
		return KindBurn
	}
	return KindTransfer
}

package balances

import (
	"math/big"
	"testing"

	"ledgersync/core/chain"
)

const (
	policyX = "11111111111111111111111111111111111111111111111111111111"
	policyZ = "22222222222222222222222222222222222222222222222222222222"
)

func TestClassifyMint(t *testing.T) {
	unit := policyX + "61737365745f79"
	mint := []chain.AssetDelta{{Unit: unit, Quantity: big.NewInt(100)}}
	diff := map[string]*big.Int{unit: big.NewInt(100)}
	if got := Classify(mint, diff); got != KindMint {
		t.Fatalf("Classify = %s, want MINT", got)
	}
}

func TestClassifyBurn(t *testing.T) {
	unit := policyX + "61737365745f79"
	mint := []chain.AssetDelta{{Unit: unit, Quantity: big.NewInt(-100)}}
	diff := map[string]*big.Int{unit: big.NewInt(-100)}
	if got := Classify(mint, diff); got != KindBurn {
		t.Fatalf("Classify = %s, want BURN", got)
	}
}

func TestClassifyTransferWhenMintUnrelated(t *testing.T) {
	minted := policyX + "6161"
	moved := policyZ + "6262"
	mint := []chain.AssetDelta{{Unit: minted, Quantity: big.NewInt(5)}}
	diff := map[string]*big.Int{moved: big.NewInt(5)}
	if got := Classify(mint, diff); got != KindTransfer {
		t.Fatalf("Classify = %s, want TRANSFER", got)
	}
}

func TestClassifyTransferWithoutMintField(t *testing.T) {
	diff := map[string]*big.Int{"lovelace": big.NewInt(-77)}
	if got := Classify(nil, diff); got != KindTransfer {
		t.Fatalf("Classify = %s, want TRANSFER", got)
	}
}

func TestClassifyMatchesByPolicyNotFullUnit(t *testing.T) {
	// Different asset names under the same policy still count as related.
	mint := []chain.AssetDelta{{Unit: policyX + "6161", Quantity: big.NewInt(1)}}
	diff := map[string]*big.Int{policyX + "6262": big.NewInt(1)}
	if got := Classify(mint, diff); got != KindMint {
		t.Fatalf("Classify = %s, want MINT", got)
	}
}

func TestClassifyIgnoresZeroMintEntries(t *testing.T) {
	unit := policyX + "6161"
	mint := []chain.AssetDelta{{Unit: unit, Quantity: big.NewInt(0)}}
	diff := map[string]*big.Int{unit: big.NewInt(10)}
	if got := Classify(mint, diff); got != KindTransfer {
		t.Fatalf("Classify = %s, want TRANSFER", got)
	}
}

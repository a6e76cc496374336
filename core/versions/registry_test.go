package versions

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

type mockStore struct {
	mu   sync.Mutex
	rows []ProtocolVersion
	seen map[string]bool
}

func newMockStore() *mockStore {
	return &mockStore{seen: make(map[string]bool)}
}

func (m *mockStore) InsertVersion(_ context.Context, v ProtocolVersion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[v.TxHash] {
		return false, nil
	}
	m.seen[v.TxHash] = true
	m.rows = append(m.rows, v)
	return true, nil
}

func (m *mockStore) Versions(context.Context) ([]ProtocolVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProtocolVersion, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func TestSaveOrdersOutOfOrderArrivals(t *testing.T) {
	reg := NewRegistry(newMockStore())
	ctx := context.Background()
	if _, inserted, err := reg.Save(ctx, ProtocolVersion{TxHash: "tx-b", Slot: 100}); err != nil || !inserted {
		t.Fatalf("save slot 100: inserted=%v err=%v", inserted, err)
	}
	if _, inserted, err := reg.Save(ctx, ProtocolVersion{TxHash: "tx-a", Slot: 50}); err != nil || !inserted {
		t.Fatalf("save slot 50: inserted=%v err=%v", inserted, err)
	}
	all := reg.All()
	if len(all) != 2 || all[0].Slot != 50 || all[1].Slot != 100 {
		t.Fatalf("unexpected order %+v", all)
	}
	valid, ok := reg.ValidAtSlot(75)
	if !ok || valid.Slot != 50 {
		t.Fatalf("ValidAtSlot(75) = %+v ok=%v", valid, ok)
	}
}

func TestSaveIdempotentByTxHash(t *testing.T) {
	store := newMockStore()
	reg := NewRegistry(store)
	ctx := context.Background()
	first := ProtocolVersion{TxHash: "tx-a", Slot: 10, RegistryPolicyID: "p1"}
	if _, inserted, err := reg.Save(ctx, first); err != nil || !inserted {
		t.Fatalf("first save: inserted=%v err=%v", inserted, err)
	}
	dup := ProtocolVersion{TxHash: "tx-a", Slot: 99, RegistryPolicyID: "other"}
	got, inserted, err := reg.Save(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	if inserted {
		t.Fatal("duplicate should not insert")
	}
	if got.Slot != 10 || got.RegistryPolicyID != "p1" {
		t.Fatalf("first write must win, got %+v", got)
	}
	if len(store.rows) != 1 {
		t.Fatalf("store should hold one row, has %d", len(store.rows))
	}
}

func TestLatestAndValidAtSlotEmpty(t *testing.T) {
	reg := NewRegistry(newMockStore())
	if _, ok := reg.Latest(); ok {
		t.Fatal("empty registry should report no latest version")
	}
	if _, ok := reg.ValidAtSlot(1000); ok {
		t.Fatal("empty registry should report no valid version")
	}
}

func TestValidAtSlotBeforeFirstVersion(t *testing.T) {
	reg := NewRegistry(newMockStore())
	if _, _, err := reg.Save(context.Background(), ProtocolVersion{TxHash: "tx-a", Slot: 50}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := reg.ValidAtSlot(49); ok {
		t.Fatal("slot before every version should be absent")
	}
	if v, ok := reg.ValidAtSlot(50); !ok || v.TxHash != "tx-a" {
		t.Fatalf("slot equal to version slot should resolve, got %+v ok=%v", v, ok)
	}
}

func TestPointLookups(t *testing.T) {
	reg := NewRegistry(newMockStore())
	ctx := context.Background()
	v := ProtocolVersion{TxHash: "tx-a", Slot: 7, RegistryPolicyID: "pol", BaseCredentialHash: "cred"}
	if _, _, err := reg.Save(ctx, v); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, ok := reg.ByTxHash("tx-a"); !ok || got.Slot != 7 {
		t.Fatalf("ByTxHash = %+v ok=%v", got, ok)
	}
	if _, ok := reg.ByTxHash("missing"); ok {
		t.Fatal("unknown hash should miss")
	}
	if got, ok := reg.BySlot(7); !ok || got.TxHash != "tx-a" {
		t.Fatalf("BySlot = %+v ok=%v", got, ok)
	}
	if _, ok := reg.BySlot(8); ok {
		t.Fatal("unknown slot should miss")
	}
	if got, ok := reg.ByRegistryPolicy("pol"); !ok || got.TxHash != "tx-a" {
		t.Fatalf("ByRegistryPolicy = %+v ok=%v", got, ok)
	}
	tracked := reg.TrackedCredentials()
	if _, ok := tracked["cred"]; !ok {
		t.Fatalf("tracked credentials missing cred: %v", tracked)
	}
}

func TestLoadRebuildsFromStore(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	seed := NewRegistry(store)
	for _, v := range []ProtocolVersion{
		{TxHash: "tx-c", Slot: 300},
		{TxHash: "tx-a", Slot: 100},
		{TxHash: "tx-b", Slot: 200},
	} {
		if _, _, err := seed.Save(ctx, v); err != nil {
			t.Fatalf("seed save: %v", err)
		}
	}
	reloaded := NewRegistry(store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	all := reloaded.All()
	if len(all) != 3 || all[0].Slot != 100 || all[2].Slot != 300 {
		t.Fatalf("unexpected reloaded order %+v", all)
	}
	if latest, ok := reloaded.Latest(); !ok || latest.TxHash != "tx-c" {
		t.Fatalf("latest after reload = %+v ok=%v", latest, ok)
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	reg := NewRegistry(newMockStore())
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 200; i++ {
			if _, _, err := reg.Save(ctx, ProtocolVersion{TxHash: fmt.Sprintf("tx-%03d", i), Slot: i}); err != nil {
				t.Errorf("save %d: %v", i, err)
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		all := reg.All()
		for j := 1; j < len(all); j++ {
			if all[j-1].Slot >= all[j].Slot {
				t.Fatalf("reader observed unsorted snapshot at %d: %+v", j, all)
			}
		}
	}
	<-done
}

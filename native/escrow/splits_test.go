package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func threeWaySplit() []BeneficiarySplit {
	return []BeneficiarySplit{
		{Recipient: addr(0x21), ShareBps: 5_000},
		{Recipient: addr(0x22), ShareBps: 3_000},
		{Recipient: addr(0x23), ShareBps: 2_000},
	}
}

func TestSetSplitConfigValidation(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SetSplitConfig(depositorAddr, 1, threeWaySplit()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin: expected ErrUnauthorized, got %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 99, threeWaySplit()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing escrow: expected ErrNotFound, got %v", err)
	}
	bad := []BeneficiarySplit{{Recipient: addr(0x21), ShareBps: 5_000}}
	if err := eng.SetSplitConfig(adminAddr, 1, bad); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("short sum: expected ErrInvalidSplit, got %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("valid split: %v", err)
	}
	split, ok := eng.GetSplitConfig(1)
	if !ok || !split.Active || len(split.Beneficiaries) != 3 {
		t.Fatalf("stored split wrong: %+v", split)
	}
}

func TestReleaseSplitDistributes(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("set split: %v", err)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, nil); err != nil {
		t.Fatalf("release split: %v", err)
	}
	if got := st.balance(addr(0x21)); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("beneficiary 1 = %s, want 500", got)
	}
	if got := st.balance(addr(0x22)); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("beneficiary 2 = %s, want 300", got)
	}
	if got := st.balance(addr(0x23)); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("beneficiary 3 = %s, want 200", got)
	}
	esc, _ := eng.Get(1)
	if esc.Status != StatusReleased || esc.Remaining.Sign() != 0 {
		t.Fatalf("escrow not settled: status=%v remaining=%s", esc.Status, esc.Remaining)
	}
	if got := st.balance(vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault retained %s after full split", got)
	}
	// Each beneficiary gets a receipt.
	for id := uint64(1); id <= 3; id++ {
		if _, ok := eng.VerifyReceipt(id); !ok {
			t.Fatalf("receipt %d missing", id)
		}
	}
}

func TestReleaseSplitPartial(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("set split: %v", err)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, big.NewInt(100)); err != nil {
		t.Fatalf("partial split: %v", err)
	}
	esc, _ := eng.Get(1)
	if esc.Status != StatusLocked || esc.Remaining.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("escrow after partial split: status=%v remaining=%s", esc.Status, esc.Remaining)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, big.NewInt(901)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("over remaining: expected ErrInsufficientFunds, got %v", err)
	}
}

func TestReleaseSplitRequiresActiveConfig(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, nil); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("no config: expected ErrInvalidSplit, got %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("set split: %v", err)
	}
	if err := eng.DisableSplitConfig(adminAddr, 1); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, nil); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("disabled config: expected ErrInvalidSplit, got %v", err)
	}
}

func TestReleaseSplitFrozenBeneficiary(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("set split: %v", err)
	}
	if err := eng.FreezeAddress(adminAddr, addr(0x22)); err != nil {
		t.Fatalf("freeze address: %v", err)
	}
	if err := eng.ReleaseSplit(adminAddr, 1, nil); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if got := st.balance(addr(0x21)); got.Sign() != 0 {
		t.Fatalf("beneficiary paid despite failed split: %s", got)
	}
}

func TestPreviewSplit(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SetSplitConfig(adminAddr, 1, threeWaySplit()); err != nil {
		t.Fatalf("set split: %v", err)
	}
	allocations, err := eng.PreviewSplit(1, big.NewInt(333))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	total := new(big.Int)
	for _, allocation := range allocations {
		total.Add(total, allocation)
	}
	if total.Cmp(big.NewInt(333)) != 0 {
		t.Fatalf("preview allocations sum to %s, want 333", total)
	}
	// Preview must not move funds or mutate the escrow.
	esc, _ := eng.Get(1)
	if esc.Remaining.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("preview mutated remaining: %s", esc.Remaining)
	}
}

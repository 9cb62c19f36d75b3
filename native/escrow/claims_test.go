package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestClaimLifecycle(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, big.NewInt(400), 0); err != nil {
		t.Fatalf("submit claim: %v", err)
	}

	// A pending claim gates both settlement paths.
	if err := eng.Release(adminAddr, 1, recipientAddr); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("expected ErrClaimPending on release, got %v", err)
	}
	if err := eng.Refund(depositorAddr, 1); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("expected ErrClaimPending on refund, got %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, big.NewInt(100), 0); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("expected one pending claim per escrow, got %v", err)
	}

	if err := eng.ApproveClaim(adminAddr, 1); err != nil {
		t.Fatalf("approve claim: %v", err)
	}
	if got := st.balance(recipientAddr); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("claimant received %s, want 400", got)
	}
	esc, _ := eng.Get(1)
	if esc.Remaining.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remaining = %s, want 600", esc.Remaining)
	}
	// The settled claim no longer gates the escrow.
	if err := eng.Release(adminAddr, 1, recipientAddr); err != nil {
		t.Fatalf("release after claim settled: %v", err)
	}
}

func TestClaimApprovalAdminOnly(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, nil, 0); err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	if err := eng.ApproveClaim(recipientAddr, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClaimCancel(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, nil, 0); err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	if err := eng.CancelClaim(depositorAddr, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("depositor cancel: expected ErrUnauthorized, got %v", err)
	}
	if err := eng.CancelClaim(recipientAddr, 1); err != nil {
		t.Fatalf("recipient cancel: %v", err)
	}
	if _, ok := eng.GetClaim(1); ok {
		t.Fatalf("claim still stored after cancel")
	}
	if err := eng.Release(adminAddr, 1, recipientAddr); err != nil {
		t.Fatalf("release after cancel: %v", err)
	}
}

func TestExpiredClaimStopsBlocking(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, nil, 1_500); err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	if err := eng.Release(adminAddr, 1, recipientAddr); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("expected ErrClaimPending before expiry, got %v", err)
	}
	eng.SetNowFunc(func() int64 { return 2_000 })
	if err := eng.Release(adminAddr, 1, recipientAddr); err != nil {
		t.Fatalf("release after claim expiry: %v", err)
	}
	// An expired claim can no longer be approved.
	if err := eng.ApproveClaim(adminAddr, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound approving expired claim, got %v", err)
	}
}

func TestClaimOverRemaining(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.SubmitClaim(recipientAddr, 1, big.NewInt(501), 0); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

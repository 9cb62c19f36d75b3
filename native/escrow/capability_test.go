package escrow

import (
	"errors"
	"math/big"
	"testing"
)

var holderAddr = addr(0x10)

func issueTestCapability(t *testing.T, eng *Engine, action CapabilityAction, scope *uint64, limit *big.Int, maxUses uint64, expiresAt int64) uint64 {
	t.Helper()
	id, err := eng.IssueCapability(adminAddr, holderAddr, action, scope, limit, maxUses, expiresAt)
	if err != nil {
		t.Fatalf("issue capability: %v", err)
	}
	return id
}

func TestIssueCapabilityAdminOnly(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.IssueCapability(depositorAddr, holderAddr, CapabilityActionRelease, nil, nil, 0, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCapabilityReleaseWithinLimits(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, big.NewInt(500), 0, 0)

	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(300)); err != nil {
		t.Fatalf("capability release: %v", err)
	}
	if got := st.balance(recipientAddr); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("recipient balance = %s, want 300", got)
	}
	record, ok := eng.GetCapability(capID)
	if !ok {
		t.Fatalf("capability missing")
	}
	if record.Uses != 1 || record.AmountUsed.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("consumption not recorded: uses=%d used=%s", record.Uses, record.AmountUsed)
	}

	// 300 of the 500 limit is consumed; 201 exceeds the headroom.
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(201)); !errors.Is(err, ErrCapabilityExhausted) {
		t.Fatalf("expected ErrCapabilityExhausted, got %v", err)
	}
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(200)); err != nil {
		t.Fatalf("release within headroom: %v", err)
	}
}

func TestCapabilityReleaseNilAmountPaysFullRemaining(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 0, 0)

	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, nil); err != nil {
		t.Fatalf("capability release: %v", err)
	}
	if got := st.balance(recipientAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("recipient balance = %s, want 1000", got)
	}
	esc, ok := eng.Get(1)
	if !ok {
		t.Fatalf("escrow missing")
	}
	if esc.Status != StatusReleased || esc.Remaining.Sign() != 0 {
		t.Fatalf("escrow not settled: status=%s remaining=%s", esc.Status, esc.Remaining)
	}
	record, ok := eng.GetCapability(capID)
	if !ok {
		t.Fatalf("capability missing")
	}
	if record.Uses != 1 || record.AmountUsed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("consumption not recorded: uses=%d used=%s", record.Uses, record.AmountUsed)
	}
}

func TestCapabilityReleaseNilAmountHonorsLimit(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, big.NewInt(400), 0, 0)

	// The full remaining balance exceeds the 400 limit.
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, nil); !errors.Is(err, ErrCapabilityExhausted) {
		t.Fatalf("expected ErrCapabilityExhausted, got %v", err)
	}
	esc, _ := eng.Get(1)
	if esc.Status != StatusLocked || esc.Remaining.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("escrow mutated on failure: status=%s remaining=%s", esc.Status, esc.Remaining)
	}
	record, _ := eng.GetCapability(capID)
	if record.Uses != 0 {
		t.Fatalf("capability consumed on failure: uses=%d", record.Uses)
	}
}

func TestCapabilityMaxUses(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(1_000), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 1, 0)

	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrCapabilityExhausted) {
		t.Fatalf("expected ErrCapabilityExhausted, got %v", err)
	}
}

func TestCapabilityScope(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 1_000)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock 1: %v", err)
	}
	if _, err := eng.Lock(depositorAddr, 2, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock 2: %v", err)
	}
	scope := uint64(1)
	capID := issueTestCapability(t, eng, CapabilityActionRelease, &scope, nil, 0, 0)

	if err := eng.ReleaseWithCapability(capID, holderAddr, 2, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("out-of-scope: expected ErrUnauthorized, got %v", err)
	}
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); err != nil {
		t.Fatalf("in-scope release: %v", err)
	}
}

func TestCapabilityExpiry(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 0, 1_500)

	eng.SetNowFunc(func() int64 { return 2_000 })
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrCapabilityExpired) {
		t.Fatalf("expected ErrCapabilityExpired, got %v", err)
	}
}

func TestCapabilityRevocation(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 0, 0)

	if err := eng.RevokeCapability(capID, depositorAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger revoke: expected ErrUnauthorized, got %v", err)
	}
	if err := eng.RevokeCapability(capID, adminAddr); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrCapabilityRevoked) {
		t.Fatalf("expected ErrCapabilityRevoked, got %v", err)
	}
	// Revocation is permanent.
	if err := eng.RevokeCapability(capID, adminAddr); !errors.Is(err, ErrCapabilityRevoked) {
		t.Fatalf("double revoke: expected ErrCapabilityRevoked, got %v", err)
	}
}

func TestCapabilityWrongHolderOrAction(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 0, 0)

	if err := eng.ReleaseWithCapability(capID, depositorAddr, 1, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong holder: expected ErrUnauthorized, got %v", err)
	}
	if err := eng.RefundWithCapability(capID, holderAddr, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong action: expected ErrUnauthorized, got %v", err)
	}
}

func TestCapabilityNotConsumedOnFailure(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := eng.FreezeEscrow(adminAddr, 1, "dispute"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRelease, nil, nil, 1, 0)

	if err := eng.ReleaseWithCapability(capID, holderAddr, 1, recipientAddr, big.NewInt(100)); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	record, _ := eng.GetCapability(capID)
	if record.Uses != 0 || record.AmountUsed.Sign() != 0 {
		t.Fatalf("capability consumed by a failed operation: uses=%d used=%s", record.Uses, record.AmountUsed)
	}
}

func TestRefundWithCapabilityHonorsGrace(t *testing.T) {
	eng, st := newTestEngine(t)
	st.fund(depositorAddr, 500)
	if err := eng.SetSettlementGrace(adminAddr, 300, true); err != nil {
		t.Fatalf("set grace: %v", err)
	}
	if _, err := eng.Lock(depositorAddr, 1, big.NewInt(500), 900); err != nil {
		t.Fatalf("lock: %v", err)
	}
	capID := issueTestCapability(t, eng, CapabilityActionRefund, nil, nil, 0, 0)

	// Delegation is not admin approval: the grace window still blocks.
	if err := eng.RefundWithCapability(capID, holderAddr, 1); !errors.Is(err, ErrDeadlineNotPassed) {
		t.Fatalf("expected ErrDeadlineNotPassed, got %v", err)
	}
	eng.SetNowFunc(func() int64 { return 1_300 })
	if err := eng.RefundWithCapability(capID, holderAddr, 1); err != nil {
		t.Fatalf("refund after grace: %v", err)
	}
	esc, _ := eng.Get(1)
	if esc.Status != StatusRefunded {
		t.Fatalf("expected refunded status, got %v", esc.Status)
	}
	if got := st.balance(depositorAddr); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("depositor balance = %s, want 500", got)
	}
}

func TestCapabilityNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.ReleaseWithCapability(99, holderAddr, 1, recipientAddr, big.NewInt(10)); !errors.Is(err, ErrCapabilityNotFound) {
		t.Fatalf("expected ErrCapabilityNotFound, got %v", err)
	}
}

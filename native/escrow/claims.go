package escrow

import "math/big"

// Claims gate release: while an unexpired claim is pending, release and
// refund report ErrClaimPending. The admin settles a claim by approving it
// (which pays the claimant through the release path) or cancelling it.

// SubmitClaim records a pending claim by a would-be recipient against a
// locked escrow. One pending claim per escrow; a nil amount claims the full
// remaining balance.
func (e *Engine) SubmitClaim(recipient [20]byte, escrowID uint64, amount *big.Int, expiresAt int64) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	stored, ok := e.state.EscrowGet(escrowID)
	if !ok {
		return ErrNotFound
	}
	esc := stored.Clone()
	if _, pending := e.pendingClaim(escrowID); pending {
		return ErrClaimPending
	}
	if esc.Frozen || cfg.AddressFrozen(recipient) {
		return ErrFrozen
	}
	if !cfg.ParticipantAllowed(recipient) {
		return ErrParticipantBlocked
	}
	if esc.Status != StatusLocked {
		return ErrFundsNotLocked
	}
	claimed := amount
	if claimed == nil {
		claimed = esc.Remaining
	}
	if claimed.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if claimed.Cmp(esc.Remaining) > 0 {
		return ErrInsufficientFunds
	}
	claim := &ClaimRecord{
		EscrowID:  escrowID,
		Recipient: recipient,
		Amount:    cloneBigInt(claimed),
		ExpiresAt: expiresAt,
	}
	if err := e.state.ClaimPut(claim); err != nil {
		return err
	}
	e.emit(NewClaimSubmittedEvent(claim))
	return nil
}

// ApproveClaim pays the pending claim to its recipient and marks it claimed.
// Admin only. Approval follows the release path, so pause and freeze state
// still apply.
func (e *Engine) ApproveClaim(caller [20]byte, escrowID uint64) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if cfg != nil && cfg.Paused.Release {
		return ErrFundsPaused
	}
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return err
	}
	claim, pending := e.pendingClaim(escrowID)
	if !pending {
		return ErrNotFound
	}
	claim = claim.Clone()
	stored, ok := e.state.EscrowGet(escrowID)
	if !ok {
		return ErrNotFound
	}
	esc := stored.Clone()
	if esc.Frozen || cfg.AddressFrozen(claim.Recipient) {
		return ErrFrozen
	}
	if !cfg.ParticipantAllowed(claim.Recipient) {
		return ErrParticipantBlocked
	}
	if esc.Status != StatusLocked {
		return ErrFundsNotLocked
	}
	if claim.Amount.Cmp(esc.Remaining) > 0 {
		return ErrInsufficientFunds
	}
	claim.Claimed = true
	if err := e.state.ClaimPut(claim); err != nil {
		return err
	}
	if err := e.settleRelease(cfg, esc, claim.Recipient, claim.Amount); err != nil {
		return err
	}
	e.emit(NewClaimApprovedEvent(claim))
	return nil
}

// CancelClaim removes a claim before approval. The claim recipient or the
// admin may cancel.
func (e *Engine) CancelClaim(caller [20]byte, escrowID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg := e.config()
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	claim, ok := e.state.ClaimGet(escrowID)
	if !ok || claim.Claimed {
		return ErrNotFound
	}
	if caller != claim.Recipient && requireAdmin(cfg, caller) != nil {
		return ErrUnauthorized
	}
	if err := e.state.ClaimRemove(escrowID); err != nil {
		return err
	}
	e.emit(NewClaimCancelledEvent(claim))
	return nil
}

// GetClaim returns the claim stored for an escrow, claimed or pending.
func (e *Engine) GetClaim(escrowID uint64) (*ClaimRecord, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	claim, ok := e.state.ClaimGet(escrowID)
	if !ok {
		return nil, false
	}
	return claim.Clone(), true
}

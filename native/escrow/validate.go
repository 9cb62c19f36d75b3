package escrow

import "math/big"

// The validation chain runs in one fixed precedence order and returns the
// first violated check:
//
//	1. pause flag for the operation
//	2. ledger not initialized
//	3. caller not authorized (admin-gated operations)
//	4. target resource missing
//	5. resource already exists / duplicate id in a batch
//	6. conflicting state: pending claim, frozen escrow or address,
//	   filtered participant
//	7. not in Locked status
//	8. amount policy minimum/maximum
//	9. structural amount validity (nil, zero, negative)
//	10. insufficient balance to cover the request
//
// Operations whose authorization depends on the target entity (refund checks
// the depositor) run step 3 immediately after the lookup at step 4.

func requireAdmin(cfg *Config, caller [20]byte) error {
	if cfg == nil || caller != cfg.Admin {
		return ErrUnauthorized
	}
	return nil
}

// checkPolicyAmount enforces the configured min/max bounds. A nil amount is
// compared as zero so the policy verdict stays ahead of the structural check.
func checkPolicyAmount(cfg *Config, amount *big.Int) error {
	value := amount
	if value == nil {
		value = big.NewInt(0)
	}
	if cfg.AmountPolicy.Min != nil && cfg.AmountPolicy.Min.Sign() > 0 && value.Cmp(cfg.AmountPolicy.Min) < 0 {
		return ErrAmountBelowMinimum
	}
	if cfg.AmountPolicy.Max != nil && cfg.AmountPolicy.Max.Sign() > 0 && value.Cmp(cfg.AmountPolicy.Max) > 0 {
		return ErrAmountAboveMaximum
	}
	return nil
}

// pendingClaim reports whether an unexpired, unapproved claim gates the
// escrow. Expired claims stop blocking without being removed.
func (e *Engine) pendingClaim(escrowID uint64) (*ClaimRecord, bool) {
	claim, ok := e.state.ClaimGet(escrowID)
	if !ok || claim.Claimed {
		return nil, false
	}
	if claim.ExpiresAt != 0 && e.now() > claim.ExpiresAt {
		return nil, false
	}
	return claim, true
}

func (e *Engine) validateLock(cfg *Config, depositor [20]byte, id uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if cfg != nil && cfg.Paused.Lock {
		return ErrFundsPaused
	}
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	if _, ok := e.state.EscrowGet(id); ok {
		return ErrExists
	}
	if cfg.AddressFrozen(depositor) {
		return ErrFrozen
	}
	if !cfg.ParticipantAllowed(depositor) {
		return ErrParticipantBlocked
	}
	if err := checkPolicyAmount(cfg, amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := e.balanceOf(depositor)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// validateRelease covers both full and partial release. A nil amount means
// the full remaining balance. On success the returned escrow is a mutable
// copy and, for partial release, amount has been bounds-checked against it.
func (e *Engine) validateRelease(cfg *Config, caller [20]byte, id uint64, recipient [20]byte, amount *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if cfg != nil && cfg.Paused.Release {
		return nil, ErrFundsPaused
	}
	if !cfg.initialized() {
		return nil, ErrNotInitialized
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return nil, err
	}
	return e.validateReleaseTarget(cfg, id, recipient, amount)
}

// validateReleaseTarget runs the entity-level chain shared by direct and
// capability-authorized releases.
func (e *Engine) validateReleaseTarget(cfg *Config, id uint64, recipient [20]byte, amount *big.Int) (*Escrow, error) {
	stored, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	esc := stored.Clone()
	if _, pending := e.pendingClaim(id); pending {
		return nil, ErrClaimPending
	}
	if esc.Frozen || cfg.AddressFrozen(recipient) {
		return nil, ErrFrozen
	}
	if !cfg.ParticipantAllowed(recipient) {
		return nil, ErrParticipantBlocked
	}
	if esc.Status != StatusLocked {
		return nil, ErrFundsNotLocked
	}
	if amount == nil {
		if esc.Remaining.Sign() <= 0 {
			return nil, ErrInsufficientFunds
		}
		return esc, nil
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(esc.Remaining) > 0 {
		return nil, ErrInsufficientFunds
	}
	return esc, nil
}

func (e *Engine) validateRefund(cfg *Config, caller [20]byte, id uint64, adminApproved bool) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if cfg != nil && cfg.Paused.Refund {
		return nil, ErrFundsPaused
	}
	if !cfg.initialized() {
		return nil, ErrNotInitialized
	}
	stored, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	esc := stored.Clone()
	if adminApproved {
		if err := requireAdmin(cfg, caller); err != nil {
			return nil, err
		}
	} else if caller != esc.Depositor && caller != cfg.Admin {
		return nil, ErrUnauthorized
	}
	return e.checkRefundTarget(cfg, esc, adminApproved)
}

// checkRefundTarget runs the entity-level refund chain. bypassGrace skips the
// settlement grace window (admin-approved refunds) but never the deadline.
func (e *Engine) checkRefundTarget(cfg *Config, esc *Escrow, bypassGrace bool) (*Escrow, error) {
	if _, pending := e.pendingClaim(esc.ID); pending {
		return nil, ErrClaimPending
	}
	if esc.Frozen || cfg.AddressFrozen(esc.Depositor) {
		return nil, ErrFrozen
	}
	if esc.Status != StatusLocked {
		return nil, ErrFundsNotLocked
	}
	// Deadline zero is the no-deadline sentinel: refundable at any time.
	if esc.Deadline != 0 {
		eligible := esc.Deadline
		if cfg.Grace.Enabled && !bypassGrace {
			eligible += int64(cfg.Grace.Seconds)
		}
		if e.now() < eligible {
			return nil, ErrDeadlineNotPassed
		}
	}
	if esc.Remaining.Sign() <= 0 {
		return nil, ErrInsufficientFunds
	}
	return esc, nil
}

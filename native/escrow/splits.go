package escrow

import "math/big"

// Payout splits let one escrow distribute to several beneficiaries by fixed
// basis-point ratios. Shares must sum to exactly 10_000 bps and dust always
// lands on the first beneficiary, so every split conserves value exactly.

// SetSplitConfig attaches (or replaces) the split ratio for an escrow.
func (e *Engine) SetSplitConfig(caller [20]byte, escrowID uint64, beneficiaries []BeneficiarySplit) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg := e.config()
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return err
	}
	if _, ok := e.state.EscrowGet(escrowID); !ok {
		return ErrNotFound
	}
	if err := ValidateSplits(beneficiaries); err != nil {
		return err
	}
	split := &SplitConfig{
		EscrowID:      escrowID,
		Beneficiaries: append([]BeneficiarySplit(nil), beneficiaries...),
		Active:        true,
	}
	if err := e.state.SplitPut(split); err != nil {
		return err
	}
	e.emit(NewSplitConfigEvent(split))
	return nil
}

// DisableSplitConfig deactivates the split without discarding it.
func (e *Engine) DisableSplitConfig(caller [20]byte, escrowID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg := e.config()
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return err
	}
	split, ok := e.state.SplitGet(escrowID)
	if !ok {
		return ErrNotFound
	}
	split = split.Clone()
	split.Active = false
	return e.state.SplitPut(split)
}

// GetSplitConfig returns the split attached to an escrow, if any.
func (e *Engine) GetSplitConfig(escrowID uint64) (*SplitConfig, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	split, ok := e.state.SplitGet(escrowID)
	if !ok {
		return nil, false
	}
	return split.Clone(), true
}

// PreviewSplit computes the hypothetical allocations of amount under the
// stored split without executing transfers.
func (e *Engine) PreviewSplit(escrowID uint64, amount *big.Int) ([]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	split, ok := e.state.SplitGet(escrowID)
	if !ok {
		return nil, ErrNotFound
	}
	return SplitByShares(amount, split.Beneficiaries), nil
}

// ReleaseSplit releases amount (nil for the full remaining balance) across
// the configured beneficiaries. Admin only. Every beneficiary must pass the
// same freeze and participant checks a direct recipient would.
func (e *Engine) ReleaseSplit(caller [20]byte, escrowID uint64, amount *big.Int) error {
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
	stored, ok := e.state.EscrowGet(escrowID)
	if !ok {
		return ErrNotFound
	}
	esc := stored.Clone()
	if _, pending := e.pendingClaim(escrowID); pending {
		return ErrClaimPending
	}
	if esc.Frozen {
		return ErrFrozen
	}
	split, ok := e.state.SplitGet(escrowID)
	if !ok || !split.Active {
		return ErrInvalidSplit
	}
	for _, entry := range split.Beneficiaries {
		if cfg.AddressFrozen(entry.Recipient) {
			return ErrFrozen
		}
		if !cfg.ParticipantAllowed(entry.Recipient) {
			return ErrParticipantBlocked
		}
	}
	if esc.Status != StatusLocked {
		return ErrFundsNotLocked
	}
	value := amount
	if value == nil {
		value = esc.Remaining
	}
	if value.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if value.Cmp(esc.Remaining) > 0 {
		return ErrInsufficientFunds
	}
	allocations := SplitByShares(value, split.Beneficiaries)
	paid := cloneBigInt(value)
	esc.Remaining = new(big.Int).Sub(esc.Remaining, paid)
	if esc.Remaining.Sign() == 0 {
		esc.Status = StatusReleased
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	for i, entry := range split.Beneficiaries {
		if allocations[i].Sign() <= 0 {
			// A tiny share on a tiny payout can round to zero; skip the
			// transfer but keep the ratio intact for the next release.
			continue
		}
		if err := e.transfer(cfg.Vault, entry.Recipient, allocations[i]); err != nil {
			return err
		}
		if _, err := e.issueReceipt(ReceiptRelease, escrowID, entry.Recipient, allocations[i]); err != nil {
			return err
		}
	}
	e.emit(NewSplitPayoutEvent(esc, paid, len(split.Beneficiaries)))
	return nil
}

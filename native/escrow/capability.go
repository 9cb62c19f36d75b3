package escrow

import "math/big"

// Delegated capabilities let a non-admin holder perform one scoped ledger
// action without full authority. Records are kept in their own keyspace and
// looked up by id, never embedded in escrow records. Consumption counters
// only grow; revocation is immediate and irreversible.

// IssueCapability creates a delegated permission. Only the admin may issue.
// A nil scope matches any escrow, a nil amountLimit is unlimited, maxUses 0
// is unlimited, expiresAt 0 never expires.
func (e *Engine) IssueCapability(owner, holder [20]byte, action CapabilityAction, scope *uint64, amountLimit *big.Int, maxUses uint64, expiresAt int64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	cfg := e.config()
	if !cfg.initialized() {
		return 0, ErrNotInitialized
	}
	if err := requireAdmin(cfg, owner); err != nil {
		return 0, err
	}
	if !action.Valid() {
		return 0, ErrUnauthorized
	}
	if amountLimit != nil && amountLimit.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	id, err := e.state.NextCapabilityID()
	if err != nil {
		return 0, err
	}
	record := &Capability{
		ID:          id,
		Owner:       owner,
		Holder:      holder,
		Action:      action,
		AmountLimit: copyOptionalBigInt(amountLimit),
		MaxUses:     maxUses,
		ExpiresAt:   expiresAt,
		AmountUsed:  big.NewInt(0),
		IssuedAt:    e.now(),
	}
	if scope != nil {
		scoped := *scope
		record.Scope = &scoped
	}
	if err := e.state.CapabilityPut(record); err != nil {
		return 0, err
	}
	e.emit(NewCapabilityIssuedEvent(record))
	return id, nil
}

// RevokeCapability permanently disables a capability. The issuing owner or
// the current admin may revoke.
func (e *Engine) RevokeCapability(id uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg := e.config()
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	record, ok := e.state.CapabilityGet(id)
	if !ok {
		return ErrCapabilityNotFound
	}
	record = record.Clone()
	if caller != record.Owner && requireAdmin(cfg, caller) != nil {
		return ErrUnauthorized
	}
	if record.Revoked {
		return ErrCapabilityRevoked
	}
	record.Revoked = true
	if err := e.state.CapabilityPut(record); err != nil {
		return err
	}
	e.emit(NewCapabilityRevokedEvent(record))
	return nil
}

// GetCapability returns a copy of the capability stored under id.
func (e *Engine) GetCapability(id uint64) (*Capability, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	record, ok := e.state.CapabilityGet(id)
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// checkCapability validates a use attempt without consuming. Checks run in a
// fixed order: existence, revocation, holder, expiry, action, scope, use
// count, amount limit.
func (e *Engine) checkCapability(record *Capability, holder [20]byte, action CapabilityAction, escrowID uint64, amount *big.Int) error {
	if record.Revoked {
		return ErrCapabilityRevoked
	}
	if holder != record.Holder {
		return ErrUnauthorized
	}
	if record.ExpiresAt != 0 && e.now() > record.ExpiresAt {
		return ErrCapabilityExpired
	}
	if action != record.Action {
		return ErrUnauthorized
	}
	if record.Scope != nil && *record.Scope != escrowID {
		return ErrUnauthorized
	}
	if record.MaxUses != 0 && record.Uses >= record.MaxUses {
		return ErrCapabilityExhausted
	}
	if record.AmountLimit != nil && amount != nil && amount.Sign() > 0 {
		headroom := new(big.Int).Sub(record.AmountLimit, record.AmountUsed)
		if amount.Cmp(headroom) > 0 {
			return ErrCapabilityExhausted
		}
	}
	return nil
}

func (e *Engine) consumeCapability(record *Capability, amount *big.Int) error {
	record.Uses++
	if amount != nil && amount.Sign() > 0 {
		record.AmountUsed = new(big.Int).Add(record.AmountUsed, amount)
	}
	if err := e.state.CapabilityPut(record); err != nil {
		return err
	}
	e.emit(NewCapabilityUsedEvent(record, amount))
	return nil
}

// ReleaseWithCapability performs a partial release authorized by a delegated
// capability instead of admin authority. Capability checks run after the
// ledger gates (pause, initialization) and before the entity-level chain, so
// a capability can authorize but never bypass state-conflict checks. The
// capability is consumed only when the whole operation succeeds.
func (e *Engine) ReleaseWithCapability(capID uint64, holder [20]byte, escrowID uint64, recipient [20]byte, amount *big.Int) error {
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
	record, ok := e.state.CapabilityGet(capID)
	if !ok {
		return ErrCapabilityNotFound
	}
	record = record.Clone()
	// A nil amount means the full remaining balance; resolve it up front so
	// the amount-limit check and the consumed headroom both see it.
	if amount == nil {
		if stored, ok := e.state.EscrowGet(escrowID); ok {
			amount = cloneBigInt(stored.Remaining)
		}
	}
	if err := e.checkCapability(record, holder, CapabilityActionRelease, escrowID, amount); err != nil {
		return err
	}
	esc, err := e.validateReleaseTarget(cfg, escrowID, recipient, amount)
	if err != nil {
		return err
	}
	if err := e.consumeCapability(record, amount); err != nil {
		return err
	}
	return e.settleRelease(cfg, esc, recipient, amount)
}

// RefundWithCapability refunds an escrow under a delegated refund capability.
// The settlement grace window still applies; delegation is not admin
// approval.
func (e *Engine) RefundWithCapability(capID uint64, holder [20]byte, escrowID uint64) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if cfg != nil && cfg.Paused.Refund {
		return ErrFundsPaused
	}
	if !cfg.initialized() {
		return ErrNotInitialized
	}
	record, ok := e.state.CapabilityGet(capID)
	if !ok {
		return ErrCapabilityNotFound
	}
	record = record.Clone()
	stored, ok := e.state.EscrowGet(escrowID)
	if !ok {
		return ErrNotFound
	}
	remaining := cloneBigInt(stored.Remaining)
	if err := e.checkCapability(record, holder, CapabilityActionRefund, escrowID, remaining); err != nil {
		return err
	}
	esc, err := e.checkRefundTarget(cfg, stored.Clone(), false)
	if err != nil {
		return err
	}
	if err := e.consumeCapability(record, remaining); err != nil {
		return err
	}
	return e.settleRefund(cfg, esc)
}

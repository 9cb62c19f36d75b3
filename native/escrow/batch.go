package escrow

import "math/big"

// MaxBatchSize caps the number of items accepted per batch call.
const MaxBatchSize = 20

// Batches are all-or-nothing: every item is validated against the committed
// state before any storage is touched, so one invalid item leaves the ledger
// byte-identical to before the call. The first violation found (item order,
// then per-item precedence order) is the single error for the whole batch.

// BatchLock locks every item or none. Balance checks are cumulative per
// depositor so the commit phase cannot fail on an overdrawn account mid-way.
func (e *Engine) BatchLock(items []BatchLockItem) (uint32, error) {
	if err := e.acquireGuard(); err != nil {
		return 0, err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if cfg != nil && cfg.Paused.Lock {
		return 0, ErrFundsPaused
	}
	if !cfg.initialized() {
		return 0, ErrNotInitialized
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		return 0, ErrInvalidBatchSize
	}
	for i := range items {
		for j := 0; j < i; j++ {
			if items[i].ID == items[j].ID {
				return 0, ErrDuplicateID
			}
		}
	}
	required := make(map[[20]byte]*big.Int)
	for _, item := range items {
		if err := e.validateLock(cfg, item.Depositor, item.ID, item.Amount); err != nil {
			return 0, err
		}
		total, ok := required[item.Depositor]
		if !ok {
			total = big.NewInt(0)
		}
		required[item.Depositor] = new(big.Int).Add(total, item.Amount)
	}
	for depositor, total := range required {
		balance, err := e.balanceOf(depositor)
		if err != nil {
			return 0, err
		}
		if balance.Cmp(total) < 0 {
			return 0, ErrInsufficientFunds
		}
	}
	for _, item := range items {
		if _, err := e.commitLock(cfg, item.Depositor, item.ID, item.Amount, item.Deadline); err != nil {
			return 0, err
		}
	}
	return uint32(len(items)), nil
}

// BatchRelease performs a full release for every item or none. Admin
// authority covers the whole batch.
func (e *Engine) BatchRelease(caller [20]byte, items []BatchReleaseItem) (uint32, error) {
	if err := e.acquireGuard(); err != nil {
		return 0, err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if cfg != nil && cfg.Paused.Release {
		return 0, ErrFundsPaused
	}
	if !cfg.initialized() {
		return 0, ErrNotInitialized
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return 0, err
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		return 0, ErrInvalidBatchSize
	}
	for i := range items {
		for j := 0; j < i; j++ {
			if items[i].ID == items[j].ID {
				return 0, ErrDuplicateID
			}
		}
	}
	validated := make([]*Escrow, 0, len(items))
	for _, item := range items {
		esc, err := e.validateReleaseTarget(cfg, item.ID, item.Recipient, nil)
		if err != nil {
			return 0, err
		}
		validated = append(validated, esc)
	}
	for i, item := range items {
		esc := validated[i]
		if err := e.settleRelease(cfg, esc, item.Recipient, esc.Remaining); err != nil {
			return 0, err
		}
	}
	return uint32(len(items)), nil
}

package escrow

import "errors"

// The engine reports failures from a closed set of sentinel errors so callers
// can match on identity. Validation runs in a fixed precedence order and the
// first violated check is the only error returned; see validate.go.
var (
	ErrFundsPaused        = errors.New("escrow: operation paused")
	ErrNotInitialized     = errors.New("escrow: ledger not initialized")
	ErrAlreadyInitialized = errors.New("escrow: ledger already initialized")
	ErrNotFound           = errors.New("escrow: escrow not found")
	ErrExists             = errors.New("escrow: escrow already exists")
	ErrDuplicateID        = errors.New("escrow: duplicate id in batch")
	ErrClaimPending       = errors.New("escrow: pending claim blocks operation")
	ErrFrozen             = errors.New("escrow: escrow or address frozen")
	ErrParticipantBlocked = errors.New("escrow: participant not permitted")
	ErrFundsNotLocked     = errors.New("escrow: funds not locked")
	ErrDeadlineNotPassed  = errors.New("escrow: refund deadline not passed")
	ErrAmountBelowMinimum = errors.New("escrow: amount below configured minimum")
	ErrAmountAboveMaximum = errors.New("escrow: amount above configured maximum")
	ErrInvalidAmount      = errors.New("escrow: amount must be positive")
	ErrInsufficientFunds  = errors.New("escrow: insufficient funds")
	ErrUnauthorized       = errors.New("escrow: unauthorized caller")
	ErrInvalidBatchSize   = errors.New("escrow: invalid batch size")
	ErrReentrancy         = errors.New("escrow: reentrant call rejected")

	ErrCapabilityNotFound  = errors.New("escrow: capability not found")
	ErrCapabilityExpired   = errors.New("escrow: capability expired")
	ErrCapabilityExhausted = errors.New("escrow: capability exhausted")
	ErrCapabilityRevoked   = errors.New("escrow: capability revoked")

	ErrInvalidSplit = errors.New("escrow: invalid split configuration")
)

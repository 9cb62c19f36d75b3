package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var (
	errNilState    = errors.New("escrow engine: state not configured")
	errNilTreasury = errors.New("escrow engine: fee treasury not configured")
)

// engineState is the persistence boundary the engine mutates through. The
// ledger substrate behind it must apply each Put atomically.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowIndex() []uint64

	CapabilityPut(*Capability) error
	CapabilityGet(id uint64) (*Capability, bool)
	NextCapabilityID() (uint64, error)

	ClaimPut(*ClaimRecord) error
	ClaimGet(escrowID uint64) (*ClaimRecord, bool)
	ClaimRemove(escrowID uint64) error

	ReceiptPut(*Receipt) error
	ReceiptGet(id uint64) (*Receipt, bool)
	NextReceiptID() (uint64, error)

	SplitPut(*SplitConfig) error
	SplitGet(escrowID uint64) (*SplitConfig, bool)

	ConfigGet() (*Config, bool)
	ConfigPut(*Config) error

	GuardHeld() bool
	GuardSet(held bool) error

	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine wires the escrow lifecycle logic to external state and event
// emitters. All mutating entry points acquire the reentrancy guard, run the
// validation chain, commit state, then move tokens (commit-then-transfer).
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	// guardMu serializes critical sections across goroutines; the persisted
	// guard flag only catches reentrant callbacks within one invocation.
	guardMu sync.Mutex
}

// NewEngine creates an engine with a no-op event emitter and wall-clock time
// source. Callers override both via SetEmitter and SetNowFunc.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ledgerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) config() *Config {
	if e == nil || e.state == nil {
		return nil
	}
	cfg, ok := e.state.ConfigGet()
	if !ok {
		return nil
	}
	return cfg
}

// Initialize sets the admin and vault addresses. It may run exactly once;
// every other mutating operation fails with ErrNotInitialized until it has.
func (e *Engine) Initialize(admin, vault [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if admin == ([20]byte{}) {
		return fmt.Errorf("escrow: admin address required")
	}
	if vault == ([20]byte{}) {
		return fmt.Errorf("escrow: vault address required")
	}
	if cfg := e.config(); cfg.initialized() {
		return ErrAlreadyInitialized
	}
	cfg, _ := e.state.ConfigGet()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Admin = admin
	cfg.Vault = vault
	return e.state.ConfigPut(cfg)
}

// --- reentrancy guard ---

// acquireGuard takes the in-process lock and raises the persisted flag. The
// lock is held until releaseGuard so concurrent callers queue rather than
// interleave inside a critical section.
func (e *Engine) acquireGuard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.guardMu.Lock()
	if e.state.GuardHeld() {
		e.guardMu.Unlock()
		return ErrReentrancy
	}
	if err := e.state.GuardSet(true); err != nil {
		e.guardMu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) releaseGuard() {
	if e == nil || e.state == nil {
		return
	}
	_ = e.state.GuardSet(false)
	e.guardMu.Unlock()
}

// --- token movement ---

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) balanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(acc).Balance, nil
}

// --- receipts ---

func (e *Engine) issueReceipt(kind ReceiptKind, escrowID uint64, recipient [20]byte, amount *big.Int) (*Receipt, error) {
	id, err := e.state.NextReceiptID()
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ID:        id,
		EscrowID:  escrowID,
		Kind:      kind,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		Timestamp: e.now(),
	}
	if err := e.state.ReceiptPut(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// VerifyReceipt returns the immutable receipt stored under id.
func (e *Engine) VerifyReceipt(id uint64) (*Receipt, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	receipt, ok := e.state.ReceiptGet(id)
	if !ok {
		return nil, false
	}
	return receipt.Clone(), true
}

// --- lifecycle operations ---

// Lock custodies amount from the depositor under a caller-supplied id. When a
// lock fee is configured the fee is routed to the treasury and the escrow
// records the net amount. State is committed before tokens move.
func (e *Engine) Lock(depositor [20]byte, id uint64, amount *big.Int, deadline int64) (*Escrow, error) {
	if err := e.acquireGuard(); err != nil {
		return nil, err
	}
	defer e.releaseGuard()
	cfg := e.config()
	if err := e.validateLock(cfg, depositor, id, amount); err != nil {
		return nil, err
	}
	return e.commitLock(cfg, depositor, id, amount, deadline)
}

// commitLock writes the escrow record, then pulls the net amount into the
// vault and routes the lock fee. Validation must already have passed.
func (e *Engine) commitLock(cfg *Config, depositor [20]byte, id uint64, amount *big.Int, deadline int64) (*Escrow, error) {
	fee, net := applyFee(amount, cfg.Fees.LockFeeBps, cfg.Fees.Enabled)
	esc := &Escrow{
		ID:        id,
		Depositor: depositor,
		Amount:    net,
		Remaining: cloneBigInt(net),
		Status:    StatusLocked,
		Deadline:  deadline,
		CreatedAt: e.now(),
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.transfer(depositor, cfg.Vault, net); err != nil {
		return nil, err
	}
	if err := e.routeFee(cfg, depositor, fee); err != nil {
		return nil, err
	}
	e.emit(NewLockedEvent(esc))
	return esc.Clone(), nil
}

// Release pays the full remaining balance to the recipient, net of any
// release fee, and moves the escrow to its terminal Released status. Admin
// authority is required; delegated holders go through ReleaseWithCapability.
func (e *Engine) Release(caller [20]byte, id uint64, recipient [20]byte) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	esc, err := e.validateRelease(cfg, caller, id, recipient, nil)
	if err != nil {
		return err
	}
	return e.settleRelease(cfg, esc, recipient, esc.Remaining)
}

// PartialRelease pays part of the remaining balance to the recipient. The
// escrow flips to Released only when the remaining balance reaches exactly
// zero; repeated partial releases sum to the original amount with no loss.
func (e *Engine) PartialRelease(caller [20]byte, id uint64, recipient [20]byte, amount *big.Int) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	esc, err := e.validateRelease(cfg, caller, id, recipient, amount)
	if err != nil {
		return err
	}
	return e.settleRelease(cfg, esc, recipient, amount)
}

// settleRelease commits the decremented escrow, then moves tokens from the
// vault, then records the receipt. amount must already be validated.
func (e *Engine) settleRelease(cfg *Config, esc *Escrow, recipient [20]byte, amount *big.Int) error {
	paid := cloneBigInt(amount)
	esc.Remaining = new(big.Int).Sub(esc.Remaining, paid)
	if esc.Remaining.Sign() == 0 {
		esc.Status = StatusReleased
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	fee, net := applyFee(paid, cfg.Fees.ReleaseFeeBps, cfg.Fees.Enabled)
	if err := e.transfer(cfg.Vault, recipient, net); err != nil {
		return err
	}
	if err := e.routeFee(cfg, cfg.Vault, fee); err != nil {
		return err
	}
	receipt, err := e.issueReceipt(ReceiptRelease, esc.ID, recipient, paid)
	if err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc, recipient, paid, receipt.ID))
	return nil
}

// Refund returns the remaining balance to the depositor once the deadline and
// any configured settlement grace period have elapsed. The caller must be the
// depositor or the admin; admin refunds bypass grace via AdminRefund.
func (e *Engine) Refund(caller [20]byte, id uint64) error {
	return e.refund(caller, id, false)
}

// AdminRefund refunds an escrow on admin approval, bypassing the settlement
// grace period but not the deadline itself.
func (e *Engine) AdminRefund(caller [20]byte, id uint64) error {
	return e.refund(caller, id, true)
}

func (e *Engine) refund(caller [20]byte, id uint64, adminApproved bool) error {
	if err := e.acquireGuard(); err != nil {
		return err
	}
	defer e.releaseGuard()
	cfg := e.config()
	esc, err := e.validateRefund(cfg, caller, id, adminApproved)
	if err != nil {
		return err
	}
	return e.settleRefund(cfg, esc)
}

// settleRefund commits the refunded escrow, then returns the remaining
// balance from the vault to the depositor and records the receipt.
func (e *Engine) settleRefund(cfg *Config, esc *Escrow) error {
	amount := cloneBigInt(esc.Remaining)
	esc.Remaining = big.NewInt(0)
	esc.Status = StatusRefunded
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.transfer(cfg.Vault, esc.Depositor, amount); err != nil {
		return err
	}
	receipt, err := e.issueReceipt(ReceiptRefund, esc.ID, esc.Depositor, amount)
	if err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc, amount, receipt.ID))
	return nil
}

// Get returns a copy of the escrow stored under id.
func (e *Engine) Get(id uint64) (*Escrow, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

// Search walks the escrow index and returns one page of matches. The cursor
// is the last id of the previous page; limit is capped at MaxPageSize.
func (e *Engine) Search(criteria SearchCriteria, cursor *uint64, limit int) SearchPage {
	page := SearchPage{}
	if e == nil || e.state == nil {
		return page
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	pastCursor := cursor == nil
	for _, id := range e.state.EscrowIndex() {
		if !pastCursor {
			if id == *cursor {
				pastCursor = true
			}
			continue
		}
		esc, ok := e.state.EscrowGet(id)
		if !ok {
			continue
		}
		if criteria.Status != 0 && esc.Status != criteria.Status {
			continue
		}
		if criteria.Depositor != nil && esc.Depositor != *criteria.Depositor {
			continue
		}
		if len(page.Records) >= limit {
			page.HasMore = true
			break
		}
		next := id
		page.NextCursor = &next
		page.Records = append(page.Records, esc.Clone())
	}
	if !page.HasMore {
		page.NextCursor = nil
	}
	return page
}

// MaxPageSize caps paginated escrow queries.
const MaxPageSize = 20

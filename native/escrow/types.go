package escrow

import (
	"fmt"
	"math/big"
)

// MaxFeeBps caps every basis-point rate strictly below 100%.
const MaxFeeBps uint32 = 10_000

// EscrowStatus represents the lifecycle states of a custodied escrow. The
// status is a closed tagged value, never a set of independent flags, so
// illegal combinations are unrepresentable.
type EscrowStatus uint8

const (
	StatusLocked EscrowStatus = iota + 1
	StatusReleased
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case StatusLocked, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s EscrowStatus) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Escrow captures a single custodied-value record. Identifiers are assigned
// externally and never reused; terminal records are permanent audit entries.
// A Deadline of zero means no deadline.
type Escrow struct {
	ID           uint64
	Depositor    [20]byte
	Amount       *big.Int
	Remaining    *big.Int
	Status       EscrowStatus
	Deadline     int64
	CreatedAt    int64
	Frozen       bool
	FrozenReason string
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.Remaining = cloneBigInt(e.Remaining)
	return &clone
}

// SanitizeEscrow validates the conservation invariants of an escrow record and
// returns a cloned instance with non-nil amount fields. Released and refunded
// records must carry a zero remaining balance.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if clone.Amount.Sign() < 0 || clone.Remaining.Sign() < 0 {
		return nil, fmt.Errorf("escrow: negative amount")
	}
	if clone.Remaining.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow: remaining exceeds original amount")
	}
	if clone.Status != StatusLocked && clone.Remaining.Sign() != 0 {
		return nil, fmt.Errorf("escrow: terminal status with nonzero remaining")
	}
	return clone, nil
}

// CapabilityAction scopes what a delegated capability may do.
type CapabilityAction uint8

const (
	CapabilityActionRelease CapabilityAction = iota + 1
	CapabilityActionRefund
)

// Valid reports whether the action value is supported.
func (a CapabilityAction) Valid() bool {
	return a == CapabilityActionRelease || a == CapabilityActionRefund
}

// Capability is a delegated, consumable permission distinct from full admin
// authority. Consumption is monotonic: uses and amount used only grow, and a
// revoked capability can never be reinstated.
type Capability struct {
	ID          uint64
	Owner       [20]byte
	Holder      [20]byte
	Action      CapabilityAction
	Scope       *uint64  // escrow id; nil means any
	AmountLimit *big.Int // nil means unlimited
	MaxUses     uint64   // 0 means unlimited
	ExpiresAt   int64    // 0 means never
	Uses        uint64
	AmountUsed  *big.Int
	Revoked     bool
	IssuedAt    int64
}

// Clone returns a deep copy of the capability record.
func (c *Capability) Clone() *Capability {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Scope != nil {
		scope := *c.Scope
		clone.Scope = &scope
	}
	if c.AmountLimit != nil {
		clone.AmountLimit = new(big.Int).Set(c.AmountLimit)
	}
	clone.AmountUsed = cloneBigInt(c.AmountUsed)
	return &clone
}

// PauseFlags gate the three mutating operations independently.
type PauseFlags struct {
	Lock    bool
	Release bool
	Refund  bool
	Reason  string
}

// AmountPolicy bounds lock amounts. Nil bounds are unset.
type AmountPolicy struct {
	Min *big.Int
	Max *big.Int
}

// FeeConfig holds the basis-point rates applied on lock and release plus the
// single-recipient fallback used when treasury distribution is disabled.
type FeeConfig struct {
	LockFeeBps    uint32
	ReleaseFeeBps uint32
	Recipient     [20]byte
	Enabled       bool
}

// TreasuryDestination is one weighted fee sink. Weights are relative; the
// split algorithm normalises against their sum.
type TreasuryDestination struct {
	Address [20]byte
	Weight  uint64
	Region  string
}

// GraceConfig describes the post-deadline settlement window during which
// refunds stay blocked. Disabled by default.
type GraceConfig struct {
	Seconds uint64
	Enabled bool
}

// ParticipantFilterMode selects which membership set, if any, gates
// participation. Both sets persist across mode switches.
type ParticipantFilterMode uint8

const (
	FilterDisabled ParticipantFilterMode = iota
	FilterBlocklistOnly
	FilterAllowlistOnly
)

// Valid reports whether the mode value is supported.
func (m ParticipantFilterMode) Valid() bool {
	return m == FilterDisabled || m == FilterBlocklistOnly || m == FilterAllowlistOnly
}

// Config is the global mutable configuration consulted by every operation. It
// is passed explicitly through the validation chain so precedence stays a pure
// function of (config, entity, request).
type Config struct {
	Admin           [20]byte
	Vault           [20]byte
	Paused          PauseFlags
	AmountPolicy    AmountPolicy
	Fees            FeeConfig
	Treasury        []TreasuryDestination
	TreasuryEnabled bool
	FilterMode      ParticipantFilterMode
	Blocklist       [][20]byte
	Allowlist       [][20]byte
	Grace           GraceConfig
	FrozenAddresses [][20]byte
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.AmountPolicy.Min = copyOptionalBigInt(c.AmountPolicy.Min)
	clone.AmountPolicy.Max = copyOptionalBigInt(c.AmountPolicy.Max)
	clone.Treasury = append([]TreasuryDestination(nil), c.Treasury...)
	clone.Blocklist = append([][20]byte(nil), c.Blocklist...)
	clone.Allowlist = append([][20]byte(nil), c.Allowlist...)
	clone.FrozenAddresses = append([][20]byte(nil), c.FrozenAddresses...)
	return &clone
}

func (c *Config) initialized() bool {
	return c != nil && c.Admin != ([20]byte{})
}

func containsAddress(set [][20]byte, addr [20]byte) bool {
	for _, member := range set {
		if member == addr {
			return true
		}
	}
	return false
}

// ParticipantAllowed evaluates the active filter set against an address.
func (c *Config) ParticipantAllowed(addr [20]byte) bool {
	if c == nil {
		return true
	}
	switch c.FilterMode {
	case FilterBlocklistOnly:
		return !containsAddress(c.Blocklist, addr)
	case FilterAllowlistOnly:
		return containsAddress(c.Allowlist, addr)
	default:
		return true
	}
}

// AddressFrozen reports whether an address is administratively frozen.
func (c *Config) AddressFrozen(addr [20]byte) bool {
	return c != nil && containsAddress(c.FrozenAddresses, addr)
}

// ClaimRecord is a pending claim that gates release of an escrow until it is
// approved, cancelled, or expires. At most one pending claim exists per
// escrow.
type ClaimRecord struct {
	EscrowID  uint64
	Recipient [20]byte
	Amount    *big.Int
	ExpiresAt int64 // 0 means never
	Claimed   bool
}

// Clone returns a deep copy of the claim record.
func (c *ClaimRecord) Clone() *ClaimRecord {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Amount = cloneBigInt(c.Amount)
	return &clone
}

// ReceiptKind distinguishes the completed operation a receipt proves.
type ReceiptKind uint8

const (
	ReceiptRelease ReceiptKind = iota + 1
	ReceiptRefund
)

func (k ReceiptKind) String() string {
	switch k {
	case ReceiptRelease:
		return "release"
	case ReceiptRefund:
		return "refund"
	default:
		return fmt.Sprintf("receipt(%d)", uint8(k))
	}
}

// Receipt is an immutable, monotonically-numbered proof of a completed
// release or refund, queryable by id forever.
type Receipt struct {
	ID        uint64
	EscrowID  uint64
	Kind      ReceiptKind
	Recipient [20]byte
	Amount    *big.Int
	Timestamp int64
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneBigInt(r.Amount)
	return &clone
}

// BatchLockItem is one lock request inside a batch.
type BatchLockItem struct {
	Depositor [20]byte
	ID        uint64
	Amount    *big.Int
	Deadline  int64
}

// BatchReleaseItem is one release request inside a batch.
type BatchReleaseItem struct {
	ID        uint64
	Recipient [20]byte
}

// BeneficiarySplit is one entry in a payout split. ShareBps is the
// beneficiary's portion in basis points; shares across a SplitConfig must sum
// to exactly MaxFeeBps.
type BeneficiarySplit struct {
	Recipient [20]byte
	ShareBps  uint32
}

// SplitConfig attaches a multi-beneficiary payout ratio to an escrow. Dust
// from integer division always goes to the first beneficiary.
type SplitConfig struct {
	EscrowID      uint64
	Beneficiaries []BeneficiarySplit
	Active        bool
}

// Clone returns a deep copy of the split configuration.
func (s *SplitConfig) Clone() *SplitConfig {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Beneficiaries = append([]BeneficiarySplit(nil), s.Beneficiaries...)
	return &clone
}

// SearchCriteria filters paginated escrow queries. A zero Status matches any
// status; a nil Depositor matches any depositor.
type SearchCriteria struct {
	Status    EscrowStatus
	Depositor *[20]byte
}

// SearchPage is one page of escrow search results.
type SearchPage struct {
	Records    []*Escrow
	NextCursor *uint64
	HasMore    bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func copyOptionalBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

package state

import (
	"fmt"
	"math/big"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

// The stored* shadow structs keep the persisted encoding independent of the
// in-memory types. Timestamps are widened to uint64 because RLP has no signed
// integer form; optional fields carry an explicit presence flag.

type storedEscrow struct {
	ID           uint64
	Depositor    [20]byte
	Amount       *big.Int
	Remaining    *big.Int
	Status       uint8
	Deadline     uint64
	CreatedAt    uint64
	Frozen       bool
	FrozenReason string
}

type storedCapability struct {
	ID          uint64
	Owner       [20]byte
	Holder      [20]byte
	Action      uint8
	HasScope    bool
	Scope       uint64
	HasLimit    bool
	AmountLimit *big.Int
	MaxUses     uint64
	ExpiresAt   uint64
	Uses        uint64
	AmountUsed  *big.Int
	Revoked     bool
	IssuedAt    uint64
}

type storedClaim struct {
	EscrowID  uint64
	Recipient [20]byte
	Amount    *big.Int
	ExpiresAt uint64
	Claimed   bool
}

type storedReceipt struct {
	ID        uint64
	EscrowID  uint64
	Kind      uint8
	Recipient [20]byte
	Amount    *big.Int
	Timestamp uint64
}

type storedBeneficiary struct {
	Recipient [20]byte
	ShareBps  uint32
}

type storedSplit struct {
	EscrowID      uint64
	Beneficiaries []storedBeneficiary
	Active        bool
}

type storedTreasury struct {
	Address [20]byte
	Weight  uint64
	Region  string
}

type storedConfig struct {
	Admin           [20]byte
	Vault           [20]byte
	LockPaused      bool
	ReleasePaused   bool
	RefundPaused    bool
	PauseReason     string
	HasMin          bool
	Min             *big.Int
	HasMax          bool
	Max             *big.Int
	LockFeeBps      uint32
	ReleaseFeeBps   uint32
	FeeRecipient    [20]byte
	FeesEnabled     bool
	Treasury        []storedTreasury
	TreasuryEnabled bool
	FilterMode      uint8
	Blocklist       [][20]byte
	Allowlist       [][20]byte
	GraceSeconds    uint64
	GraceEnabled    bool
	FrozenAddresses [][20]byte
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// --- escrow records ---

// EscrowPut persists an escrow record and registers its id in the index on
// first write. Index order is insertion order; Search pagination depends on
// it staying stable.
func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	stored := storedEscrow{
		ID:           sanitized.ID,
		Depositor:    sanitized.Depositor,
		Amount:       nonNil(sanitized.Amount),
		Remaining:    nonNil(sanitized.Remaining),
		Status:       uint8(sanitized.Status),
		Deadline:     uint64(sanitized.Deadline),
		CreatedAt:    uint64(sanitized.CreatedAt),
		Frozen:       sanitized.Frozen,
		FrozenReason: sanitized.FrozenReason,
	}
	key := uint64Key(escrowRecordPrefix, stored.ID)
	exists, err := m.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := m.KVPut(key, &stored); err != nil {
		return err
	}
	if exists {
		return nil
	}
	index := m.EscrowIndex()
	index = append(index, stored.ID)
	return m.KVPut(escrowIndexKey, index)
}

// EscrowGet loads the escrow record stored under id.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	var stored storedEscrow
	ok, err := m.KVGet(uint64Key(escrowRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &escrow.Escrow{
		ID:           stored.ID,
		Depositor:    stored.Depositor,
		Amount:       nonNil(stored.Amount),
		Remaining:    nonNil(stored.Remaining),
		Status:       escrow.EscrowStatus(stored.Status),
		Deadline:     int64(stored.Deadline),
		CreatedAt:    int64(stored.CreatedAt),
		Frozen:       stored.Frozen,
		FrozenReason: stored.FrozenReason,
	}, true
}

// EscrowIndex returns every persisted escrow id in insertion order.
func (m *Manager) EscrowIndex() []uint64 {
	var index []uint64
	if ok, err := m.KVGet(escrowIndexKey, &index); err != nil || !ok {
		return nil
	}
	return index
}

// --- capabilities ---

func (m *Manager) CapabilityPut(record *escrow.Capability) error {
	if record == nil {
		return fmt.Errorf("state: nil capability")
	}
	clone := record.Clone()
	stored := storedCapability{
		ID:          clone.ID,
		Owner:       clone.Owner,
		Holder:      clone.Holder,
		Action:      uint8(clone.Action),
		MaxUses:     clone.MaxUses,
		ExpiresAt:   uint64(clone.ExpiresAt),
		Uses:        clone.Uses,
		AmountUsed:  nonNil(clone.AmountUsed),
		AmountLimit: big.NewInt(0),
		Revoked:     clone.Revoked,
		IssuedAt:    uint64(clone.IssuedAt),
	}
	if clone.Scope != nil {
		stored.HasScope = true
		stored.Scope = *clone.Scope
	}
	if clone.AmountLimit != nil {
		stored.HasLimit = true
		stored.AmountLimit = new(big.Int).Set(clone.AmountLimit)
	}
	return m.KVPut(uint64Key(capabilityRecordPrefix, stored.ID), &stored)
}

func (m *Manager) CapabilityGet(id uint64) (*escrow.Capability, bool) {
	var stored storedCapability
	ok, err := m.KVGet(uint64Key(capabilityRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	record := &escrow.Capability{
		ID:         stored.ID,
		Owner:      stored.Owner,
		Holder:     stored.Holder,
		Action:     escrow.CapabilityAction(stored.Action),
		MaxUses:    stored.MaxUses,
		ExpiresAt:  int64(stored.ExpiresAt),
		Uses:       stored.Uses,
		AmountUsed: nonNil(stored.AmountUsed),
		Revoked:    stored.Revoked,
		IssuedAt:   int64(stored.IssuedAt),
	}
	if stored.HasScope {
		scope := stored.Scope
		record.Scope = &scope
	}
	if stored.HasLimit {
		record.AmountLimit = nonNil(stored.AmountLimit)
	}
	return record, true
}

func (m *Manager) NextCapabilityID() (uint64, error) {
	return m.nextSequence(capabilityCounterKey)
}

// --- claims ---

func (m *Manager) ClaimPut(claim *escrow.ClaimRecord) error {
	if claim == nil {
		return fmt.Errorf("state: nil claim")
	}
	clone := claim.Clone()
	stored := storedClaim{
		EscrowID:  clone.EscrowID,
		Recipient: clone.Recipient,
		Amount:    nonNil(clone.Amount),
		ExpiresAt: uint64(clone.ExpiresAt),
		Claimed:   clone.Claimed,
	}
	return m.KVPut(uint64Key(claimRecordPrefix, stored.EscrowID), &stored)
}

func (m *Manager) ClaimGet(escrowID uint64) (*escrow.ClaimRecord, bool) {
	var stored storedClaim
	ok, err := m.KVGet(uint64Key(claimRecordPrefix, escrowID), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &escrow.ClaimRecord{
		EscrowID:  stored.EscrowID,
		Recipient: stored.Recipient,
		Amount:    nonNil(stored.Amount),
		ExpiresAt: int64(stored.ExpiresAt),
		Claimed:   stored.Claimed,
	}, true
}

func (m *Manager) ClaimRemove(escrowID uint64) error {
	return m.KVDelete(uint64Key(claimRecordPrefix, escrowID))
}

// --- receipts ---

func (m *Manager) ReceiptPut(receipt *escrow.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("state: nil receipt")
	}
	clone := receipt.Clone()
	stored := storedReceipt{
		ID:        clone.ID,
		EscrowID:  clone.EscrowID,
		Kind:      uint8(clone.Kind),
		Recipient: clone.Recipient,
		Amount:    nonNil(clone.Amount),
		Timestamp: uint64(clone.Timestamp),
	}
	return m.KVPut(uint64Key(receiptRecordPrefix, stored.ID), &stored)
}

func (m *Manager) ReceiptGet(id uint64) (*escrow.Receipt, bool) {
	var stored storedReceipt
	ok, err := m.KVGet(uint64Key(receiptRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &escrow.Receipt{
		ID:        stored.ID,
		EscrowID:  stored.EscrowID,
		Kind:      escrow.ReceiptKind(stored.Kind),
		Recipient: stored.Recipient,
		Amount:    nonNil(stored.Amount),
		Timestamp: int64(stored.Timestamp),
	}, true
}

func (m *Manager) NextReceiptID() (uint64, error) {
	return m.nextSequence(receiptCounterKey)
}

// --- payout splits ---

func (m *Manager) SplitPut(split *escrow.SplitConfig) error {
	if split == nil {
		return fmt.Errorf("state: nil split config")
	}
	clone := split.Clone()
	stored := storedSplit{
		EscrowID:      clone.EscrowID,
		Beneficiaries: make([]storedBeneficiary, 0, len(clone.Beneficiaries)),
		Active:        clone.Active,
	}
	for _, b := range clone.Beneficiaries {
		stored.Beneficiaries = append(stored.Beneficiaries, storedBeneficiary{
			Recipient: b.Recipient,
			ShareBps:  b.ShareBps,
		})
	}
	return m.KVPut(uint64Key(splitRecordPrefix, stored.EscrowID), &stored)
}

func (m *Manager) SplitGet(escrowID uint64) (*escrow.SplitConfig, bool) {
	var stored storedSplit
	ok, err := m.KVGet(uint64Key(splitRecordPrefix, escrowID), &stored)
	if err != nil || !ok {
		return nil, false
	}
	split := &escrow.SplitConfig{
		EscrowID:      stored.EscrowID,
		Beneficiaries: make([]escrow.BeneficiarySplit, 0, len(stored.Beneficiaries)),
		Active:        stored.Active,
	}
	for _, b := range stored.Beneficiaries {
		split.Beneficiaries = append(split.Beneficiaries, escrow.BeneficiarySplit{
			Recipient: b.Recipient,
			ShareBps:  b.ShareBps,
		})
	}
	return split, true
}

// --- configuration ---

func (m *Manager) ConfigPut(cfg *escrow.Config) error {
	clone := cfg.Clone()
	if clone == nil {
		clone = &escrow.Config{}
	}
	stored := storedConfig{
		Admin:           clone.Admin,
		Vault:           clone.Vault,
		LockPaused:      clone.Paused.Lock,
		ReleasePaused:   clone.Paused.Release,
		RefundPaused:    clone.Paused.Refund,
		PauseReason:     clone.Paused.Reason,
		Min:             big.NewInt(0),
		Max:             big.NewInt(0),
		LockFeeBps:      clone.Fees.LockFeeBps,
		ReleaseFeeBps:   clone.Fees.ReleaseFeeBps,
		FeeRecipient:    clone.Fees.Recipient,
		FeesEnabled:     clone.Fees.Enabled,
		Treasury:        make([]storedTreasury, 0, len(clone.Treasury)),
		TreasuryEnabled: clone.TreasuryEnabled,
		FilterMode:      uint8(clone.FilterMode),
		Blocklist:       clone.Blocklist,
		Allowlist:       clone.Allowlist,
		GraceSeconds:    clone.Grace.Seconds,
		GraceEnabled:    clone.Grace.Enabled,
		FrozenAddresses: clone.FrozenAddresses,
	}
	if clone.AmountPolicy.Min != nil {
		stored.HasMin = true
		stored.Min = new(big.Int).Set(clone.AmountPolicy.Min)
	}
	if clone.AmountPolicy.Max != nil {
		stored.HasMax = true
		stored.Max = new(big.Int).Set(clone.AmountPolicy.Max)
	}
	for _, dest := range clone.Treasury {
		stored.Treasury = append(stored.Treasury, storedTreasury{
			Address: dest.Address,
			Weight:  dest.Weight,
			Region:  dest.Region,
		})
	}
	return m.KVPut(configKey, &stored)
}

func (m *Manager) ConfigGet() (*escrow.Config, bool) {
	var stored storedConfig
	ok, err := m.KVGet(configKey, &stored)
	if err != nil || !ok {
		return nil, false
	}
	cfg := &escrow.Config{
		Admin: stored.Admin,
		Vault: stored.Vault,
		Paused: escrow.PauseFlags{
			Lock:    stored.LockPaused,
			Release: stored.ReleasePaused,
			Refund:  stored.RefundPaused,
			Reason:  stored.PauseReason,
		},
		Fees: escrow.FeeConfig{
			LockFeeBps:    stored.LockFeeBps,
			ReleaseFeeBps: stored.ReleaseFeeBps,
			Recipient:     stored.FeeRecipient,
			Enabled:       stored.FeesEnabled,
		},
		Treasury:        make([]escrow.TreasuryDestination, 0, len(stored.Treasury)),
		TreasuryEnabled: stored.TreasuryEnabled,
		FilterMode:      escrow.ParticipantFilterMode(stored.FilterMode),
		Blocklist:       stored.Blocklist,
		Allowlist:       stored.Allowlist,
		Grace: escrow.GraceConfig{
			Seconds: stored.GraceSeconds,
			Enabled: stored.GraceEnabled,
		},
		FrozenAddresses: stored.FrozenAddresses,
	}
	if stored.HasMin {
		cfg.AmountPolicy.Min = nonNil(stored.Min)
	}
	if stored.HasMax {
		cfg.AmountPolicy.Max = nonNil(stored.Max)
	}
	for _, dest := range stored.Treasury {
		cfg.Treasury = append(cfg.Treasury, escrow.TreasuryDestination{
			Address: dest.Address,
			Weight:  dest.Weight,
			Region:  dest.Region,
		})
	}
	return cfg, true
}

// --- reentrancy guard ---

// GuardHeld reports whether the persisted invocation guard is set. Decode
// failures read as held so a corrupted flag fails closed.
func (m *Manager) GuardHeld() bool {
	var held bool
	ok, err := m.KVGet(guardKey, &held)
	if err != nil {
		return true
	}
	return ok && held
}

func (m *Manager) GuardSet(held bool) error {
	return m.KVPut(guardKey, held)
}

// --- accounts ---

func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(addressKey(accountPrefix, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	return &types.Account{Nonce: stored.Nonce, Balance: nonNil(stored.Balance)}, nil
}

func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	stored := storedAccount{Nonce: account.Nonce, Balance: nonNil(account.Balance)}
	return m.KVPut(addressKey(accountPrefix, addr), &stored)
}

package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeLocked            = "escrow.locked"
	EventTypeReleased          = "escrow.released"
	EventTypeRefunded          = "escrow.refunded"
	EventTypeFrozen            = "escrow.frozen"
	EventTypeUnfrozen          = "escrow.unfrozen"
	EventTypeConfigUpdated     = "escrow.config.updated"
	EventTypeClaimSubmitted    = "escrow.claim.submitted"
	EventTypeClaimApproved     = "escrow.claim.approved"
	EventTypeClaimCancelled    = "escrow.claim.cancelled"
	EventTypeCapabilityIssued  = "escrow.capability.issued"
	EventTypeCapabilityUsed    = "escrow.capability.used"
	EventTypeCapabilityRevoked = "escrow.capability.revoked"
	EventTypeSplitConfigured   = "escrow.split.configured"
	EventTypeSplitPayout       = "escrow.split.payout"
)

// ledgerEvent adapts a types.Event to the events.Emitter interface.
type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

func addrAttr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func escrowAttrs(esc *Escrow) map[string]string {
	attrs := make(map[string]string)
	if esc == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(esc.ID, 10)
	attrs["depositor"] = addrAttr(esc.Depositor)
	attrs["amount"] = esc.Amount.String()
	attrs["remaining"] = esc.Remaining.String()
	attrs["status"] = esc.Status.String()
	attrs["deadline"] = strconv.FormatInt(esc.Deadline, 10)
	return attrs
}

// NewLockedEvent returns the canonical payload emitted when funds are locked.
func NewLockedEvent(esc *Escrow) *types.Event {
	return &types.Event{Type: EventTypeLocked, Attributes: escrowAttrs(esc)}
}

// NewReleasedEvent returns the payload for a full or partial release.
func NewReleasedEvent(esc *Escrow, recipient [20]byte, amount *big.Int, receiptID uint64) *types.Event {
	attrs := escrowAttrs(esc)
	attrs["recipient"] = addrAttr(recipient)
	attrs["released"] = amount.String()
	attrs["receiptId"] = strconv.FormatUint(receiptID, 10)
	return &types.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewRefundedEvent returns the payload emitted when funds return to the
// depositor.
func NewRefundedEvent(esc *Escrow, amount *big.Int, receiptID uint64) *types.Event {
	attrs := escrowAttrs(esc)
	attrs["refunded"] = amount.String()
	attrs["receiptId"] = strconv.FormatUint(receiptID, 10)
	return &types.Event{Type: EventTypeRefunded, Attributes: attrs}
}

// NewFrozenEvent covers both freeze and unfreeze of a single escrow.
func NewFrozenEvent(esc *Escrow, frozen bool) *types.Event {
	attrs := escrowAttrs(esc)
	eventType := EventTypeUnfrozen
	if frozen {
		eventType = EventTypeFrozen
		if esc != nil && esc.FrozenReason != "" {
			attrs["reason"] = esc.FrozenReason
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewConfigUpdatedEvent summarises the active configuration after an admin
// mutation. Membership sets are reported by size only.
func NewConfigUpdatedEvent(cfg *Config) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["lockPaused"] = strconv.FormatBool(cfg.Paused.Lock)
		attrs["releasePaused"] = strconv.FormatBool(cfg.Paused.Release)
		attrs["refundPaused"] = strconv.FormatBool(cfg.Paused.Refund)
		attrs["feesEnabled"] = strconv.FormatBool(cfg.Fees.Enabled)
		attrs["treasuryEnabled"] = strconv.FormatBool(cfg.TreasuryEnabled)
		attrs["filterMode"] = strconv.FormatUint(uint64(cfg.FilterMode), 10)
		attrs["graceEnabled"] = strconv.FormatBool(cfg.Grace.Enabled)
		attrs["graceSeconds"] = strconv.FormatUint(cfg.Grace.Seconds, 10)
		attrs["blocklistSize"] = strconv.Itoa(len(cfg.Blocklist))
		attrs["allowlistSize"] = strconv.Itoa(len(cfg.Allowlist))
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}

func claimAttrs(claim *ClaimRecord) map[string]string {
	attrs := make(map[string]string)
	if claim == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(claim.EscrowID, 10)
	attrs["recipient"] = addrAttr(claim.Recipient)
	attrs["amount"] = claim.Amount.String()
	attrs["expiresAt"] = strconv.FormatInt(claim.ExpiresAt, 10)
	return attrs
}

// NewClaimSubmittedEvent returns the payload for a newly pending claim.
func NewClaimSubmittedEvent(claim *ClaimRecord) *types.Event {
	return &types.Event{Type: EventTypeClaimSubmitted, Attributes: claimAttrs(claim)}
}

// NewClaimApprovedEvent returns the payload emitted when a claim pays out.
func NewClaimApprovedEvent(claim *ClaimRecord) *types.Event {
	return &types.Event{Type: EventTypeClaimApproved, Attributes: claimAttrs(claim)}
}

// NewClaimCancelledEvent returns the payload emitted when a claim is removed.
func NewClaimCancelledEvent(claim *ClaimRecord) *types.Event {
	return &types.Event{Type: EventTypeClaimCancelled, Attributes: claimAttrs(claim)}
}

func capabilityAttrs(record *Capability) map[string]string {
	attrs := make(map[string]string)
	if record == nil {
		return attrs
	}
	attrs["capabilityId"] = strconv.FormatUint(record.ID, 10)
	attrs["holder"] = addrAttr(record.Holder)
	attrs["action"] = strconv.FormatUint(uint64(record.Action), 10)
	attrs["uses"] = strconv.FormatUint(record.Uses, 10)
	if record.Scope != nil {
		attrs["scope"] = strconv.FormatUint(*record.Scope, 10)
	}
	if record.AmountLimit != nil {
		attrs["amountLimit"] = record.AmountLimit.String()
	}
	return attrs
}

// NewCapabilityIssuedEvent returns the payload for a freshly issued
// capability.
func NewCapabilityIssuedEvent(record *Capability) *types.Event {
	return &types.Event{Type: EventTypeCapabilityIssued, Attributes: capabilityAttrs(record)}
}

// NewCapabilityUsedEvent returns the payload recorded on each consumption.
func NewCapabilityUsedEvent(record *Capability, amount *big.Int) *types.Event {
	attrs := capabilityAttrs(record)
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeCapabilityUsed, Attributes: attrs}
}

// NewCapabilityRevokedEvent returns the payload emitted on revocation.
func NewCapabilityRevokedEvent(record *Capability) *types.Event {
	return &types.Event{Type: EventTypeCapabilityRevoked, Attributes: capabilityAttrs(record)}
}

// NewSplitConfigEvent returns the payload for a split configuration change.
func NewSplitConfigEvent(split *SplitConfig) *types.Event {
	attrs := make(map[string]string)
	if split != nil {
		attrs["id"] = strconv.FormatUint(split.EscrowID, 10)
		attrs["beneficiaries"] = strconv.Itoa(len(split.Beneficiaries))
		attrs["active"] = strconv.FormatBool(split.Active)
	}
	return &types.Event{Type: EventTypeSplitConfigured, Attributes: attrs}
}

// NewSplitPayoutEvent returns the payload for an executed split release.
func NewSplitPayoutEvent(esc *Escrow, paid *big.Int, recipients int) *types.Event {
	attrs := escrowAttrs(esc)
	attrs["released"] = paid.String()
	attrs["recipients"] = strconv.Itoa(recipients)
	return &types.Event{Type: EventTypeSplitPayout, Attributes: attrs}
}

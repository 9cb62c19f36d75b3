package escrow

import "math/big"

// Administrative surface. Every mutation is admin-gated and persists through
// the single Config record so the validation chain always sees one coherent
// snapshot.

func (e *Engine) updateConfig(caller [20]byte, mutate func(*Config) error) error {
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
	next := cfg.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := e.state.ConfigPut(next); err != nil {
		return err
	}
	e.emit(NewConfigUpdatedEvent(next))
	return nil
}

// SetPaused toggles the three operation gates independently.
func (e *Engine) SetPaused(caller [20]byte, lock, release, refund bool, reason string) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Paused = PauseFlags{Lock: lock, Release: release, Refund: refund, Reason: reason}
		return nil
	})
}

// SetAmountPolicy bounds future lock amounts. Nil clears a bound; when both
// are set the minimum must not exceed the maximum.
func (e *Engine) SetAmountPolicy(caller [20]byte, min, max *big.Int) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		if min != nil && min.Sign() < 0 || max != nil && max.Sign() < 0 {
			return ErrInvalidAmount
		}
		if min != nil && max != nil && min.Cmp(max) > 0 {
			return ErrInvalidAmount
		}
		cfg.AmountPolicy = AmountPolicy{Min: copyOptionalBigInt(min), Max: copyOptionalBigInt(max)}
		return nil
	})
}

// UpdateFeeConfig sets the lock/release fee rates and the single-recipient
// sink. Rates are capped strictly below 100%; enabling fees requires either a
// recipient or an enabled treasury distribution.
func (e *Engine) UpdateFeeConfig(caller [20]byte, lockFeeBps, releaseFeeBps uint32, recipient [20]byte, enabled bool) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		if lockFeeBps >= MaxFeeBps || releaseFeeBps >= MaxFeeBps {
			return ErrInvalidAmount
		}
		if enabled && recipient == ([20]byte{}) && !cfg.TreasuryEnabled {
			return errNilTreasury
		}
		cfg.Fees = FeeConfig{
			LockFeeBps:    lockFeeBps,
			ReleaseFeeBps: releaseFeeBps,
			Recipient:     recipient,
			Enabled:       enabled,
		}
		return nil
	})
}

// SetTreasuryDistributions replaces the weighted fee destinations. Enabling
// requires at least one destination and a positive weight total.
func (e *Engine) SetTreasuryDistributions(caller [20]byte, destinations []TreasuryDestination, enabled bool) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		if enabled {
			if len(destinations) == 0 {
				return ErrInvalidSplit
			}
			var total uint64
			for _, dest := range destinations {
				total += dest.Weight
			}
			if total == 0 {
				return ErrInvalidSplit
			}
		}
		cfg.Treasury = append([]TreasuryDestination(nil), destinations...)
		cfg.TreasuryEnabled = enabled
		return nil
	})
}

// SetFilterMode switches which membership set gates participation. The sets
// themselves persist across switches.
func (e *Engine) SetFilterMode(caller [20]byte, mode ParticipantFilterMode) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		if !mode.Valid() {
			return ErrParticipantBlocked
		}
		cfg.FilterMode = mode
		return nil
	})
}

func addMember(set [][20]byte, addr [20]byte) [][20]byte {
	if containsAddress(set, addr) {
		return set
	}
	return append(set, addr)
}

func removeMember(set [][20]byte, addr [20]byte) [][20]byte {
	out := set[:0]
	for _, member := range set {
		if member != addr {
			out = append(out, member)
		}
	}
	return out
}

// AddToBlocklist records an address in the blocklist set.
func (e *Engine) AddToBlocklist(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Blocklist = addMember(cfg.Blocklist, addr)
		return nil
	})
}

// RemoveFromBlocklist drops an address from the blocklist set.
func (e *Engine) RemoveFromBlocklist(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Blocklist = removeMember(cfg.Blocklist, addr)
		return nil
	})
}

// AddToAllowlist records an address in the allowlist set.
func (e *Engine) AddToAllowlist(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Allowlist = addMember(cfg.Allowlist, addr)
		return nil
	})
}

// RemoveFromAllowlist drops an address from the allowlist set.
func (e *Engine) RemoveFromAllowlist(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Allowlist = removeMember(cfg.Allowlist, addr)
		return nil
	})
}

// SetSettlementGrace configures the post-deadline window during which
// non-admin refunds stay blocked.
func (e *Engine) SetSettlementGrace(caller [20]byte, seconds uint64, enabled bool) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Grace = GraceConfig{Seconds: seconds, Enabled: enabled}
		return nil
	})
}

// FreezeAddress blocks an address from participating in any operation.
func (e *Engine) FreezeAddress(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.FrozenAddresses = addMember(cfg.FrozenAddresses, addr)
		return nil
	})
}

// UnfreezeAddress lifts an address freeze.
func (e *Engine) UnfreezeAddress(caller, addr [20]byte) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.FrozenAddresses = removeMember(cfg.FrozenAddresses, addr)
		return nil
	})
}

// FreezeEscrow marks a single escrow as frozen; release and refund report
// ErrFrozen until the freeze is lifted.
func (e *Engine) FreezeEscrow(caller [20]byte, id uint64, reason string) error {
	return e.setEscrowFrozen(caller, id, true, reason)
}

// UnfreezeEscrow lifts a per-escrow freeze.
func (e *Engine) UnfreezeEscrow(caller [20]byte, id uint64) error {
	return e.setEscrowFrozen(caller, id, false, "")
}

func (e *Engine) setEscrowFrozen(caller [20]byte, id uint64, frozen bool, reason string) error {
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
	stored, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrNotFound
	}
	esc := stored.Clone()
	esc.Frozen = frozen
	esc.FrozenReason = reason
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewFrozenEvent(esc, frozen))
	return nil
}

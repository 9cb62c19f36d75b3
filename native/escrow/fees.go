package escrow

import "math/big"

// Fee and split arithmetic. Everything here is integer math with an exactness
// guarantee: the allocations of a split always sum to the input amount, with
// dust from integer division awarded to index 0.

var bpsDivisor = big.NewInt(int64(MaxFeeBps))

// ComputeFee returns floor(amount * rateBps / 10_000) and the net remainder.
// Rates at or above MaxFeeBps are rejected at configuration time, so the net
// amount is always non-negative here.
func ComputeFee(amount *big.Int, rateBps uint32) (fee, net *big.Int) {
	gross := cloneBigInt(amount)
	if gross.Sign() <= 0 || rateBps == 0 {
		return big.NewInt(0), gross
	}
	fee = new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(rateBps)))
	fee.Div(fee, bpsDivisor)
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}

func applyFee(amount *big.Int, rateBps uint32, enabled bool) (fee, net *big.Int) {
	if !enabled {
		return big.NewInt(0), cloneBigInt(amount)
	}
	return ComputeFee(amount, rateBps)
}

// SplitByWeight divides amount across weighted destinations. Destination i
// receives floor(amount * w_i / W); the remainder goes to destination 0 so
// the allocations sum to amount exactly. The weight total must be positive.
func SplitByWeight(amount *big.Int, destinations []TreasuryDestination) ([]*big.Int, error) {
	if len(destinations) == 0 {
		return nil, ErrInvalidSplit
	}
	total := new(big.Int)
	for _, dest := range destinations {
		total.Add(total, new(big.Int).SetUint64(dest.Weight))
	}
	if total.Sign() <= 0 {
		return nil, ErrInvalidSplit
	}
	value := cloneBigInt(amount)
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	allocations := make([]*big.Int, len(destinations))
	distributed := new(big.Int)
	for i, dest := range destinations {
		share := new(big.Int).Mul(value, new(big.Int).SetUint64(dest.Weight))
		share.Div(share, total)
		allocations[i] = share
		distributed.Add(distributed, share)
	}
	dust := new(big.Int).Sub(value, distributed)
	allocations[0] = new(big.Int).Add(allocations[0], dust)
	return allocations, nil
}

// ValidateSplits checks a beneficiary split set: 1 to MaxSplitBeneficiaries
// entries, every share positive, shares summing to exactly 10_000 bps.
func ValidateSplits(beneficiaries []BeneficiarySplit) error {
	if len(beneficiaries) == 0 || len(beneficiaries) > MaxSplitBeneficiaries {
		return ErrInvalidSplit
	}
	var total uint64
	for _, entry := range beneficiaries {
		if entry.ShareBps == 0 {
			return ErrInvalidSplit
		}
		total += uint64(entry.ShareBps)
	}
	if total != uint64(MaxFeeBps) {
		return ErrInvalidSplit
	}
	return nil
}

// SplitByShares divides amount across beneficiaries by basis points. Dust
// goes to index 0, guaranteeing exact conservation.
func SplitByShares(amount *big.Int, beneficiaries []BeneficiarySplit) []*big.Int {
	value := cloneBigInt(amount)
	allocations := make([]*big.Int, len(beneficiaries))
	distributed := new(big.Int)
	for i, entry := range beneficiaries {
		share := new(big.Int).Mul(value, new(big.Int).SetUint64(uint64(entry.ShareBps)))
		share.Div(share, bpsDivisor)
		allocations[i] = share
		distributed.Add(distributed, share)
	}
	if len(allocations) > 0 {
		dust := new(big.Int).Sub(value, distributed)
		allocations[0] = new(big.Int).Add(allocations[0], dust)
	}
	return allocations
}

// MaxSplitBeneficiaries caps payout split fan-out.
const MaxSplitBeneficiaries = 50

// routeFee moves a computed fee from the paying account to the configured
// sink: the weighted treasury destinations when distribution is enabled,
// otherwise the single fee recipient.
func (e *Engine) routeFee(cfg *Config, from [20]byte, fee *big.Int) error {
	if fee == nil || fee.Sign() <= 0 {
		return nil
	}
	if cfg.TreasuryEnabled && len(cfg.Treasury) > 0 {
		allocations, err := SplitByWeight(fee, cfg.Treasury)
		if err != nil {
			return err
		}
		for i, dest := range cfg.Treasury {
			if allocations[i].Sign() == 0 {
				continue
			}
			if err := e.transfer(from, dest.Address, allocations[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if cfg.Fees.Recipient == ([20]byte{}) {
		return errNilTreasury
	}
	return e.transfer(from, cfg.Fees.Recipient, fee)
}

package perp

import "math/big"

// Positive realized PnL vests linearly before it may convert to capital:
// withdrawable(s) = min(pnl - reserved_pnl, slope * elapsed(s)). Negative PnL
// never vests; settleLossOnly realizes it immediately against capital, then
// insurance, then the positive PnL of every other account.

// withdrawablePnl computes the vested positive PnL of a staged account at the
// given slot under the staged pause markers.
func withdrawablePnl(acct *Account, slot uint64, paused bool, pauseSlot uint64) *big.Int {
	if acct.Pnl.Sign() <= 0 {
		return big.NewInt(0)
	}
	base := new(big.Int).Sub(acct.Pnl, acct.ReservedPnl)
	if base.Sign() <= 0 {
		return big.NewInt(0)
	}
	end := slot
	if paused && pauseSlot < end {
		end = pauseSlot
	}
	if end <= acct.WarmupStartedAtSlot {
		return big.NewInt(0)
	}
	elapsed := end - acct.WarmupStartedAtSlot
	vested := new(big.Int).SetUint64(acct.WarmupSlopePerStep)
	vested.Mul(vested, new(big.Int).SetUint64(elapsed))
	return minBig(base, vested)
}

// convertProfit moves vested positive PnL into capital, bounded by the
// staged accounting surplus (the haircut) and the principal sanitizer bound.
// Returns the converted amount.
func (e *Engine) convertProfit(f *frame, acct *Account, nowSlot uint64) *big.Int {
	vested := withdrawablePnl(acct, nowSlot, f.warmupPaused, f.warmupPauseSlot)
	if vested.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := minBig(vested, f.residual())
	if cap := e.state.params.MaxPrincipal; cap != nil {
		headroom := new(big.Int).Sub(cap, acct.Capital)
		if headroom.Sign() < 0 {
			headroom.SetInt64(0)
		}
		amount = minBig(amount, headroom)
	}
	if amount.Sign() == 0 {
		return big.NewInt(0)
	}
	acct.Pnl = new(big.Int).Sub(acct.Pnl, amount)
	acct.Capital = new(big.Int).Add(acct.Capital, amount)
	// Vesting restarts for the remaining balance.
	acct.WarmupStartedAtSlot = nowSlot
	return amount
}

// settleLossOnly realizes negative PnL. The write-off order is capital, then
// the spendable insurance buffer, then a proportional haircut on every other
// account's positive PnL. After it returns, pnl >= 0 or capital == 0 (the N1
// boundary); capital of other accounts is never touched.
func (e *Engine) settleLossOnly(f *frame, acct *Account, nowSlot uint64) {
	if acct.Pnl.Sign() >= 0 {
		return
	}
	clampReserved(acct)
	loss := negPart(acct.Pnl)
	off := minBig(loss, acct.Capital)
	if off.Sign() > 0 {
		acct.Capital = new(big.Int).Sub(acct.Capital, off)
		acct.Pnl = new(big.Int).Add(acct.Pnl, off)
	}
	if acct.Pnl.Sign() >= 0 {
		return
	}

	residue := negPart(acct.Pnl)
	acct.Pnl = big.NewInt(0)

	spend := minBig(residue, f.spendableInsurance())
	if spend.Sign() > 0 {
		f.insurance.Sub(f.insurance, spend)
		residue.Sub(residue, spend)
	}
	if residue.Sign() > 0 {
		e.socializeLoss(f, residue, nowSlot)
	}
}

// socializeLoss spreads a loss residue as a proportional haircut on the
// positive PnL of all accounts. Truncation remainders are assigned one unit
// at a time in slot order. Whatever positive PnL cannot absorb accumulates
// in lossAccum, and the engine enters risk-reduction mode either way.
func (e *Engine) socializeLoss(f *frame, residue *big.Int, nowSlot uint64) {
	total := f.pnlPosTot()
	if total.Sign() == 0 {
		f.lossAccum = satAddPnl(f.lossAccum, residue)
		f.enterRiskReduction(nowSlot)
		return
	}
	spread := minBig(residue, total)
	f.socialized.Add(f.socialized, spread)
	if residue.Cmp(total) > 0 {
		overflowed := new(big.Int).Sub(residue, total)
		f.lossAccum = satAddPnl(f.lossAccum, overflowed)
	}

	assigned := big.NewInt(0)
	f.eachUsed(func(_ uint32, other *Account) {
		if other.Pnl.Sign() <= 0 {
			return
		}
		cut := new(big.Int).Mul(spread, other.Pnl)
		cut.Quo(cut, total)
		other.Pnl = new(big.Int).Sub(other.Pnl, cut)
		clampReserved(other)
		assigned.Add(assigned, cut)
	})
	leftover := new(big.Int).Sub(spread, assigned)
	if leftover.Sign() > 0 {
		f.eachUsed(func(_ uint32, other *Account) {
			if leftover.Sign() == 0 || other.Pnl.Sign() <= 0 {
				return
			}
			unit := minBig(leftover, other.Pnl)
			unit = minBig(unit, big.NewInt(1))
			other.Pnl = new(big.Int).Sub(other.Pnl, unit)
			clampReserved(other)
			leftover.Sub(leftover, unit)
		})
		if leftover.Sign() > 0 {
			f.lossAccum = satAddPnl(f.lossAccum, leftover)
		}
	}
	f.enterRiskReduction(nowSlot)
}

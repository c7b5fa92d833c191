package perp

import "math/big"

// Maintenance fees accrue per slot against capital and are credited to the
// insurance fund. Accrual is deferred into Account.FeeCredits so that idle
// accounts are never written; credits settle on every state-touching
// operation.

// accrueFeeDebt folds the per-slot coupon for the elapsed window into the
// deferred credit bucket without touching capital. When the account has been
// idle past the forgiveness half-life, the outstanding debt (including the
// idle window's coupon) is halved once per elapsed half-life.
func (e *Engine) accrueFeeDebt(acct *Account, nowSlot uint64) {
	if nowSlot <= acct.LastFeeSlot {
		return
	}
	elapsed := nowSlot - acct.LastFeeSlot
	params := &e.state.params

	debt := new(big.Int).Set(acct.FeeCredits)
	if params.MaintenanceFeePerSlotE6 > 0 && acct.Capital.Sign() > 0 {
		coupon := new(big.Int).SetUint64(params.MaintenanceFeePerSlotE6)
		coupon.Mul(coupon, new(big.Int).SetUint64(elapsed))
		coupon.Mul(coupon, acct.Capital)
		coupon.Quo(coupon, priceScale)
		debt.Add(debt, coupon)
	}
	if half := params.FeeForgivenessHalfLifeSlots; half > 0 {
		periods := elapsed / half
		if periods > 127 {
			periods = 127
		}
		debt.Rsh(debt, uint(periods))
	}
	acct.FeeCredits = clampI128(debt)
	acct.LastFeeSlot = nowSlot
}

// settleMaintenanceFee accrues the elapsed coupon into the fee credits, then
// realizes outstanding credits against capital, crediting the paid amount to
// insurance. Capital caps the payment; the payment step only ever decreases
// credits. A second call at the same slot is a no-op.
func (e *Engine) settleMaintenanceFee(f *frame, acct *Account, nowSlot uint64) error {
	e.accrueFeeDebt(acct, nowSlot)
	if acct.FeeCredits.Sign() <= 0 {
		return nil
	}
	pay := minBig(acct.FeeCredits, acct.Capital)
	if pay.Sign() == 0 {
		return nil
	}
	insurance, err := checkedAddU128(f.insurance, pay)
	if err != nil {
		return err
	}
	capital, err := checkedSubU128(acct.Capital, pay)
	if err != nil {
		return err
	}
	f.insurance = insurance
	acct.Capital = capital
	acct.FeeCredits = new(big.Int).Sub(acct.FeeCredits, pay)
	return nil
}

package perp

import "math/big"

// Liquidate force-closes an undercollateralized account at the oracle price.
// The liquidation fee is charged to the underwater account and credited to
// insurance; the keeper's capital is never reduced. Losses beyond the
// account's capital absorb from the spendable insurance buffer and then
// socialize across positive PnL.
func (e *Engine) Liquidate(idx uint32, oracleE6 uint64, keeperIdx uint32) (*LiquidationReport, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.validOraclePrice(oracleE6) {
		return nil, errOverflow
	}
	if e.state.account(keeperIdx) == nil {
		return nil, errAccountNotFound
	}
	report, err := e.liquidateAt(idx, oracleE6)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// liquidateAt runs one forced close through a frame and commits on success.
// The keeper crank shares this path for its best-effort scan.
func (e *Engine) liquidateAt(idx uint32, oracleE6 uint64) (*LiquidationReport, error) {
	s := e.state
	f := newFrame(s)
	acct, err := f.account(idx)
	if err != nil {
		return nil, err
	}
	if err := e.settleMaintenanceFee(f, acct, s.currentSlot); err != nil {
		return nil, err
	}
	e.touchFunding(acct)
	if !f.undercollateralized(acct, oracleE6, &s.params) {
		return nil, errNotUndercollateralized
	}

	closedSize := new(big.Int).Set(acct.PositionSize)
	insuranceBefore := new(big.Int).Set(f.insurance)

	realized := applyFill(acct, new(big.Int).Neg(acct.PositionSize), oracleE6)

	notional := priceMul(absBig(closedSize), oracleE6)
	fee := bpsOf(notional, s.params.LiquidationFeeBps)
	fee = minBig(fee, acct.Capital)
	if fee.Sign() > 0 {
		insurance, err := checkedAddU128(f.insurance, fee)
		if err != nil {
			return nil, err
		}
		capital, err := checkedSubU128(acct.Capital, fee)
		if err != nil {
			return nil, err
		}
		f.insurance = insurance
		acct.Capital = capital
	}

	e.settleLossOnly(f, acct, s.currentSlot)

	absorbed := new(big.Int).Add(insuranceBefore, fee)
	absorbed.Sub(absorbed, f.insurance)
	if absorbed.Sign() < 0 {
		absorbed.SetInt64(0)
	}

	// Dust rule: residual equity at or below the threshold is swept into
	// insurance and the slot is released.
	accountClosed := false
	if acct.Pnl.Sign() == 0 && acct.ReservedPnl.Sign() == 0 && acct.FeeCredits.Sign() == 0 {
		dust := s.params.DustThreshold
		if dust == nil {
			dust = big.NewInt(0)
		}
		if acct.Capital.Cmp(dust) <= 0 {
			if acct.Capital.Sign() > 0 {
				if insurance, err := checkedAddU128(f.insurance, acct.Capital); err == nil {
					f.insurance = insurance
					acct.Capital = big.NewInt(0)
				}
			}
			if acct.Capital.Sign() == 0 {
				f.close(idx)
				accountClosed = true
			}
		}
	}

	accountID := acct.AccountID
	report := &LiquidationReport{
		ClosedSize:        closedSize,
		OraclePriceE6:     oracleE6,
		RealizedPnl:       realized,
		LiquidationFee:    fee,
		InsuranceAbsorbed: absorbed,
		SocializedResidue: new(big.Int).Set(f.socialized),
		AccountClosed:     accountClosed,
	}
	e.commitFrame(f)
	e.metrics.AccountLiquidated()
	e.emitter.Emit(AccountLiquidated{
		Index:             idx,
		AccountID:         accountID,
		ClosedSize:        new(big.Int).Set(closedSize),
		OraclePriceE6:     oracleE6,
		LiquidationFee:    new(big.Int).Set(fee),
		InsuranceAbsorbed: new(big.Int).Set(absorbed),
		SocializedResidue: new(big.Int).Set(f.socialized),
	})
	return report, nil
}

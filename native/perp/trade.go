package perp

import "math/big"

// ExecuteTrade validates an external fill and applies it to both legs. The
// requested size is the user's order as the host submitted it to the matcher;
// the fill must not exceed it, must carry its sign, and must price inside the
// oracle bound. Trade PnL is zero-sum between user and LP before the taker
// fee, which moves user capital into insurance.
func (e *Engine) ExecuteTrade(userIdx, lpIdx uint32, oracleE6 uint64, requested *big.Int, out MatcherOutput) (*TradeReport, error) {
	if err := e.guardTrading(); err != nil {
		return nil, err
	}
	s := e.state
	if !e.validOraclePrice(oracleE6) {
		return nil, errOverflow
	}
	if s.currentSlot-s.lastCrankSlot > s.params.StalenessBoundSlots {
		return nil, errStaleCrank
	}
	if userIdx == lpIdx {
		return nil, errSelfTrade
	}
	if requested == nil || requested.Sign() == 0 {
		return nil, errZeroAmount
	}
	if err := e.guardMatcherOutput(requested, out); err != nil {
		return nil, err
	}

	f := newFrame(s)
	user, err := f.account(userIdx)
	if err != nil {
		return nil, err
	}
	lp, err := f.account(lpIdx)
	if err != nil {
		return nil, err
	}
	if !lp.IsLP() {
		return nil, errInvalidMatcher
	}

	if err := e.settleMaintenanceFee(f, user, s.currentSlot); err != nil {
		return nil, err
	}
	if err := e.settleMaintenanceFee(f, lp, s.currentSlot); err != nil {
		return nil, err
	}
	e.touchFunding(user)
	e.touchFunding(lp)

	fill := out.FilledSize
	newUserPos := new(big.Int).Add(user.PositionSize, fill)
	newLPPos := new(big.Int).Sub(lp.PositionSize, fill)
	if s.riskReductionOnly {
		if absBig(newUserPos).Cmp(absBig(user.PositionSize)) > 0 ||
			absBig(newLPPos).Cmp(absBig(lp.PositionSize)) > 0 {
			return nil, errRiskReductionOnly
		}
	}

	userRealized := applyFill(user, fill, out.FilledPriceE6)
	lpRealized := applyFill(lp, new(big.Int).Neg(fill), out.FilledPriceE6)
	if maxPnl := s.params.MaxPnl; maxPnl != nil {
		if absBig(user.Pnl).Cmp(maxPnl) > 0 || absBig(lp.Pnl).Cmp(maxPnl) > 0 {
			return nil, errOverflow
		}
	}

	fee := new(big.Int).SetUint64(out.Fee)
	if fee.Sign() > 0 {
		capital, err := checkedSubU128(user.Capital, fee)
		if err != nil {
			return nil, errInsufficientBalance
		}
		insurance, err := checkedAddU128(f.insurance, fee)
		if err != nil {
			return nil, err
		}
		user.Capital = capital
		f.insurance = insurance
	}

	if !f.meetsMargin(user, oracleE6, s.params.InitialMarginBps) {
		return nil, errBelowInitialMargin
	}
	if !f.meetsMargin(lp, oracleE6, s.params.InitialMarginBps) {
		return nil, errBelowInitialMargin
	}

	e.commitFrame(f)
	e.metrics.TradeExecuted()
	e.emitter.Emit(TradeExecuted{
		UserIndex:     userIdx,
		LPIndex:       lpIdx,
		FilledSize:    new(big.Int).Set(fill),
		FilledPriceE6: out.FilledPriceE6,
		Fee:           fee,
	})
	return &TradeReport{
		FilledSize:      new(big.Int).Set(fill),
		FilledPriceE6:   out.FilledPriceE6,
		UserRealizedPnl: userRealized,
		LPRealizedPnl:   lpRealized,
		FeePaid:         fee,
	}, nil
}

// guardMatcherOutput rejects fills that overfill the request, price at zero
// or beyond the configured bound, or flip the requested side.
func (e *Engine) guardMatcherOutput(requested *big.Int, out MatcherOutput) error {
	fill := out.FilledSize
	if fill == nil || fill.Sign() == 0 {
		return errInvalidMatcher
	}
	if fill.Sign() != requested.Sign() {
		return errInvalidMatcher
	}
	if absBig(fill).Cmp(absBig(requested)) > 0 {
		return errInvalidMatcher
	}
	if out.FilledPriceE6 == 0 {
		return errInvalidMatcher
	}
	if max := e.state.params.MaxOraclePriceE6; max > 0 && out.FilledPriceE6 > max {
		return errInvalidMatcher
	}
	return nil
}

// applyFill folds a signed fill into a position: volume-weighted entry on
// increases, realized PnL at the fill price on reductions, and a fresh entry
// when the position flips through zero. The realized amount is returned.
func applyFill(acct *Account, fill *big.Int, priceE6 uint64) *big.Int {
	pos := acct.PositionSize
	realized := big.NewInt(0)

	if pos.Sign() == 0 || pos.Sign() == fill.Sign() {
		acct.EntryPriceE6 = vwapEntry(pos, acct.EntryPriceE6, fill, priceE6)
		acct.PositionSize = new(big.Int).Add(pos, fill)
		return realized
	}

	closed := minBig(absBig(fill), absBig(pos))
	closedSigned := new(big.Int).Set(closed)
	if pos.Sign() < 0 {
		closedSigned.Neg(closedSigned)
	}
	realized = priceDelta(closedSigned, acct.EntryPriceE6, priceE6)
	acct.Pnl = satAddPnl(acct.Pnl, realized)
	clampReserved(acct)

	newPos := new(big.Int).Add(pos, fill)
	switch {
	case newPos.Sign() == 0:
		acct.EntryPriceE6 = 0
	case newPos.Sign() != pos.Sign():
		// Flipped through zero: the remainder opens at the fill price.
		acct.EntryPriceE6 = priceE6
	}
	acct.PositionSize = newPos
	return realized
}

// vwapEntry blends an increase into the running volume-weighted entry price,
// truncating toward zero.
func vwapEntry(pos *big.Int, entryE6 uint64, fill *big.Int, priceE6 uint64) uint64 {
	absPos := absBig(pos)
	absFill := absBig(fill)
	total := new(big.Int).Add(absPos, absFill)
	if total.Sign() == 0 {
		return 0
	}
	weighted := new(big.Int).Mul(absPos, new(big.Int).SetUint64(entryE6))
	weighted.Add(weighted, new(big.Int).Mul(absFill, new(big.Int).SetUint64(priceE6)))
	weighted.Quo(weighted, total)
	return weighted.Uint64()
}

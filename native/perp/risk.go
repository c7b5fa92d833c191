package perp

import "math/big"

// Margin checks value positions at the oracle. Equity counts capital plus
// marked PnL; positive PnL is discounted by the haircut ratio so that margin
// never leans on claims the vault cannot back, while negative PnL counts in
// full.

// backedPnl discounts a positive PnL claim by the staged haircut ratio
// h = min(residual, pnl_pos_tot) / pnl_pos_tot. The multiply-then-divide
// order keeps proportionality exact under cross-multiplication.
func (f *frame) backedPnl(claim *big.Int) *big.Int {
	if claim.Sign() <= 0 {
		return big.NewInt(0)
	}
	residual := f.residual()
	total := f.pnlPosTot()
	if total.Sign() == 0 {
		return minBig(claim, residual)
	}
	if residual.Cmp(total) >= 0 {
		return new(big.Int).Set(claim)
	}
	backed := new(big.Int).Mul(claim, residual)
	return backed.Quo(backed, total)
}

// equityAtOracle previews account equity marked to the oracle price.
func (f *frame) equityAtOracle(acct *Account, oracleE6 uint64) *big.Int {
	marked := new(big.Int).Set(acct.Pnl)
	if acct.PositionSize.Sign() != 0 {
		marked = satAddPnl(marked, priceDelta(acct.PositionSize, acct.EntryPriceE6, oracleE6))
	}
	if marked.Sign() >= 0 {
		return new(big.Int).Add(acct.Capital, f.backedPnl(marked))
	}
	return new(big.Int).Add(acct.Capital, marked)
}

// marginRequirement is the notional fraction demanded at the given bps.
func marginRequirement(position *big.Int, oracleE6 uint64, bps uint64) *big.Int {
	if position.Sign() == 0 {
		return big.NewInt(0)
	}
	notional := priceMul(absBig(position), oracleE6)
	return bpsOf(notional, bps)
}

// meetsMargin reports whether the staged account satisfies the requirement
// expressed in basis points of notional at the oracle price.
func (f *frame) meetsMargin(acct *Account, oracleE6 uint64, bps uint64) bool {
	if acct.PositionSize.Sign() == 0 {
		return true
	}
	req := marginRequirement(acct.PositionSize, oracleE6, bps)
	return f.equityAtOracle(acct, oracleE6).Cmp(req) >= 0
}

// undercollateralized reports whether equity has fallen below maintenance
// margin at the oracle price.
func (f *frame) undercollateralized(acct *Account, oracleE6 uint64, params *Params) bool {
	if acct.PositionSize.Sign() == 0 {
		return false
	}
	return !f.meetsMargin(acct, oracleE6, params.MaintenanceMarginBps)
}

func (e *Engine) validOraclePrice(priceE6 uint64) bool {
	if priceE6 == 0 {
		return false
	}
	if max := e.state.params.MaxOraclePriceE6; max > 0 && priceE6 > max {
		return false
	}
	return true
}

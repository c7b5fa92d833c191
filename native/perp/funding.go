package perp

import "math/big"

// The global funding index accumulates the per-slot funding rate, scaled by
// 1e6 per unit of position. Accounts settle lazily: on touch, the index delta
// since their snapshot is converted into a PnL payment. A positive rate means
// the mark trades above the oracle, so longs pay and shorts receive.

// advanceFundingIndex drifts the global index by rate*(nowSlot-lastFunding).
// Rates beyond the configured clamp are rejected with no mutation; the index
// itself saturates at the signed 128-bit bounds.
func (e *Engine) advanceFundingIndex(nowSlot uint64, rateE6 int64) (*big.Int, error) {
	s := e.state
	clamp := s.params.FundingRateClampE6
	if clamp > 0 {
		abs := rateE6
		if abs < 0 {
			abs = -abs
		}
		if uint64(abs) > clamp {
			return nil, errOverflow
		}
	}
	if nowSlot <= s.lastFundingSlot {
		return big.NewInt(0), nil
	}
	elapsed := nowSlot - s.lastFundingSlot
	delta := new(big.Int).SetInt64(rateE6)
	delta.Mul(delta, new(big.Int).SetUint64(elapsed))
	delta = clampI128(delta)
	s.fundingIndexE6 = satAddPnl(s.fundingIndexE6, delta)
	s.lastFundingSlot = nowSlot
	return delta, nil
}

// touchFunding settles the index delta since the account's snapshot into its
// PnL and refreshes the snapshot. Touching twice at the same index is a
// no-op. Payments truncate toward zero, so the per-account rounding error is
// below one unit and the sum across a balanced book stays within the number
// of used accounts.
func (e *Engine) touchFunding(acct *Account) {
	gi := e.state.fundingIndexE6
	delta := new(big.Int).Sub(gi, acct.FundingIndex)
	if delta.Sign() == 0 {
		return
	}
	if acct.PositionSize.Sign() != 0 {
		payment := new(big.Int).Mul(acct.PositionSize, delta)
		payment.Quo(payment, priceScale)
		payment.Neg(payment)
		acct.Pnl = satAddPnl(acct.Pnl, payment)
		clampReserved(acct)
	}
	acct.FundingIndex = new(big.Int).Set(gi)
}

// settleMarkToOracle realizes the mark move from the account's entry price to
// the oracle and re-anchors the entry there. Only this account's PnL changes;
// counterparties realize their own side when they are touched, so closing one
// leg never teleports PnL across the book.
func settleMarkToOracle(acct *Account, oracleE6 uint64) *big.Int {
	if acct.PositionSize.Sign() == 0 || acct.EntryPriceE6 == oracleE6 {
		return big.NewInt(0)
	}
	realized := priceDelta(acct.PositionSize, acct.EntryPriceE6, oracleE6)
	acct.Pnl = satAddPnl(acct.Pnl, realized)
	clampReserved(acct)
	acct.EntryPriceE6 = oracleE6
	return realized
}

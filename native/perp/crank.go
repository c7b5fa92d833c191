package perp

import nativecommon "perpcore/native/common"

// KeeperCrank is the engine's tick: it advances the clock, drifts the funding
// index, settles a budgeted batch of fee accruals, and scans a budgeted
// window for liquidations. It is permissionless, safe to call at any time,
// and a no-op when there is nothing to do.
func (e *Engine) KeeperCrank(nowSlot uint64, oracleE6 uint64, fundingRateE6 int64) (*CrankSummary, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	s := e.state
	if nowSlot < s.currentSlot {
		return nil, errSlotRegression
	}
	if !e.validOraclePrice(oracleE6) {
		return nil, errOverflow
	}

	delta, err := e.advanceFundingIndex(nowSlot, fundingRateE6)
	if err != nil {
		return nil, err
	}
	s.currentSlot = nowSlot
	s.lastCrankSlot = nowSlot

	summary := &CrankSummary{Slot: nowSlot, FundingIndexDelta: delta}

	if max := s.params.MaxAccounts; max > 0 {
		fees := nativecommon.NewWorkBudget(s.params.CrankFeeBudget)
		for scanned := uint32(0); scanned < max && fees.Spend(); scanned++ {
			idx := s.feeCursor
			s.feeCursor = (s.feeCursor + 1) % max
			if s.account(idx) == nil {
				continue
			}
			if e.settleSlot(idx, nowSlot) {
				summary.FeeAccountsSettled++
			}
		}
		liquidations := nativecommon.NewWorkBudget(s.params.CrankLiquidationBudget)
		for scanned := uint32(0); scanned < max && liquidations.Spend(); scanned++ {
			idx := s.liqCursor
			s.liqCursor = (s.liqCursor + 1) % max
			acct := s.account(idx)
			if acct == nil || acct.PositionSize.Sign() == 0 {
				continue
			}
			summary.LiquidationsAttempted++
			if _, err := e.liquidateAt(idx, oracleE6); err != nil {
				// Healthy or unsettleable accounts are skipped; the scan
				// is best effort.
				continue
			}
			summary.LiquidationsExecuted++
		}
	}

	e.metrics.CrankLagSlots(0)
	e.emitter.Emit(CrankCompleted{Slot: nowSlot, LiquidationsExecuted: summary.LiquidationsExecuted})
	return summary, nil
}

// settleSlot runs the crank's per-account fee settlement. Funding and losses
// settle lazily when the account itself is touched. Failures leave the
// account untouched.
func (e *Engine) settleSlot(idx uint32, nowSlot uint64) bool {
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return false
	}
	if err := e.settleMaintenanceFee(f, acct, nowSlot); err != nil {
		return false
	}
	e.commitFrame(f)
	return true
}

package perp

import (
	"math/big"

	nativecommon "perpcore/native/common"
)

// Engine orchestrates every state transition for the risk module. It owns a
// single State blob; the host serializes calls and moves tokens to mirror the
// vault. Every fallible operation either commits whole or leaves the state
// bit-identical to the pre-call snapshot.
type Engine struct {
	state   *State
	emitter Emitter
	metrics Metrics
	pauses  PauseView
}

// NewEngine constructs an engine over an owned state blob.
func NewEngine(state *State) *Engine {
	return &Engine{
		state:   state,
		emitter: NoopEmitter{},
		metrics: NoopMetrics{},
	}
}

// SetEmitter wires the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// SetMetrics wires the metrics observer. A nil observer discards samples.
func (e *Engine) SetMetrics(metrics Metrics) {
	if e == nil {
		return
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	e.metrics = metrics
}

// SetPauses wires the governance pause view. A nil view pauses nothing.
func (e *Engine) SetPauses(p PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// State exposes the owned blob for snapshotting. The caller must not retain
// the handle across engine calls.
func (e *Engine) State() *State { return e.state }

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// commitFrame applies the staged mutation and publishes mode transitions.
func (e *Engine) commitFrame(f *frame) {
	wasRRO := e.state.riskReductionOnly
	f.commit()
	s := e.state
	if f.socialized.Sign() > 0 {
		e.metrics.LossSocialized(new(big.Int).Set(f.socialized))
		e.emitter.Emit(LossSocialized{Residue: new(big.Int).Set(f.socialized)})
	}
	if !wasRRO && s.riskReductionOnly {
		e.metrics.RiskReductionMode(true)
		e.emitter.Emit(RiskReductionEntered{Slot: s.currentSlot})
	}
	e.metrics.InsuranceBalance(new(big.Int).Set(s.insurance))
	e.metrics.AccountsInUse(s.numUsed)
}

// exitRiskReduction leaves crisis mode and resumes warmup vesting. Every used
// account's warmup start shifts forward by the paused duration so no vesting
// accrues across the pause.
func (e *Engine) exitRiskReduction() {
	s := e.state
	if !s.riskReductionOnly && !s.warmupPaused {
		return
	}
	if s.warmupPaused && s.currentSlot > s.warmupPauseSlot {
		pausedFor := s.currentSlot - s.warmupPauseSlot
		for idx := uint32(0); idx < s.nextAllocated; idx++ {
			acct := s.account(idx)
			if acct == nil {
				continue
			}
			acct.WarmupStartedAtSlot += pausedFor
		}
	}
	s.riskReductionOnly = false
	s.warmupPaused = false
	s.warmupPauseSlot = 0
	e.metrics.RiskReductionMode(false)
	e.emitter.Emit(RiskReductionExited{Slot: s.currentSlot})
}

// OpenUserAccount allocates a trading account. The attested fee payment is
// routed into the insurance fund.
func (e *Engine) OpenUserAccount(feePayment *big.Int) (uint32, uint64, error) {
	return e.openAccount(feePayment, nil, nil)
}

// OpenLPAccount allocates a liquidity provider account carrying the matcher
// identifiers that authorize its fills.
func (e *Engine) OpenLPAccount(feePayment *big.Int, matcherProgram, matcherContext []byte) (uint32, uint64, error) {
	if len(matcherProgram) == 0 {
		return NoSlot, 0, errInvalidMatcher
	}
	return e.openAccount(feePayment, matcherProgram, matcherContext)
}

func (e *Engine) openAccount(feePayment *big.Int, matcherProgram, matcherContext []byte) (uint32, uint64, error) {
	if err := e.guard(); err != nil {
		return NoSlot, 0, err
	}
	s := e.state
	if feePayment == nil || feePayment.Sign() < 0 {
		return NoSlot, 0, errZeroAmount
	}
	if min := s.params.AccountCreationFee; min != nil && feePayment.Cmp(min) < 0 {
		return NoSlot, 0, errFeeTooLow
	}
	if s.numUsed >= uint64(s.params.MaxAccounts) {
		return NoSlot, 0, errFull
	}
	vault, err := checkedAddU128(s.vault, feePayment)
	if err != nil {
		return NoSlot, 0, err
	}
	insurance, err := checkedAddU128(s.insurance, feePayment)
	if err != nil {
		return NoSlot, 0, err
	}

	idx, ok := s.allocSlot()
	if !ok {
		return NoSlot, 0, errFull
	}
	acct := newAccount(s.nextAccountID)
	s.nextAccountID++
	acct.WarmupStartedAtSlot = s.currentSlot
	acct.WarmupSlopePerStep = s.params.WarmupSlopePerStep
	acct.LastFeeSlot = s.currentSlot
	acct.FundingIndex = new(big.Int).Set(s.fundingIndexE6)
	if matcherProgram != nil {
		acct.MatcherProgram = append([]byte(nil), matcherProgram...)
		acct.MatcherContext = append([]byte(nil), matcherContext...)
	}
	s.accounts[idx] = acct
	s.vault = vault
	s.insurance = insurance

	e.metrics.AccountsInUse(s.numUsed)
	e.metrics.InsuranceBalance(new(big.Int).Set(s.insurance))
	e.emitter.Emit(AccountOpened{Index: idx, AccountID: acct.AccountID, IsLP: acct.IsLP(), Fee: new(big.Int).Set(feePayment)})
	return idx, acct.AccountID, nil
}

// Deposit credits capital from a host-attested transfer. Maintenance fees
// settle before the amount lands.
func (e *Engine) Deposit(idx uint32, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return err
	}
	if err := e.settleMaintenanceFee(f, acct, e.state.currentSlot); err != nil {
		return err
	}
	e.touchFunding(acct)

	capital, err := checkedAddU128(acct.Capital, amount)
	if err != nil {
		return err
	}
	if cap := e.state.params.MaxPrincipal; cap != nil && capital.Cmp(cap) > 0 {
		return errOverflow
	}
	vault, err := checkedAddU128(f.vault, amount)
	if err != nil {
		return err
	}
	acct.Capital = capital
	f.vault = vault
	e.commitFrame(f)
	return nil
}

// Withdraw releases capital after settling fees, losses, and the mark move to
// the oracle, converting vested profit under the haircut, and proving both
// margin requirements on the post-withdraw account.
func (e *Engine) Withdraw(idx uint32, amount *big.Int, nowSlot uint64, oracleE6 uint64) (*big.Int, error) {
	if err := e.guardWithdrawals(); err != nil {
		return nil, err
	}
	s := e.state
	if amount == nil || amount.Sign() <= 0 {
		return nil, errZeroAmount
	}
	if !e.validOraclePrice(oracleE6) {
		return nil, errOverflow
	}
	if nowSlot < s.currentSlot {
		return nil, errSlotRegression
	}
	if nowSlot-s.lastCrankSlot > s.params.StalenessBoundSlots {
		return nil, errStaleCrank
	}

	f := newFrame(s)
	acct, err := f.account(idx)
	if err != nil {
		return nil, err
	}
	if err := e.settleMaintenanceFee(f, acct, nowSlot); err != nil {
		return nil, err
	}
	e.touchFunding(acct)
	e.settleLossOnly(f, acct, nowSlot)
	settleMarkToOracle(acct, oracleE6)
	e.settleLossOnly(f, acct, nowSlot)
	e.convertProfit(f, acct, nowSlot)

	if acct.Capital.Cmp(amount) < 0 {
		unvested := new(big.Int).Sub(acct.Pnl, acct.ReservedPnl)
		if unvested.Sign() > 0 {
			return nil, errWarmupNotVested
		}
		return nil, errInsufficientBalance
	}
	capital, err := checkedSubU128(acct.Capital, amount)
	if err != nil {
		return nil, errInsufficientBalance
	}
	vault, err := checkedSubU128(f.vault, amount)
	if err != nil {
		return nil, err
	}
	acct.Capital = capital
	f.vault = vault

	if !f.meetsMargin(acct, oracleE6, s.params.MaintenanceMarginBps) {
		return nil, errBelowMaintenanceMargin
	}
	if !f.meetsMargin(acct, oracleE6, s.params.InitialMarginBps) {
		return nil, errBelowInitialMargin
	}

	e.commitFrame(f)
	if nowSlot > s.currentSlot {
		s.currentSlot = nowSlot
	}
	return new(big.Int).Set(amount), nil
}

// TouchAccount settles maintenance fees and funding without moving balances.
// Keepers call it to keep idle accounts current.
func (e *Engine) TouchAccount(idx uint32, nowSlot uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	if nowSlot < e.state.currentSlot {
		return errSlotRegression
	}
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return err
	}
	if err := e.settleMaintenanceFee(f, acct, nowSlot); err != nil {
		return err
	}
	e.touchFunding(acct)
	e.commitFrame(f)
	return nil
}

// ReservePnl earmarks positive PnL, making it unavailable for withdrawal or
// conversion until released. Hosts use it to back pending matcher
// commitments.
func (e *Engine) ReservePnl(idx uint32, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(acct.ReservedPnl, amount)
	if next.Cmp(posPart(acct.Pnl)) > 0 {
		return errInsufficientBalance
	}
	acct.ReservedPnl = next
	e.commitFrame(f)
	return nil
}

// ReleasePnl returns earmarked PnL to the withdrawable pool.
func (e *Engine) ReleasePnl(idx uint32, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return err
	}
	if acct.ReservedPnl.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	acct.ReservedPnl = new(big.Int).Sub(acct.ReservedPnl, amount)
	e.commitFrame(f)
	return nil
}

// CloseAccount settles and releases a flat account, returning the capital
// payout the host must transfer out. Positive PnL must be fully vested; the
// vested claim converts under the haircut and any unbacked remainder is
// forfeited to the book.
func (e *Engine) CloseAccount(idx uint32) (*big.Int, error) {
	if err := e.guardWithdrawals(); err != nil {
		return nil, err
	}
	s := e.state
	f := newFrame(s)
	acct, err := f.account(idx)
	if err != nil {
		return nil, err
	}
	if acct.PositionSize.Sign() != 0 {
		return nil, errPositionOpen
	}
	if err := e.settleMaintenanceFee(f, acct, s.currentSlot); err != nil {
		return nil, err
	}
	e.touchFunding(acct)
	acct.ReservedPnl = big.NewInt(0)
	e.settleLossOnly(f, acct, s.currentSlot)
	if acct.Pnl.Sign() > 0 {
		vested := withdrawablePnl(acct, s.currentSlot, f.warmupPaused, f.warmupPauseSlot)
		if vested.Cmp(acct.Pnl) < 0 {
			return nil, errPnlNotWarmedUp
		}
		converted := minBig(acct.Pnl, f.residual())
		acct.Capital = new(big.Int).Add(acct.Capital, converted)
		acct.Pnl = big.NewInt(0)
	}
	payout := new(big.Int).Set(acct.Capital)
	vault, err := checkedSubU128(f.vault, payout)
	if err != nil {
		return nil, err
	}
	f.vault = vault
	acct.Capital = big.NewInt(0)
	acct.FeeCredits = big.NewInt(0)
	accountID := acct.AccountID
	f.close(idx)
	e.commitFrame(f)
	e.emitter.Emit(AccountClosed{Index: idx, AccountID: accountID, Payout: new(big.Int).Set(payout)})
	return payout, nil
}

// CollectDust sweeps up to budget slots from the persistent cursor, closing
// accounts whose balances are all zero. No write-off happens here: an account
// with any residue, position, or pending fee credit is skipped.
func (e *Engine) CollectDust(budget uint32) (uint32, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	s := e.state
	if budget == 0 {
		budget = s.params.GCBudget
	}
	if budget == 0 || s.params.MaxAccounts == 0 {
		return 0, nil
	}
	var closed uint32
	sweep := nativecommon.NewWorkBudget(budget)
	for scanned := uint32(0); scanned < s.params.MaxAccounts && sweep.Spend(); scanned++ {
		idx := s.gcCursor
		s.gcCursor = (s.gcCursor + 1) % s.params.MaxAccounts
		acct := s.account(idx)
		if acct == nil {
			continue
		}
		if acct.Capital.Sign() != 0 || acct.Pnl.Sign() != 0 || acct.ReservedPnl.Sign() != 0 ||
			acct.PositionSize.Sign() != 0 || acct.FeeCredits.Sign() != 0 {
			continue
		}
		s.applyAccount(idx, nil)
		s.freeSlot(idx)
		closed++
	}
	if closed > 0 {
		e.metrics.AccountsInUse(s.numUsed)
	}
	return closed, nil
}

// TopUpInsurance credits the insurance fund from a host-attested transfer,
// repays any socialized deficit, and exits risk-reduction mode once the floor
// is restored and the deficit cleared. The new insurance balance is returned.
func (e *Engine) TopUpInsurance(amount *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	s := e.state
	if amount == nil || amount.Sign() <= 0 {
		return nil, errZeroAmount
	}
	vault, err := checkedAddU128(s.vault, amount)
	if err != nil {
		return nil, err
	}
	insurance, err := checkedAddU128(s.insurance, amount)
	if err != nil {
		return nil, err
	}
	s.vault = vault
	s.insurance = insurance

	if s.lossAccum.Sign() > 0 {
		repaid := minBig(s.lossAccum, s.spendableInsurance())
		if repaid.Sign() > 0 {
			s.insurance.Sub(s.insurance, repaid)
			s.lossAccum.Sub(s.lossAccum, repaid)
		}
	}
	floor := s.params.RiskReductionThreshold
	if floor == nil {
		floor = big.NewInt(0)
	}
	if s.riskReductionOnly && s.insurance.Cmp(floor) >= 0 && s.lossAccum.Sign() == 0 {
		e.exitRiskReduction()
	}
	e.metrics.InsuranceBalance(new(big.Int).Set(s.insurance))
	e.emitter.Emit(InsuranceToppedUp{Amount: new(big.Int).Set(amount), NewBalance: new(big.Int).Set(s.insurance)})
	return new(big.Int).Set(s.insurance), nil
}

// SetRiskReductionThreshold updates the insurance floor. Authorization is
// host-enforced; the engine applies the new floor and re-evaluates the mode.
func (e *Engine) SetRiskReductionThreshold(threshold *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 {
		return errZeroAmount
	}
	s := e.state
	s.params.RiskReductionThreshold = new(big.Int).Set(threshold)
	switch {
	case s.insurance.Cmp(threshold) < 0:
		if !s.riskReductionOnly {
			s.riskReductionOnly = true
			if !s.warmupPaused {
				s.warmupPaused = true
				s.warmupPauseSlot = s.currentSlot
			}
			e.metrics.RiskReductionMode(true)
			e.emitter.Emit(RiskReductionEntered{Slot: s.currentSlot})
		}
	case s.riskReductionOnly && s.lossAccum.Sign() == 0:
		e.exitRiskReduction()
	}
	return nil
}

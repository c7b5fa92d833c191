package perp

import "math/big"

// Params is the immutable engine configuration supplied at initialisation.
// The only field governance may change afterwards is the risk reduction
// threshold, through Engine.SetRiskReductionThreshold.
type Params struct {
	// MaxAccounts fixes the slab size; slots are recycled through a
	// freelist and never grow.
	MaxAccounts uint32
	// InitialMarginBps and MaintenanceMarginBps are margin requirements
	// expressed as fractions of position notional in basis points.
	InitialMarginBps     uint64
	MaintenanceMarginBps uint64
	// AccountCreationFee is the minimum fee attached to OpenUserAccount and
	// OpenLPAccount; it is routed into the insurance fund.
	AccountCreationFee *big.Int
	// MaintenanceFeePerSlotE6 is the fraction of capital accrued as fee each
	// slot, scaled by 1e6 (a value of 1_000 charges 0.1% of capital per
	// slot; 1_000_000 charges the whole capital per slot).
	MaintenanceFeePerSlotE6 uint64
	// FeeForgivenessHalfLifeSlots halves accumulated fee debt per elapsed
	// half-life when an account has been idle; zero disables forgiveness.
	FeeForgivenessHalfLifeSlots uint64
	// LiquidationFeeBps is charged on closed notional during liquidation
	// and credited to insurance.
	LiquidationFeeBps uint64
	// RiskReductionThreshold is the insurance floor. Loss absorption never
	// spends insurance below it; a loss residue left over after the
	// spendable buffer, or a floor raised above the balance, flips the
	// engine into risk-reduction-only mode.
	RiskReductionThreshold *big.Int
	// InitialInsurance seeds the insurance fund (and the vault backing it)
	// at state construction; it must cover the floor.
	InitialInsurance *big.Int
	// DustThreshold is the residual capital at or below which a liquidated
	// account is swept into insurance and its slot released. CollectDust
	// does not use it; it closes only accounts whose balances are all zero.
	DustThreshold *big.Int
	// StalenessBoundSlots bounds current_slot - last_crank_slot for
	// freshness-gated operations.
	StalenessBoundSlots uint64
	// WarmupSlopePerStep is the default vesting velocity assigned to new
	// accounts (balance units withdrawable per slot).
	WarmupSlopePerStep uint64
	// FundingRateClampE6 bounds the absolute per-slot funding rate applied
	// by the keeper crank.
	FundingRateClampE6 uint64
	// MaxOraclePriceE6 bounds accepted oracle and fill prices.
	MaxOraclePriceE6 uint64
	// MaxPrincipal and MaxPnl are sanitizer bounds, narrower than the
	// 128-bit domains, enforced at the deposit and trade boundaries.
	MaxPrincipal *big.Int
	MaxPnl       *big.Int
	// CrankFeeBudget and GCBudget bound per-call settlement and sweep work.
	CrankFeeBudget         uint32
	CrankLiquidationBudget uint32
	GCBudget               uint32
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.AccountCreationFee != nil {
		clone.AccountCreationFee = new(big.Int).Set(p.AccountCreationFee)
	}
	if p.RiskReductionThreshold != nil {
		clone.RiskReductionThreshold = new(big.Int).Set(p.RiskReductionThreshold)
	}
	if p.InitialInsurance != nil {
		clone.InitialInsurance = new(big.Int).Set(p.InitialInsurance)
	}
	if p.DustThreshold != nil {
		clone.DustThreshold = new(big.Int).Set(p.DustThreshold)
	}
	if p.MaxPrincipal != nil {
		clone.MaxPrincipal = new(big.Int).Set(p.MaxPrincipal)
	}
	if p.MaxPnl != nil {
		clone.MaxPnl = new(big.Int).Set(p.MaxPnl)
	}
	return clone
}

// Account is one slab slot. Users and liquidity providers share the layout;
// an LP is distinguished only by its matcher identifiers.
type Account struct {
	// AccountID is globally unique and never reused across slot recycling.
	AccountID uint64
	// Capital is the protected principal. It is never reduced by ADL, loss
	// socialization, or haircut.
	Capital *big.Int
	// Pnl is realized profit and loss that has not yet vested to capital.
	Pnl *big.Int
	// ReservedPnl is earmarked PnL unavailable for withdrawal; it never
	// exceeds max(Pnl, 0).
	ReservedPnl *big.Int
	// WarmupStartedAtSlot and WarmupSlopePerStep drive time-linear vesting
	// of positive PnL.
	WarmupStartedAtSlot uint64
	WarmupSlopePerStep  uint64
	// PositionSize is signed: long positive, short negative.
	PositionSize *big.Int
	// EntryPriceE6 is the volume-weighted average entry, zero iff flat.
	EntryPriceE6 uint64
	// FundingIndex snapshots the global funding index at last touch.
	FundingIndex *big.Int
	// FeeCredits is deferred maintenance-fee debt awaiting settlement.
	FeeCredits *big.Int
	// LastFeeSlot is the slot of the last fee settlement.
	LastFeeSlot uint64
	// MatcherProgram and MatcherContext are present only for LP accounts.
	MatcherProgram []byte
	MatcherContext []byte
}

// IsLP reports whether the account carries matcher identifiers.
func (a *Account) IsLP() bool {
	return a != nil && len(a.MatcherProgram) != 0
}

// Clone produces a deep copy so staged mutations never alias live state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Capital = new(big.Int).Set(a.Capital)
	clone.Pnl = new(big.Int).Set(a.Pnl)
	clone.ReservedPnl = new(big.Int).Set(a.ReservedPnl)
	clone.PositionSize = new(big.Int).Set(a.PositionSize)
	clone.FundingIndex = new(big.Int).Set(a.FundingIndex)
	clone.FeeCredits = new(big.Int).Set(a.FeeCredits)
	if a.MatcherProgram != nil {
		clone.MatcherProgram = append([]byte(nil), a.MatcherProgram...)
	}
	if a.MatcherContext != nil {
		clone.MatcherContext = append([]byte(nil), a.MatcherContext...)
	}
	return &clone
}

// clampReserved keeps the earmark within max(pnl, 0) after a PnL decrease.
func clampReserved(acct *Account) {
	if acct.ReservedPnl.Sign() == 0 {
		return
	}
	if pos := posPart(acct.Pnl); acct.ReservedPnl.Cmp(pos) > 0 {
		acct.ReservedPnl = pos
	}
}

func newAccount(id uint64) *Account {
	return &Account{
		AccountID:    id,
		Capital:      big.NewInt(0),
		Pnl:          big.NewInt(0),
		ReservedPnl:  big.NewInt(0),
		PositionSize: big.NewInt(0),
		FundingIndex: big.NewInt(0),
		FeeCredits:   big.NewInt(0),
	}
}

// MatcherOutput is the fill tuple reported by the external matching engine.
// FilledSize is signed with the sign of the user's side.
type MatcherOutput struct {
	FilledPriceE6 uint64
	FilledSize    *big.Int
	Fee           uint64
}

// Clone returns a deep copy of the fill tuple.
func (m MatcherOutput) Clone() MatcherOutput {
	clone := m
	if m.FilledSize != nil {
		clone.FilledSize = new(big.Int).Set(m.FilledSize)
	}
	return clone
}

// TradeReport summarises a committed trade for the host.
type TradeReport struct {
	FilledSize      *big.Int
	FilledPriceE6   uint64
	UserRealizedPnl *big.Int
	LPRealizedPnl   *big.Int
	FeePaid         *big.Int
}

// LiquidationReport summarises a forced close.
type LiquidationReport struct {
	ClosedSize        *big.Int
	OraclePriceE6     uint64
	RealizedPnl       *big.Int
	LiquidationFee    *big.Int
	InsuranceAbsorbed *big.Int
	SocializedResidue *big.Int
	AccountClosed     bool
}

// CrankSummary reports the work performed by one keeper crank.
type CrankSummary struct {
	Slot                 uint64
	FundingIndexDelta    *big.Int
	FeeAccountsSettled   uint32
	LiquidationsAttempted uint32
	LiquidationsExecuted uint32
}

// AccountInfo is a read-only snapshot of one account plus derived values.
type AccountInfo struct {
	Index           uint32
	AccountID       uint64
	Capital         *big.Int
	Pnl             *big.Int
	ReservedPnl     *big.Int
	PositionSize    *big.Int
	EntryPriceE6    uint64
	FeeCredits      *big.Int
	IsLP            bool
}

// Aggregates is a read-only snapshot of the global counters.
type Aggregates struct {
	Vault             *big.Int
	Insurance         *big.Int
	CapitalTotal      *big.Int
	PnlPosTotal       *big.Int
	TotalOpenInterest *big.Int
	FundingIndexE6    *big.Int
	NumUsedAccounts   uint64
	RiskReductionOnly bool
	LossAccum         *big.Int
}

// Metrics is the narrow observer the engine publishes to. Implementations
// must be cheap; the engine calls them synchronously.
type Metrics interface {
	TradeExecuted()
	AccountLiquidated()
	LossSocialized(units *big.Int)
	RiskReductionMode(active bool)
	InsuranceBalance(units *big.Int)
	AccountsInUse(n uint64)
	CrankLagSlots(n uint64)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) TradeExecuted()                {}
func (NoopMetrics) AccountLiquidated()            {}
func (NoopMetrics) LossSocialized(*big.Int)       {}
func (NoopMetrics) RiskReductionMode(bool)        {}
func (NoopMetrics) InsuranceBalance(*big.Int)     {}
func (NoopMetrics) AccountsInUse(uint64)          {}
func (NoopMetrics) CrankLagSlots(uint64)          {}

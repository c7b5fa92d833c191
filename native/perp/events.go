package perp

import "math/big"

// Event is a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (hosts, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

const (
	TypeAccountOpened        = "perp.account.opened"
	TypeAccountClosed        = "perp.account.closed"
	TypeTradeExecuted        = "perp.trade.executed"
	TypeAccountLiquidated    = "perp.account.liquidated"
	TypeLossSocialized       = "perp.loss.socialized"
	TypeRiskReductionEntered = "perp.mode.risk_reduction_entered"
	TypeRiskReductionExited  = "perp.mode.risk_reduction_exited"
	TypeInsuranceToppedUp    = "perp.insurance.topped_up"
	TypeCrankCompleted       = "perp.crank.completed"
)

// AccountOpened records a new user or LP slot allocation.
type AccountOpened struct {
	Index     uint32
	AccountID uint64
	IsLP      bool
	Fee       *big.Int
}

func (AccountOpened) EventType() string { return TypeAccountOpened }

// AccountClosed records a slot release and the capital paid out.
type AccountClosed struct {
	Index     uint32
	AccountID uint64
	Payout    *big.Int
}

func (AccountClosed) EventType() string { return TypeAccountClosed }

// TradeExecuted records a committed fill between a user and an LP.
type TradeExecuted struct {
	UserIndex     uint32
	LPIndex       uint32
	FilledSize    *big.Int
	FilledPriceE6 uint64
	Fee           *big.Int
}

func (TradeExecuted) EventType() string { return TypeTradeExecuted }

// AccountLiquidated records a forced close.
type AccountLiquidated struct {
	Index             uint32
	AccountID         uint64
	ClosedSize        *big.Int
	OraclePriceE6     uint64
	LiquidationFee    *big.Int
	InsuranceAbsorbed *big.Int
	SocializedResidue *big.Int
}

func (AccountLiquidated) EventType() string { return TypeAccountLiquidated }

// LossSocialized records a proportional haircut applied to positive PnL.
type LossSocialized struct {
	Residue *big.Int
}

func (LossSocialized) EventType() string { return TypeLossSocialized }

// RiskReductionEntered marks the transition into crisis mode.
type RiskReductionEntered struct {
	Slot uint64
}

func (RiskReductionEntered) EventType() string { return TypeRiskReductionEntered }

// RiskReductionExited marks the return to normal operation.
type RiskReductionExited struct {
	Slot uint64
}

func (RiskReductionExited) EventType() string { return TypeRiskReductionExited }

// InsuranceToppedUp records an insurance fund contribution.
type InsuranceToppedUp struct {
	Amount     *big.Int
	NewBalance *big.Int
}

func (InsuranceToppedUp) EventType() string { return TypeInsuranceToppedUp }

// CrankCompleted summarises one keeper tick.
type CrankCompleted struct {
	Slot                 uint64
	LiquidationsExecuted uint32
}

func (CrankCompleted) EventType() string { return TypeCrankCompleted }

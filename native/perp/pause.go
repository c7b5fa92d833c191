package perp

// PauseView exposes the host's governance switches for the risk module.
// These gates are distinct from the engine's own risk-reduction mode: the
// host pauses flows wholesale during incidents, while risk reduction is the
// engine's solvency response. A nil view means nothing is paused.
type PauseView interface {
	// TradingPaused blocks new fills; liquidations and the keeper crank
	// keep running so the book can still de-risk.
	TradingPaused() bool
	// WithdrawalsPaused blocks outbound transfers: withdrawals and account
	// closes. Deposits and insurance top-ups stay open.
	WithdrawalsPaused() bool
}

func (e *Engine) guardTrading() error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.pauses != nil && e.pauses.TradingPaused() {
		return errHostPaused
	}
	return nil
}

func (e *Engine) guardWithdrawals() error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.pauses != nil && e.pauses.WithdrawalsPaused() {
		return errHostPaused
	}
	return nil
}

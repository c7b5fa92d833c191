package perp

import "math/big"

// Read-only views for hosts and keepers. None of these mutate state.

// AccountInfo snapshots one account.
func (e *Engine) AccountInfo(idx uint32) (*AccountInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acct := e.state.account(idx)
	if acct == nil {
		return nil, errAccountNotFound
	}
	return &AccountInfo{
		Index:        idx,
		AccountID:    acct.AccountID,
		Capital:      new(big.Int).Set(acct.Capital),
		Pnl:          new(big.Int).Set(acct.Pnl),
		ReservedPnl:  new(big.Int).Set(acct.ReservedPnl),
		PositionSize: new(big.Int).Set(acct.PositionSize),
		EntryPriceE6: acct.EntryPriceE6,
		FeeCredits:   new(big.Int).Set(acct.FeeCredits),
		IsLP:         acct.IsLP(),
	}, nil
}

// Aggregates snapshots the global counters.
func (e *Engine) Aggregates() Aggregates {
	s := e.state
	return Aggregates{
		Vault:             new(big.Int).Set(s.vault),
		Insurance:         new(big.Int).Set(s.insurance),
		CapitalTotal:      new(big.Int).Set(s.cTot),
		PnlPosTotal:       new(big.Int).Set(s.pnlPosTot),
		TotalOpenInterest: new(big.Int).Set(s.totalOpenInterest),
		FundingIndexE6:    new(big.Int).Set(s.fundingIndexE6),
		NumUsedAccounts:   s.numUsed,
		RiskReductionOnly: s.riskReductionOnly,
		LossAccum:         new(big.Int).Set(s.lossAccum),
	}
}

// Equity previews an account's equity marked to the oracle price.
func (e *Engine) Equity(idx uint32, oracleE6 uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	f := newFrame(e.state)
	acct, err := f.account(idx)
	if err != nil {
		return nil, err
	}
	return f.equityAtOracle(acct, oracleE6), nil
}

// WithdrawablePnl previews the vested positive PnL at the given slot.
func (e *Engine) WithdrawablePnl(idx uint32, slot uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s := e.state
	acct := s.account(idx)
	if acct == nil {
		return nil, errAccountNotFound
	}
	return withdrawablePnl(acct, slot, s.warmupPaused, s.warmupPauseSlot), nil
}

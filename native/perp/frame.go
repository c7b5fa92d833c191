package perp

import "math/big"

// frame stages a mutation against cloned accounts and copied globals so that
// fallible operations either commit whole or leave the state bit-identical.
type frame struct {
	s *State

	accounts map[uint32]*Account
	closed   map[uint32]bool

	vault      *big.Int
	insurance  *big.Int
	lossAccum  *big.Int
	socialized *big.Int

	riskReductionOnly bool
	warmupPaused      bool
	warmupPauseSlot   uint64
}

func newFrame(s *State) *frame {
	return &frame{
		s:                 s,
		accounts:          make(map[uint32]*Account),
		closed:            make(map[uint32]bool),
		vault:             new(big.Int).Set(s.vault),
		insurance:         new(big.Int).Set(s.insurance),
		lossAccum:         new(big.Int).Set(s.lossAccum),
		socialized:        big.NewInt(0),
		riskReductionOnly: s.riskReductionOnly,
		warmupPaused:      s.warmupPaused,
		warmupPauseSlot:   s.warmupPauseSlot,
	}
}

// account returns the staged clone for idx, cloning on first access.
func (f *frame) account(idx uint32) (*Account, error) {
	if f.closed[idx] {
		return nil, errAccountNotFound
	}
	if acct, ok := f.accounts[idx]; ok {
		return acct, nil
	}
	live := f.s.account(idx)
	if live == nil {
		return nil, errAccountNotFound
	}
	clone := live.Clone()
	f.accounts[idx] = clone
	return clone, nil
}

// close marks a staged account for slot release at commit.
func (f *frame) close(idx uint32) {
	f.closed[idx] = true
}

// eachUsed visits every used slot with its staged view, cloning lazily. The
// callback may mutate the account; visiting order is slot order.
func (f *frame) eachUsed(fn func(idx uint32, acct *Account)) {
	for idx := uint32(0); idx < f.s.nextAllocated; idx++ {
		if f.closed[idx] {
			continue
		}
		if acct, ok := f.accounts[idx]; ok {
			fn(idx, acct)
			continue
		}
		if f.s.account(idx) == nil {
			continue
		}
		acct, _ := f.account(idx)
		fn(idx, acct)
	}
}

// cTot returns the capital aggregate as staged.
func (f *frame) cTot() *big.Int {
	total := new(big.Int).Set(f.s.cTot)
	for idx, acct := range f.accounts {
		old := f.s.accounts[idx]
		if old != nil {
			total.Sub(total, old.Capital)
		}
		if !f.closed[idx] {
			total.Add(total, acct.Capital)
		}
	}
	return total
}

// pnlPosTot returns the positive-PnL aggregate as staged.
func (f *frame) pnlPosTot() *big.Int {
	total := new(big.Int).Set(f.s.pnlPosTot)
	for idx, acct := range f.accounts {
		old := f.s.accounts[idx]
		if old != nil {
			total.Sub(total, posPart(old.Pnl))
		}
		if !f.closed[idx] {
			total.Add(total, posPart(acct.Pnl))
		}
	}
	return total
}

// residual is the staged accounting surplus: vault - c_tot - insurance,
// floored at zero.
func (f *frame) residual() *big.Int {
	r := new(big.Int).Sub(f.vault, f.cTot())
	r.Sub(r, f.insurance)
	if r.Sign() < 0 {
		return big.NewInt(0)
	}
	return r
}

// spendableInsurance is the staged buffer above the risk reduction floor.
func (f *frame) spendableInsurance() *big.Int {
	floor := f.s.params.RiskReductionThreshold
	if floor == nil {
		floor = big.NewInt(0)
	}
	spend := new(big.Int).Sub(f.insurance, floor)
	if spend.Sign() < 0 {
		return big.NewInt(0)
	}
	return spend
}

// enterRiskReduction stages the crisis mode transition.
func (f *frame) enterRiskReduction(nowSlot uint64) {
	if f.riskReductionOnly {
		return
	}
	f.riskReductionOnly = true
	if !f.warmupPaused {
		f.warmupPaused = true
		f.warmupPauseSlot = nowSlot
	}
}

// commit writes the staged accounts and globals back into the live state.
// Commit is infallible; every fallible check ran before it.
func (f *frame) commit() {
	for idx, acct := range f.accounts {
		if f.closed[idx] {
			continue
		}
		f.s.applyAccount(idx, acct)
	}
	for idx := range f.closed {
		if _, staged := f.accounts[idx]; !staged {
			continue
		}
		f.s.applyAccount(idx, nil)
		f.s.freeSlot(idx)
	}
	f.s.vault.Set(f.vault)
	f.s.insurance.Set(f.insurance)
	f.s.lossAccum.Set(f.lossAccum)
	f.s.riskReductionOnly = f.riskReductionOnly
	f.s.warmupPaused = f.warmupPaused
	f.s.warmupPauseSlot = f.warmupPauseSlot
}

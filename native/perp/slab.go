package perp

import "math/big"

// NoSlot is the freelist sentinel.
const NoSlot = ^uint32(0)

// State is the engine's owned blob: a fixed slab of account slots plus the
// global aggregates and clock markers. The host holds a scoped handle to it
// during a single synchronous call and serializes all access.
type State struct {
	params Params

	accounts      []*Account
	used          []uint64
	numUsed       uint64
	freeHead      uint32
	nextFree      []uint32
	nextAllocated uint32
	nextAccountID uint64

	vault             *big.Int
	insurance         *big.Int
	cTot              *big.Int
	pnlPosTot         *big.Int
	totalOpenInterest *big.Int

	fundingIndexE6  *big.Int
	lastFundingSlot uint64
	lastCrankSlot   uint64
	currentSlot     uint64

	riskReductionOnly bool
	warmupPaused      bool
	warmupPauseSlot   uint64
	lossAccum         *big.Int

	gcCursor  uint32
	feeCursor uint32
	liqCursor uint32
}

// NewState allocates a state blob for the given parameters. The configured
// initial insurance seeds both the insurance fund and the vault backing it,
// so conservation holds from the first slot.
func NewState(params Params) *State {
	max := params.MaxAccounts
	nextFree := make([]uint32, max)
	for i := range nextFree {
		nextFree[i] = NoSlot
	}
	s := &State{
		params:            params.Clone(),
		accounts:          make([]*Account, max),
		used:              make([]uint64, (max+63)/64),
		freeHead:          NoSlot,
		nextFree:          nextFree,
		nextAccountID:     1,
		vault:             big.NewInt(0),
		insurance:         big.NewInt(0),
		cTot:              big.NewInt(0),
		pnlPosTot:         big.NewInt(0),
		totalOpenInterest: big.NewInt(0),
		fundingIndexE6:    big.NewInt(0),
		lossAccum:         big.NewInt(0),
	}
	if seed := s.params.InitialInsurance; seed != nil && seed.Sign() > 0 {
		s.insurance.Set(seed)
		s.vault.Set(seed)
	}
	return s
}

// Params returns a copy of the engine configuration.
func (s *State) Params() Params { return s.params.Clone() }

func (s *State) isUsed(idx uint32) bool {
	if idx >= s.params.MaxAccounts {
		return false
	}
	return s.used[idx/64]&(1<<(idx%64)) != 0
}

func (s *State) setUsed(idx uint32)   { s.used[idx/64] |= 1 << (idx % 64) }
func (s *State) clearUsed(idx uint32) { s.used[idx/64] &^= 1 << (idx % 64) }

// allocSlot pops the freelist, or linearly extends into untouched slots when
// the freelist is empty.
func (s *State) allocSlot() (uint32, bool) {
	if s.numUsed >= uint64(s.params.MaxAccounts) {
		return NoSlot, false
	}
	var idx uint32
	switch {
	case s.freeHead != NoSlot:
		idx = s.freeHead
		s.freeHead = s.nextFree[idx]
		s.nextFree[idx] = NoSlot
	case s.nextAllocated < s.params.MaxAccounts:
		idx = s.nextAllocated
		s.nextAllocated++
	default:
		return NoSlot, false
	}
	s.setUsed(idx)
	s.numUsed++
	return idx, true
}

// freeSlot pushes a slot back onto the freelist. The caller has already
// removed the account's contributions from the aggregates.
func (s *State) freeSlot(idx uint32) {
	s.accounts[idx] = nil
	s.clearUsed(idx)
	s.numUsed--
	s.nextFree[idx] = s.freeHead
	s.freeHead = idx
}

// account returns the live account at idx, or nil when the slot is free.
func (s *State) account(idx uint32) *Account {
	if idx >= s.params.MaxAccounts || !s.isUsed(idx) {
		return nil
	}
	return s.accounts[idx]
}

// applyAccount replaces the slot contents and folds the delta between the old
// and new values into the aggregate counters. Deltas are applied unchecked:
// callers validated the target values before committing.
func (s *State) applyAccount(idx uint32, updated *Account) {
	old := s.accounts[idx]
	if old != nil {
		s.cTot.Sub(s.cTot, old.Capital)
		s.pnlPosTot.Sub(s.pnlPosTot, posPart(old.Pnl))
		s.totalOpenInterest.Sub(s.totalOpenInterest, absBig(old.PositionSize))
	}
	if updated != nil {
		s.cTot.Add(s.cTot, updated.Capital)
		s.pnlPosTot.Add(s.pnlPosTot, posPart(updated.Pnl))
		s.totalOpenInterest.Add(s.totalOpenInterest, absBig(updated.PositionSize))
	}
	s.accounts[idx] = updated
}

// residual is the accounting surplus backing positive PnL claims:
// vault - c_tot - insurance, floored at zero.
func (s *State) residual() *big.Int {
	r := new(big.Int).Sub(s.vault, s.cTot)
	r.Sub(r, s.insurance)
	if r.Sign() < 0 {
		return big.NewInt(0)
	}
	return r
}

// spendableInsurance is the buffer above the risk reduction floor.
func (s *State) spendableInsurance() *big.Int {
	floor := s.params.RiskReductionThreshold
	if floor == nil {
		floor = big.NewInt(0)
	}
	spend := new(big.Int).Sub(s.insurance, floor)
	if spend.Sign() < 0 {
		return big.NewInt(0)
	}
	return spend
}

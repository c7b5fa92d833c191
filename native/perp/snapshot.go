package perp

import "math/big"

// Snapshot is the exported image of the state blob used by the host-side
// snapshot store. It captures everything needed to restore a bit-equivalent
// State, including the freelist order so slot recycling stays deterministic.
type Snapshot struct {
	Params Params

	Accounts []AccountSnapshot
	FreeList []uint32
	NextAllocated uint32
	NextAccountID uint64

	Vault     *big.Int
	Insurance *big.Int

	FundingIndexE6  *big.Int
	LastFundingSlot uint64
	LastCrankSlot   uint64
	CurrentSlot     uint64

	RiskReductionOnly bool
	WarmupPaused      bool
	WarmupPauseSlot   uint64
	LossAccum         *big.Int

	GCCursor  uint32
	FeeCursor uint32
	LiqCursor uint32
}

// AccountSnapshot is one used slot in a Snapshot.
type AccountSnapshot struct {
	Index               uint32
	AccountID           uint64
	Capital             *big.Int
	Pnl                 *big.Int
	ReservedPnl         *big.Int
	WarmupStartedAtSlot uint64
	WarmupSlopePerStep  uint64
	PositionSize        *big.Int
	EntryPriceE6        uint64
	FundingIndex        *big.Int
	FeeCredits          *big.Int
	LastFeeSlot         uint64
	MatcherProgram      []byte
	MatcherContext      []byte
}

// Snapshot captures a deep copy of the live state.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Params:            s.params.Clone(),
		NextAllocated:     s.nextAllocated,
		NextAccountID:     s.nextAccountID,
		Vault:             new(big.Int).Set(s.vault),
		Insurance:         new(big.Int).Set(s.insurance),
		FundingIndexE6:    new(big.Int).Set(s.fundingIndexE6),
		LastFundingSlot:   s.lastFundingSlot,
		LastCrankSlot:     s.lastCrankSlot,
		CurrentSlot:       s.currentSlot,
		RiskReductionOnly: s.riskReductionOnly,
		WarmupPaused:      s.warmupPaused,
		WarmupPauseSlot:   s.warmupPauseSlot,
		LossAccum:         new(big.Int).Set(s.lossAccum),
		GCCursor:          s.gcCursor,
		FeeCursor:         s.feeCursor,
		LiqCursor:         s.liqCursor,
	}
	for idx := uint32(0); idx < s.nextAllocated; idx++ {
		acct := s.account(idx)
		if acct == nil {
			continue
		}
		entry := AccountSnapshot{
			Index:               idx,
			AccountID:           acct.AccountID,
			Capital:             new(big.Int).Set(acct.Capital),
			Pnl:                 new(big.Int).Set(acct.Pnl),
			ReservedPnl:         new(big.Int).Set(acct.ReservedPnl),
			WarmupStartedAtSlot: acct.WarmupStartedAtSlot,
			WarmupSlopePerStep:  acct.WarmupSlopePerStep,
			PositionSize:        new(big.Int).Set(acct.PositionSize),
			EntryPriceE6:        acct.EntryPriceE6,
			FundingIndex:        new(big.Int).Set(acct.FundingIndex),
			FeeCredits:          new(big.Int).Set(acct.FeeCredits),
			LastFeeSlot:         acct.LastFeeSlot,
		}
		if acct.MatcherProgram != nil {
			entry.MatcherProgram = append([]byte(nil), acct.MatcherProgram...)
			entry.MatcherContext = append([]byte(nil), acct.MatcherContext...)
		}
		snap.Accounts = append(snap.Accounts, entry)
	}
	for idx := s.freeHead; idx != NoSlot; idx = s.nextFree[idx] {
		snap.FreeList = append(snap.FreeList, idx)
	}
	return snap
}

// RestoreState rebuilds a State from a snapshot and verifies the canonical
// invariant before handing it back.
func RestoreState(snap *Snapshot) (*State, error) {
	if snap == nil {
		return nil, errNilState
	}
	s := NewState(snap.Params)
	max := s.params.MaxAccounts
	if snap.NextAllocated > max {
		return nil, errOverflow
	}
	s.nextAllocated = snap.NextAllocated
	s.nextAccountID = snap.NextAccountID
	for _, entry := range snap.Accounts {
		if entry.Index >= max || s.isUsed(entry.Index) {
			return nil, errOverflow
		}
		acct := &Account{
			AccountID:           entry.AccountID,
			Capital:             new(big.Int).Set(entry.Capital),
			Pnl:                 new(big.Int).Set(entry.Pnl),
			ReservedPnl:         new(big.Int).Set(entry.ReservedPnl),
			WarmupStartedAtSlot: entry.WarmupStartedAtSlot,
			WarmupSlopePerStep:  entry.WarmupSlopePerStep,
			PositionSize:        new(big.Int).Set(entry.PositionSize),
			EntryPriceE6:        entry.EntryPriceE6,
			FundingIndex:        new(big.Int).Set(entry.FundingIndex),
			FeeCredits:          new(big.Int).Set(entry.FeeCredits),
			LastFeeSlot:         entry.LastFeeSlot,
		}
		if entry.MatcherProgram != nil {
			acct.MatcherProgram = append([]byte(nil), entry.MatcherProgram...)
			acct.MatcherContext = append([]byte(nil), entry.MatcherContext...)
		}
		s.setUsed(entry.Index)
		s.numUsed++
		s.applyAccount(entry.Index, acct)
	}
	// Rebuild the freelist preserving snapshot order.
	for i := len(snap.FreeList) - 1; i >= 0; i-- {
		idx := snap.FreeList[i]
		if idx >= max || s.isUsed(idx) {
			return nil, errOverflow
		}
		s.nextFree[idx] = s.freeHead
		s.freeHead = idx
	}
	s.vault = new(big.Int).Set(snap.Vault)
	s.insurance = new(big.Int).Set(snap.Insurance)
	s.fundingIndexE6 = new(big.Int).Set(snap.FundingIndexE6)
	s.lastFundingSlot = snap.LastFundingSlot
	s.lastCrankSlot = snap.LastCrankSlot
	s.currentSlot = snap.CurrentSlot
	s.riskReductionOnly = snap.RiskReductionOnly
	s.warmupPaused = snap.WarmupPaused
	s.warmupPauseSlot = snap.WarmupPauseSlot
	s.lossAccum = new(big.Int).Set(snap.LossAccum)
	s.gcCursor = snap.GCCursor
	s.feeCursor = snap.FeeCursor
	s.liqCursor = snap.LiqCursor
	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}
	return s, nil
}

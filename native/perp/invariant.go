package perp

import (
	"fmt"
	"math/big"
	"math/bits"
)

// CheckInvariants verifies the canonical invariant over the whole blob:
// structural slab consistency, aggregate counters, the conservation
// inequality, mode implications, and per-account constraints. Tests call it
// after every mutation; a non-nil error names the first breach found.
func (s *State) CheckInvariants() error {
	if s == nil {
		return errNilState
	}
	max := s.params.MaxAccounts

	var popcount uint64
	for _, word := range s.used {
		popcount += uint64(bits.OnesCount64(word))
	}
	if popcount != s.numUsed {
		return fmt.Errorf("perp invariant: numUsed %d != popcount %d", s.numUsed, popcount)
	}

	visited := make(map[uint32]bool)
	var freeLen uint64
	for idx := s.freeHead; idx != NoSlot; idx = s.nextFree[idx] {
		if idx >= max {
			return fmt.Errorf("perp invariant: freelist index %d out of range", idx)
		}
		if visited[idx] {
			return fmt.Errorf("perp invariant: freelist cycle at %d", idx)
		}
		if s.isUsed(idx) {
			return fmt.Errorf("perp invariant: freelist holds used slot %d", idx)
		}
		visited[idx] = true
		freeLen++
	}
	if freeLen+s.numUsed != uint64(s.nextAllocated) {
		return fmt.Errorf("perp invariant: freelist %d + used %d != allocated %d", freeLen, s.numUsed, s.nextAllocated)
	}

	cTot := big.NewInt(0)
	pnlPos := big.NewInt(0)
	oi := big.NewInt(0)
	for idx := uint32(0); idx < max; idx++ {
		used := s.isUsed(idx)
		acct := s.accounts[idx]
		if used != (acct != nil) {
			return fmt.Errorf("perp invariant: slot %d used bit and contents disagree", idx)
		}
		if acct == nil {
			continue
		}
		if acct.Capital.Sign() < 0 || acct.Capital.Cmp(maxU128) > 0 {
			return fmt.Errorf("perp invariant: slot %d capital out of domain", idx)
		}
		if acct.Pnl.Cmp(minI128) == 0 {
			return fmt.Errorf("perp invariant: slot %d pnl at forbidden i128 min", idx)
		}
		if acct.ReservedPnl.Sign() < 0 || acct.ReservedPnl.Cmp(posPart(acct.Pnl)) > 0 {
			return fmt.Errorf("perp invariant: slot %d reserved pnl exceeds positive pnl", idx)
		}
		if (acct.EntryPriceE6 == 0) != (acct.PositionSize.Sign() == 0) {
			return fmt.Errorf("perp invariant: slot %d entry price and position disagree", idx)
		}
		if len(acct.MatcherContext) != 0 && len(acct.MatcherProgram) == 0 {
			return fmt.Errorf("perp invariant: slot %d matcher context without program", idx)
		}
		cTot.Add(cTot, acct.Capital)
		pnlPos.Add(pnlPos, posPart(acct.Pnl))
		oi.Add(oi, absBig(acct.PositionSize))
	}
	if cTot.Cmp(s.cTot) != 0 {
		return fmt.Errorf("perp invariant: c_tot %s != sum %s", s.cTot, cTot)
	}
	if pnlPos.Cmp(s.pnlPosTot) != 0 {
		return fmt.Errorf("perp invariant: pnl_pos_tot %s != sum %s", s.pnlPosTot, pnlPos)
	}
	if oi.Cmp(s.totalOpenInterest) != 0 {
		return fmt.Errorf("perp invariant: open interest %s != sum %s", s.totalOpenInterest, oi)
	}

	owed := new(big.Int).Add(s.cTot, s.insurance)
	if s.vault.Cmp(owed) < 0 {
		return fmt.Errorf("perp invariant: vault %s below c_tot+insurance %s", s.vault, owed)
	}

	if s.riskReductionOnly && !s.warmupPaused {
		return fmt.Errorf("perp invariant: risk reduction without warmup pause")
	}
	if s.warmupPaused && s.warmupPauseSlot > s.currentSlot {
		return fmt.Errorf("perp invariant: warmup pause slot %d ahead of clock %d", s.warmupPauseSlot, s.currentSlot)
	}
	return nil
}

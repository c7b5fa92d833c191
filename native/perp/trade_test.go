package perp

import (
	"errors"
	"math/big"
	"testing"
)

func TestTradeZeroSum(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)

	before := e.Aggregates()
	report, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(10), MatcherOutput{
		FilledPriceE6: 100_000_000,
		FilledSize:    big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if report.FilledSize.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected fill: %s", report.FilledSize)
	}

	uinfo, _ := e.AccountInfo(user)
	linfo, _ := e.AccountInfo(lp)
	if uinfo.PositionSize.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("user position: %s", uinfo.PositionSize)
	}
	if linfo.PositionSize.Cmp(big.NewInt(-10)) != 0 {
		t.Fatalf("lp position: %s", linfo.PositionSize)
	}
	if uinfo.EntryPriceE6 != 100_000_000 || linfo.EntryPriceE6 != 100_000_000 {
		t.Fatalf("entry prices: %d %d", uinfo.EntryPriceE6, linfo.EntryPriceE6)
	}

	after := e.Aggregates()
	if before.CapitalTotal.Cmp(after.CapitalTotal) != 0 {
		t.Fatalf("c_tot changed: %s != %s", before.CapitalTotal, after.CapitalTotal)
	}
	if before.Vault.Cmp(after.Vault) != 0 {
		t.Fatalf("vault changed: %s != %s", before.Vault, after.Vault)
	}
	if after.TotalOpenInterest.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("open interest: %s", after.TotalOpenInterest)
	}
	checkInv(t, e)
}

func TestTradeFeeMovesCapitalToInsurance(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)

	before := e.Aggregates()
	if _, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(10), MatcherOutput{
		FilledPriceE6: 100_000_000,
		FilledSize:    big.NewInt(10),
		Fee:           250,
	}); err != nil {
		t.Fatalf("trade: %v", err)
	}
	after := e.Aggregates()
	feeMoved := new(big.Int).Sub(after.Insurance, before.Insurance)
	if feeMoved.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("fee not credited: %s", feeMoved)
	}
	capitalDrop := new(big.Int).Sub(before.CapitalTotal, after.CapitalTotal)
	if capitalDrop.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("fee not charged: %s", capitalDrop)
	}
	if before.Vault.Cmp(after.Vault) != 0 {
		t.Fatalf("vault changed by fee")
	}
	checkInv(t, e)
}

func TestMatcherGuardRejectsOverfill(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)

	before := e.state.Snapshot()
	_, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(5), MatcherOutput{
		FilledPriceE6: 100_000_000,
		FilledSize:    big.NewInt(10),
	})
	if !errors.Is(err, ErrInvalidMatchingEngine) {
		t.Fatalf("expected matcher rejection, got %v", err)
	}
	requireSnapshotEqual(t, before, e.state.Snapshot())
}

func TestMatcherGuardRejections(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)
	before := e.state.Snapshot()

	cases := []struct {
		name      string
		requested *big.Int
		out       MatcherOutput
	}{
		{"sign mismatch", big.NewInt(5), MatcherOutput{FilledPriceE6: 100_000_000, FilledSize: big.NewInt(-5)}},
		{"zero price", big.NewInt(5), MatcherOutput{FilledPriceE6: 0, FilledSize: big.NewInt(5)}},
		{"price beyond bound", big.NewInt(5), MatcherOutput{FilledPriceE6: 2_000_000_000_000, FilledSize: big.NewInt(5)}},
		{"zero fill", big.NewInt(5), MatcherOutput{FilledPriceE6: 100_000_000, FilledSize: big.NewInt(0)}},
	}
	for _, tc := range cases {
		if _, err := e.ExecuteTrade(user, lp, 100_000_000, tc.requested, tc.out); !errors.Is(err, ErrInvalidMatchingEngine) {
			t.Fatalf("%s: expected matcher rejection, got %v", tc.name, err)
		}
		requireSnapshotEqual(t, before, e.state.Snapshot())
	}
}

func TestTradeSelfTradeRejected(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)
	_, err := e.ExecuteTrade(user, user, 100_000_000, big.NewInt(5), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(5),
	})
	if !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("expected self trade rejection, got %v", err)
	}
}

func TestTradeRequiresLPLeg(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	other := mustOpenUser(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)
	_, err := e.ExecuteTrade(user, other, 100_000_000, big.NewInt(5), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(5),
	})
	if !errors.Is(err, ErrInvalidMatchingEngine) {
		t.Fatalf("expected lp validation, got %v", err)
	}
}

func TestTradeBelowInitialMarginReverts(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 50) // far below IM for the requested size
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)

	before := e.state.Snapshot()
	_, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(100), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(100),
	})
	if !errors.Is(err, ErrBelowInitialMargin) {
		t.Fatalf("expected margin rejection, got %v", err)
	}
	requireSnapshotEqual(t, before, e.state.Snapshot())
}

func TestTradeVWAPAndRealization(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)

	fill := func(size int64, priceE6 uint64) *TradeReport {
		t.Helper()
		report, err := e.ExecuteTrade(user, lp, priceE6, big.NewInt(size), MatcherOutput{
			FilledPriceE6: priceE6, FilledSize: big.NewInt(size),
		})
		if err != nil {
			t.Fatalf("trade %d@%d: %v", size, priceE6, err)
		}
		return report
	}

	fill(10, 100_000_000)
	fill(10, 110_000_000)
	uinfo, _ := e.AccountInfo(user)
	if uinfo.EntryPriceE6 != 105_000_000 {
		t.Fatalf("vwap entry: %d", uinfo.EntryPriceE6)
	}

	// Reduce half at 120: realizes 10 * (120 - 105) = 150.
	report := fill(-10, 120_000_000)
	if report.UserRealizedPnl.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("realized on reduce: %s", report.UserRealizedPnl)
	}
	uinfo, _ = e.AccountInfo(user)
	if uinfo.PositionSize.Cmp(big.NewInt(10)) != 0 || uinfo.EntryPriceE6 != 105_000_000 {
		t.Fatalf("position after reduce: %s @ %d", uinfo.PositionSize, uinfo.EntryPriceE6)
	}

	// Flip through zero: close 10 and open 5 short at the fill price.
	fill(-15, 120_000_000)
	uinfo, _ = e.AccountInfo(user)
	if uinfo.PositionSize.Cmp(big.NewInt(-5)) != 0 || uinfo.EntryPriceE6 != 120_000_000 {
		t.Fatalf("position after flip: %s @ %d", uinfo.PositionSize, uinfo.EntryPriceE6)
	}

	// Flat again: entry resets to zero.
	fill(5, 120_000_000)
	uinfo, _ = e.AccountInfo(user)
	if uinfo.PositionSize.Sign() != 0 || uinfo.EntryPriceE6 != 0 {
		t.Fatalf("position after flatten: %s @ %d", uinfo.PositionSize, uinfo.EntryPriceE6)
	}
	checkInv(t, e)
}

func TestRiskReductionBlocksPositionIncrease(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)
	if _, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(10), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(10),
	}); err != nil {
		t.Fatalf("trade: %v", err)
	}

	// Trip the mode by raising the floor above the insurance balance.
	if err := e.SetRiskReductionThreshold(big.NewInt(1_000_000)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if !e.Aggregates().RiskReductionOnly {
		t.Fatalf("expected risk reduction mode")
	}

	_, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(5), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(5),
	})
	if !errors.Is(err, ErrRiskReductionOnly) {
		t.Fatalf("expected mode gate, got %v", err)
	}

	// Reducing both legs stays allowed.
	if _, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(-5), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(-5),
	}); err != nil {
		t.Fatalf("risk-reducing trade rejected: %v", err)
	}
	checkInv(t, e)
}

func TestTradeStaleCrankRejected(t *testing.T) {
	e := newTestEngine(t, testParams())
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, 100_000_000, 0)
	e.state.currentSlot = 500 // host advanced time without a crank

	_, err := e.ExecuteTrade(user, lp, 100_000_000, big.NewInt(10), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(10),
	})
	if !errors.Is(err, ErrStaleCrank) {
		t.Fatalf("expected stale crank, got %v", err)
	}
}

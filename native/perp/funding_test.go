package perp

import (
	"errors"
	"math/big"
	"testing"
)

func openBalancedBook(t *testing.T, e *Engine, size int64, priceE6 uint64) (uint32, uint32) {
	t.Helper()
	user := mustOpenUser(t, e, 1_000_000)
	lp := mustOpenLP(t, e, 1_000_000)
	mustCrank(t, e, 1, priceE6, 0)
	if _, err := e.ExecuteTrade(user, lp, priceE6, big.NewInt(size), MatcherOutput{
		FilledPriceE6: priceE6, FilledSize: big.NewInt(size),
	}); err != nil {
		t.Fatalf("trade: %v", err)
	}
	return user, lp
}

func TestFundingZeroSum(t *testing.T) {
	e := newTestEngine(t, testParams())
	user, lp := openBalancedBook(t, e, 10, 100_000_000)

	// Mark above oracle: rate 1e6 per slot over 3600 slots.
	mustCrank(t, e, 3601, 100_000_000, 1_000_000)
	if err := e.TouchAccount(user, 3601); err != nil {
		t.Fatalf("touch user: %v", err)
	}
	if err := e.TouchAccount(lp, 3601); err != nil {
		t.Fatalf("touch lp: %v", err)
	}

	uinfo, _ := e.AccountInfo(user)
	linfo, _ := e.AccountInfo(lp)
	// Long 10 pays 10 * 3600e6 / 1e6 = 36_000.
	if uinfo.Pnl.Cmp(big.NewInt(-36_000)) != 0 {
		t.Fatalf("long funding payment: %s", uinfo.Pnl)
	}
	if linfo.Pnl.Cmp(big.NewInt(36_000)) != 0 {
		t.Fatalf("short funding receipt: %s", linfo.Pnl)
	}
	sum := new(big.Int).Add(uinfo.Pnl, linfo.Pnl)
	if sum.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("funding not zero-sum: %s", sum)
	}
	checkInv(t, e)
}

func TestFundingProportionalToSize(t *testing.T) {
	e := newTestEngine(t, testParams())
	user, lp := openBalancedBook(t, e, 10, 100_000_000)
	big5 := mustOpenUser(t, e, 1_000_000)
	if _, err := e.ExecuteTrade(big5, lp, 100_000_000, big.NewInt(30), MatcherOutput{
		FilledPriceE6: 100_000_000, FilledSize: big.NewInt(30),
	}); err != nil {
		t.Fatalf("trade: %v", err)
	}

	mustCrank(t, e, 101, 100_000_000, 1_000_000)
	for _, idx := range []uint32{user, lp, big5} {
		if err := e.TouchAccount(idx, 101); err != nil {
			t.Fatalf("touch %d: %v", idx, err)
		}
	}
	uinfo, _ := e.AccountInfo(user)
	binfo, _ := e.AccountInfo(big5)
	// Payments scale linearly: 30 is three times 10.
	expected := new(big.Int).Mul(uinfo.Pnl, big.NewInt(3))
	if binfo.Pnl.Cmp(expected) != 0 {
		t.Fatalf("funding not proportional: %s vs %s", binfo.Pnl, uinfo.Pnl)
	}
	checkInv(t, e)
}

func TestFundingTouchIdempotent(t *testing.T) {
	e := newTestEngine(t, testParams())
	user, _ := openBalancedBook(t, e, 10, 100_000_000)
	mustCrank(t, e, 100, 100_000_000, 1_000_000)
	if err := e.TouchAccount(user, 100); err != nil {
		t.Fatalf("touch: %v", err)
	}
	before := e.state.Snapshot()
	if err := e.TouchAccount(user, 100); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	requireSnapshotEqual(t, before, e.state.Snapshot())
}

func TestFundingRateClampRejected(t *testing.T) {
	e := newTestEngine(t, testParams())
	openBalancedBook(t, e, 10, 100_000_000)
	before := e.state.Snapshot()
	_, err := e.KeeperCrank(200, 100_000_000, 100_000_000)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for clamped rate, got %v", err)
	}
	requireSnapshotEqual(t, before, e.state.Snapshot())
}

func TestFundingSignDirection(t *testing.T) {
	e := newTestEngine(t, testParams())
	user, lp := openBalancedBook(t, e, 10, 100_000_000)

	// Negative rate: mark below oracle, shorts pay.
	mustCrank(t, e, 11, 100_000_000, -1_000_000)
	if err := e.TouchAccount(user, 11); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := e.TouchAccount(lp, 11); err != nil {
		t.Fatalf("touch: %v", err)
	}
	uinfo, _ := e.AccountInfo(user)
	linfo, _ := e.AccountInfo(lp)
	if uinfo.Pnl.Sign() <= 0 {
		t.Fatalf("long should receive under negative rate: %s", uinfo.Pnl)
	}
	if linfo.Pnl.Sign() >= 0 {
		t.Fatalf("short should pay under negative rate: %s", linfo.Pnl)
	}
	checkInv(t, e)
}

func TestMarkToOracleNoTeleport(t *testing.T) {
	e := newTestEngine(t, testParams())
	user, lp := openBalancedBook(t, e, 10, 100_000_000)

	// Move the oracle and settle only the user's mark.
	mustCrank(t, e, 2, 110_000_000, 0)
	if _, err := e.Withdraw(user, big.NewInt(1), 2, 110_000_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	linfo, _ := e.AccountInfo(lp)
	if linfo.Pnl.Sign() != 0 {
		t.Fatalf("counterparty pnl teleported: %s", linfo.Pnl)
	}
	uinfo, _ := e.AccountInfo(user)
	if uinfo.Pnl.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("user mark settlement: %s", uinfo.Pnl)
	}

	// Settling the LP at the same oracle realizes the equal opposite move,
	// paid out of its capital.
	if _, err := e.Withdraw(lp, big.NewInt(1), 2, 110_000_000); err != nil {
		t.Fatalf("lp withdraw: %v", err)
	}
	linfo, _ = e.AccountInfo(lp)
	if linfo.Pnl.Sign() != 0 {
		t.Fatalf("lp loss must settle to capital: %s", linfo.Pnl)
	}
	if linfo.Capital.Cmp(big.NewInt(999_899)) != 0 {
		t.Fatalf("lp capital after loss and withdrawal: %s", linfo.Capital)
	}
	checkInv(t, e)
}

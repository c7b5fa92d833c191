package perp

import (
	"math/big"
	"testing"
)

func TestMaintenanceFeeMovesCapitalToInsurance(t *testing.T) {
	params := testParams()
	params.MaintenanceFeePerSlotE6 = 1_000 // 0.1% of capital per slot
	e := newTestEngine(t, params)
	idx := mustOpenUser(t, e, 1_000_000)

	before := e.Aggregates()
	mustCrank(t, e, 10, 100_000_000, 0)
	if err := e.TouchAccount(idx, 10); err != nil {
		t.Fatalf("touch: %v", err)
	}
	after := e.Aggregates()

	// 10 slots * 0.1% of 1_000_000 = 10_000.
	paid := new(big.Int).Sub(before.CapitalTotal, after.CapitalTotal)
	if paid.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected fee paid: %s", paid)
	}
	credited := new(big.Int).Sub(after.Insurance, before.Insurance)
	if credited.Cmp(paid) != 0 {
		t.Fatalf("fee transfer not zero-sum: paid %s credited %s", paid, credited)
	}
	if before.Vault.Cmp(after.Vault) != 0 {
		t.Fatalf("vault changed by fee settlement")
	}
	checkInv(t, e)
}

func TestMaintenanceFeeIdempotentSameSlot(t *testing.T) {
	params := testParams()
	params.MaintenanceFeePerSlotE6 = 1_000
	e := newTestEngine(t, params)
	idx := mustOpenUser(t, e, 1_000_000)
	mustCrank(t, e, 10, 100_000_000, 0)
	if err := e.TouchAccount(idx, 10); err != nil {
		t.Fatalf("touch: %v", err)
	}
	before := e.state.Snapshot()
	if err := e.TouchAccount(idx, 10); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	requireSnapshotEqual(t, before, e.state.Snapshot())
}

func TestMaintenanceFeeCappedByCapital(t *testing.T) {
	params := testParams()
	params.MaintenanceFeePerSlotE6 = 500_000 // 50% per slot
	e := newTestEngine(t, params)
	idx := mustOpenUser(t, e, 100)
	mustCrank(t, e, 100, 100_000_000, 0)
	if err := e.TouchAccount(idx, 100); err != nil {
		t.Fatalf("touch: %v", err)
	}
	info, err := e.AccountInfo(idx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Capital.Sign() != 0 {
		t.Fatalf("expected capital exhausted, got %s", info.Capital)
	}
	if info.FeeCredits.Sign() <= 0 {
		t.Fatalf("expected residual fee debt, got %s", info.FeeCredits)
	}
	checkInv(t, e)
}

func TestFeeForgivenessHalvesIdleDebt(t *testing.T) {
	params := testParams()
	params.MaintenanceFeePerSlotE6 = 1_000
	params.FeeForgivenessHalfLifeSlots = 1_000
	e := newTestEngine(t, params)
	idx := mustOpenUser(t, e, 1_000_000)

	// One idle half-life: the window's coupon is halved once.
	mustCrank(t, e, 1_000, 100_000_000, 0)
	if err := e.TouchAccount(idx, 1_000); err != nil {
		t.Fatalf("touch: %v", err)
	}
	agg := e.Aggregates()
	// Full coupon would be 1_000 slots * 0.1% of 1_000_000 = 1_000_000,
	// capped by capital; forgiveness halves it to 500_000.
	paid := new(big.Int).Sub(big.NewInt(1_000_000), agg.CapitalTotal)
	if paid.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("expected halved fee, paid %s", paid)
	}
	checkInv(t, e)
}

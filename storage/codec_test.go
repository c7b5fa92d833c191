package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/native/perp"
)

func testParams() perp.Params {
	return perp.Params{
		MaxAccounts:            64,
		InitialMarginBps:       1000,
		MaintenanceMarginBps:   500,
		AccountCreationFee:     big.NewInt(100),
		LiquidationFeeBps:      100,
		RiskReductionThreshold: big.NewInt(0),
		DustThreshold:          big.NewInt(0),
		StalenessBoundSlots:    100,
		WarmupSlopePerStep:     1_000_000,
		FundingRateClampE6:     1_000_000,
		MaxOraclePriceE6:       1_000_000_000_000,
		MaxPrincipal:           new(big.Int).Lsh(big.NewInt(1), 100),
		MaxPnl:                 new(big.Int).Lsh(big.NewInt(1), 100),
		CrankFeeBudget:         8,
		CrankLiquidationBudget: 8,
		GCBudget:               8,
	}
}

func populatedSnapshot(t *testing.T) *perp.Snapshot {
	t.Helper()
	engine := perp.NewEngine(perp.NewState(testParams()))
	userIdx, _, err := engine.OpenUserAccount(big.NewInt(100))
	require.NoError(t, err)
	lpIdx, _, err := engine.OpenLPAccount(big.NewInt(100), []byte("matcher-program"), []byte("matcher-context"))
	require.NoError(t, err)
	require.NoError(t, engine.Deposit(userIdx, big.NewInt(1_000_000)))
	require.NoError(t, engine.Deposit(lpIdx, big.NewInt(1_000_000)))
	_, err = engine.KeeperCrank(1, 100_000_000, 0)
	require.NoError(t, err)
	_, err = engine.ExecuteTrade(userIdx, lpIdx, 100_000_000, big.NewInt(10), perp.MatcherOutput{
		FilledPriceE6: 100_000_000,
		FilledSize:    big.NewInt(10),
	})
	require.NoError(t, err)
	return engine.State().Snapshot()
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := populatedSnapshot(t)
	blob, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(blob)
	require.NoError(t, err)
	state, err := perp.RestoreState(decoded)
	require.NoError(t, err)
	require.NoError(t, state.CheckInvariants())

	reencoded, err := EncodeSnapshot(state.Snapshot())
	require.NoError(t, err)
	require.Equal(t, blob, reencoded)
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	snap := populatedSnapshot(t)
	blob, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	_, err = DecodeSnapshot(blob[:len(blob)-3])
	require.ErrorIs(t, err, ErrBlobCorrupt)

	_, err = DecodeSnapshot(append(blob, 0x00))
	require.ErrorIs(t, err, ErrBlobCorrupt)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	snap := populatedSnapshot(t)
	blob, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	blob[0] ^= 0xFF
	_, err = DecodeSnapshot(blob)
	require.ErrorIs(t, err, ErrBlobCorrupt)
}

func TestEncodeRejectsDomainViolation(t *testing.T) {
	snap := populatedSnapshot(t)
	snap.Vault = new(big.Int).Lsh(big.NewInt(1), 130)
	_, err := EncodeSnapshot(snap)
	require.ErrorIs(t, err, ErrFieldDomain)
}

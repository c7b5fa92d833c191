package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"perpcore/native/perp"
)

func TestCheckpointLedgerRoundTrip(t *testing.T) {
	snap := populatedSnapshot(t)
	engine := mustRestore(t, snap)
	ledger := NewCheckpointLedger(NewMemDB())

	entry, err := ledger.Append(snap, engine.Aggregates())
	require.NoError(t, err)
	require.Equal(t, snap.CurrentSlot, entry.Slot)

	latest, err := ledger.LatestSlot()
	require.NoError(t, err)
	require.Equal(t, entry.Slot, latest)

	loaded, decoded, err := ledger.Load(entry.Slot)
	require.NoError(t, err)
	require.Equal(t, entry.Checksum, loaded.Checksum)
	require.Equal(t, 0, loaded.Vault.Cmp(engine.Aggregates().Vault))

	state, err := perp.RestoreState(decoded)
	require.NoError(t, err)
	require.NoError(t, state.CheckInvariants())
}

func TestCheckpointLedgerDetectsTamper(t *testing.T) {
	snap := populatedSnapshot(t)
	engine := mustRestore(t, snap)
	db := NewMemDB()
	ledger := NewCheckpointLedger(db)

	entry, err := ledger.Append(snap, engine.Aggregates())
	require.NoError(t, err)

	key := []byte(fmt.Sprintf(blobKeyFormat, entry.Slot))
	blob, err := db.Get(key)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF
	require.NoError(t, db.Put(key, blob))

	_, _, err = ledger.Load(entry.Slot)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCheckpointLedgerMissing(t *testing.T) {
	ledger := NewCheckpointLedger(NewMemDB())
	_, _, err := ledger.Load(42)
	require.ErrorIs(t, err, ErrCheckpointMissing)
	_, err = ledger.LatestSlot()
	require.ErrorIs(t, err, ErrCheckpointMissing)
}

func TestCheckpointLedgerOnBolt(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "perp.db"))
	require.NoError(t, err)
	defer db.Close()

	snap := populatedSnapshot(t)
	engine := mustRestore(t, snap)
	ledger := NewCheckpointLedger(db)

	entry, err := ledger.Append(snap, engine.Aggregates())
	require.NoError(t, err)
	_, decoded, err := ledger.Load(entry.Slot)
	require.NoError(t, err)
	_, err = perp.RestoreState(decoded)
	require.NoError(t, err)
}

func TestCheckpointLedgerOnLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	defer db.Close()

	snap := populatedSnapshot(t)
	engine := mustRestore(t, snap)
	ledger := NewCheckpointLedger(db)

	entry, err := ledger.Append(snap, engine.Aggregates())
	require.NoError(t, err)
	_, decoded, err := ledger.Load(entry.Slot)
	require.NoError(t, err)
	_, err = perp.RestoreState(decoded)
	require.NoError(t, err)
}

func mustRestore(t *testing.T, snap *perp.Snapshot) *perp.Engine {
	t.Helper()
	state, err := perp.RestoreState(snap)
	require.NoError(t, err)
	return perp.NewEngine(state)
}

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"perpcore/native/perp"
)

// The checkpoint ledger records every snapshot the host persists: slot, blob
// length, a blake3 digest, and the conservation aggregates at capture time.
// Blobs are verified against their digest before they are handed back.

var (
	ErrChecksumMismatch  = errors.New("storage: checkpoint checksum mismatch")
	ErrCheckpointMissing = errors.New("storage: checkpoint not found")
)

const (
	checkpointKeyFormat = "perp/checkpoint/%020d"
	blobKeyFormat       = "perp/blob/%020d"
	latestKey           = "perp/checkpoint/latest"
)

// Checkpoint is one ledger entry.
type Checkpoint struct {
	Slot         uint64
	BlobLength   uint64
	Checksum     [32]byte
	Vault        *big.Int
	Insurance    *big.Int
	CapitalTotal *big.Int
}

// Clone returns a deep copy so callers cannot mutate ledger state.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Vault != nil {
		clone.Vault = new(big.Int).Set(c.Vault)
	}
	if c.Insurance != nil {
		clone.Insurance = new(big.Int).Set(c.Insurance)
	}
	if c.CapitalTotal != nil {
		clone.CapitalTotal = new(big.Int).Set(c.CapitalTotal)
	}
	return &clone
}

// CheckpointLedger persists snapshots with integrity metadata.
type CheckpointLedger struct {
	db Database
}

// NewCheckpointLedger wires the ledger to a database backend.
func NewCheckpointLedger(db Database) *CheckpointLedger {
	return &CheckpointLedger{db: db}
}

// Append encodes the snapshot, stores the blob and its checkpoint entry, and
// returns the entry.
func (l *CheckpointLedger) Append(snap *perp.Snapshot, agg perp.Aggregates) (*Checkpoint, error) {
	blob, err := EncodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	entry := &Checkpoint{
		Slot:         snap.CurrentSlot,
		BlobLength:   uint64(len(blob)),
		Checksum:     blake3.Sum256(blob),
		Vault:        new(big.Int).Set(agg.Vault),
		Insurance:    new(big.Int).Set(agg.Insurance),
		CapitalTotal: new(big.Int).Set(agg.CapitalTotal),
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return nil, err
	}
	if err := l.db.Put([]byte(fmt.Sprintf(blobKeyFormat, entry.Slot)), blob); err != nil {
		return nil, err
	}
	if err := l.db.Put([]byte(fmt.Sprintf(checkpointKeyFormat, entry.Slot)), encoded); err != nil {
		return nil, err
	}
	var slotKey [8]byte
	for i := 0; i < 8; i++ {
		slotKey[i] = byte(entry.Slot >> (56 - 8*i))
	}
	if err := l.db.Put([]byte(latestKey), slotKey[:]); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// Load retrieves the checkpoint and verified blob for a slot, decoding the
// snapshot only after the blake3 digest matches.
func (l *CheckpointLedger) Load(slot uint64) (*Checkpoint, *perp.Snapshot, error) {
	raw, err := l.db.Get([]byte(fmt.Sprintf(checkpointKeyFormat, slot)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrCheckpointMissing
		}
		return nil, nil, err
	}
	entry := &Checkpoint{}
	if err := rlp.DecodeBytes(raw, entry); err != nil {
		return nil, nil, err
	}
	blob, err := l.db.Get([]byte(fmt.Sprintf(blobKeyFormat, slot)))
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(blob)) != entry.BlobLength {
		return nil, nil, ErrChecksumMismatch
	}
	sum := blake3.Sum256(blob)
	if !bytes.Equal(sum[:], entry.Checksum[:]) {
		return nil, nil, ErrChecksumMismatch
	}
	snap, err := DecodeSnapshot(blob)
	if err != nil {
		return nil, nil, err
	}
	return entry, snap, nil
}

// LatestSlot reports the most recently appended checkpoint slot.
func (l *CheckpointLedger) LatestSlot() (uint64, error) {
	raw, err := l.db.Get([]byte(latestKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrCheckpointMissing
		}
		return 0, err
	}
	if len(raw) != 8 {
		return 0, ErrChecksumMismatch
	}
	var slot uint64
	for i := 0; i < 8; i++ {
		slot = slot<<8 | uint64(raw[i])
	}
	return slot, nil
}

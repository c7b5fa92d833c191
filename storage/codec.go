package storage

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"perpcore/native/perp"
)

// The state blob is a fixed-layout little-endian image of a perp.Snapshot.
// Balance fields occupy 16 bytes; signed fields are stored two's complement
// in the same width. Bound violations fail encoding instead of truncating.

var (
	ErrBlobCorrupt  = errors.New("storage: state blob corrupt")
	ErrFieldDomain  = errors.New("storage: field outside its 128-bit domain")
)

var (
	blobMagic   = [4]byte{'P', 'R', 'P', '1'}
	blobVersion = uint16(1)

	twoPow128 = new(big.Int).Lsh(big.NewInt(1), 128)
	maxI128   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128   = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

type blobWriter struct {
	buf []byte
	err error
}

func (w *blobWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *blobWriter) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *blobWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *blobWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// u128 packs an unsigned balance through a uint256 overflow check before
// fixing it into 16 little-endian bytes.
func (w *blobWriter) u128(v *big.Int) {
	if w.err != nil {
		return
	}
	if v == nil {
		v = big.NewInt(0)
	}
	packed, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 || packed.BitLen() > 128 {
		w.err = ErrFieldDomain
		return
	}
	var out [16]byte
	be := packed.Bytes()
	copy(out[16-len(be):], be)
	// Flip to little endian.
	for i, j := 0, 15; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	w.buf = append(w.buf, out[:]...)
}

// i128 packs a signed quantity two's complement into 16 bytes.
func (w *blobWriter) i128(v *big.Int) {
	if w.err != nil {
		return
	}
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Cmp(maxI128) > 0 || v.Cmp(minI128) < 0 {
		w.err = ErrFieldDomain
		return
	}
	enc := new(big.Int).Set(v)
	if enc.Sign() < 0 {
		enc.Add(enc, twoPow128)
	}
	w.u128(enc)
}

func (w *blobWriter) blob(b []byte) {
	if w.err != nil {
		return
	}
	if len(b) > 0xFFFF {
		w.err = ErrFieldDomain
		return
	}
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

type blobReader struct {
	buf []byte
	off int
	err error
}

func (r *blobReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrBlobCorrupt
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *blobReader) u8() uint8 {
	b := r.take(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *blobReader) u16() uint16 {
	b := r.take(2)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *blobReader) u32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *blobReader) u64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *blobReader) u128() *big.Int {
	b := r.take(16)
	if r.err != nil {
		return big.NewInt(0)
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(big.Int).SetBytes(be)
}

func (r *blobReader) i128() *big.Int {
	v := r.u128()
	if r.err != nil {
		return big.NewInt(0)
	}
	if v.Cmp(maxI128) > 0 {
		v.Sub(v, twoPow128)
	}
	return v
}

func (r *blobReader) blob() []byte {
	n := int(r.u16())
	if r.err != nil {
		return nil
	}
	b := r.take(n)
	if r.err != nil || n == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// EncodeSnapshot serializes a snapshot into the fixed-layout state blob.
func EncodeSnapshot(snap *perp.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, ErrBlobCorrupt
	}
	w := &blobWriter{}
	w.buf = append(w.buf, blobMagic[:]...)
	w.u16(blobVersion)

	p := snap.Params
	w.u32(p.MaxAccounts)
	w.u64(p.InitialMarginBps)
	w.u64(p.MaintenanceMarginBps)
	w.u128(p.AccountCreationFee)
	w.u64(p.MaintenanceFeePerSlotE6)
	w.u64(p.FeeForgivenessHalfLifeSlots)
	w.u64(p.LiquidationFeeBps)
	w.u128(p.RiskReductionThreshold)
	w.u128(p.InitialInsurance)
	w.u128(p.DustThreshold)
	w.u64(p.StalenessBoundSlots)
	w.u64(p.WarmupSlopePerStep)
	w.u64(p.FundingRateClampE6)
	w.u64(p.MaxOraclePriceE6)
	w.u128(p.MaxPrincipal)
	w.u128(p.MaxPnl)
	w.u32(p.CrankFeeBudget)
	w.u32(p.CrankLiquidationBudget)
	w.u32(p.GCBudget)

	w.u32(snap.NextAllocated)
	w.u64(snap.NextAccountID)
	w.u128(snap.Vault)
	w.u128(snap.Insurance)
	w.i128(snap.FundingIndexE6)
	w.u64(snap.LastFundingSlot)
	w.u64(snap.LastCrankSlot)
	w.u64(snap.CurrentSlot)
	var flags uint8
	if snap.RiskReductionOnly {
		flags |= 1
	}
	if snap.WarmupPaused {
		flags |= 2
	}
	w.u8(flags)
	w.u64(snap.WarmupPauseSlot)
	w.i128(snap.LossAccum)
	w.u32(snap.GCCursor)
	w.u32(snap.FeeCursor)
	w.u32(snap.LiqCursor)

	w.u32(uint32(len(snap.Accounts)))
	for _, acct := range snap.Accounts {
		w.u32(acct.Index)
		w.u64(acct.AccountID)
		w.u128(acct.Capital)
		w.i128(acct.Pnl)
		w.u128(acct.ReservedPnl)
		w.u64(acct.WarmupStartedAtSlot)
		w.u64(acct.WarmupSlopePerStep)
		w.i128(acct.PositionSize)
		w.u64(acct.EntryPriceE6)
		w.i128(acct.FundingIndex)
		w.i128(acct.FeeCredits)
		w.u64(acct.LastFeeSlot)
		w.blob(acct.MatcherProgram)
		w.blob(acct.MatcherContext)
	}
	w.u32(uint32(len(snap.FreeList)))
	for _, idx := range snap.FreeList {
		w.u32(idx)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// DecodeSnapshot parses a state blob back into a snapshot. Structural
// validation beyond field domains happens in perp.RestoreState.
func DecodeSnapshot(blob []byte) (*perp.Snapshot, error) {
	r := &blobReader{buf: blob}
	magic := r.take(4)
	if r.err != nil || string(magic) != string(blobMagic[:]) {
		return nil, ErrBlobCorrupt
	}
	if r.u16() != blobVersion {
		return nil, ErrBlobCorrupt
	}

	snap := &perp.Snapshot{}
	p := perp.Params{}
	p.MaxAccounts = r.u32()
	p.InitialMarginBps = r.u64()
	p.MaintenanceMarginBps = r.u64()
	p.AccountCreationFee = r.u128()
	p.MaintenanceFeePerSlotE6 = r.u64()
	p.FeeForgivenessHalfLifeSlots = r.u64()
	p.LiquidationFeeBps = r.u64()
	p.RiskReductionThreshold = r.u128()
	p.InitialInsurance = r.u128()
	p.DustThreshold = r.u128()
	p.StalenessBoundSlots = r.u64()
	p.WarmupSlopePerStep = r.u64()
	p.FundingRateClampE6 = r.u64()
	p.MaxOraclePriceE6 = r.u64()
	p.MaxPrincipal = r.u128()
	p.MaxPnl = r.u128()
	p.CrankFeeBudget = r.u32()
	p.CrankLiquidationBudget = r.u32()
	p.GCBudget = r.u32()
	snap.Params = p

	snap.NextAllocated = r.u32()
	snap.NextAccountID = r.u64()
	snap.Vault = r.u128()
	snap.Insurance = r.u128()
	snap.FundingIndexE6 = r.i128()
	snap.LastFundingSlot = r.u64()
	snap.LastCrankSlot = r.u64()
	snap.CurrentSlot = r.u64()
	flags := r.u8()
	snap.RiskReductionOnly = flags&1 != 0
	snap.WarmupPaused = flags&2 != 0
	snap.WarmupPauseSlot = r.u64()
	snap.LossAccum = r.i128()
	snap.GCCursor = r.u32()
	snap.FeeCursor = r.u32()
	snap.LiqCursor = r.u32()

	numAccounts := r.u32()
	if r.err == nil && uint64(numAccounts) > uint64(p.MaxAccounts) {
		return nil, ErrBlobCorrupt
	}
	for i := uint32(0); i < numAccounts && r.err == nil; i++ {
		acct := perp.AccountSnapshot{}
		acct.Index = r.u32()
		acct.AccountID = r.u64()
		acct.Capital = r.u128()
		acct.Pnl = r.i128()
		acct.ReservedPnl = r.u128()
		acct.WarmupStartedAtSlot = r.u64()
		acct.WarmupSlopePerStep = r.u64()
		acct.PositionSize = r.i128()
		acct.EntryPriceE6 = r.u64()
		acct.FundingIndex = r.i128()
		acct.FeeCredits = r.i128()
		acct.LastFeeSlot = r.u64()
		acct.MatcherProgram = r.blob()
		acct.MatcherContext = r.blob()
		snap.Accounts = append(snap.Accounts, acct)
	}
	numFree := r.u32()
	if r.err == nil && uint64(numFree) > uint64(p.MaxAccounts) {
		return nil, ErrBlobCorrupt
	}
	for i := uint32(0); i < numFree && r.err == nil; i++ {
		snap.FreeList = append(snap.FreeList, r.u32())
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, ErrBlobCorrupt
	}
	return snap, nil
}

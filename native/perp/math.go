package perp

import "math/big"

// Financial quantities are big integers constrained to fixed 128-bit domains:
// balances (capital, vault, insurance) live in [0, 2^128), PnL and position
// sizes in (-2^127, 2^127). Balance arithmetic is checked and fails with
// ErrOverflow; Q64.64 products saturate at the signed bounds instead.

var (
	maxU128 = mustBigInt("340282366920938463463374607431768211455")
	maxI128 = mustBigInt("170141183460469231731687303715884105727")
	minI128 = mustBigInt("-170141183460469231731687303715884105728")
	// minPnl excludes the i128 minimum, which the account model forbids.
	minPnl = mustBigInt("-170141183460469231731687303715884105727")

	priceScale  = big.NewInt(1_000_000)
	basisPoints = big.NewInt(10_000)
)

// QOne is the Q64.64 representation of one.
var QOne = new(big.Int).Lsh(big.NewInt(1), 64)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func checkedAddU128(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(maxU128) > 0 {
		return nil, errOverflow
	}
	return sum, nil
}

func checkedSubU128(a, b *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return nil, errOverflow
	}
	return diff, nil
}

// satAddPnl adds delta to a PnL value, clamping at the signed 128-bit bounds.
// The lower clamp stops one unit above i128 min so the forbidden encoding is
// never produced.
func satAddPnl(pnl, delta *big.Int) *big.Int {
	sum := new(big.Int).Add(pnl, delta)
	if sum.Cmp(maxI128) > 0 {
		return new(big.Int).Set(maxI128)
	}
	if sum.Cmp(minPnl) < 0 {
		return new(big.Int).Set(minPnl)
	}
	return sum
}

func clampI128(v *big.Int) *big.Int {
	if v.Cmp(maxI128) > 0 {
		return new(big.Int).Set(maxI128)
	}
	if v.Cmp(minI128) < 0 {
		return new(big.Int).Set(minI128)
	}
	return v
}

// MulQ64 multiplies a Q64.64 fraction by an integer quantity, truncating the
// fractional bits and saturating at the signed 128-bit bounds.
func MulQ64(frac, x *big.Int) *big.Int {
	product := new(big.Int).Mul(frac, x)
	product.Rsh(product, 64)
	return clampI128(product)
}

// RatioQ64 expresses num/den as a Q64.64 fraction. A non-positive denominator
// yields zero; quotients beyond the signed 128-bit range saturate.
func RatioQ64(num, den *big.Int) *big.Int {
	if den == nil || den.Sign() <= 0 || num == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Lsh(num, 64)
	scaled.Quo(scaled, den)
	return clampI128(scaled)
}

// priceMul converts a position size into balance units at a 1e6-scaled price,
// truncating toward zero.
func priceMul(size *big.Int, priceE6 uint64) *big.Int {
	out := new(big.Int).Mul(size, new(big.Int).SetUint64(priceE6))
	return out.Quo(out, priceScale)
}

// priceDelta values a size across a price move, truncating toward zero. The
// sign of the result follows the sign of size times the move.
func priceDelta(size *big.Int, fromE6, toE6 uint64) *big.Int {
	move := new(big.Int).SetUint64(toE6)
	move.Sub(move, new(big.Int).SetUint64(fromE6))
	out := new(big.Int).Mul(size, move)
	return out.Quo(out, priceScale)
}

// bpsOf returns amount*bps/10_000 truncated toward zero.
func bpsOf(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

func posPart(v *big.Int) *big.Int {
	if v.Sign() > 0 {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func negPart(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int).Neg(v)
	}
	return big.NewInt(0)
}

func absBig(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Package mul512 provides the pipeline's 256x256->512 bit multiplier.
// Two interchangeable strategies share one numeric contract; the choice
// is made at construction time and trades latency for logic cost, never
// changing the product.
package mul512

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// Multiplier computes the exact 512-bit unsigned product of two 256-bit
// operands. Feed presents the operands during one clock cycle; Result
// must not be read before the following cycle, which models the
// registered multiply's one-cycle settle latency explicitly.
type Multiplier interface {
	Feed(x, y *uint256.Int)
	Result() (hi, lo uint256.Int)
}

// ByName returns the multiplier strategy with the given name, one of
// "direct" or "shiftadd".
func ByName(name string) (Multiplier, error) {
	switch name {
	case "direct":
		return NewDirect(), nil
	case "shiftadd", "shift-add":
		return NewShiftAdd(), nil
	default:
		return nil, fmt.Errorf("unknown multiplier strategy %q", name)
	}
}

// Direct is the registered multiply: a 4x4 limb schoolbook product,
// latched when the operands are presented.
type Direct struct {
	hi, lo uint256.Int
}

func NewDirect() *Direct {
	return &Direct{}
}

func (m *Direct) Feed(x, y *uint256.Int) {
	m.hi, m.lo = mul256(x, y)
}

func (m *Direct) Result() (hi, lo uint256.Int) {
	return m.hi, m.lo
}

// ShiftAdd forms the product as a sum of shifted copies of x, one per
// set bit of y. The original hardware hardwired this for a single sparse
// multiplicand pattern; here the loop runs over all 256 multiplier bits
// so the strategy honors the same contract as Direct for any operands.
type ShiftAdd struct {
	hi, lo uint256.Int
}

func NewShiftAdd() *ShiftAdd {
	return &ShiftAdd{}
}

func (m *ShiftAdd) Feed(x, y *uint256.Int) {
	var acc [8]uint64
	for j := uint(0); j < 256; j++ {
		if y[j/64]>>(j%64)&1 == 1 {
			addShifted(&acc, x, j)
		}
	}
	copy(m.lo[:], acc[:4])
	copy(m.hi[:], acc[4:])
}

func (m *ShiftAdd) Result() (hi, lo uint256.Int) {
	return m.hi, m.lo
}

// addShifted adds x << j into the 512-bit accumulator.
func addShifted(acc *[8]uint64, x *uint256.Int, j uint) {
	limb, off := int(j/64), j%64
	var w [5]uint64
	if off == 0 {
		copy(w[:4], x[:])
	} else {
		w[0] = x[0] << off
		for i := 1; i < 4; i++ {
			w[i] = x[i]<<off | x[i-1]>>(64-off)
		}
		w[4] = x[3] >> (64 - off)
	}
	var c uint64
	for i := 0; i < 5 && limb+i < 8; i++ {
		acc[limb+i], c = bits.Add64(acc[limb+i], w[i], c)
	}
	for i := limb + 5; i < 8 && c != 0; i++ {
		acc[i], c = bits.Add64(acc[i], 0, c)
	}
}

// mul256 is the schoolbook limb product. The running high word never
// wraps: p[i+j] + carry + x[i]*y[j] fits 128 bits exactly.
func mul256(x, y *uint256.Int) (hi, lo uint256.Int) {
	var p [8]uint64
	for i := 0; i < 4; i++ {
		var c uint64
		for j := 0; j < 4; j++ {
			h, l := bits.Mul64(x[i], y[j])
			var cc uint64
			l, cc = bits.Add64(l, p[i+j], 0)
			h += cc
			l, cc = bits.Add64(l, c, 0)
			h += cc
			p[i+j] = l
			c = h
		}
		p[i+4] = c
	}
	copy(lo[:], p[:4])
	copy(hi[:], p[4:])
	return hi, lo
}

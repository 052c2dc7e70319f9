// Package csa implements carry-save addition: sums are kept as a
// (sum, carry) pair of bit vectors with no carry propagation between
// bit positions, so combining any number of terms has O(1) logic depth
// regardless of width. Values are little-endian []uint64 limb vectors;
// the pair recombines as sum + (carry << 1).
package csa

import "math/bits"

// FullAdd is the 1-bit full adder: sum = a ^ b ^ cin and
// cout = majority(a, b, cin). Only the low bit of each input is used.
func FullAdd(a, b, cin uint) (sum, cout uint) {
	sum = (a ^ b ^ cin) & 1
	cout = ((a & b) | (a & cin) | (b & cin)) & 1
	return sum, cout
}

// Add3 is a bit-parallel 3:2 compressor: one FullAdd per bit position,
// 64 positions per limb at once. The result is exact at any width:
// (carry << 1) + sum == x + y + z as integers.
func Add3(x, y, z []uint64) (sum, carry []uint64) {
	n := max(len(x), len(y), len(z))
	sum = make([]uint64, n)
	carry = make([]uint64, n)
	for i := 0; i < n; i++ {
		a, b, c := at(x, i), at(y, i), at(z, i)
		sum[i] = a ^ b ^ c
		carry[i] = (a & b) | (a & c) | (b & c)
	}
	return sum, carry
}

// Compress reduces an ordered sequence of terms to a single (sum, carry)
// pair through 3:2 compressor stages. Three terms need exactly one stage;
// larger sequences feed each stage's shifted carry back into the queue.
// Intermediate vectors widen as needed, so the result is always exact.
func Compress(terms [][]uint64) (sum, carry []uint64) {
	q := append([][]uint64(nil), terms...)
	for len(q) > 3 {
		s, c := Add3(q[0], q[1], q[2])
		q = append(q[3:], s, Shl1(c))
	}
	switch len(q) {
	case 0:
		return nil, nil
	case 1:
		return q[0], nil
	case 2:
		return Add3(q[0], q[1], nil)
	default:
		return Add3(q[0], q[1], q[2])
	}
}

// Combine performs the normalizing add sum + (carry << 1), widening so
// that no bit is truncated.
func Combine(sum, carry []uint64) []uint64 {
	sh := Shl1(carry)
	n := max(len(sum), len(sh))
	out := make([]uint64, n+1)
	var c uint64
	for i := 0; i < n; i++ {
		out[i], c = bits.Add64(at(sum, i), at(sh, i), c)
	}
	out[n] = c
	return trim(out)
}

// Shl1 shifts a limb vector left by one bit, widening if the top bit
// is occupied.
func Shl1(v []uint64) []uint64 {
	out := make([]uint64, len(v)+1)
	var c uint64
	for i, w := range v {
		out[i] = w<<1 | c
		c = w >> 63
	}
	if len(v) > 0 {
		out[len(v)] = c
	}
	return trim(out)
}

func at(v []uint64, i int) uint64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func trim(v []uint64) []uint64 {
	n := len(v)
	for n > 0 && v[n-1] == 0 {
		n--
	}
	return v[:n]
}

package mod256

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/jwasinger/mod256/mul512"
	"github.com/stretchr/testify/require"
)

func oracle(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, modulusP.ToBig())
}

func mustBig(t *testing.T, dec string) *big.Int {
	t.Helper()
	x, ok := new(big.Int).SetString(dec, 10)
	require.True(t, ok, "bad decimal literal %q", dec)
	return x
}

func rand300(rnd *rand.Rand) *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), InputBits)
	return new(big.Int).Rand(rnd, limit)
}

func strategies() map[string]func() mul512.Multiplier {
	return map[string]func() mul512.Multiplier{
		"direct":   func() mul512.Multiplier { return mul512.NewDirect() },
		"shiftadd": func() mul512.Multiplier { return mul512.NewShiftAdd() },
	}
}

func TestKnownVectors(t *testing.T) {
	vectors := []struct {
		x, want string
	}{
		{"0", "0"},
		{"1", "1"},
		// 1 << 43: far below P, so the residue is the input itself.
		{"8796093022208", "8796093022208"},
		// 2^256 - 1: one fold through the lift weight.
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935",
			"10892160295276721825925747872936590447524595081957130239397449096302321350818"},
		{"104899928942039473597645237135751317405745389583683433800060134911610808289117", "0"},
		{"104899928942039473597645237135751317405745389583683433800060134911610808289118", "1"},
		// 2^300 - 1: the full input width.
		{"2037035976334486086268445688409378161051468393665936250636140449354381299763336706183397375",
			"96292207576546939814958159259573395297860596384894953893435111833531040048377"},
		{"987259873222259466717594357135751317405745389583683433800060134911610801234577",
			"43160512743904204338787222913989460754036883330532529599518920707113526632524"},
	}
	for name, mk := range strategies() {
		t.Run(name, func(t *testing.T) {
			c := New(WithMultiplier(mk()))
			for _, v := range vectors {
				out, cycles, err := c.Run(mustBig(t, v.x))
				require.NoError(t, err)
				require.Equal(t, Latency, cycles)
				require.Equal(t, v.want, out.Dec(), "X = %s", v.x)
			}
		})
	}
}

func TestRandomAgainstOracle(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for name, mk := range strategies() {
		t.Run(name, func(t *testing.T) {
			c := New(WithMultiplier(mk()))
			for i := 0; i < 300; i++ {
				x := rand300(rnd)
				out, _, err := c.Run(x)
				require.NoError(t, err)
				require.Equalf(t, oracle(x).String(), out.Dec(),
					"X = %s\n%s", x, spew.Sdump(c.State(), c.Busy()))
			}
		})
	}
}

func TestRangeInvariant(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	c := New()
	p := Modulus()
	for i := 0; i < 200; i++ {
		out, _, err := c.Run(rand300(rnd))
		require.NoError(t, err)
		require.True(t, out.Cmp(&p) < 0, "output %s >= P", out.Dec())
	}
}

func TestFixedLatency(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	inputs := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), InputBits), big.NewInt(1)),
	}
	for i := 0; i < 50; i++ {
		inputs = append(inputs, rand300(rnd))
	}
	c := New()
	for _, x := range inputs {
		_, cycles, err := c.Run(x)
		require.NoError(t, err)
		require.Equal(t, Latency, cycles, "X = %s", x)
	}
}

func TestBusyLifecycle(t *testing.T) {
	c := New()
	require.False(t, c.Busy())
	require.NoError(t, c.Start(big.NewInt(7)))
	require.False(t, c.Busy(), "busy must stay low during INIT")

	c.Step()
	require.True(t, c.Busy())
	require.Equal(t, StateTransform, c.State())
	require.ErrorIs(t, c.Start(big.NewInt(9)), ErrBusy)

	for i := 0; i < Latency-1; i++ {
		c.Step()
	}
	require.False(t, c.Busy())
	require.Equal(t, StateFinish, c.State())
	out := c.Output()
	require.Equal(t, "7", out.Dec())
}

func TestRepeatIdempotent(t *testing.T) {
	c := New()
	x := mustBig(t, "987259873222259466717594357135751317405745389583683433800060134911610801234577")
	first, _, err := c.Run(x)
	require.NoError(t, err)
	second, _, err := c.Run(x)
	require.NoError(t, err)
	require.True(t, first.Eq(&second))
}

func TestResetAbort(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))
	c := New()
	require.NoError(t, c.Start(rand300(rnd)))
	c.Step()
	c.Step()
	require.True(t, c.Busy())

	c.Reset()
	require.False(t, c.Busy())
	require.Equal(t, StateInit, c.State())
	out := c.Output()
	require.True(t, out.IsZero())

	// A clean run after the abort must be uncorrupted.
	x := rand300(rnd)
	got, cycles, err := c.Run(x)
	require.NoError(t, err)
	require.Equal(t, Latency, cycles)
	require.Equal(t, oracle(x).String(), got.Dec())
}

func TestStartRange(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.Start(nil), ErrRange)
	require.ErrorIs(t, c.Start(big.NewInt(-1)), ErrRange)
	tooWide := new(big.Int).Lsh(big.NewInt(0xDEADBEEF), 270) // 302 bits
	require.ErrorIs(t, c.Start(tooWide), ErrRange)
	limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), InputBits), big.NewInt(1))
	require.NoError(t, c.Start(limit))
}

func TestInvalidStateRecovery(t *testing.T) {
	c := New()
	c.state = State(42)
	c.busy = true
	c.Step()
	require.Equal(t, StateInit, c.State())
	require.False(t, c.Busy())
}

// carryOracle models the legacy readout bit-for-bit: the majority
// vector of {T, Q, P} with a single conditional subtraction.
func carryOracle(x *big.Int) *big.Int {
	p := modulusP.ToBig()
	r := rModP.ToBig()
	xLo := new(big.Int).And(x, mask256)
	xHi := new(big.Int).Rsh(x, 256)

	prod := new(big.Int).Mul(r, xHi)
	hi := new(big.Int).Rsh(prod, 256)
	lo := new(big.Int).And(prod, mask256)

	tRed := new(big.Int).Mod(xLo, p)
	tRed.Add(tRed, new(big.Int).Mod(new(big.Int).Mul(hi, r), p))
	tRed.Mod(tRed, p)
	qEst := new(big.Int).Mod(lo, p)

	maj := new(big.Int).Or(
		new(big.Int).Or(
			new(big.Int).And(tRed, qEst),
			new(big.Int).And(tRed, p)),
		new(big.Int).And(qEst, p))
	if maj.Cmp(p) >= 0 {
		maj.Sub(maj, p)
	}
	return maj
}

func TestCarryReadoutMode(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	c := New(WithCarryReadout())
	for i := 0; i < 200; i++ {
		x := rand300(rnd)
		out, cycles, err := c.Run(x)
		require.NoError(t, err)
		require.Equal(t, Latency, cycles)
		require.Equal(t, carryOracle(x).String(), out.Dec(), "X = %s", x)
	}
}

func TestOutputStableAcrossIdleCycles(t *testing.T) {
	c := New()
	x := mustBig(t, "8796093022208")
	want, _, err := c.Run(x)
	require.NoError(t, err)
	c.Step() // FINISH -> INIT
	out := c.Output()
	require.True(t, want.Eq(&out))
}

func FuzzReduce(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x01})
	f.Add(new(big.Int).Lsh(big.NewInt(1), 43).Bytes())
	f.Add(modulusP.ToBig().Bytes())
	f.Add(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), InputBits), big.NewInt(1)).Bytes())
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 38 {
			data = data[:38]
		}
		if len(data) == 38 {
			data[0] &= 0x0f // clamp to 300 bits
		}
		x := new(big.Int).SetBytes(data)
		c := New()
		out, cycles, err := c.Run(x)
		if err != nil {
			t.Fatal(err)
		}
		if cycles != Latency {
			t.Fatalf("latency %d, want %d", cycles, Latency)
		}
		if out.Dec() != oracle(x).String() {
			t.Fatalf("X = %s: got %s, want %s", x, out.Dec(), oracle(x))
		}
	})
}

func BenchmarkRunDirect(b *testing.B) {
	benchmarkRun(b, mul512.NewDirect())
}

func BenchmarkRunShiftAdd(b *testing.B) {
	benchmarkRun(b, mul512.NewShiftAdd())
}

func benchmarkRun(b *testing.B, m mul512.Multiplier) {
	rnd := rand.New(rand.NewSource(6))
	x := rand300(rnd)
	c := New(WithMultiplier(m))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, _, err := c.Run(x); err != nil {
			b.Fatal(err)
		}
	}
}

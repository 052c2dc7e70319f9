// Package mod256 computes O = X mod P for a fixed 256-bit prime P and
// inputs up to 300 bits, through a clocked state-machine datapath
// instead of a combinational divider: a Montgomery-style lift of the
// input's out-of-range half, one registered 256x256->512 multiply, a
// carry-save combine of three 256-bit terms and a final conditional
// correction. Each Step is one clock cycle; a run takes exactly five.
package mod256

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/jwasinger/mod256/csa"
	"github.com/jwasinger/mod256/mul512"
)

// State identifies the controller's current pipeline phase.
type State uint8

const (
	StateInit State = iota
	StateTransform
	StateMultiply
	StateReduce
	StateFinalize
	StateFinish
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateTransform:
		return "TRANSFORM"
	case StateMultiply:
		return "MULTIPLY"
	case StateReduce:
		return "REDUCE"
	case StateFinalize:
		return "FINALIZE"
	case StateFinish:
		return "FINISH"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// InputBits is the width of the X operand.
const InputBits = 300

// Latency is the number of Step calls between an accepted operand and
// busy deasserting, for every input.
const Latency = 5

var (
	// ErrBusy is returned by Start while a run is in progress. Presenting
	// an operand mid-run is left undefined by the hardware contract; this
	// implementation rejects it deterministically.
	ErrBusy = errors.New("reduction in progress")

	// ErrRange is returned for operands outside [0, 2^300).
	ErrRange = errors.New("operand out of range")
)

var mask256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithMultiplier selects the multiplier strategy. The default is the
// registered direct multiply.
func WithMultiplier(m mul512.Multiplier) Option {
	return func(c *Controller) {
		if m != nil {
			c.mul = m
		}
	}
}

// WithLogger attaches a logger that traces one line per clock cycle.
func WithLogger(l log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithCarryReadout reproduces the original datapath's readout, which
// consumed only the carry vector of the adder tree as if it were the
// normalized sum. Outputs in this mode are not residues of X; the mode
// exists so the legacy behavior stays observable and testable. The
// default readout recombines sum and carry before the correction.
func WithCarryReadout() Option {
	return func(c *Controller) { c.carryOnly = true }
}

// Controller is the reduction state machine. All registers are owned by
// the controller; the multiplier and the adder tree are stateless apart
// from the multiplier's one-cycle output latch. It is not safe for
// concurrent use: the model is a single clock domain.
type Controller struct {
	mul       mul512.Multiplier
	logger    log.Logger
	carryOnly bool

	// Input lines, sampled once while idle.
	xLoIn uint256.Int
	xHiIn uint64

	state State
	busy  bool

	// Datapath registers. The hardware reused three registers across
	// phases; these are named for their single role instead.
	xLo        uint256.Int // latched low 256 bits of X
	xHi        uint64      // latched high 44 bits of X
	tRed       uint256.Int // reduced intermediate T
	mFac       uint256.Int // correction factor M (multiplicand)
	qEst       uint256.Int // quotient estimate Q (multiplier / product low)
	sum, carry uint256.Int // captured carry-save pair
	out        uint256.Int // O
}

// New returns an idle controller. With no options it uses the direct
// multiply strategy and the normalized readout.
func New(opts ...Option) *Controller {
	c := &Controller{mul: mul512.NewDirect()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Busy reports whether a run is in progress. The output is valid only
// once Busy has returned to false after a Start.
func (c *Controller) Busy() bool {
	return c.busy
}

// State returns the current pipeline phase.
func (c *Controller) State() State {
	return c.state
}

// Output returns the residue register. It holds X mod P after a
// completed run and keeps that value until the next run overwrites it.
func (c *Controller) Output() uint256.Int {
	return c.out
}

// Reset is the asynchronous abort: state back to INIT, output cleared,
// busy deasserted. Any in-flight run is discarded without error; no
// output validity is guaranteed until a subsequent clean run completes.
func (c *Controller) Reset() {
	c.state = StateInit
	c.busy = false
	c.out.Clear()
	c.tRed.Clear()
	c.mFac.Clear()
	c.qEst.Clear()
	c.sum.Clear()
	c.carry.Clear()
	if c.logger != nil {
		c.logger.Debug("pipeline reset")
	}
}

// Start presents a new operand on the input lines. It returns ErrBusy
// while a run is in progress and ErrRange for negative operands or
// operands wider than 300 bits. X is sampled into the datapath on the
// next Step; exactly five Steps later busy deasserts and Output holds
// X mod P.
func (c *Controller) Start(x *big.Int) error {
	if c.busy {
		return ErrBusy
	}
	if x == nil || x.Sign() < 0 || x.BitLen() > InputBits {
		return fmt.Errorf("%w: need an unsigned value of at most %d bits", ErrRange, InputBits)
	}
	c.xLoIn.SetFromBig(new(big.Int).And(x, mask256))
	c.xHiIn = new(big.Int).Rsh(x, 256).Uint64()
	// A controller parked in FINISH re-arms immediately so the latency
	// contract counts from here.
	if c.state == StateFinish {
		c.state = StateInit
	}
	return nil
}

// Step advances the state machine by one clock cycle.
func (c *Controller) Step() {
	switch c.state {
	case StateInit:
		// Latch the input lines. busy is false during INIT itself.
		c.xLo.Set(&c.xLoIn)
		c.xHi = c.xHiIn
		c.state = StateTransform
		c.busy = true

	case StateTransform:
		// T <- low half reduced; M <- 2^256 mod P, the lift weight of
		// everything above bit 255; Q <- X >> 256, the quotient of X by
		// 2^256. The low half is below 2P, so one subtraction reduces it.
		c.tRed.Set(&c.xLo)
		if c.tRed.Cmp(modulusP) >= 0 {
			c.tRed.Sub(&c.tRed, modulusP)
		}
		c.mFac.Set(rModP)
		c.qEst.SetUint64(c.xHi)
		c.state = StateMultiply

	case StateMultiply:
		// Present the operands; the registered product settles during
		// the next cycle.
		c.mul.Feed(&c.mFac, &c.qEst)
		c.state = StateReduce

	case StateReduce:
		hi, lo := c.mul.Result()
		// The product's high half sits above bit 255 again, so its
		// contribution re-enters through the same lift weight and folds
		// into T. The low half, reduced, becomes the new Q. Keeping both
		// below P bounds the tree's total under 3P.
		var hiRed uint256.Int
		hiRed.MulMod(&hi, rModP, modulusP)
		c.tRed.AddMod(&c.tRed, &hiRed, modulusP)
		c.qEst.Set(&lo)
		if c.qEst.Cmp(modulusP) >= 0 {
			c.qEst.Sub(&c.qEst, modulusP)
		}
		sum, carry := csa.Compress([][]uint64{c.tRed[:], c.qEst[:], modulusP[:]})
		copy(c.sum[:], sum)
		copy(c.carry[:], carry)
		c.state = StateFinalize

	case StateFinalize:
		if c.carryOnly {
			// Legacy readout: the carry vector alone, one conditional
			// subtraction, exactly as the original wired it.
			c.out.Set(&c.carry)
			if c.out.Cmp(modulusP) >= 0 {
				c.out.Sub(&c.out, modulusP)
			}
		} else {
			c.normalize()
		}
		c.state = StateFinish
		c.busy = false

	case StateFinish:
		c.state = StateInit

	default:
		// Undefined state values snap back to idle.
		c.state = StateInit
		c.busy = false
	}
	if c.logger != nil {
		c.logger.Trace("clock", "state", c.state, "busy", c.busy)
	}
}

// normalize recombines the carry-save pair and corrects into [0, P).
// The recombined value is T + Q + P with T, Q < P, so it is below 3P
// and at most 258 bits: one limb above the output register, and at most
// two subtractions after the +P bias is removed.
func (c *Controller) normalize() {
	words := csa.Combine(c.sum[:], c.carry[:])
	var v uint256.Int
	copy(v[:], words)
	var top uint64
	if len(words) > 4 {
		top = words[4]
	}
	for top > 0 || v.Cmp(modulusP) >= 0 {
		_, borrow := v.SubOverflow(&v, modulusP)
		if borrow {
			top--
		}
	}
	c.out = v
}

// Run drives a complete operation: Start, then Step until busy falls.
// It returns the residue and the number of cycles consumed, which is
// Latency for every accepted input.
func (c *Controller) Run(x *big.Int) (uint256.Int, int, error) {
	if err := c.Start(x); err != nil {
		return uint256.Int{}, 0, err
	}
	cycles := 0
	for {
		c.Step()
		cycles++
		if !c.busy {
			return c.out, cycles, nil
		}
	}
}

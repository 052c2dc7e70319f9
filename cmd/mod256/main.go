// mod256 is an operator tool for the fixed-prime reduction pipeline:
// reduce single values, or verify the datapath against a big-integer
// oracle in bulk.
package main

import (
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/jwasinger/mod256"
	"github.com/jwasinger/mod256/mul512"
)

var (
	strategyFlag = &cli.StringFlag{
		Name:  "strategy",
		Value: "direct",
		Usage: "multiplier strategy (direct or shiftadd)",
	}
	carryReadoutFlag = &cli.BoolFlag{
		Name:  "carry-readout",
		Usage: "use the legacy carry-only readout (outputs are not residues)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0=crit .. 5=trace)",
	}
	countFlag = &cli.IntFlag{
		Name:  "count",
		Value: 10000,
		Usage: "number of random inputs to verify",
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Value: 1,
		Usage: "seed for the input generator",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "parallel verification workers (default GOMAXPROCS)",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML file supplying verify settings",
	}

	reduceCommand = &cli.Command{
		Action:    reduce,
		Name:      "reduce",
		Usage:     "reduce one value modulo the pipeline prime",
		ArgsUsage: "<decimal or 0x-hex value, up to 300 bits>",
	}
	verifyCommand = &cli.Command{
		Action: verify,
		Name:   "verify",
		Usage:  "check the pipeline against a big-integer oracle on random inputs",
		Flags: []cli.Flag{
			countFlag,
			seedFlag,
			workersFlag,
			configFlag,
		},
	}

	app = &cli.App{
		Name:  "mod256",
		Usage: "fixed-prime modular reduction pipeline",
		Flags: []cli.Flag{
			strategyFlag,
			carryReadoutFlag,
			verbosityFlag,
		},
		Before: func(ctx *cli.Context) error {
			handler := log.NewTerminalHandlerWithLevel(
				os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), false)
			log.SetDefault(log.NewLogger(handler))
			return nil
		},
		Commands: []*cli.Command{
			reduceCommand,
			verifyCommand,
		},
	}
)

func newController(ctx *cli.Context) (*mod256.Controller, error) {
	mul, err := mul512.ByName(ctx.String(strategyFlag.Name))
	if err != nil {
		return nil, err
	}
	opts := []mod256.Option{mod256.WithMultiplier(mul)}
	if ctx.Bool(carryReadoutFlag.Name) {
		opts = append(opts, mod256.WithCarryReadout())
	}
	return mod256.New(opts...), nil
}

func parseOperand(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeBig(s)
	}
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal or 0x-hex value: %q", s)
	}
	return x, nil
}

func reduce(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("reduce expects exactly one operand")
	}
	x, err := parseOperand(ctx.Args().First())
	if err != nil {
		return err
	}
	c, err := newController(ctx)
	if err != nil {
		return err
	}
	out, cycles, err := c.Run(x)
	if err != nil {
		return err
	}
	log.Debug("run complete", "cycles", cycles)
	fmt.Printf("%s\n%s\n", out.Dec(), out.Hex())
	return nil
}

type verifyConfig struct {
	Strategy string
	Count    int
	Seed     int64
	Workers  int
}

func loadVerifyConfig(ctx *cli.Context) (verifyConfig, error) {
	cfg := verifyConfig{
		Strategy: ctx.String(strategyFlag.Name),
		Count:    ctx.Int(countFlag.Name),
		Seed:     ctx.Int64(seedFlag.Name),
		Workers:  ctx.Int(workersFlag.Name),
	}
	if path := ctx.String(configFlag.Name); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg, nil
}

func verify(ctx *cli.Context) error {
	cfg, err := loadVerifyConfig(ctx)
	if err != nil {
		return err
	}
	return runVerify(cfg)
}

func runVerify(cfg verifyConfig) error {
	// Resolve the strategy up front; the per-worker instantiations below
	// still propagate their error rather than assuming this check holds.
	if _, err := mul512.ByName(cfg.Strategy); err != nil {
		return err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	p := mod256.Modulus()
	pBig := p.ToBig()
	limit := new(big.Int).Lsh(big.NewInt(1), mod256.InputBits)

	// Inputs come from one seeded source so failures are reproducible;
	// each worker owns its controller, as the pipeline is single-clocked.
	rnd := rand.New(rand.NewSource(cfg.Seed))
	inputs := make([]*big.Int, cfg.Count)
	for i := range inputs {
		inputs[i] = new(big.Int).Rand(rnd, limit)
	}

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for _, x := range inputs {
		x := x
		g.Go(func() error {
			mul, err := mul512.ByName(cfg.Strategy)
			if err != nil {
				return err
			}
			c := mod256.New(mod256.WithMultiplier(mul))
			out, cycles, err := c.Run(x)
			if err != nil {
				return err
			}
			if cycles != mod256.Latency {
				return fmt.Errorf("X=%s: latency %d, want %d", x, cycles, mod256.Latency)
			}
			if want := new(big.Int).Mod(x, pBig); out.Dec() != want.String() {
				return fmt.Errorf("X=%s: got %s, want %s", x, out.Dec(), want)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("verification passed", "count", cfg.Count, "strategy", cfg.Strategy, "seed", cfg.Seed)
	return nil
}

func main() {
	maxprocs.Set(maxprocs.Logger(nil))
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

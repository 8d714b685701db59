// x86ooo runs the out-of-order pipeline engine against a synthesized
// workload, printing cycle-by-cycle statistics when it halts. There is no
// real x86 decoder in this module (see the engine's decoder non-goal), so
// every runnable program here comes from the workload package's
// programmatic uop synthesis rather than a loaded ELF binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86ooo/decode"
	"github.com/sarchlab/x86ooo/emu"
	"github.com/sarchlab/x86ooo/timing/cache"
	"github.com/sarchlab/x86ooo/timing/core"
	"github.com/sarchlab/x86ooo/timing/latency"
	"github.com/sarchlab/x86ooo/timing/pipeline"
	"github.com/sarchlab/x86ooo/workload"
)

const entryPoint = 0x1000

func main() {
	rootCmd := &cobra.Command{
		Use:   "x86ooo",
		Short: "Cycle-accurate out-of-order x86-64 pipeline simulator",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newRunCmd(), newDisasmCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		program     string
		n           uint64
		addr        uint64
		value       uint64
		maxCycles   uint64
		verbose     bool
		configPath  string
		useCache    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthesized workload to completion or a cycle limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var timingConfig *latency.TimingConfig
			if configPath != "" {
				var err error
				timingConfig, err = latency.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("loading timing config: %w", err)
				}
			}

			pgm, err := buildProgram(program, n, addr, value)
			if err != nil {
				return err
			}

			memory := emu.NewMemory()
			var icache pipeline.ICache
			var dcache pipeline.DCache
			if useCache {
				l1i := cache.New(cache.DefaultL1IConfig(), cache.NewMemoryBacking(memory))
				l1d := cache.New(cache.DefaultL1DConfig(), cache.NewMemoryBacking(memory))
				icache = cache.NewICacheAdapter(l1i)
				dcache = cache.NewDCacheAdapter(l1d)
			} else {
				icache = alwaysHitICache{}
				dcache = memBackedDCache{mem: memory}
			}

			cfg := pipeline.DefaultConfig()
			c := core.NewCore(cfg, memory, pgm, icache, dcache, alwaysExecutableChecker{})
			if timingConfig != nil {
				c.Engine.SetLatencyTable(latency.NewTableWithConfig(timingConfig))
			}
			c.SetPC(pgm.EntryPoint())

			result := runToHaltOrLimit(c, maxCycles)

			stats := c.Stats()
			fmt.Printf("Program: %s\n", program)
			fmt.Printf("Result: %v\n", result)
			fmt.Printf("Exit code: %d\n", c.ExitCode())
			fmt.Printf("Cycles: %d\n", stats.Cycles)
			fmt.Printf("Committed uops: %d\n", stats.Instructions)
			fmt.Printf("Committed macro-ops: %d\n", stats.MacroOps)
			fmt.Printf("Branch mispredicts: %d\n", stats.BranchMispredicts)
			fmt.Printf("Stalls: %d\n", stats.Stalls)
			if stats.Instructions > 0 {
				fmt.Printf("CPI: %.3f\n", float64(stats.Cycles)/float64(stats.Instructions))
			}

			if verbose {
				violations := c.Engine.CheckInvariants()
				fmt.Printf("Invariant violations: %d\n", len(violations))
				for _, v := range violations {
					fmt.Printf("  cycle %d: %s\n", v.Cycle, v.Message)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&program, "program", "sumloop", "workload to run: sumloop|memroundtrip")
	cmd.Flags().Uint64Var(&n, "n", 10, "sumloop: number of terms to sum")
	cmd.Flags().Uint64Var(&addr, "addr", 0x8000, "memroundtrip: store/load address")
	cmd.Flags().Uint64Var(&value, "value", 0xDEADBEEF, "memroundtrip: value to round-trip")
	cmd.Flags().Uint64Var(&maxCycles, "max-cycles", 100000, "cycle budget before giving up")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print invariant-check results")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a timing configuration JSON file")
	cmd.Flags().BoolVar(&useCache, "cache", false, "model L1 cache hierarchy instead of always-hit/always-resident memory")

	return cmd
}

func newDisasmCmd() *cobra.Command {
	var base uint64

	cmd := &cobra.Command{
		Use:   "disasm <hex-bytes>",
		Short: "Disassemble a hex-encoded x86-64 byte stream (debugging aid only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := hexDecode(args[0])
			if err != nil {
				return err
			}
			fmt.Print(decode.Format(decode.Disassemble(code, base)))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 0, "base address of the first byte")
	return cmd
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

func buildProgram(name string, n, addr, value uint64) (*workload.Program, error) {
	switch name {
	case "sumloop":
		return workload.SumLoop(entryPoint, n), nil
	case "memroundtrip":
		return workload.MemoryRoundTrip(entryPoint, addr, value), nil
	default:
		return nil, fmt.Errorf("unknown workload %q", name)
	}
}

// runToHaltOrLimit drives the core until a barrier/exception (this
// module's stand-in for program exit, since no host integration layer
// decodes real syscall numbers) or a stop result, or until the cycle
// budget expires, which it reports as RunDeadlocked.
func runToHaltOrLimit(c *core.Core, maxCycles uint64) pipeline.RunResult {
	c.Engine.SetCommittedBudget(0)
	var cycles uint64
	for cycles < maxCycles {
		result := c.Engine.Tick()
		cycles++
		switch result {
		case pipeline.ResultBarrier, pipeline.ResultException, pipeline.ResultStop:
			return pipeline.RunCompleted
		}
	}
	return pipeline.RunDeadlocked
}

type alwaysHitICache struct{}

func (alwaysHitICache) Probe(rip uint64) bool { return true }

type memBackedDCache struct{ mem *emu.Memory }

func (d memBackedDCache) ProbeAndCheckSFR(addr uint64, size int) (bool, []byte) {
	return true, d.mem.ReadBlock(addr, size)
}

func (d memBackedDCache) CommitStore(addr uint64, data []byte, mask uint8) bool {
	for i := 0; i < len(data) && i < 8; i++ {
		if mask&(1<<uint(i)) != 0 {
			d.mem.Write8(addr+uint64(i), data[i])
		}
	}
	return true
}

type alwaysExecutableChecker struct{}

func (alwaysExecutableChecker) CheckExecutable(va uint64) bool { return true }

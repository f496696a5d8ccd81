// Command simulator runs transmissions, routing queries and benchmarks
// against a simulated constellation from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/monitor"
	"github.com/signalsfoundry/meshroute/internal/nbi"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/observability"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, logging.NewFromEnv()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	planes     int
	slots      int
	seed       uint64

	cfg config.Config
}

// load reads --config and applies the shape and seed overrides.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("planes") {
		cfg.Constellation.Shape.Planes = o.planes
	}
	if flags.Changed("slots") {
		cfg.Constellation.Shape.Slots = o.slots
	}
	if flags.Changed("seed") {
		cfg.Constellation.Seed = o.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func newRootCmd(stdin io.Reader, stdout io.Writer, log logging.Logger) *cobra.Command {
	opts := &rootOptions{}
	var shutdown func(context.Context) error

	root := &cobra.Command{
		Use:          "simulator",
		Short:        "Multipath routing over a simulated LEO constellation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			var err error
			shutdown, err = observability.InitTracing(cmd.Context(), opts.cfg.TracingWithEnv(), log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			observability.ShutdownWithTimeout(cmd.Context(), shutdown, log)
		},
	}
	root.SetOut(stdout)
	root.SetIn(stdin)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.IntVar(&opts.planes, "planes", 0, "number of orbital planes (overrides config)")
	pf.IntVar(&opts.slots, "slots", 0, "satellites per plane (overrides config)")
	pf.Uint64Var(&opts.seed, "seed", 0, "random seed (overrides config)")

	root.AddCommand(
		newTransmitCmd(opts, log),
		newRoutesCmd(opts, log),
		newBenchmarkCmd(opts, log),
	)
	return root
}

func newTransmitCmd(opts *rootOptions, log logging.Logger) *cobra.Command {
	var src, dst, file, text string
	cmd := &cobra.Command{
		Use:   "transmit",
		Short: "Compress, fragment and send a payload over the best routes",
		Long: `Send a payload from src to dst and print the JSON response with
route allocations and the per-fragment timeline.

Examples:
  # Send a file between the default endpoints
  simulator transmit --file report.pdf

  # Send text on a small constellation
  simulator transmit --planes 6 --slots 11 --src P0S0 --dst P1S3 --text hello

  # Read the payload from stdin
  cat image.png | simulator transmit --dst S2_5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			req := types.TransmitRequest{Src: src, Dst: dst}
			var err error
			switch {
			case text != "":
				req.Payload = []byte(text)
			case file != "":
				if req.Payload, err = os.ReadFile(file); err != nil {
					return err
				}
				req.Filename = file
			default:
				if req.Payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			svc := nbi.NewTransmissionService(nbi.NewScenarioFactory(cfg, log), log)
			svc.MaxPayloadBytes = 0
			resp, err := svc.Transmit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "source node, P{plane}S{slot} or S{plane}_{slot} (default P0S0)")
	cmd.Flags().StringVar(&dst, "dst", "", "destination node (default P2S5)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to send")
	cmd.Flags().StringVar(&text, "text", "", "literal text to send")
	return cmd
}

func newRoutesCmd(opts *rootOptions, log logging.Logger) *cobra.Command {
	var src, dst string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the evaluated candidate routes between two nodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := nbi.NewTransmissionService(nbi.NewScenarioFactory(opts.cfg, log), log)
			view, err := svc.Routes(cmd.Context(), src, dst)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&src, "src", "", "source node (default P0S0)")
	cmd.Flags().StringVar(&dst, "dst", "", "destination node (default P2S5)")
	return cmd
}

func newBenchmarkCmd(opts *rootOptions, log logging.Logger) *cobra.Command {
	var (
		trials   int
		logPath  string
		failProb float64
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare multipath routing against the Dijkstra baseline under random faults",
		Long: `Run routing trials one simulated second apart. Each trial may fail a
random node, picks random endpoints and records both algorithms in the
monitor. A tab-separated row per trial is appended to --log.

Examples:
  simulator benchmark --trials 500 --log benchmark.tsv
  simulator benchmark --planes 6 --slots 11 --trials 100 --failure-prob 0.2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("failure-prob") {
				cfg.Benchmark.FailureProbability = failProb
			}
			if logPath == "" {
				logPath = cfg.Benchmark.LogPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var sink *monitor.BenchmarkLog
			if logPath != "" {
				var err error
				if sink, err = monitor.OpenBenchmarkLog(logPath); err != nil {
					return err
				}
				defer sink.Close()
			}

			s, err := state.NewScenarioState(cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Benchmark(cmd.Context(), trials, sink)
			if err != nil {
				return fmt.Errorf("benchmark: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&trials, "trials", "n", 0, "number of trials (default from config)")
	cmd.Flags().StringVar(&logPath, "log", "", "benchmark TSV log path")
	cmd.Flags().Float64Var(&failProb, "failure-prob", 0, "per-trial node failure probability")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

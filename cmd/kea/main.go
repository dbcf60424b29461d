// Command kea runs the conscious observer over one input (process) or a
// file of inputs (batch), wiring the built-in heuristic collaborators.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"kea/internal/config"
	"kea/internal/heuristic"
	"kea/internal/logging"
	"kea/internal/observer"
	"kea/internal/store"
	"kea/internal/types"
)

var version = "0.4.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appFlags struct {
	configPath string
	objective  string
	role       string
	modality   string
	traceID    string
	evidence   []string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	flags := &appFlags{}

	root := &cobra.Command{
		Use:           "kea",
		Short:         "kea is a metacognitive observer: it decides how hard to think, monitors thinking, and gates every output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to kea.yaml")
	root.PersistentFlags().StringVar(&flags.role, "role", "assistant", "cognitive profile role")
	root.PersistentFlags().StringVar(&flags.modality, "modality", "text", "input modality (text, document)")
	root.PersistentFlags().StringArrayVar(&flags.evidence, "evidence", nil, "evidence the output must ground against (repeatable)")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "indent JSON output")

	root.AddCommand(newProcessCmd(flags))
	root.AddCommand(newBatchCmd(flags))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the kea version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kea", version)
		},
	})
	return root
}

func newProcessCmd(flags *appFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [input]",
		Short: "Run one input through gate-in, monitored execution, and gate-out",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args)
			if err != nil {
				return err
			}
			app, err := buildApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			result := app.obs.Run(cmd.Context(), &types.RawInput{
				Modality: types.Modality(flags.modality),
				Payload:  []byte(input),
			}, types.SpawnRequest{
				Objective: flags.objective,
				Role:      flags.role,
				TraceID:   flags.traceID,
			}, observer.ProcessOptions{Evidence: flags.evidence})

			return printJSON(cmd, result, flags.pretty)
		},
	}
	cmd.Flags().StringVar(&flags.objective, "objective", "", "objective (defaults to the input text)")
	cmd.Flags().StringVar(&flags.traceID, "trace", "", "caller-supplied trace id")
	return cmd
}

func newBatchCmd(flags *appFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process every line of a file as an independent invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open batch file: %w", err)
			}
			defer f.Close()

			sem := semaphore.NewWeighted(int64(app.cfg.Limits.MaxConcurrentInvocations))
			g, ctx := errgroup.WithContext(cmd.Context())
			var mu sync.Mutex
			var results []*observer.Result

			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					break
				}
				g.Go(func() error {
					defer sem.Release(1)
					res := app.obs.Run(ctx, &types.RawInput{
						Modality: types.ModalityText,
						Payload:  []byte(line),
					}, types.SpawnRequest{Role: flags.role},
						observer.ProcessOptions{Evidence: flags.evidence})
					mu.Lock()
					results = append(results, res)
					mu.Unlock()
					return nil
				})
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printJSON(cmd, results, flags.pretty)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with one input per line")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// app bundles everything one CLI run owns.
type app struct {
	cfg         *config.Config
	obs         *observer.Observer
	calibration store.CalibrationStore
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, err
	}

	calibration, err := store.Open(cfg.Store.CalibrationDBPath, cfg.Store.CalibrationWindow)
	if err != nil {
		return nil, err
	}

	obs, err := observer.New(cfg, heuristic.Suite(cfg),
		observer.WithCalibrationHistory(calibration),
		observer.WithSignalSink(observer.SinkFunc(func(sig types.Signal) {
			logging.Get(logging.CategoryBoot).Warn("lifecycle signal: " + sig.Schema)
		})),
	)
	if err != nil {
		calibration.Close()
		return nil, err
	}
	return &app{cfg: cfg, obs: obs, calibration: calibration}, nil
}

func (a *app) Close() {
	a.calibration.Close()
	logging.Sync()
}

func readInput(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no input provided")
	}
	return string(data), nil
}

func printJSON(cmd *cobra.Command, v interface{}, pretty bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Command infer-sample classifies input tensors with a model compiled on a
// local device. Every input runs as its own asynchronous inference task;
// results are printed as they arrive and summarised once the batch finishes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/asyncinfer/internal/config"
	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/engine/cpu"
	"github.com/seantiz/asyncinfer/internal/infer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type classifyOptions struct {
	model   string
	inputs  []string
	device  string
	timeout time.Duration
	top     int
	streams int
	verbose bool
}

func newRootCmd() *cobra.Command {
	var opts classifyOptions

	rootCmd := &cobra.Command{
		Use:           "infer-sample",
		Short:         "Classify input tensors asynchronously",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClassify(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.model, "model", "m", "", "Path to a model JSON file")
	flags.StringArrayVarP(&opts.inputs, "input", "i", nil, "Path to an input tensor JSON file (repeatable)")
	flags.StringVarP(&opts.device, "device", "d", engine.DeviceAuto, "Device to compile the model for")
	flags.DurationVarP(&opts.timeout, "timeout", "t", infer.DefaultTimeout, "Per-input inference timeout")
	flags.IntVarP(&opts.top, "top", "k", 3, "Number of classes to show per input")
	flags.IntVar(&opts.streams, "streams", 0, "Concurrent inference streams (0 = one per CPU)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log dispatcher activity to stderr")
	_ = rootCmd.MarkFlagRequired("model")
	_ = rootCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(newDevicesCmd())
	return rootCmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available inference devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := newRegistry(nil, 0)

			var data [][]string
			for _, d := range reg.List() {
				types := make([]string, len(d.Capabilities.ElementTypes))
				for i, t := range d.Capabilities.ElementTypes {
					types[i] = string(t)
				}
				data = append(data, []string{d.Name, strconv.Itoa(d.Capabilities.MaxConcurrency), fmt.Sprint(types)})
			}

			table := newTable(cmd.OutOrStdout(), "DEVICE", "STREAMS", "ELEMENT TYPES")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}

func newRegistry(logger *slog.Logger, streams int) *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register(cpu.DeviceName, cpu.New(logger, cpu.WithStreams(streams)))
	return reg
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func runClassify(ctx context.Context, stdout, stderr io.Writer, opts classifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(stderr, level)

	reg := newRegistry(logger, opts.streams)
	device, eng, err := reg.Resolve(opts.device)
	if err != nil {
		return err
	}

	compiled, err := compileModel(ctx, eng, opts.model)
	if err != nil {
		return err
	}

	inputs, err := loadInputs(ctx, opts.inputs)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "model %s on %s, %d inputs, timeout %s\n", compiled.Name(), device, len(inputs), opts.timeout)

	outName := ""
	if outs := compiled.Outputs(); len(outs) > 0 {
		outName = outs[0].Name
	}

	d := infer.NewDispatcher(infer.WithLogger(logger))
	h, err := d.Submit(ctx, compiled, inputs, opts.timeout,
		infer.WithListener(infer.CategoryResult, func(ev infer.Event) {
			printResult(stdout, opts.inputs[ev.Index], ev, outName)
		}),
		infer.WithListener(infer.CategoryFinish, func(ev infer.Event) {
			printSummary(stdout, opts.inputs, ev.Results, outName, opts.top)
		}),
	)
	if err != nil {
		return err
	}

	results, err := h.Wait(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range results {
		if !o.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
	return nil
}

func compileModel(ctx context.Context, eng engine.Engine, path string) (engine.CompiledModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	m, err := eng.ReadModel(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return eng.Compile(ctx, m, nil)
}

// loadInputs reads every input file concurrently, keeping their order.
func loadInputs(ctx context.Context, paths []string) ([]engine.TensorSet, error) {
	inputs := make([]engine.TensorSet, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			in, err := readTensorSet(path)
			if err != nil {
				return err
			}
			inputs[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func readTensorSet(path string) (engine.TensorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var set engine.TensorSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode input %s: %w", path, err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("input %s has no tensors", path)
	}
	for _, name := range set.Names() {
		t := set[name]
		if t == nil {
			return nil, fmt.Errorf("input %s: tensor %q is null", path, name)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("input %s: tensor %q: %w", path, name, err)
		}
	}
	return set, nil
}

func printResult(w io.Writer, path string, ev infer.Event, outName string) {
	if ev.Err != nil {
		fmt.Fprintf(w, "[%d] %s: %s\n", ev.Index, path, describeError(ev.Err))
		return
	}
	out, ok := ev.Output.Lookup(outName)
	if !ok {
		fmt.Fprintf(w, "[%d] %s: no output %q\n", ev.Index, path, outName)
		return
	}
	fmt.Fprintf(w, "[%d] %s: class %d\n", ev.Index, path, out.ArgMax())
}

func printSummary(w io.Writer, paths []string, results []infer.Outcome, outName string, top int) {
	var data [][]string
	for i, o := range results {
		if !o.OK() {
			data = append(data, []string{paths[i], "-", "-", describeError(o.Err)})
			continue
		}
		out, ok := o.Output.Lookup(outName)
		if !ok {
			data = append(data, []string{paths[i], "-", "-", "missing output"})
			continue
		}
		for rank, p := range out.TopK(top) {
			name := ""
			if rank == 0 {
				name = paths[i]
			}
			data = append(data, []string{name, strconv.Itoa(p.ClassID), strconv.FormatFloat(float64(p.Probability), 'f', 4, 32), ""})
		}
	}

	fmt.Fprintln(w)
	table := newTable(w, "INPUT", "CLASS", "PROBABILITY", "ERROR")
	table.AppendBulk(data)
	table.Render()
}

func describeError(err error) string {
	switch {
	case infer.IsTimeout(err):
		return "timed out"
	case infer.IsEngineFailure(err):
		return "failed: " + err.Error()
	default:
		return err.Error()
	}
}

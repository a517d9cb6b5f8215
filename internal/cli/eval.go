package cli

import (
	"fmt"
	"io"
	"math"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/timkaye11/tpulower/internal/gomlxref"
	"github.com/timkaye11/tpulower/internal/graphio"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/lowering"
)

type evalOptions struct {
	lowerF32  bool
	workers   int
	reference bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval <fixture.yaml>",
		Short: "Evaluate a graph fixture on its sample inputs",
		Long: `Evaluate the graph fixture with the reference kernels, on the sample input data of the
fixture, and print its outputs and cost.

With --lower-f32 the graph is first lowered to the tpu dialect in float32. With --reference
the graph is also executed with GoMLX, and the largest difference is reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEvalConfig(cmd, rootOpts.Config, opts)
			return runEval(opts, args[0], cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.lowerF32, "lower-f32", false, "lower the graph to the tpu dialect in float32 before evaluating it")
	flags.IntVar(&opts.workers, "workers", 0, "parallel workers per node evaluation (0 for automatic)")
	flags.BoolVar(&opts.reference, "reference", false, "also execute the top-dialect graph with GoMLX and compare")
	return cmd
}

func runEval(opts *evalOptions, fixturePath string, out io.Writer) error {
	fixture, err := graphio.LoadFile(fixturePath)
	if err != nil {
		return err
	}
	if !fixture.HasAllInputs() {
		return errors.Errorf("fixture %q doesn't define sample data for all its inputs", fixturePath)
	}
	g := fixture.Graph

	var want map[string][]float32
	if opts.reference {
		backend := backends.MustNew()
		defer backend.Finalize()
		want, err = gomlxref.Execute(backend, g, fixture.Inputs)
		if err != nil {
			return err
		}
	}
	if opts.lowerF32 {
		config := lowering.DefaultConfig()
		config.Mode = lowering.ModeF32
		if _, err = lowering.Run(lowering.NewContext(g, nil, config)); err != nil {
			return err
		}
	}

	outputs, err := interp.Run(g, fixture.Inputs, interp.WithWorkers(opts.workers))
	if err != nil {
		return err
	}
	for _, id := range g.Outputs() {
		v := g.Value(id)
		fmt.Fprintf(out, "%%%s : %s = %v\n", v.Name, v.Type, outputs[v.Name])
	}
	total, _, err := interp.FLOPs(g)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "FLOPs: %d\n", total)

	if opts.reference {
		var maxDiff float64
		for name, values := range outputs {
			for ii, value := range values {
				maxDiff = max(maxDiff, math.Abs(float64(value)-float64(want[name][ii])))
			}
		}
		fmt.Fprintf(out, "GoMLX reference max abs difference: %g\n", maxDiff)
	}
	return nil
}

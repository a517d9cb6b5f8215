package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/timkaye11/tpulower/internal/graphio"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/lowering"
	"github.com/timkaye11/tpulower/quant"
	"k8s.io/klog/v2"
)

type lowerOptions struct {
	mode             string
	asymmetric       bool
	tolerance        float64
	calibrationTable string
	prune            bool
	noReport         bool
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	defaults := lowering.DefaultConfig()
	opts := &lowerOptions{
		mode:      string(defaults.Mode),
		tolerance: defaults.BiasOverflowTolerance,
	}
	cmd := &cobra.Command{
		Use:   "lower <fixture.yaml>",
		Short: "Lower a graph fixture and print the lowered graph and the lowering report",
		Long: `Lower every top-dialect node of the graph fixture to the tpu dialect.

In int8 mode, calibration statistics come from the fixture's calibration section, overridden
by the entries of --calibration-table (text format: "name threshold min max" per line).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLowerConfig(cmd, rootOpts.Config, opts)
			return runLower(opts, args[0], cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", opts.mode, "lowering mode (f32|int8)")
	flags.BoolVar(&opts.asymmetric, "asymmetric", false, "use asymmetric (zero-point) int8 quantization")
	flags.Float64Var(&opts.tolerance, "tolerance", opts.tolerance, "accepted fraction of saturated bias elements")
	flags.StringVar(&opts.calibrationTable, "calibration-table", "", "calibration table file")
	flags.BoolVar(&opts.prune, "prune", false, "remove replaced nodes and unused weights after lowering")
	flags.BoolVar(&opts.noReport, "no-report", false, "don't print the lowering report")
	return cmd
}

func runLower(opts *lowerOptions, fixturePath string, out io.Writer) error {
	fixture, err := graphio.LoadFile(fixturePath)
	if err != nil {
		return err
	}
	g, report, err := lowerFixture(opts, fixture)
	if err != nil {
		return err
	}
	if err := g.Print(out); err != nil {
		return err
	}
	if !opts.noReport {
		fmt.Fprintln(out)
		return printReport(out, report)
	}
	return nil
}

// lowerFixture lowers the fixture graph in place, with the calibration of the fixture and of the
// calibration table.
func lowerFixture(opts *lowerOptions, fixture *graphio.Fixture) (*ir.Graph, *lowering.Report, error) {
	calibration := fixture.Calibration
	if opts.calibrationTable != "" {
		table, err := loadCalibrationTable(opts.calibrationTable)
		if err != nil {
			return nil, nil, err
		}
		for name, stats := range table {
			calibration[name] = stats
		}
	}
	config := lowering.Config{
		Mode:                  lowering.Mode(opts.mode),
		Asymmetric:            opts.asymmetric,
		BiasOverflowTolerance: opts.tolerance,
	}
	g := fixture.Graph
	report, err := lowering.Run(lowering.NewContext(g, calibration, config))
	if err != nil {
		return nil, nil, err
	}
	if opts.prune {
		removed := g.Prune()
		klog.V(1).Infof("pruned %d nodes", removed)
	}
	return g, report, nil
}

func loadCalibrationTable(path string) (quant.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open calibration table")
	}
	defer f.Close()
	table, err := quant.LoadTable(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "calibration table %q", path)
	}
	return table, nil
}

// printReport prints one row per lowered node.
func printReport(out io.Writer, report *lowering.Report) error {
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Node", "From", "To", "Path", "RShift", "Bias Overflow", "Reason")
	for _, entry := range report.Entries {
		rshift, overflow := "-", "-"
		if entry.RightShift != lowering.NoShift {
			rshift = fmt.Sprintf("%d", entry.RightShift)
			overflow = fmt.Sprintf("%.3f", entry.BiasOverflow)
		}
		if err := tbl.Append([]string{
			entry.Node, entry.From.String(), entry.To.String(), string(entry.Path), rshift, overflow, entry.Reason,
		}); err != nil {
			return err
		}
	}
	return tbl.Render()
}

package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/timkaye11/tpulower/internal/graphio"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <fixture.yaml>",
		Short: "Print a graph fixture, with the result type and cost of each node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], cmd.OutOrStdout())
		},
	}
}

func runInspect(fixturePath string, out io.Writer) error {
	fixture, err := graphio.LoadFile(fixturePath)
	if err != nil {
		return err
	}
	g := fixture.Graph
	if err := g.Print(out); err != nil {
		return err
	}
	fmt.Fprintln(out)

	total, perNode, err := interp.FLOPs(g)
	if err != nil {
		return err
	}
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Node", "Kind", "Type", "Uses", "FLOPs")
	for _, node := range g.TopologicalOrder() {
		if node.Kind == ir.KindInput {
			continue
		}
		result := node.Results[0]
		if err := tbl.Append([]string{
			node.Name, node.Kind.String(), g.Type(result).String(),
			fmt.Sprintf("%d", g.NumUses(result)), fmt.Sprintf("%d", perNode[node.Name]),
		}); err != nil {
			return err
		}
	}
	if err := tbl.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Total FLOPs: %d\n", total)
	return nil
}

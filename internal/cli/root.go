// Package cli implements the tpulower command line: lowering, evaluation and inspection of graph
// fixtures.
package cli

import (
	"flag"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// ConfigPath is the YAML configuration file. Empty for none.
	ConfigPath string

	// Config is loaded from ConfigPath before any subcommand runs.
	Config Config
}

// NewRootCommand creates the root command of the tpulower CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:   "tpulower",
		Short: "Lower top-dialect graphs to the BM1684 tpu dialect",
		Long: `Lower float computation graphs (top dialect) to the BM1684 backend form (tpu dialect),
in float32 or int8 fixed-point, and evaluate graphs with the reference kernels.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			opts.Config, err = LoadConfig(opts.ConfigPath)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML configuration file; flags take precedence over its values")
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(NewLowerCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	return cmd
}

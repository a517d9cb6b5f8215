// tpulower lowers top-dialect graph fixtures to the BM1684 tpu dialect.
package main

import (
	"fmt"
	"os"

	"github.com/timkaye11/tpulower/internal/cli"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func main() {
	err := cli.NewRootCommand().Execute()
	klog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

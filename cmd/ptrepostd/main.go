// Command ptrepostd runs the pt-repost engine: either the supervisor loop
// (daemon) or the read-only HTTP dashboard (server), per spec §6's CLI
// contract.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags, following the teacher's
// cmd/omnicloud/main.go convention.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "ptrepostd",
		Short:   "pt-repost automation engine",
		Version: Version,
	}

	root.AddCommand(newDaemonCmd())
	root.AddCommand(newServerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

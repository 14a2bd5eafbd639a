// Command munrun is a thin host process around the reloading runtime:
// load a compiled .munlib, invoke its exported functions, watch it for
// changes and hot-reload it in place, or drive it interactively from a
// REPL. Grounded on cmd/viewcore's command-per-verb layout (main.go's
// usage/dispatch structure, objref.go's actual cobra.Command wiring)
// generalized from "inspect a core dump" to "drive a live runtime".
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	logger  = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:           "munrun",
		Short:         "Load, invoke, and hot-reload Mun libraries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log assembly load/link/migration activity")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}
		logger.SetOutput(os.Stderr)
	}

	root.AddCommand(newLoadCmd())
	root.AddCommand(newInvokeCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newReplCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "munrun:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	munrt "github.com/mun-lang/munrt/runtime"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load a .munlib and print its types and exported functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := munrt.New(args[0], munrt.WithLogger(logger))
			if err != nil {
				return err
			}
			printSummary(rt)
			return nil
		},
	}
}

// printSummary renders a loaded Runtime's active assemblies the way
// cmd/viewcore's overview command renders a core dump: one
// tabwriter-aligned table per kind of thing.
func printSummary(rt *munrt.Runtime) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "path\t%s\n", rt.Path())
	for _, info := range rt.Active() {
		fmt.Fprintf(w, "types\t%d\n", len(info.Types))
		fmt.Fprintf(w, "functions\t%d\n", len(info.Functions))
		fmt.Fprintf(w, "dependencies\t%d\n", len(info.Dependencies))
	}
	w.Flush()

	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nTYPE\tSIZE\tALIGN\tKIND")
	for _, info := range rt.Active() {
		for _, t := range info.Types {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Name, t.SizeBytes, t.AlignBytes, tagString(t.Tag))
		}
	}
	w.Flush()

	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nFUNCTION\tARGS\tRETURNS\tPRIVACY")
	for _, info := range rt.Active() {
		for _, fn := range info.Functions {
			ret := "()"
			if fn.Signature.ReturnType != nil {
				ret = fn.Signature.ReturnType.String()
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", fn.Name, len(fn.Signature.ArgTypes), ret, fn.Privacy)
		}
	}
	w.Flush()
}

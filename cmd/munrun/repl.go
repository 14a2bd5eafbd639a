package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	munrt "github.com/mun-lang/munrt/runtime"
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <path>",
		Short: "Interactively invoke and reload a .munlib",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(args[0])
		},
	}
}

// runRepl is the interactive counterpart to watch: the host decides
// when to reload rather than fsnotify, and can invoke functions and
// force a collection between reloads. Grounded on the teacher's own
// interactive-debugger habit (ogle/demo/ogler builds exactly this kind
// of command loop over a live process) but built on readline rather
// than a bespoke scanner loop, for history/line-editing.
func runRepl(path string) error {
	rt, err := munrt.New(path, munrt.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Printf("munrun repl: loaded %s\n", path)
	printSummary(rt)

	rl, err := readline.New("munrun> ")
	if err != nil {
		return fmt.Errorf("munrun: could not start repl: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if err := dispatchReplCommand(rt, fields); err != nil {
			if errors.Is(err, errReplExit) {
				return nil
			}
			fmt.Println("error:", err)
		}
	}
}

// errReplExit signals the exit/quit command back to runRepl's loop.
var errReplExit = errors.New("repl: exit")

func dispatchReplCommand(rt *munrt.Runtime, fields []string) error {
	switch fields[0] {
	case "invoke":
		if len(fields) < 2 {
			return fmt.Errorf("usage: invoke <function> [args...]")
		}
		return invokeAndPrint(rt, fields[1], fields[2:])
	case "update":
		outcome, err := rt.Update()
		if err != nil {
			return err
		}
		fmt.Println(outcome)
		return nil
	case "collect":
		stats := rt.Collect()
		fmt.Printf("swept %d cell(s), %d live cell(s) remain (%d byte(s))\n", stats.Swept, stats.Live, stats.LiveBytes)
		return nil
	case "types":
		printSummary(rt)
		return nil
	case "help":
		fmt.Println("commands: invoke <fn> [args...], update, collect, types, help, exit")
		return nil
	case "exit", "quit":
		return errReplExit
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

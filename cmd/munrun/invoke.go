package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mun-lang/munrt/internal/abi"
	munrt "github.com/mun-lang/munrt/runtime"
)

func newInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <path> <function> [args...]",
		Short: "Load a .munlib and invoke one of its exported functions",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := munrt.New(args[0], munrt.WithLogger(logger))
			if err != nil {
				return err
			}
			return invokeAndPrint(rt, args[1], args[2:])
		},
	}
}

// invokeAndPrint resolves name's declared signature from rt's active
// assemblies so each raw CLI argument string is marshaled as the
// width/kind the callee actually expects, then invokes and prints the
// result the same way.
func invokeAndPrint(rt *munrt.Runtime, name string, rawArgs []string) error {
	sig, names, ok := findSignature(rt, name)
	if !ok {
		return fmt.Errorf("no such function %q", name)
	}
	if len(rawArgs) != len(sig.ArgTypes) {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, len(sig.ArgTypes), len(rawArgs))
	}

	values := make([]munrt.Value, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := parseArg(names[sig.ArgTypes[i]], raw)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}

	result, invErr := rt.Invoke(name, values...)
	if invErr != nil {
		return invErr
	}
	if sig.ReturnType == nil {
		fmt.Println("()")
		return nil
	}
	printValue(names[*sig.ReturnType], result)
	return nil
}

func findSignature(rt *munrt.Runtime, name string) (abi.FunctionSignature, map[abi.Guid]string, bool) {
	names := map[abi.Guid]string{}
	var sig abi.FunctionSignature
	found := false
	for _, info := range rt.Active() {
		for _, t := range info.Types {
			names[t.Guid] = t.Name
		}
		for _, fn := range info.Functions {
			if fn.Name == name {
				sig = fn.Signature
				found = true
			}
		}
	}
	return sig, names, found
}

func parseArg(typeName, raw string) (munrt.Value, error) {
	switch typeName {
	case abi.TypeNameBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return munrt.Value{}, err
		}
		return munrt.Bool(b), nil
	case "":
		return munrt.Value{}, fmt.Errorf("unknown argument type")
	default:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return munrt.Value{}, fmt.Errorf("%s: %w", typeName, err)
		}
		return munrt.Int(typeName, n), nil
	}
}

func printValue(typeName string, v munrt.Value) {
	if typeName == abi.TypeNameBool {
		fmt.Println(v.AsBool())
		return
	}
	fmt.Println(v.AsInt64())
}

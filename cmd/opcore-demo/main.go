// Command opcore-demo builds a tiny root program with the builder
// facade, wires one custom instruction's native implementation, and
// runs it through the dispatch loop, the same sanity check a guest
// language's own test suite runs after bringing up a new opcore table.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/solalang/opcore/internal/builder"
	"github.com/solalang/opcore/internal/bytecode"
	"github.com/solalang/opcore/internal/dispatch"
	"github.com/solalang/opcore/internal/obslog"
	"github.com/solalang/opcore/internal/runtimeroot"
	"go.uber.org/zap"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	disasm := flag.Bool("disasm", false, "print the generated bytecode before running it")
	arg := flag.Int64("n", 41, "argument passed to the increment root")
	flag.Parse()

	log, err := obslog.New(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	table := bytecode.NewTable()
	incOpcode := table.RegisterCustom("inc", bytecode.EffectZero, nil)

	ops := bytecode.NewOperationRegistry()
	incOp := ops.RegisterCustom("inc", bytecode.Arity{Fixed: 1}, false, table.Get(incOpcode))

	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("increment", 1)
	b.BeginCustomSimple(incOp)
	b.LoadArgument(0)
	b.EndCustomSimple()
	b.Return()

	prog, err := b.EndRoot("increment")
	if err != nil {
		fmt.Fprintln(os.Stderr, "build error:", err)
		os.Exit(1)
	}

	if *disasm {
		fmt.Println(bytecode.Disassemble(prog.Name, prog.Code, table))
	}

	instructions := dispatch.NewInstructionSet()
	instructions.Register(incOpcode, func(args []bytecode.Value) (bytecode.Value, error) {
		n, _ := args[0].Data.(int64)
		return bytecode.IntValue(n + 1), nil
	})

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), instructions)
	target.Log = log

	root := runtimeroot.NewExecutableRoot(target, &runtimeroot.RootHooks{
		Prolog: func(args []bytecode.Value) {
			log.Debug("prolog", zap.Any("args", args))
		},
		Epilog: func(args []bytecode.Value, result bytecode.Value, err error) {
			log.Debug("epilog", zap.Any("result", result), zap.Error(err))
		},
	})

	result, err := root.Execute([]bytecode.Value{bytecode.IntValue(*arg)})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dispatch error:", err)
		os.Exit(1)
	}
	fmt.Println(result.String())
}

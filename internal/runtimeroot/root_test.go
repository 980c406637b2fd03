package runtimeroot_test

import (
	"testing"

	"github.com/solalang/opcore/internal/builder"
	"github.com/solalang/opcore/internal/bytecode"
	"github.com/solalang/opcore/internal/dispatch"
	"github.com/solalang/opcore/internal/runtimeroot"
)

func buildGuarded(t *testing.T) (*bytecode.RootProgram, *bytecode.Table) {
	t.Helper()
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)

	b.BeginRoot("maybeThrow", 1)
	b.BeginIfThen()
	b.LoadArgument(0)
	b.EndIfThenCondition()
	b.LoadConstant("boom")
	b.Throw()
	b.EndIfThen()
	b.LoadConstant(int64(0))
	b.Return()

	prog, err := b.EndRoot("maybeThrow")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}
	return prog, table
}

func TestExecuteRunsPrologAndEpilogOnNormalReturn(t *testing.T) {
	prog, table := buildGuarded(t)
	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())

	var prologArgs, epilogArgs []bytecode.Value
	var epilogResult bytecode.Value
	var epilogErr error
	hooks := &runtimeroot.RootHooks{
		Prolog: func(args []bytecode.Value) { prologArgs = args },
		Epilog: func(args []bytecode.Value, result bytecode.Value, err error) {
			epilogArgs, epilogResult, epilogErr = args, result, err
		},
	}
	root := runtimeroot.NewExecutableRoot(target, hooks)

	result, err := root.Execute([]bytecode.Value{bytecode.IntValue(0)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n, _ := result.Data.(int64); n != 0 {
		t.Errorf("result = %v, want 0", result)
	}
	if len(prologArgs) != 1 {
		t.Fatalf("Prolog did not see the bound argument")
	}
	if epilogErr != nil {
		t.Errorf("Epilog observed err = %v, want nil", epilogErr)
	}
	if len(epilogArgs) != 1 || epilogResult.Data != result.Data {
		t.Errorf("Epilog did not observe the same args/result Execute returned")
	}
}

func TestExecuteInterceptGuestRewritesUncaughtException(t *testing.T) {
	prog, table := buildGuarded(t)
	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())

	var interceptedBci int
	hooks := &runtimeroot.RootHooks{
		InterceptGuest: func(exc bytecode.Value, bci int) bytecode.Value {
			interceptedBci = bci
			return bytecode.IntValue(-1)
		},
	}
	root := runtimeroot.NewExecutableRoot(target, hooks)

	result, err := root.Execute([]bytecode.Value{bytecode.IntValue(1)})
	if err != nil {
		t.Fatalf("Execute: %v, want the intercept hook to swallow it", err)
	}
	if n, _ := result.Data.(int64); n != -1 {
		t.Errorf("result = %v, want -1 from InterceptGuest", result)
	}
	if interceptedBci < 0 {
		t.Errorf("InterceptGuest saw bci = %d, want the throw site's bci", interceptedBci)
	}
}

func TestExecutePropagatesWhenNoInterceptInstalled(t *testing.T) {
	prog, table := buildGuarded(t)
	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())
	root := runtimeroot.NewExecutableRoot(target, nil)

	if _, err := root.Execute([]bytecode.Value{bytecode.IntValue(1)}); err == nil {
		t.Fatal("expected the uncaught exception to propagate with no hooks installed")
	}
}

func TestSetUncachedInterpreterThresholdAndCloneUninitialized(t *testing.T) {
	prog, table := buildGuarded(t)
	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())
	root := runtimeroot.NewExecutableRoot(target, nil)

	root.SetUncachedInterpreterThreshold(1)
	if _, err := root.Execute([]bytecode.Value{bytecode.IntValue(0)}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if root.Target.Tier() != dispatch.Cached {
		t.Errorf("Tier() = %v, want Cached after threshold of 1", root.Target.Tier())
	}

	clone := root.CloneUninitialized()
	if clone.Target.Tier() != dispatch.Uncached {
		t.Errorf("clone Tier() = %v, want a fresh Uncached target", clone.Target.Tier())
	}
	if _, err := clone.Execute([]bytecode.Value{bytecode.IntValue(0)}); err != nil {
		t.Fatalf("clone Execute: %v", err)
	}
}

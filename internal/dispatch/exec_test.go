package dispatch_test

import (
	"testing"

	"github.com/solalang/opcore/internal/builder"
	"github.com/solalang/opcore/internal/bytecode"
	"github.com/solalang/opcore/internal/dispatch"
)

func TestCallSimpleReturn(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("identity", 1)
	b.LoadArgument(0)
	b.Return()

	prog, err := b.EndRoot("identity")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())
	result, err := target.Call([]bytecode.Value{bytecode.IntValue(7)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n, _ := result.Data.(int64); n != 7 {
		t.Errorf("result = %v, want 7", result)
	}
}

func TestCallIfThenElseDispatch(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("choose", 1)
	b.BeginIfThenElse()
	b.LoadArgument(0)
	b.EndIfThenCondition()
	b.LoadConstant(int64(1))
	b.Return()
	b.EndIfThenElseThen()
	b.LoadConstant(int64(2))
	b.Return()
	b.EndIfThenElse()

	prog, err := b.EndRoot("choose")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())

	result, err := target.Call([]bytecode.Value{bytecode.IntValue(1)})
	if err != nil {
		t.Fatalf("Call(true): %v", err)
	}
	if n, _ := result.Data.(int64); n != 1 {
		t.Errorf("Call(true) = %v, want 1", result)
	}

	result, err = target.Call([]bytecode.Value{bytecode.IntValue(0)})
	if err != nil {
		t.Fatalf("Call(false): %v", err)
	}
	if n, _ := result.Data.(int64); n != 2 {
		t.Errorf("Call(false) = %v, want 2", result)
	}
}

func TestCallCustomInstructionDispatch(t *testing.T) {
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
		t.Fatalf("EndRoot: %v", err)
	}

	instructions := dispatch.NewInstructionSet()
	instructions.Register(incOpcode, func(args []bytecode.Value) (bytecode.Value, error) {
		n, _ := args[0].Data.(int64)
		return bytecode.IntValue(n + 1), nil
	})

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), instructions)
	result, err := target.Call([]bytecode.Value{bytecode.IntValue(41)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n, _ := result.Data.(int64); n != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestCallUnregisteredCustomInstructionErrors(t *testing.T) {
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
		t.Fatalf("EndRoot: %v", err)
	}

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())
	if _, err := target.Call([]bytecode.Value{bytecode.IntValue(1)}); err == nil {
		t.Fatal("expected an error for an unregistered custom instruction")
	}
}

func TestCallTryCatchHandlesThrow(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)

	b.BeginRoot("guarded", 1)
	b.BeginTryCatch()
	b.BeginIfThen()
	b.LoadArgument(0)
	b.EndIfThenCondition()
	b.LoadConstant("boom")
	b.Throw()
	b.EndIfThen()
	b.LoadConstant(int64(1))
	b.Return()
	b.EndTryCatchBody()
	_ = b.TryCatchExceptionLocal()
	b.LoadConstant(int64(-1))
	b.Return()
	b.EndTryCatch()

	prog, err := b.EndRoot("guarded")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())

	result, err := target.Call([]bytecode.Value{bytecode.IntValue(0)})
	if err != nil {
		t.Fatalf("Call(no throw): %v", err)
	}
	if n, _ := result.Data.(int64); n != 1 {
		t.Errorf("Call(no throw) = %v, want 1", result)
	}

	result, err = target.Call([]bytecode.Value{bytecode.IntValue(1)})
	if err != nil {
		t.Fatalf("Call(throw): %v", err)
	}
	if n, _ := result.Data.(int64); n != -1 {
		t.Errorf("Call(throw) = %v, want -1 (caught)", result)
	}
}

func TestCallFinallyRunsOnBothExitPaths(t *testing.T) {
	table := bytecode.NewTable()
	markOpcode := table.RegisterCustom("mark", bytecode.EffectMinus1, nil)
	ops := bytecode.NewOperationRegistry()
	markOp := ops.RegisterCustom("mark", bytecode.Arity{Fixed: 1}, true, table.Get(markOpcode))

	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("cleanup", 1)
	b.BeginFinallyTry()

	b.BeginBlock()
	b.BeginCustomSimple(markOp)
	b.LoadConstant(int64(1))
	b.EndCustomSimple()
	b.EndBlock()

	b.BeginIfThen()
	b.LoadArgument(0)
	b.EndIfThenCondition()
	b.LoadConstant("boom")
	b.Throw()
	b.EndIfThen()
	b.LoadConstant(int64(0))
	b.Return()

	b.EndFinallyTry()

	prog, err := b.EndRoot("cleanup")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	var marks []int64
	instructions := dispatch.NewInstructionSet()
	instructions.Register(markOpcode, func(args []bytecode.Value) (bytecode.Value, error) {
		n, _ := args[0].Data.(int64)
		marks = append(marks, n)
		return bytecode.Value{}, nil
	})

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), instructions)

	result, err := target.Call([]bytecode.Value{bytecode.IntValue(0)})
	if err != nil {
		t.Fatalf("Call(no throw): %v", err)
	}
	if n, _ := result.Data.(int64); n != 0 {
		t.Errorf("Call(no throw) = %v, want 0", result)
	}
	if len(marks) != 1 {
		t.Fatalf("marks after normal exit = %d, want 1", len(marks))
	}

	_, err = target.Call([]bytecode.Value{bytecode.IntValue(1)})
	if err == nil {
		t.Fatal("expected the rethrown exception to surface with no enclosing catch")
	}
	if len(marks) != 2 {
		t.Fatalf("marks after exceptional exit = %d, want 2 (handler ran once more)", len(marks))
	}
}

func TestCachedTierQuickensOnMonomorphicFeedback(t *testing.T) {
	table := bytecode.NewTable()
	baseOp := table.RegisterCustom("addInt", bytecode.EffectZero, nil)
	quickOp := table.RegisterCustom("addInt$int", bytecode.EffectZero, nil)
	table.RegisterQuickening(baseOp, table.Get(quickOp))

	quickens := bytecode.NewQuickenTable()
	quickens.Register(baseOp, bytecode.SlotInt, quickOp)

	ops := bytecode.NewOperationRegistry()
	addOp := ops.RegisterCustom("addInt", bytecode.Arity{Fixed: 1}, false, table.Get(baseOp))

	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("bump", 1)
	b.BeginCustomSimple(addOp)
	b.LoadArgument(0)
	b.EndCustomSimple()
	b.Return()

	prog, err := b.EndRoot("bump")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	bci := -1
	for i, word := range prog.Code {
		if bytecode.OpCode(word) == baseOp {
			bci = i
			break
		}
	}
	if bci < 0 {
		t.Fatal("did not find the base opcode word anywhere in the compiled code")
	}

	instructions := dispatch.NewInstructionSet()
	bump := func(args []bytecode.Value) (bytecode.Value, error) {
		n, _ := args[0].Data.(int64)
		return bytecode.IntValue(n + 1), nil
	}
	instructions.Register(baseOp, bump)
	instructions.Register(quickOp, bump)

	target := dispatch.NewRootCallTarget(prog, table, quickens, instructions)
	target.HotThreshold = 1

	result, err := target.Call([]bytecode.Value{bytecode.IntValue(41)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n, _ := result.Data.(int64); n != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if target.Tier() != dispatch.Cached {
		t.Fatalf("tier = %v, want Cached", target.Tier())
	}
	if got := bytecode.OpCode(prog.Code[bci]); got != quickOp {
		t.Errorf("code[%d] = %v, want quickened opcode %v (base never rewritten)", bci, got, quickOp)
	}
}

func TestCachedTierUndoesQuickeningOnConflictingFeedback(t *testing.T) {
	table := bytecode.NewTable()
	baseOp := table.RegisterCustom("identish", bytecode.EffectZero, nil)
	quickOp := table.RegisterCustom("identish$int", bytecode.EffectZero, nil)
	table.RegisterQuickening(baseOp, table.Get(quickOp))

	quickens := bytecode.NewQuickenTable()
	quickens.Register(baseOp, bytecode.SlotInt, quickOp)

	ops := bytecode.NewOperationRegistry()
	idOp := ops.RegisterCustom("identish", bytecode.Arity{Fixed: 1}, false, table.Get(baseOp))

	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("passthrough", 1)
	b.BeginCustomSimple(idOp)
	b.LoadArgument(0)
	b.EndCustomSimple()
	b.Return()

	prog, err := b.EndRoot("passthrough")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	bci := -1
	for i, word := range prog.Code {
		if bytecode.OpCode(word) == baseOp {
			bci = i
			break
		}
	}
	if bci < 0 {
		t.Fatal("did not find the base opcode word anywhere in the compiled code")
	}

	instructions := dispatch.NewInstructionSet()
	identity := func(args []bytecode.Value) (bytecode.Value, error) { return args[0], nil }
	instructions.Register(baseOp, identity)
	instructions.Register(quickOp, identity)

	target := dispatch.NewRootCallTarget(prog, table, quickens, instructions)
	target.HotThreshold = 1

	// First call observes SlotInt: Uninitialized -> Monomorphic, and
	// quicken() rewrites code[bci] to the quickened opcode.
	if _, err := target.Call([]bytecode.Value{bytecode.IntValue(1)}); err != nil {
		t.Fatalf("Call 1: %v", err)
	}
	if got := bytecode.OpCode(prog.Code[bci]); got != quickOp {
		t.Fatalf("after call 1, code[%d] = %v, want quickened opcode %v", bci, got, quickOp)
	}

	// Second call observes a conflicting kind (SlotFloat): Monomorphic ->
	// Polymorphic, and quicken()'s Polymorphic/Megamorphic branch must
	// fire Undo, reverting code[bci] back to the generic base opcode
	// before this same call's own Instructions.Call runs (spec.md's
	// scenario 6). This is exactly what CachedNode.State can never do
	// while every call reuses a single throwaway node: without a real
	// node index each call sees a fresh Uninitialized node and Undo's
	// branch is unreachable.
	if _, err := target.Call([]bytecode.Value{bytecode.FloatValue(2.5)}); err != nil {
		t.Fatalf("Call 2: %v", err)
	}
	if got := bytecode.OpCode(prog.Code[bci]); got != baseOp {
		t.Errorf("after call 2, code[%d] = %v, want the base opcode %v restored by Undo", bci, got, baseOp)
	}
}

func TestCallCustomShortCircuitStopsOnFirstFalse(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	andOp := ops.RegisterCustomShortCircuit("and", bytecode.Arity{Variadic: true})

	// and3(a, b, c) = a && b && c, one argument per operand so
	// LoadArgument gives BranchFalse a properly SlotInt-typed value to
	// test (LoadConstant boxes generically and is always truthy unless
	// nil, per Value.IsTruthy's doc comment).
	build := func(numArgs int) *bytecode.RootProgram {
		b := builder.New(table, ops, bytecode.DefaultComparator)
		b.BeginRoot("and3", numArgs)
		b.BeginCustomShortCircuit(andOp, true)
		for i := 0; i < numArgs; i++ {
			b.LoadArgument(i)
			if i < numArgs-1 {
				b.EndCustomShortCircuitChild()
			}
		}
		b.EndCustomShortCircuit()
		b.Return()
		prog, err := b.EndRoot("and3")
		if err != nil {
			t.Fatalf("EndRoot: %v", err)
		}
		return prog
	}

	prog := build(3)

	sawBranchFalse := false
	for i := 0; i < len(prog.Code); {
		ins := table.Get(bytecode.OpCode(prog.Code[i]))
		if ins.ID == bytecode.OpBranchFalse {
			sawBranchFalse = true
		}
		i += ins.Length()
	}
	if !sawBranchFalse {
		t.Fatal("expected a BranchFalse test spliced between short-circuit children")
	}

	instructions := dispatch.NewInstructionSet()
	call := func(args ...int64) bytecode.Value {
		vals := make([]bytecode.Value, len(args))
		for i, a := range args {
			vals[i] = bytecode.IntValue(a)
		}
		rct := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), instructions)
		result, err := rct.Call(vals)
		if err != nil {
			t.Fatalf("Call(%v): %v", args, err)
		}
		return result
	}

	// every operand truthy: the whole chain evaluates, last value wins.
	if n, _ := call(1, 1, 5).Data.(int64); n != 5 {
		t.Errorf("Call(1,1,5) = %v, want 5", n)
	}

	// a falsy operand in the middle short-circuits: its own value (0)
	// is what the operation forwards.
	if n, _ := call(1, 0, 9).Data.(int64); n != 0 {
		t.Errorf("Call(1,0,9) = %v, want 0 (short-circuited on the falsy second operand)", n)
	}
}

func TestHotThresholdPromotesToCachedTier(t *testing.T) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	b := builder.New(table, ops, bytecode.DefaultComparator)
	b.BeginRoot("identity", 1)
	b.LoadArgument(0)
	b.Return()

	prog, err := b.EndRoot("identity")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), dispatch.NewInstructionSet())
	target.HotThreshold = 2

	if target.Tier() != dispatch.Uncached {
		t.Fatalf("initial tier = %v, want Uncached", target.Tier())
	}
	if _, err := target.Call([]bytecode.Value{bytecode.IntValue(1)}); err != nil {
		t.Fatalf("Call 1: %v", err)
	}
	if target.Tier() != dispatch.Uncached {
		t.Fatalf("tier after 1 call = %v, want Uncached", target.Tier())
	}
	if _, err := target.Call([]bytecode.Value{bytecode.IntValue(2)}); err != nil {
		t.Fatalf("Call 2: %v", err)
	}
	if target.Tier() != dispatch.Cached {
		t.Fatalf("tier after 2 calls = %v, want Cached", target.Tier())
	}
}

func TestCallYieldSuspendsAndResumeContinuesWithResumedValue(t *testing.T) {
	table := bytecode.NewTable()
	addOneOpcode := table.RegisterCustom("addOne", bytecode.EffectZero, nil)
	ops := bytecode.NewOperationRegistry()
	addOneOp := ops.RegisterCustom("addOne", bytecode.Arity{Fixed: 1}, false, table.Get(addOneOpcode))

	b := builder.New(table, ops, bytecode.DefaultComparator)

	// A root that yields once, then adds 1 to whatever value it is
	// resumed with and returns that.
	b.BeginRoot("counter", 0)
	b.BeginCustomSimple(addOneOp)
	b.Yield("suspend point")
	b.EndCustomSimple()
	b.Return()

	prog, err := b.EndRoot("counter")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}

	instructions := dispatch.NewInstructionSet()
	instructions.Register(addOneOpcode, func(args []bytecode.Value) (bytecode.Value, error) {
		n, _ := args[0].Data.(int64)
		return bytecode.IntValue(n + 1), nil
	})

	target := dispatch.NewRootCallTarget(prog, table, bytecode.NewQuickenTable(), instructions)

	suspended, err := target.Call(nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	cf, ok := dispatch.AsCoroutineFrame(suspended)
	if !ok {
		t.Fatalf("Call result = %v, want a continuation wrapping a CoroutineFrame", suspended)
	}
	if cf.ResumeBci <= 0 {
		t.Errorf("ResumeBci = %d, want a bci past the Yield instruction", cf.ResumeBci)
	}

	result, err := target.Resume(cf, bytecode.IntValue(41))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if n, _ := result.Data.(int64); n != 42 {
		t.Errorf("Resume result = %v, want 42", result)
	}
}

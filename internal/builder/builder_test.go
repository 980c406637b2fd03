package builder

import (
	"testing"

	"github.com/solalang/opcore/internal/bytecode"
)

func newTestBuilder() (*Builder, *bytecode.Table, *bytecode.OperationRegistry) {
	table := bytecode.NewTable()
	ops := bytecode.NewOperationRegistry()
	return New(table, ops, bytecode.DefaultComparator), table, ops
}

func TestSimpleReturn(t *testing.T) {
	b, _, _ := newTestBuilder()
	b.BeginRoot("identity", 1)
	b.LoadArgument(0)
	b.Return()

	prog, err := b.EndRoot("identity")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}
	if prog.NumArgs != 1 {
		t.Errorf("NumArgs = %d, want 1", prog.NumArgs)
	}
	if prog.NumLocals != 1 {
		t.Errorf("NumLocals = %d, want 1", prog.NumLocals)
	}
	if len(prog.Code) == 0 {
		t.Error("expected non-empty code")
	}
}

func TestUndefinedLabelRejected(t *testing.T) {
	b, _, _ := newTestBuilder()
	b.BeginRoot("dangling", 0)
	b.CreateLabel() // never emitted
	b.LoadConstant(int64(1))
	b.Return()

	_, err := b.EndRoot("dangling")
	if err == nil {
		t.Fatal("expected an error for an unemitted label")
	}
	berr, ok := err.(*Error)
	if !ok || berr.Kind != UndefinedLabel {
		t.Fatalf("got %v, want UndefinedLabel", err)
	}
}

func TestIfThenUnbalancedStackRejected(t *testing.T) {
	b, _, _ := newTestBuilder()
	b.BeginRoot("bad", 0)
	b.BeginIfThen()
	b.LoadConstant(true)
	b.EndIfThenCondition()
	b.LoadConstant(int64(1)) // IfThen's then-branch must be void; this leaves a value
	b.EndIfThen()
	b.LoadConstant(int64(0))
	b.Return()

	_, err := b.EndRoot("bad")
	if err == nil {
		t.Fatal("expected an UnbalancedStack error")
	}
	if berr, ok := err.(*Error); !ok || berr.Kind != UnbalancedStack {
		t.Fatalf("got %v, want UnbalancedStack", err)
	}
}

func TestIfThenElseBothBranchesReturn(t *testing.T) {
	b, _, _ := newTestBuilder()
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
	if len(prog.Code) == 0 {
		t.Error("expected non-empty code")
	}
}

func TestTryCatchRegistersExceptionHandler(t *testing.T) {
	b, _, _ := newTestBuilder()
	b.BeginRoot("guarded", 0)
	b.BeginTryCatch()
	b.LoadConstant(int64(1))
	b.Return()
	b.EndTryCatchBody()
	excLocal := b.TryCatchExceptionLocal()
	b.LoadLocal(excLocal)
	b.Return()
	b.EndTryCatch()

	prog, err := b.EndRoot("guarded")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}
	if len(prog.ExHandlers) != 1 {
		t.Fatalf("ExHandlers = %d, want 1", len(prog.ExHandlers))
	}
	h := prog.ExHandlers[0]
	if h.ExcLocalIdx != excLocal {
		t.Errorf("ExcLocalIdx = %d, want %d", h.ExcLocalIdx, excLocal)
	}
}

func TestBranchFromInsideFinallyHandlerToOuterLabelRejected(t *testing.T) {
	b, _, _ := newTestBuilder()
	b.BeginRoot("leaky", 0)
	exit := b.CreateLabel() // created outside any finally handler capture

	b.BeginFinallyTry()
	// handler body (phase 0): branching to a label declared outside this
	// handler's own capture would bake a scratch-relative bci into the
	// live buffer once the handler is replayed at a different base.
	b.Branch(exit)
	b.LoadConstant(int64(1))
	b.Pop()

	errs := b.Errors()
	if len(errs) != 1 {
		t.Fatalf("Errors() = %d, want 1", len(errs))
	}
	if errs[0].Kind != CrossHandlerBranch {
		t.Fatalf("got %v, want CrossHandlerBranch", errs[0].Kind)
	}
}

func TestExceptionHandlerStartSpMatchesEntryStackHeight(t *testing.T) {
	b, table, ops := newTestBuilder()
	addOpcode := table.RegisterCustom("addPair", bytecode.EffectMinus1, nil)
	addOp := ops.RegisterCustom("addPair", bytecode.Arity{Fixed: 2}, false, table.Get(addOpcode))

	b.BeginRoot("nested", 0)
	b.BeginCustomSimple(addOp)
	b.LoadConstant(int64(10)) // first child: leaves a value under the TryCatch below

	b.BeginTryCatch()
	b.LoadConstant(int64(1))
	b.Return()
	b.EndTryCatchBody()
	excLocal := b.TryCatchExceptionLocal()
	b.LoadLocal(excLocal)
	b.Return()
	b.EndTryCatch()
	b.LoadConstant(int64(20)) // second child: TryCatch is void, so addPair's other operand comes from here

	b.EndCustomSimple()
	b.Return()

	prog, err := b.EndRoot("nested")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}
	if len(prog.ExHandlers) != 1 {
		t.Fatalf("ExHandlers = %d, want 1", len(prog.ExHandlers))
	}
	if got := prog.ExHandlers[0].StartSp; got != 1 {
		t.Errorf("StartSp = %d, want 1 (the value addPair's first child left on the stack)", got)
	}
}

func TestFinallyRegistersHandlerAndDuplicatesBody(t *testing.T) {
	b, table, _ := newTestBuilder()
	b.BeginRoot("cleanup", 0)
	b.BeginFinallyTry()

	// handler body: load a marker value and discard it through the
	// front end's own Pop, the same discard path a guest compiler uses.
	b.LoadConstant(int64(99))
	b.Pop()

	// try body: unconditional return, forcing the handler to replay
	// before the root actually exits
	b.LoadConstant(int64(1))
	b.Return()

	b.EndFinallyTry()

	prog, err := b.EndRoot("cleanup")
	if err != nil {
		t.Fatalf("EndRoot: %v", err)
	}
	if len(prog.ExHandlers) != 1 {
		t.Fatalf("ExHandlers = %d, want 1", len(prog.ExHandlers))
	}

	popCount := 0
	for i := 0; i < len(prog.Code); {
		ins := table.Get(bytecode.OpCode(prog.Code[i]))
		if ins.ID == bytecode.OpPop {
			popCount++
		}
		i += ins.Length()
	}
	// the handler's Pop is spliced once for Return's early-exit replay,
	// once for the exceptional path, once for normal fallthrough.
	if popCount != 3 {
		t.Errorf("Pop count = %d, want 3 (one handler copy per exit path)", popCount)
	}
}

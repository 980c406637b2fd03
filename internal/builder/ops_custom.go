package builder

import "github.com/solalang/opcore/internal/bytecode"

// BeginBlock/EndBlock bracket a transparent sequence of operations; its
// value (if any) is whatever its last child left on the stack.
func (b *Builder) BeginBlock() {
	b.beginOp(bytecode.OpKindBlock, nil)
}

func (b *Builder) EndBlock() {
	b.endOp(bytecode.OpKindBlock)
}

// BeginCustomSimple/EndCustomSimple bracket a guest-registered
// CustomSimple operation (spec.md §3): every child is built with
// ordinary Begin/End or leaf emit calls, then EndCustomSimple emits the
// operation's single backing Instruction, which consumes exactly
// op.Arity.Fixed stack slots and leaves its result (unless op.IsVoid).
// Each call site gets its own CachedNode slot (spec.md §5), allocated
// here and baked into the instruction's trailing ImmNode immediate when
// it is emitted, so the Cached tier can key type feedback per call site
// instead of sharing one node across every occurrence of op.
func (b *Builder) BeginCustomSimple(op *bytecode.Operation) {
	b.beforeChild()
	f := b.opStack.push(op, b.opStack.depth())
	f.entryStackHeight = b.buf.CurrentStackHeight
	f.nodeIndex = b.allocateNode()
}

func (b *Builder) EndCustomSimple() {
	f := b.opStack.top()
	if f == nil || f.op.Instruction == nil {
		b.fail(UnexpectedOperationEnd, "EndCustomSimple called without a matching BeginCustomSimple")
		return
	}
	op := f.op
	b.opStack.pop()
	bci := b.buf.Emit(op.Instruction)
	if n := len(op.Instruction.Immediates); n > 0 {
		b.buf.PatchImmediate(bci+n, uint32(f.nodeIndex))
	}
	b.childProduced(f, !op.IsVoid)
}

// shortCircuitState tracks the label every short-circuiting child
// branches to once it determines the overall result, and which way the
// operation short-circuits (And stops on the first false, Or stops on
// the first true).
type shortCircuitState struct {
	op        *bytecode.Operation
	end       *Label
	stopOnFalse bool
	seenFirst bool
}

// BeginCustomShortCircuit opens a guest-registered CustomShortCircuit
// operation (e.g. logical And/Or). stopOnFalse selects And-like
// (short-circuits on the first falsy child) vs Or-like (short-circuits
// on the first truthy child) behavior.
func (b *Builder) BeginCustomShortCircuit(op *bytecode.Operation, stopOnFalse bool) {
	b.beforeChild()
	b.opStack.push(op, b.opStack.depth())
	top := b.opStack.top()
	top.entryStackHeight = b.buf.CurrentStackHeight
	top.data = &shortCircuitState{op: op, stopOnFalse: stopOnFalse}
}

// EndCustomShortCircuitChild is called after building each child except
// the last: it splices in the Dup/BranchFalse/Pop (or the Or-flavored
// inverse) short-circuit test for that child.
func (b *Builder) EndCustomShortCircuitChild() {
	top := b.opStack.top()
	if top == nil {
		b.fail(UnexpectedOperationEnd, "EndCustomShortCircuitChild called outside a CustomShortCircuit operation")
		return
	}
	st := top.data.(*shortCircuitState)
	top.childCount++
	if st.end == nil {
		st.end = b.labels.create(top.depth)
	}

	dupIns := b.table.Get(bytecode.OpDup)
	b.buf.Emit(dupIns)
	falseIns := b.table.Get(bytecode.OpBranchFalse)

	if st.stopOnFalse {
		bci := b.buf.EmitWithImmediates(falseIns, 0, 0)
		st.end.pendingPatches = append(st.end.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
		b.buf.Emit(b.table.Get(bytecode.OpPop))
		return
	}

	skip := b.labels.create(top.depth)
	bci := b.buf.EmitWithImmediates(falseIns, 0, 0)
	skip.pendingPatches = append(skip.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
	branchIns := b.table.Get(bytecode.OpBranch)
	endBci := b.buf.EmitWithImmediates(branchIns, 0)
	st.end.pendingPatches = append(st.end.pendingPatches, branchPatch{bci: endBci + 1, stackHeight: b.buf.CurrentStackHeight})
	b.resolveLabelAt(skip, b.buf.Bci())
	b.buf.Emit(b.table.Get(bytecode.OpPop))
}

// EndCustomShortCircuit closes the operation after its last child
// (built with no trailing short-circuit test, since its value is
// unconditionally the result) has been emitted.
func (b *Builder) EndCustomShortCircuit() {
	top := b.opStack.top()
	if top == nil {
		b.fail(UnexpectedOperationEnd, "EndCustomShortCircuit called without a matching Begin")
		return
	}
	st := top.data.(*shortCircuitState)
	b.opStack.pop()
	if st.end != nil {
		b.resolveLabelAt(st.end, b.buf.Bci())
	}
	b.childProduced(top, true)
}

package builder

import "github.com/solalang/opcore/internal/bytecode"

// BeginIfThen/EndIfThen bracket `if (cond) { thenBranch }`: the first
// child must produce the condition value, the second is void.
func (b *Builder) BeginIfThen() {
	b.beginOp(bytecode.OpKindIfThen, &ifState{})
}

type ifState struct {
	elseLabel *Label
	// elseHeight is the operand-stack height at the branch-false point,
	// recorded by Conditional's EndConditionalCondition so
	// EndConditionalThen can rewind the buffer's running stack-height
	// counter to it before building the else branch: the then branch
	// leaves its own value on that same counter, and since nothing
	// actually falls through from the then branch into the else branch
	// (the unconditional Branch emitted at the end of the then branch
	// jumps past it), the counter must be reset explicitly rather than
	// trusted to reflect reality at that point. IfThen/IfThenElse/While
	// never need this because their branches are void.
	elseHeight int
}

// EndIfThenCondition marks the end of the condition child and must be
// called between building the condition and building the then-branch,
// since the builder needs to emit the conditional branch at exactly
// that point.
func (b *Builder) EndIfThenCondition() {
	top := b.opStack.top()
	if top == nil || (top.op.Kind != bytecode.OpKindIfThen && top.op.Kind != bytecode.OpKindIfThenElse && top.op.Kind != bytecode.OpKindWhile) {
		b.fail(UnexpectedOperationEnd, "EndIfThenCondition called outside IfThen/IfThenElse/While")
		return
	}
	st, _ := top.data.(*ifState)
	if st == nil {
		st = &ifState{}
		top.data = st
	}
	top.childCount++
	st.elseLabel = b.labels.create(top.depth)
	ins := b.table.Get(bytecode.OpBranchFalse)
	bci := b.buf.EmitWithImmediates(ins, 0, 0)
	st.elseLabel.pendingPatches = append(st.elseLabel.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
}

func (b *Builder) EndIfThen() {
	f := b.endOp(bytecode.OpKindIfThen)
	if f == nil {
		return
	}
	st := f.data.(*ifState)
	b.resolveLabelAt(st.elseLabel, b.buf.Bci())
}

// BeginIfThenElse/EndIfThenElse bracket `if (cond) { a } else { b }`.
// EndIfThenCondition (shared with IfThen) separates the condition from
// the then-branch; EndIfThenElseThen separates the then-branch from the
// else-branch.
func (b *Builder) BeginIfThenElse() {
	b.beginOp(bytecode.OpKindIfThenElse, &ifState{})
}

func (b *Builder) EndIfThenElseThen() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindIfThenElse {
		b.fail(UnexpectedOperationEnd, "EndIfThenElseThen called outside IfThenElse")
		return
	}
	top.childCount++
	st := top.data.(*ifState)
	end := b.labels.create(top.depth)
	branchIns := b.table.Get(bytecode.OpBranch)
	bci := b.buf.EmitWithImmediates(branchIns, 0)
	end.pendingPatches = append(end.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
	b.resolveLabelAt(st.elseLabel, b.buf.Bci())
	st.elseLabel = end // reuse the field to carry the end-label into EndIfThenElse
}

func (b *Builder) EndIfThenElse() {
	f := b.endOp(bytecode.OpKindIfThenElse)
	if f == nil {
		return
	}
	st := f.data.(*ifState)
	b.resolveLabelAt(st.elseLabel, b.buf.Bci())
}

// Conditional is the value-producing ternary `cond ? a : b`: all three
// children produce a value, and exactly one of a/b is evaluated, merged
// onto the stack via a dedicated merge instruction so stack-typability
// holds regardless of branch taken.
func (b *Builder) BeginConditional() {
	b.beginOp(bytecode.OpKindConditional, &ifState{})
}

func (b *Builder) EndConditionalCondition() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindConditional {
		b.fail(UnexpectedOperationEnd, "EndConditionalCondition called outside Conditional")
		return
	}
	top.childCount++
	st := &ifState{}
	top.data = st
	st.elseLabel = b.labels.create(top.depth)
	ins := b.table.Get(bytecode.OpBranchFalse)
	bci := b.buf.EmitWithImmediates(ins, 0, 0)
	st.elseHeight = b.buf.CurrentStackHeight
	st.elseLabel.pendingPatches = append(st.elseLabel.pendingPatches, branchPatch{bci: bci + 1, stackHeight: st.elseHeight})
}

func (b *Builder) EndConditionalThen() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindConditional {
		b.fail(UnexpectedOperationEnd, "EndConditionalThen called outside Conditional")
		return
	}
	top.childCount++
	st := top.data.(*ifState)
	end := b.labels.create(top.depth)
	branchIns := b.table.Get(bytecode.OpBranch)
	bci := b.buf.EmitWithImmediates(branchIns, 0)
	end.pendingPatches = append(end.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
	// The then branch's pushed value is still reflected in
	// CurrentStackHeight, but nothing actually falls through from it
	// into the else branch built next (the Branch above jumps past it),
	// so the counter has to be rewound to the branch-false height
	// explicitly rather than inherited from the then branch.
	b.buf.CurrentStackHeight = st.elseHeight
	b.resolveLabelAt(st.elseLabel, b.buf.Bci())
	st.elseLabel = end
	b.buf.Emit(b.table.Get(bytecode.OpMergeConditional))
}

func (b *Builder) EndConditional() {
	f := b.endOp(bytecode.OpKindConditional)
	if f == nil {
		return
	}
	st := f.data.(*ifState)
	b.buf.Emit(b.table.Get(bytecode.OpMergeConditional))
	b.resolveLabelAt(st.elseLabel, b.buf.Bci())
}

// whileState tracks the backward-branch target and the forward exit
// label a While loop needs.
type whileState struct {
	condStart int
	exitLabel *Label
}

// BeginWhile opens `while (cond) { body }`. The condition is rebuilt on
// every iteration starting at condStart, matching the teacher's
// loopStart/emitLoop idiom generalized to this builder's label-based
// branch resolver.
func (b *Builder) BeginWhile() {
	st := &whileState{}
	b.beginOp(bytecode.OpKindWhile, st)
	st.condStart = b.buf.Bci()
}

func (b *Builder) EndWhileCondition() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindWhile {
		b.fail(UnexpectedOperationEnd, "EndWhileCondition called outside While")
		return
	}
	top.childCount++
	st := top.data.(*whileState)
	st.exitLabel = b.labels.create(top.depth)
	ins := b.table.Get(bytecode.OpBranchFalse)
	bci := b.buf.EmitWithImmediates(ins, 0, 0)
	st.exitLabel.pendingPatches = append(st.exitLabel.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
}

func (b *Builder) EndWhile() {
	f := b.endOp(bytecode.OpKindWhile)
	if f == nil {
		return
	}
	st := f.data.(*whileState)
	backIns := b.table.Get(bytecode.OpBranchBackward)
	b.buf.EmitWithImmediates(backIns, uint32(st.condStart), 0)
	b.resolveLabelAt(st.exitLabel, b.buf.Bci())
}

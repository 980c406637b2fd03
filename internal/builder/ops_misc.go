package builder

import "github.com/solalang/opcore/internal/bytecode"

// CreateLabel declares a label scoped to the operation currently open
// (spec.md §4.4). It must be EmitLabel'd exactly once, from inside the
// same operation subtree, before EndRoot. A label created while a
// FinallyTry's handler body is under construction is stamped with that
// handler's sequence number, so a later Branch to it from any other
// context fails with CrossHandlerBranch (spec.md §4.5) instead of
// baking a scratch-relative bci into the live buffer.
func (b *Builder) CreateLabel() *Label {
	return b.labels.createWithHandlerSeq(b.opStack.depth(), b.currentHandlerSeq())
}

// resolveLabelAt marks l resolved at bci and patches every Branch that
// targeted it while it was still forward-unresolved. Every one of those
// branches must have been emitted at the same operand-stack height as
// the label itself: two control-flow paths merging here with different
// depths would leave the frame non-stack-typable no matter which path
// ran, so a mismatch fails with UnbalancedBranch (spec.md §4.3) rather
// than silently patching the jump target.
func (b *Builder) resolveLabelAt(l *Label, bci int) {
	height := b.buf.CurrentStackHeight
	for _, patch := range l.pendingPatches {
		if patch.stackHeight != height {
			b.fail(UnbalancedBranch, "label %d resolved at stack height %d but a branch to it from bci %d was emitted at height %d", l.id, height, patch.bci-1, patch.stackHeight)
			return
		}
	}
	l.resolved = true
	l.bci = bci
	l.stackHeight = height
	for _, patch := range l.pendingPatches {
		b.buf.PatchImmediate(patch.bci, uint32(bci))
	}
	l.pendingPatches = nil
}

// EmitLabel resolves l at the current bci. EndRoot rejects a build with
// any label that was created but never emitted (UndefinedLabel);
// emitting a label a second time is LabelAlreadyEmitted, and emitting
// it from outside the operation subtree that created it is
// LabelOutsideDeclaringOp.
func (b *Builder) EmitLabel(l *Label) {
	if l.resolved {
		b.fail(LabelAlreadyEmitted, "label %d already emitted at bci %d", l.id, l.bci)
		return
	}
	if b.opStack.depth() < l.declaringOpDepth {
		b.fail(LabelOutsideDeclaringOp, "label %d emitted outside its declaring operation", l.id)
		return
	}
	b.beforeChild()
	b.resolveLabelAt(l, b.buf.Bci())
	b.noteLeafValue(false)
}

// currentHandlerSeq returns the sequence number of the FinallyTry whose
// handler body is currently under construction (phase 0), or -1 if the
// builder isn't inside one. b.finally is a LIFO of every FinallyTry
// still open; the moment the innermost one's handler finishes and it
// moves to phase 1 (building its try body), the builder is no longer
// "inside" that handler's scratch capture even though the context
// remains open, so only the last entry needs checking.
func (b *Builder) currentHandlerSeq() int {
	if len(b.finally) == 0 {
		return -1
	}
	fs := b.finally[len(b.finally)-1]
	if fs.phase != 0 {
		return -1
	}
	return fs.seq
}

// Branch emits an unconditional forward jump to l (backward branches
// use the dedicated While/loop machinery instead, per spec.md §4.4's
// "Backward branches are not exposed as a general operation"). If l
// belongs to an enclosing FinallyTry's try body that this branch would
// leave, every such FinallyTry's handler is replayed first, innermost
// first, so the finally semantics hold for this exit path too.
func (b *Builder) Branch(l *Label) {
	b.beforeChild()
	if l.declaringOpDepth > b.opStack.depth() {
		b.fail(InvalidBranchTarget, "label %d is not reachable from the current operation", l.id)
		return
	}
	if seq := b.currentHandlerSeq(); seq != l.handlerSeq {
		b.fail(CrossHandlerBranch, "label %d was declared outside the finally handler currently being built and cannot be targeted from inside it", l.id)
		return
	}
	b.replayEnclosingFinallys(l.declaringOpDepth)
	ins := b.table.Get(bytecode.OpBranch)
	bci := b.buf.EmitWithImmediates(ins, 0)
	if l.resolved {
		if l.bci < bci {
			b.fail(BackwardBranchUnsupported, "label %d already resolved behind this Branch; use a loop construct for backward branches", l.id)
			return
		}
		if l.stackHeight != b.buf.CurrentStackHeight {
			b.fail(UnbalancedBranch, "label %d resolved at stack height %d but this Branch is at height %d", l.id, l.stackHeight, b.buf.CurrentStackHeight)
			return
		}
		b.buf.PatchImmediate(bci+1, uint32(l.bci))
	} else {
		l.pendingPatches = append(l.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
	}
	b.noteLeafValue(false)
}

// LoadConstant pushes a pool constant.
func (b *Builder) LoadConstant(value any) {
	b.beforeChild()
	idx := b.pool.Add(value)
	ins := b.table.Get(bytecode.OpLoadConstant)
	b.buf.EmitWithImmediates(ins, uint32(idx))
	b.noteLeafValue(true)
}

// LoadLocal pushes the value held in local slot idx.
func (b *Builder) LoadLocal(idx int) {
	b.beforeChild()
	ins := b.table.Get(bytecode.OpLoadLocal)
	b.buf.EmitWithImmediates(ins, uint32(idx))
	b.noteLeafValue(true)
}

// StoreLocal pops the top of stack into local slot idx. The value it
// pops is whatever the immediately preceding statement left pending as
// its own operand, not a stale sibling's leftover, so unlike a
// value-producing leaf this must not run beforeChild first.
func (b *Builder) StoreLocal(idx int) {
	ins := b.table.Get(bytecode.OpStoreLocal)
	b.buf.EmitWithImmediates(ins, uint32(idx))
	b.noteLeafValue(false)
}

// LoadArgument pushes the value of call argument idx (idx < NumArgs).
func (b *Builder) LoadArgument(idx int) {
	b.beforeChild()
	ins := b.table.Get(bytecode.OpLoadArgument)
	b.buf.EmitWithImmediates(ins, uint32(idx))
	b.noteLeafValue(true)
}

// Return pops the top of stack and exits the current root, running
// every still-open FinallyTry's handler on the way out, innermost
// first (spec.md §4.5 "finally runs on every exit"). The popped value
// is the immediately preceding statement's own result, not a stale
// sibling's leftover, so unlike a value-producing leaf this must not
// run beforeChild first - doing so would discard the very value Return
// is here to consume.
func (b *Builder) Return() {
	b.replayEnclosingFinallys(0)
	b.buf.Emit(b.table.Get(bytecode.OpReturn))
	b.noteLeafValue(false)
}

// Throw pops the top of stack and raises it as the in-flight exception
// (spec.md §4.8). Unlike Return it does not replay enclosing finally
// handlers itself: EndFinallyTry's own exception-handler entry is what
// splices the handler copy once the throw unwinds into it. Like Return,
// it consumes the immediately preceding statement's own value and must
// not run beforeChild first.
func (b *Builder) Throw() {
	b.buf.Emit(b.table.Get(bytecode.OpThrow))
	b.noteLeafValue(false)
}

// Yield suspends the current root, to be resumed by a runtime-supplied
// continuation token (spec.md §3 "Yield").
func (b *Builder) Yield(continuationConstant any) {
	b.beforeChild()
	idx := b.pool.Add(continuationConstant)
	ins := b.table.Get(bytecode.OpYield)
	b.buf.EmitWithImmediates(ins, uint32(idx))
	b.noteLeafValue(true)
}

// Source registers the full text of one source unit, returning its
// index for SourceSection/AddSourceInfo.
func (b *Builder) Source(text string) int {
	return b.RegisterSource(text)
}

// SourceSection attaches a source-info triple to the next instruction
// emitted (spec.md §4.1). Runs beforeChild first so the triple lands on
// the child's own first instruction rather than an auto-inserted Pop
// left pending by a transparent parent's previous child.
func (b *Builder) SourceSection(sourceIndex, startOffset, length int) {
	b.beforeChild()
	b.buf.AddSourceInfo(b.buf.Bci(), sourceIndex, startOffset, length)
}

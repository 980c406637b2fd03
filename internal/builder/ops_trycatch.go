package builder

import "github.com/solalang/opcore/internal/bytecode"

// tryCatchState records where the try body starts and the local slot
// the runtime stores the caught exception into, so EndTryCatch can
// register the handler table entry once the catch body (emitted right
// after the try body, unlike FinallyTry, with no duplication needed
// since a catch body only ever runs once) has been built.
type tryCatchState struct {
	tryStartBci    int
	tryEndBci      int
	exceptionLocal int
	skip           *Label
	// entryStackHeight is the operand-stack height at BeginTryCatch,
	// restored on exceptional unwind into the catch body (spec.md's
	// ExceptionHandlerEntry.StartSp) - not necessarily 0, since a
	// TryCatch can appear as a non-first child at nonzero ambient stack
	// height.
	entryStackHeight int
}

// BeginTryCatch opens `try { tryBody } catch (e) { catchBody }`. Unlike
// FinallyTry, the catch body is ordinary code emitted once in its
// natural position: it runs only on the exceptional path, so there is
// nothing to duplicate.
func (b *Builder) BeginTryCatch() {
	st := &tryCatchState{tryStartBci: b.buf.Bci(), exceptionLocal: b.CreateLocal("$caught")}
	f := b.beginOp(bytecode.OpKindTryCatch, st)
	st.entryStackHeight = f.entryStackHeight
}

// TryCatchExceptionLocal returns the frame slot the catch body should
// LoadLocal to access the exception that was thrown.
func (b *Builder) TryCatchExceptionLocal() int {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindTryCatch {
		b.fail(UnexpectedOperationEnd, "TryCatchExceptionLocal called outside TryCatch")
		return -1
	}
	return top.data.(*tryCatchState).exceptionLocal
}

// EndTryCatchBody separates the try body from the catch body: it
// records where the try region ends and emits a forward branch so
// normal completion of the try body skips straight past the catch
// body.
func (b *Builder) EndTryCatchBody() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindTryCatch {
		b.fail(UnexpectedOperationEnd, "EndTryCatchBody called outside TryCatch")
		return
	}
	top.childCount++
	st := top.data.(*tryCatchState)
	st.tryEndBci = b.buf.Bci()
	st.skip = b.labels.create(top.depth)
	branchIns := b.table.Get(bytecode.OpBranch)
	bci := b.buf.EmitWithImmediates(branchIns, 0)
	st.skip.pendingPatches = append(st.skip.pendingPatches, branchPatch{bci: bci + 1, stackHeight: b.buf.CurrentStackHeight})
}

func (b *Builder) EndTryCatch() {
	top := b.opStack.top()
	if top == nil || top.op.Kind != bytecode.OpKindTryCatch {
		b.fail(UnexpectedOperationEnd, "EndTryCatch called without EndTryCatchBody")
		return
	}
	st := top.data.(*tryCatchState)
	handlerBci := st.tryEndBci + 2 // the branch emitted by EndTryCatchBody is 2 words
	f := b.endOp(bytecode.OpKindTryCatch)
	if f == nil {
		return
	}
	b.buf.AddExceptionHandler(bytecode.ExceptionHandlerEntry{
		StartBci: st.tryStartBci, EndBci: st.tryEndBci, HandlerBci: handlerBci, StartSp: st.entryStackHeight, ExcLocalIdx: st.exceptionLocal,
	})
	b.resolveLabelAt(st.skip, b.buf.Bci())
}

package builder

import "github.com/solalang/opcore/internal/bytecode"

// finallyState is the per-FinallyTry bookkeeping for handler
// duplication (C6, spec.md §4.5): the hardest invariant in the whole
// builder. The finally body is built exactly once, as the operation's
// first child, into a scratch buffer; from then on every path that
// exits the try body - falling off the end, an early Return, a Branch
// to a label outside the try region, or an exception unwinding past it
// - gets its own relocated COPY of that captured bytecode spliced in,
// so the handler runs exactly once per exit regardless of which exit
// was taken.
type finallyState struct {
	noExcept bool

	// phase 0: building the handler child into scratch. phase 1:
	// building the try-body child into the live buffer.
	phase int

	// seq uniquely identifies this FinallyTry among every one opened
	// during the current build (Builder.nextFinallySeq), so a label
	// created while this handler is being captured (phase 0) can be told
	// apart from one created anywhere else (see Builder.currentHandlerSeq
	// / Label.handlerSeq, spec.md §4.5's CrossHandlerBranch).
	seq int

	scratch     *bytecode.Buffer
	savedBuf    *bytecode.Buffer
	handlerCode []uint32

	tryStartBci int
	tryEndBci   int

	// entryStackHeight is the operand-stack height at BeginFinallyTry,
	// restored on exceptional unwind into this handler (spec.md's
	// ExceptionHandlerEntry.StartSp) - not necessarily 0, since a
	// FinallyTry can appear as a non-first child at nonzero ambient
	// stack height.
	entryStackHeight int

	// exceptionLocal receives the in-flight exception on the exceptional
	// replay path (spec.md §4.8); it is allocated and recorded as the
	// handler entry's ExcLocalIdx whether or not noExcept is set.
	exceptionLocal int

	declaringDepth int
}

// BeginFinallyTry opens a FinallyTry operation: its first child (built
// next) is the finally handler, captured rather than emitted directly;
// its second child is the protected try body.
func (b *Builder) BeginFinallyTry() {
	b.beginFinallyTryCommon(false)
}

// BeginFinallyTryNoExcept is FinallyTry without exception-local access:
// used when the finally handler never needs to observe the exception
// that triggered it, only that one occurred.
func (b *Builder) BeginFinallyTryNoExcept() {
	b.beginFinallyTryCommon(true)
}

func (b *Builder) beginFinallyTryCommon(noExcept bool) {
	kind := bytecode.OpKindFinallyTry
	if noExcept {
		kind = bytecode.OpKindFinallyTryNoExcept
	}
	fs := &finallyState{noExcept: noExcept, declaringDepth: b.opStack.depth(), seq: b.nextFinallySeq}
	b.nextFinallySeq++
	frame := b.beginOp(kind, fs)
	fs.entryStackHeight = frame.entryStackHeight

	// Always allocated, even for the NoExcept variant: the runtime needs
	// somewhere to stash the in-flight exception so EndFinallyTry's
	// rethrow can reload it, whether or not the handler body itself is
	// allowed to read it.
	fs.exceptionLocal = b.CreateLocal("$exception")

	fs.savedBuf = b.buf
	fs.scratch = bytecode.NewBuffer()
	b.buf = fs.scratch

	b.finally = append(b.finally, fs)
}

// FinallyTryExceptionLocal returns the frame slot holding the in-flight
// exception while the handler body currently being built replays on the
// exceptional path. Only valid for FinallyTry (not the NoExcept
// variant), and only meaningful to read while that value is live - i.e.
// from inside the handler child itself.
func (b *Builder) FinallyTryExceptionLocal() int {
	if len(b.finally) == 0 {
		b.fail(UnexpectedOperationEnd, "FinallyTryExceptionLocal called outside a FinallyTry")
		return -1
	}
	return b.finally[len(b.finally)-1].exceptionLocal
}

// onChildEnded's hook for FinallyTry/FinallyTryNoExcept: fires once the
// handler child (phase 0) finishes, switching the builder back to the
// live buffer to build the try body (phase 1).
func (b *Builder) finallyOnHandlerChildEnded(parent *opFrame, fs *finallyState) {
	if fs.phase != 0 {
		return
	}
	fs.handlerCode = append([]uint32(nil), fs.scratch.Code...)
	b.buf = fs.savedBuf
	fs.phase = 1
	fs.tryStartBci = b.buf.Bci()
}

// emitHandlerCopy splices a relocated copy of the captured handler
// bytecode at the current bci. Branch targets inside the handler are
// assumed to stay within the handler's own region (a label created
// while building it cannot outlive it, per LabelOutsideDeclaringOp) so
// relocation is a flat += base shift.
func (b *Builder) emitHandlerCopy(fs *finallyState) int {
	base := b.buf.Bci()
	code := fs.handlerCode
	for i := 0; i < len(code); {
		ins := b.table.Get(bytecode.OpCode(code[i]))
		b.buf.Code = append(b.buf.Code, code[i])
		for j, imm := range ins.Immediates {
			raw := code[i+1+j]
			if ins.IsBranchLike() && imm.Kind == bytecode.ImmBytecodeIndex {
				raw += uint32(base)
			}
			b.buf.Code = append(b.buf.Code, raw)
		}
		for k := 0; k < ins.Length(); k++ {
			b.buf.BasicBlockBoundary = append(b.buf.BasicBlockBoundary, false)
		}
		b.buf.AdjustStackHeight(int(ins.StackEffect))
		i += ins.Length()
	}
	return base
}

// replayEnclosingFinallys splices one handler copy per FinallyTry
// context currently open, innermost first, used by Return and by a
// Branch that leaves its enclosing try body(ies). upTo restricts the
// replay to contexts opened no earlier than the given operation-stack
// depth (a Branch to a label inside the same FinallyTry's try body, for
// instance, must not re-run that FinallyTry's own handler).
func (b *Builder) replayEnclosingFinallys(upTo int) {
	for i := len(b.finally) - 1; i >= 0; i-- {
		fs := b.finally[i]
		if fs.phase != 1 || fs.declaringDepth < upTo {
			continue
		}
		b.emitHandlerCopy(fs)
	}
}

// EndFinallyTry closes the try body, splices the exceptional replay
// (guarded by a forward branch so normal control flow skips it) and
// registers it as the exception handler for the try region, then
// splices the fallthrough replay that runs on normal completion.
func (b *Builder) EndFinallyTry() {
	b.endFinallyTryCommon(bytecode.OpKindFinallyTry)
}

func (b *Builder) EndFinallyTryNoExcept() {
	b.endFinallyTryCommon(bytecode.OpKindFinallyTryNoExcept)
}

func (b *Builder) endFinallyTryCommon(kind bytecode.OperationKind) {
	f := b.endOp(kind)
	if f == nil {
		return
	}
	fs, ok := f.data.(*finallyState)
	if !ok {
		return
	}
	fs.tryEndBci = b.buf.Bci()
	b.finally = b.finally[:len(b.finally)-1]

	skip := b.labels.create(fs.declaringDepth)
	branchIns := b.table.Get(bytecode.OpBranch)
	branchBci := b.buf.EmitWithImmediates(branchIns, 0)
	skip.pendingPatches = append(skip.pendingPatches, branchPatch{bci: branchBci + 1, stackHeight: b.buf.CurrentStackHeight})

	excBci := b.emitHandlerCopy(fs)
	loadIns := b.table.Get(bytecode.OpLoadLocal)
	b.buf.EmitWithImmediates(loadIns, uint32(fs.exceptionLocal))
	b.buf.Emit(b.table.Get(bytecode.OpThrow))

	b.buf.AddExceptionHandler(bytecode.ExceptionHandlerEntry{
		StartBci: fs.tryStartBci, EndBci: fs.tryEndBci, HandlerBci: excBci, StartSp: fs.entryStackHeight, ExcLocalIdx: fs.exceptionLocal,
	})

	b.resolveLabelAt(skip, b.buf.Bci())
	b.emitHandlerCopy(fs)
}

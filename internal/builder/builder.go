package builder

import (
	"github.com/solalang/opcore/internal/bytecode"
)

// Builder is the facade embedding front-ends call to construct one
// RootProgram at a time (C7, spec.md §3 "Builder facade"). It owns the
// operation stack (C5), the label resolver (C4), the constant pool
// (C2), the live bytecode buffer (C3), and the nested FinallyTry
// contexts (C6). A Builder is single-root-build-at-a-time and not safe
// for concurrent use, the same discipline the teacher's Compiler
// assumed for a single compilation unit.
type Builder struct {
	table *bytecode.Table
	ops   *bytecode.OperationRegistry
	pool  *bytecode.Pool
	buf   *bytecode.Buffer

	opStack  operationStack
	labels   *labelResolver
	finally  []*finallyState
	// nextFinallySeq hands out a unique sequence number to each
	// FinallyTry as it opens (spec.md §4.5), so labels created while
	// building its handler body can be told apart from labels created
	// anywhere else once the handler is replayed at multiple bases.
	nextFinallySeq int
	sources        []string

	locals   []localSlot
	numNodes int
	numArgs  int

	errors []*Error

	rootOpen bool
}

type localSlot struct {
	name string
}

func New(table *bytecode.Table, ops *bytecode.OperationRegistry, cmp bytecode.Comparator) *Builder {
	return &Builder{
		table:  table,
		ops:    ops,
		pool:   bytecode.NewPool(cmp),
		buf:    bytecode.NewBuffer(),
		labels: newLabelResolver(),
	}
}

func (b *Builder) fail(kind ErrorKind, format string, args ...any) {
	b.errors = append(b.errors, newError(kind, b.buf.Bci(), format, args...))
}

// Errors returns every invariant violation recorded so far. A build
// whose Errors is non-empty must not have EndRoot trusted; front ends
// typically check len(Errors()) after every top-level statement so a
// mistake is reported close to its source, per spec.md §7.
func (b *Builder) Errors() []*Error { return b.errors }

// BeginRoot opens a new root build. name is purely diagnostic (shown in
// introspection and disassembly).
func (b *Builder) BeginRoot(name string, numArgs int) {
	if b.rootOpen {
		b.fail(UnexpectedOperationEnd, "BeginRoot called while a root is already open")
		return
	}
	b.rootOpen = true
	b.numArgs = numArgs
	b.locals = make([]localSlot, numArgs)
	for i := 0; i < numArgs; i++ {
		b.locals[i] = localSlot{name: "$arg"}
	}
	root := b.ops.Get(bytecode.OpKindRoot)
	b.opStack.push(root, 0)
	b.opStack.top().entryStackHeight = b.buf.CurrentStackHeight
}

// EndRoot closes the root operation and produces the finished program.
// It is an error (UnexpectedOperationEnd) to call this while any
// non-root operation remains open, and an error (UndefinedLabel) if any
// CreateLabel'd label was never emitted.
func (b *Builder) EndRoot(name string) (*bytecode.RootProgram, error) {
	if !b.rootOpen {
		return nil, newError(MissingBeginRoot, -1, "EndRoot called without a matching BeginRoot")
	}
	if b.opStack.depth() != 1 {
		return nil, newError(UnexpectedOperationEnd, b.buf.Bci(), "%d operation(s) still open at EndRoot", b.opStack.depth()-1)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if undef := b.labels.verifyAllResolved(); undef != nil {
		return nil, newError(UndefinedLabel, b.buf.Bci(), "label %d created but never emitted", undef.id)
	}

	b.opStack.pop()
	bytecode.SortHandlersInnermostFirst(b.buf.ExHandlers)
	b.pool.Freeze()

	if err := bytecode.Verify(b.buf.Code, b.table, b.buf.ExHandlers, DefaultMaxStackDepth); err != nil {
		return nil, err
	}

	prog := bytecode.NewRootProgram(name, b.buf, b.pool, len(b.locals), b.numNodes, b.numArgs)
	b.rootOpen = false
	return prog, nil
}

// DefaultMaxStackDepth bounds the operand stack checked at EndRoot.
const DefaultMaxStackDepth = bytecode.DefaultMaxStackDepth

// --- operation-stack bookkeeping shared by every Begin*/End* pair ---

func (b *Builder) beginOp(kind bytecode.OperationKind, data any) *opFrame {
	b.beforeChild()
	op := b.ops.Get(kind)
	f := b.opStack.push(op, b.opStack.depth())
	f.entryStackHeight = b.buf.CurrentStackHeight
	f.data = data
	return f
}

// endOp pops the top frame, verifies its own net stack effect matches
// its operation's IsVoid/value-producing contract, folds that result
// into its parent's childCount/value bookkeeping, and returns the
// popped frame for operation-specific finalization.
func (b *Builder) endOp(expectKind bytecode.OperationKind) *opFrame {
	top := b.opStack.top()
	if top == nil || top.op.Kind != expectKind {
		b.fail(UnexpectedOperationEnd, "End%s called without a matching Begin", expectKind)
		return nil
	}
	f := b.opStack.pop()
	delta := b.buf.CurrentStackHeight - f.entryStackHeight
	producedValue := delta == 1
	if !f.op.IsTransparent {
		if f.op.IsVoid && delta != 0 {
			b.fail(UnbalancedStack, "%s left %d value(s) on the stack, expected a void operation", f.op.Name, delta)
		} else if !f.op.IsVoid && delta != 1 {
			b.fail(UnbalancedStack, "%s left %d value(s) on the stack, expected exactly 1", f.op.Name, delta)
		}
	} else if f.op.Arity.Variadic {
		// Block/Root: whatever is still pending (never popped because no
		// further child arrived to trigger beforeChild) is the value this
		// operation forwards to its own parent, per IsTransparent.
		producedValue = f.pendingDiscard
	}

	b.childProduced(f, producedValue)
	return f
}

// beforeChild must run at the start of every construct that starts a
// brand new child rather than consuming the value the previous one just
// left - a compound Begin*, a value-producing leaf (LoadConstant,
// LoadLocal, LoadArgument, Yield), Branch, EmitLabel, or SourceSection -
// so a transparent variadic parent's still-pending discard (spec.md
// §4.4: only the last child's value survives) is popped before this
// child's own code runs. Consumers of the immediately preceding value
// (Return, Throw, StoreLocal, Pop) must NOT call this: that value is
// their own operand, not a stale sibling's leftover. A no-op unless the
// current top frame set pendingDiscard.
func (b *Builder) beforeChild() {
	parent := b.opStack.top()
	if parent == nil || !parent.pendingDiscard {
		return
	}
	parent.pendingDiscard = false
	b.buf.Emit(b.table.Get(bytecode.OpPop))
}

// Pop discards the value currently on top of the stack. It exists for a
// front end that wants an expression-statement's value dropped
// explicitly (spec.md §4.4) rather than relying on a transparent
// parent's automatic discard between children - for instance to end a
// Block on a void note despite its last child producing a value, or to
// satisfy a non-transparent parent whose next child slot is void. Unlike
// a value-producing leaf, Pop consumes whatever the immediately
// preceding statement left pending as its own operand, so it must NOT
// run beforeChild first - that value is exactly what Pop is here to
// remove, not a stale sibling's leftover to clear before starting fresh.
func (b *Builder) Pop() {
	b.buf.Emit(b.table.Get(bytecode.OpPop))
	b.childProduced(nil, false)
}

// noteLeafValue folds a leaf emit's produced-value status into whatever
// the current top frame is. Leaf emits (LoadConstant, Branch, ...) never
// carry their own operation frame, so unlike childProduced this never
// runs checkChildPolicy/childCount bookkeeping - that only applies to
// the fixed-arity compound operations that declare ChildrenMustBeValue.
// It exists solely to keep a transparent variadic parent's pending-
// discard state (Block, Root) correct across leaf statements.
func (b *Builder) noteLeafValue(producedValue bool) {
	if parent := b.opStack.top(); parent != nil {
		b.markChildProducedValue(parent, producedValue)
	}
}

// childProduced is the shared tail of every End*/leaf-operation call
// that completes a full operation-arity child: it checks the child
// against the parent's ChildrenMustBeValue/UniformChildPolicy, advances
// the parent's childCount, runs the FinallyTry handler/body transition
// hook, and updates a transparent variadic parent's discard state.
func (b *Builder) childProduced(child *opFrame, producedValue bool) {
	parent := b.opStack.top()
	if parent == nil {
		return
	}
	b.checkChildPolicy(parent, producedValue)
	parent.childCount++
	b.markChildProducedValue(parent, producedValue)
	b.onChildEnded(parent, child)
}

// markChildProducedValue defers a transparent variadic parent's (Block,
// Root) response to a value-producing child instead of popping right
// away: the value is left on the stack until it's known not to be the
// parent's own forwarded result, i.e. until a further child starts
// (beforeChild) or EndRoot/EndBlock is reached with nothing left to
// discard it.
func (b *Builder) markChildProducedValue(parent *opFrame, producedValue bool) {
	if parent.op.IsTransparent && parent.op.Arity.Variadic {
		parent.pendingDiscard = producedValue
	}
}

func (b *Builder) checkChildPolicy(parent *opFrame, producedValue bool) {
	var mustBeValue bool
	if parent.op.UniformChildPolicy != nil {
		mustBeValue = *parent.op.UniformChildPolicy
	} else if parent.childCount < len(parent.op.ChildrenMustBeValue) {
		mustBeValue = parent.op.ChildrenMustBeValue[parent.childCount]
	} else {
		return
	}
	if mustBeValue && !producedValue {
		b.fail(ValueExpected, "%s child %d must produce a value", parent.op.Name, parent.childCount)
	}
	if !mustBeValue && producedValue {
		b.fail(VoidExpected, "%s child %d must not produce a value", parent.op.Name, parent.childCount)
	}
}

// onChildEnded dispatches to the parent operation's specialized
// finalization hook. Only FinallyTry/FinallyTryNoExcept currently need
// one (transitioning from capturing the handler to building the try
// body, spec.md §4.5); every other compound operation does its
// per-child work inline in its own End* method instead.
func (b *Builder) onChildEnded(parent, child *opFrame) {
	if fs, ok := parent.data.(*finallyState); ok {
		b.finallyOnHandlerChildEnded(parent, fs)
	}
}

// --- locals ---

// CreateLocal allocates a new frame slot, returning its index. Unlike
// LoadArgument indices (fixed at BeginRoot), local indices are handed
// out in emission order, mirroring the teacher's addLocal/localCount
// bookkeeping.
func (b *Builder) CreateLocal(name string) int {
	idx := len(b.locals)
	b.locals = append(b.locals, localSlot{name: name})
	return idx
}

func (b *Builder) NumLocals() int { return len(b.locals) }

// RegisterSource records source text (for SourceSection operations and
// introspection) and returns its index in the builder's source list.
func (b *Builder) RegisterSource(text string) int {
	b.sources = append(b.sources, text)
	return len(b.sources) - 1
}

func (b *Builder) allocateNode() int {
	idx := b.numNodes
	b.numNodes++
	return idx
}

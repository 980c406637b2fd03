package dispatch

import (
	"sync/atomic"

	"github.com/solalang/opcore/internal/bytecode"
	"go.uber.org/zap"
)

// RootCallTarget binds a compiled RootProgram to the concrete tables
// and native implementations it needs to execute: spec.md §5's
// "per-root-but-not-per-call state" plus the invocation counter that
// drives the Uncached -> Cached tier transition (§4.9).
type RootCallTarget struct {
	Program      *bytecode.RootProgram
	Table        *bytecode.Table
	Quickens     *bytecode.QuickenTable
	Instructions *InstructionSet
	Hooks        *InstrumentHooks
	HotThreshold int64
	Log          *zap.Logger

	invocations atomic.Int64
	tier        atomic.Uint32
	quickener   *bytecode.Quickener
}

func NewRootCallTarget(prog *bytecode.RootProgram, table *bytecode.Table, quickens *bytecode.QuickenTable, instructions *InstructionSet) *RootCallTarget {
	return &RootCallTarget{
		Program:      prog,
		Table:        table,
		Quickens:     quickens,
		Instructions: instructions,
		HotThreshold: FunctionHotThreshold,
		Log:          zap.NewNop(),
		quickener:    bytecode.NewQuickener(quickens),
	}
}

func (rc *RootCallTarget) Tier() Tier { return Tier(rc.tier.Load()) }

// SetUncachedInterpreterThreshold changes the invocation count at which
// this target leaves the Uncached tier (spec.md §6's
// setUncachedInterpreterThreshold). Safe to call before the first Call;
// calling it after the target has already transitioned to Cached has no
// effect on the tier it is already running at.
func (rc *RootCallTarget) SetUncachedInterpreterThreshold(n int64) {
	rc.HotThreshold = n
}

// Call runs the root once with args bound to its leading locals,
// choosing a dispatch tier based on how many times this target has
// been invoked so far (spec.md §4.9).
func (rc *RootCallTarget) Call(args []bytecode.Value) (bytecode.Value, error) {
	n := rc.invocations.Add(1)
	if rc.Hooks != nil {
		return rc.runInstrumented(args)
	}
	if n >= rc.HotThreshold {
		if rc.tier.Swap(uint32(Cached)) != uint32(Cached) {
			rc.Log.Debug("tier transition", zap.String("root", rc.Program.Name), zap.Int64("invocations", n))
		}
		return rc.runCached(args)
	}
	return rc.runUncached(args)
}

// runUncached executes with no per-call caching and no quickening: the
// baseline tier every root starts in. A target that has moved to Cached
// does not return here; an Undo of a quickened site stays in Cached.
func (rc *RootCallTarget) runUncached(args []bytecode.Value) (bytecode.Value, error) {
	f := NewFrame(rc, args)
	return rc.loop(f, nil, nil, 0)
}

// runCached executes with the root's lazily-allocated CachedNode and
// BranchProfile slices live, quickening call sites whose operand kinds
// have stabilized.
func (rc *RootCallTarget) runCached(args []bytecode.Value) (bytecode.Value, error) {
	f := NewFrame(rc, args)
	nodes := rc.Program.CachedNodes()
	profiles := rc.Program.BranchProfiles()
	return rc.loop(f, nodes, profiles, 0)
}

// runInstrumented executes with Hooks invoked at every instruction
// boundary (spec.md §4.9's instrumentation tier), used by
// internal/introspect for breakpoints and single-stepping without a
// separate recompilation of the bytecode.
func (rc *RootCallTarget) runInstrumented(args []bytecode.Value) (bytecode.Value, error) {
	f := NewFrame(rc, args)
	return rc.loopInstrumented(f, 0)
}

// loop is the shared decode/execute body for the Uncached and Cached
// tiers; nodes/profiles are nil in Uncached, live in Cached. startBci
// is 0 for an ordinary Call and a captured resume bci for Resume
// re-entering after a Yield.
func (rc *RootCallTarget) loop(f *Frame, nodes, profiles []any, startBci int) (bytecode.Value, error) {
	code := rc.Program.Code
	bci := startBci

	for {
		ins := rc.Table.Get(bytecode.OpCode(code[bci]))
		result, next, err := rc.step(f, code, bci, ins, nodes, profiles)
		if err != nil {
			if guestErr, ok := err.(*GuestError); ok {
				handlerBci, handled := dispatchException(rc.Program, f, bci, guestErr.Value)
				if handled {
					bci = handlerBci
					continue
				}
			}
			return bytecode.Value{}, &UnwindError{Bci: bci, Err: err}
		}
		if next < 0 {
			return result, nil
		}
		bci = next
	}
}

func (rc *RootCallTarget) loopInstrumented(f *Frame, startBci int) (bytecode.Value, error) {
	code := rc.Program.Code
	bci := startBci

	for {
		ins := rc.Table.Get(bytecode.OpCode(code[bci]))
		rc.Hooks.Enter(bci, ins)
		result, next, err := rc.step(f, code, bci, ins, nil, nil)
		if err != nil {
			rc.Hooks.Exit(bci, ins, err)
			if guestErr, ok := err.(*GuestError); ok {
				handlerBci, handled := dispatchException(rc.Program, f, bci, guestErr.Value)
				if handled {
					bci = handlerBci
					continue
				}
			}
			return bytecode.Value{}, &UnwindError{Bci: bci, Err: err}
		}
		rc.Hooks.Leave(bci, ins)
		if next < 0 {
			return result, nil
		}
		bci = next
	}
}

// step executes exactly one instruction at bci, returning the bci to
// resume at (or -1 if the root returned) and the value returned if any.
// Shared by every tier so the three dispatch loops never disagree on
// what an instruction does, only on what bookkeeping surrounds it.
func (rc *RootCallTarget) step(f *Frame, code []uint32, bci int, ins *bytecode.Instruction, nodes, profiles []any) (bytecode.Value, int, error) {
	switch ins.Kind {
	case bytecode.KindTrap, bytecode.KindInstrumentationEnter, bytecode.KindInstrumentationExit, bytecode.KindInstrumentationLeave:
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindBranch:
		return bytecode.Value{}, int(code[bci+1]), nil

	case bytecode.KindBranchBackward:
		target := int(code[bci+1])
		if profiles != nil {
			profileAt(profiles, bci).Record(true)
		}
		return bytecode.Value{}, target, nil

	case bytecode.KindBranchFalse:
		cond := f.Pop()
		taken := !cond.IsTruthy()
		if profiles != nil {
			profileAt(profiles, bci).Record(taken)
		}
		if taken {
			return bytecode.Value{}, int(code[bci+1]), nil
		}
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindLoadConstant:
		idx := int(code[bci+1])
		f.Push(bytecode.Boxed(rc.Program.Constants[idx]))
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindLoadLocal:
		f.Push(f.Locals[code[bci+1]])
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindStoreLocal:
		f.Locals[code[bci+1]] = f.Pop()
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindLoadLocalMaterialized:
		f.Push(f.Locals[code[bci+1]])
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindStoreLocalMaterialized:
		f.Locals[code[bci+1]] = f.Pop()
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindLoadArgument:
		f.Push(f.Locals[code[bci+1]])
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindPop:
		f.Pop()
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindDup:
		f.Push(f.Top())
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindStoreNull:
		f.Locals[code[bci+1]] = bytecode.Null
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindMergeConditional, bytecode.KindMergeVariadic:
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindLoadVariadic:
		start, length := int(code[bci+1]), int(code[bci+2])
		elems := make([]bytecode.Value, length)
		copy(elems, f.Locals[start:start+length])
		f.Push(bytecode.Boxed(elems))
		return bytecode.Value{}, bci + ins.Length(), nil

	case bytecode.KindReturn:
		return f.Pop(), -1, nil

	case bytecode.KindThrow:
		return bytecode.Value{}, 0, &GuestError{Value: f.Pop()}

	case bytecode.KindYield:
		cf := &CoroutineFrame{
			Prog:        rc,
			Locals:      append([]bytecode.Value(nil), f.Locals...),
			Stack:       append([]bytecode.Value(nil), f.Stack[:f.StackHeight()]...),
			StackHeight: f.StackHeight(),
			ResumeBci:   bci + ins.Length(),
		}
		return newContinuation(cf), -1, nil

	case bytecode.KindCustom:
		n := arity(ins)
		args := f.PopN(n)
		if nodes != nil {
			node := nodeAt(nodes, nodeIndex(code, bci, ins))
			for _, a := range args {
				node.Observe(a.Kind)
			}
			rc.quicken(code, bci, node, args)
		}
		v, err := rc.Instructions.Call(bytecode.OpCode(code[bci]), args)
		if err != nil {
			return bytecode.Value{}, 0, err
		}
		if n+int(ins.StackEffect) > 0 {
			f.Push(v)
		}
		return bytecode.Value{}, bci + ins.Length(), nil

	default:
		return bytecode.Value{}, bci + ins.Length(), nil
	}
}

// quicken folds a CachedNode's type feedback into an in-place rewrite
// of code[bci] (spec.md §4.6/§8 scenario 6, "Add -> Add$ii"): once a
// call site has settled on one operand kind, Quicken CASes the generic
// opcode for the specialized one the guest registered for that kind;
// if feedback later disagrees with an already-quickened site (Poly- or
// Megamorphic), Undo CASes it back to the generic opcode so the next
// call goes through the fully general handler again. Both are no-ops
// (false, discarded) when the table has no matching entry, so this is
// safe to call on every custom-instruction dispatch regardless of
// whether that call site is quickening-eligible at all.
func (rc *RootCallTarget) quicken(code []uint32, bci int, node *CachedNode, args []bytecode.Value) {
	switch node.State() {
	case Monomorphic:
		if len(args) == 0 {
			return
		}
		rc.quickener.Quicken(code, bci, args[0].Kind)
	case Polymorphic, Megamorphic:
		rc.quickener.Undo(code, bci)
	}
}

// nodeIndex picks the CachedNode slot for a KindCustom instruction, read
// from the trailing ImmNode immediate every Custom instruction carries
// (bytecode.Table.RegisterCustom appends it automatically). This is the
// call site's own dense index, allocated once per BeginCustomSimple by
// the builder, not a proxy like bci - it is what lets RootProgram size
// CachedNodes() to exactly NumNodes slots instead of one per code word.
func nodeIndex(code []uint32, bci int, ins *bytecode.Instruction) int {
	return int(code[bci+ins.Length()-1])
}

func nodeAt(nodes []any, idx int) *CachedNode {
	if idx >= len(nodes) {
		return &CachedNode{}
	}
	n, _ := nodes[idx].(*CachedNode)
	if n == nil {
		n = &CachedNode{}
		nodes[idx] = n
	}
	return n
}

func profileAt(profiles []any, bci int) *BranchProfile {
	if bci >= len(profiles) {
		return &BranchProfile{}
	}
	p, _ := profiles[bci].(*BranchProfile)
	if p == nil {
		p = &BranchProfile{}
		profiles[bci] = p
	}
	return p
}

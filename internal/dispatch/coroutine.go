package dispatch

import "github.com/solalang/opcore/internal/bytecode"

// CoroutineFrame is the suspended state a Yield instruction captures
// (spec.md §4.7/§5 "Coroutines"): the locals and operand stack a Frame
// held at the moment of suspension, plus the bci execution resumes at.
// KindYield stores one of these into a continuation Value rather than
// returning an ordinary result; Resume unpacks it back into a live
// Frame and re-enters the dispatch loop at ResumeBci, pushing the
// resumed value as if it were Yield's own result.
type CoroutineFrame struct {
	Prog        *RootCallTarget
	Locals      []bytecode.Value
	Stack       []bytecode.Value
	StackHeight int
	ResumeBci   int
}

// newContinuation wraps a suspended CoroutineFrame as the Value a
// Yield leaves behind for its caller (spec.md §5's "returns a
// continuation value encoding the resume bci"). The wire format's
// continuation-location constant (bytecode.OpYield's ImmConstant
// immediate) identifies the yield site at build time; this token is
// the runtime object a host schedules resumption from.
func newContinuation(cf *CoroutineFrame) bytecode.Value {
	return bytecode.Boxed(cf)
}

// AsCoroutineFrame unwraps a continuation Value produced by Yield,
// for a host that wants to inspect or persist ResumeBci before handing
// it back to Resume.
func AsCoroutineFrame(v bytecode.Value) (*CoroutineFrame, bool) {
	cf, ok := v.Data.(*CoroutineFrame)
	return cf, ok
}

// Resume re-enters cf's owning RootCallTarget at the bci it yielded
// from, with resumeValue pushed as the value the original Yield
// expression evaluates to (spec.md §5's "resumption re-enters via a
// dedicated entry whose first arguments are the suspended frame and
// the resumed value"). It runs at whatever tier rc is currently in,
// same as an ordinary Call, and can itself suspend again by hitting
// another Yield.
func (rc *RootCallTarget) Resume(cf *CoroutineFrame, resumeValue bytecode.Value) (bytecode.Value, error) {
	if cf.Prog != rc {
		panic("dispatch: Resume called with a CoroutineFrame captured from a different RootCallTarget")
	}

	f := &Frame{
		Locals: cf.Locals,
		Stack:  make([]bytecode.Value, rc.Program.MaxStack+1),
		Prog:   rc,
	}
	copy(f.Stack, cf.Stack)
	f.sp = cf.StackHeight
	f.Push(resumeValue)

	if rc.Hooks != nil {
		return rc.loopInstrumented(f, cf.ResumeBci)
	}
	if rc.Tier() == Cached {
		return rc.loop(f, rc.Program.CachedNodes(), rc.Program.BranchProfiles(), cf.ResumeBci)
	}
	return rc.loop(f, nil, nil, cf.ResumeBci)
}

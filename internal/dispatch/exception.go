package dispatch

import "github.com/solalang/opcore/internal/bytecode"

// GuestError is what a custom instruction or OpThrow raises into the
// dispatch loop; it carries the boxed value the guest language's
// exception handling sees (spec.md §4.8 "Exception Dispatch").
type GuestError struct {
	Value bytecode.Value
}

func (e *GuestError) Error() string {
	if exc, ok := e.Value.Data.(*bytecode.GuestException); ok {
		return exc.Error()
	}
	return "guest exception"
}

// UnwindError wraps whatever error escaped the dispatch loop uncaught
// (no exception-handler entry covered the bci it was raised at) with
// the bci it escaped from, so a caller wrapping RootCallTarget (see
// internal/runtimeroot) can run spec.md §7's InterceptInternal/
// InterceptGuest slow paths without the loop itself needing to know
// about them.
type UnwindError struct {
	Bci int
	Err error
}

func (e *UnwindError) Error() string { return e.Err.Error() }
func (e *UnwindError) Unwrap() error { return e.Err }

// dispatchException looks up the innermost handler covering bci
// (RootProgram.ExHandlers is already sorted innermost-first by
// EndRoot), truncates the frame's operand stack to the handler's
// StartSp, stores the exception value into ExcLocalIdx, and returns the
// bci execution should resume at. ok is false when no handler covers
// bci, meaning the caller must continue unwinding past this frame.
func dispatchException(prog *bytecode.RootProgram, f *Frame, bci int, exc bytecode.Value) (int, bool) {
	handler, ok := bytecode.FindHandler(prog.ExHandlers, bci)
	if !ok {
		return 0, false
	}
	f.TruncateTo(handler.StartSp)
	if handler.ExcLocalIdx >= 0 {
		f.Locals[handler.ExcLocalIdx] = exc
	}
	return handler.HandlerBci, true
}

package runtimeroot

import (
	"errors"

	"github.com/solalang/opcore/internal/bytecode"
	"github.com/solalang/opcore/internal/dispatch"
)

// ExecutableRoot pairs a dispatch.RootCallTarget with the optional
// RootHooks a front-end passed to NewExecutableRoot. A target with nil
// Hooks behaves exactly like calling target.Call directly; Execute
// exists so a front-end that never needs hooks can skip this package
// entirely and use internal/dispatch on its own.
type ExecutableRoot struct {
	Target *dispatch.RootCallTarget
	Hooks  *RootHooks
}

// NewExecutableRoot wraps target with hooks. hooks may be nil.
func NewExecutableRoot(target *dispatch.RootCallTarget, hooks *RootHooks) *ExecutableRoot {
	return &ExecutableRoot{Target: target, Hooks: hooks}
}

// Execute runs the wrapped target once, bracketing the call with
// Prolog/Epilog and running the two intercept slow paths on an
// uncaught error (spec.md §7, SPEC_FULL.md §12). This mirrors Truffle's
// OperationRootNode.execute: Prolog/Epilog always run; the intercepts
// only run once every in-root exception handler has already had its
// chance and the exception is still propagating.
func (r *ExecutableRoot) Execute(args []bytecode.Value) (bytecode.Value, error) {
	if r.Hooks != nil && r.Hooks.Prolog != nil {
		r.Hooks.Prolog(args)
	}

	result, err := r.Target.Call(args)

	if err != nil {
		result, err = r.intercept(err)
	}

	if r.Hooks != nil && r.Hooks.Epilog != nil {
		r.Hooks.Epilog(args, result, err)
	}
	return result, err
}

// intercept runs InterceptGuest for an exception already in the guest
// hierarchy and InterceptInternal for anything else, per spec.md §7's
// "InternalException... passed through interceptInternalException
// which may convert to a GuestException" / "on a guest exception,
// interceptTruffleException... may transform it". Both are slow paths:
// they only run on an error that reached the top of the dispatch loop
// with no handler left to catch it.
func (r *ExecutableRoot) intercept(err error) (bytecode.Value, error) {
	if r.Hooks == nil {
		return bytecode.Value{}, err
	}

	var unwind *dispatch.UnwindError
	bci := -1
	cause := err
	if errors.As(err, &unwind) {
		bci = unwind.Bci
		cause = unwind.Err
	}

	var guestErr *dispatch.GuestError
	if errors.As(cause, &guestErr) {
		if r.Hooks.InterceptGuest != nil {
			return r.Hooks.InterceptGuest(guestErr.Value, bci), nil
		}
		return bytecode.Value{}, err
	}

	if r.Hooks.InterceptInternal != nil {
		if value, ok := r.Hooks.InterceptInternal(cause, bci); ok {
			return value, nil
		}
	}
	return bytecode.Value{}, err
}

// SetUncachedInterpreterThreshold forwards to the wrapped target
// (spec.md §6).
func (r *ExecutableRoot) SetUncachedInterpreterThreshold(n int64) {
	r.Target.SetUncachedInterpreterThreshold(n)
}

// CloneUninitialized builds a fresh ExecutableRoot over a
// CloneUninitialized copy of the underlying RootProgram (spec.md §6),
// sharing this root's Table/Quickens/Instructions and Hooks but
// starting with unpublished CachedNodes/BranchProfiles and a zeroed
// invocation counter, for guest closures that need independent
// specialization state per instantiation.
func (r *ExecutableRoot) CloneUninitialized() *ExecutableRoot {
	fresh := r.Target.Program.CloneUninitialized()
	target := dispatch.NewRootCallTarget(fresh, r.Target.Table, r.Target.Quickens, r.Target.Instructions)
	target.Log = r.Target.Log
	target.HotThreshold = r.Target.HotThreshold
	return &ExecutableRoot{Target: target, Hooks: r.Hooks}
}

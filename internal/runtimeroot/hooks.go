// Package runtimeroot sits above internal/dispatch and provides the
// OperationRootNode-style lifecycle contract SPEC_FULL.md §12 names:
// prolog/epilog hooks around a call, the two intercept slow paths
// spec.md §7 describes for host and guest exceptions, and the
// uncached-threshold/clone-uninitialized entry points spec.md §6 lists
// under "Runtime API". None of this changes what a bare
// dispatch.RootCallTarget does on its own; ExecutableRoot is an
// optional wrapper a front-end reaches for when it needs these hooks,
// grounded on the Truffle Operation DSL's OperationRootNode contract in
// _examples/original_source.
package runtimeroot

import "github.com/solalang/opcore/internal/bytecode"

// RootHooks holds the per-root lifecycle callbacks a front-end may
// pass to NewExecutableRoot. All fields are optional; a nil hook is a
// no-op (Prolog/Epilog) or "don't intercept, propagate as-is"
// (InterceptInternal/InterceptGuest).
type RootHooks struct {
	// Prolog runs once, before the dispatch loop starts, with the
	// locals the call was bound with. Truffle calls this
	// executeProlog: guest-language argument checks or per-call setup
	// belong here rather than duplicated into every instruction.
	Prolog func(args []bytecode.Value)

	// Epilog runs once after the dispatch loop finishes, whether it
	// returned a value or unwound with an error. It cannot change
	// result/err; it observes them the way Truffle's executeEpilog
	// observes a frame after execute() but before the caller sees it.
	Epilog func(args []bytecode.Value, result bytecode.Value, err error)

	// InterceptInternal is spec.md §7's slow path for host
	// (non-guest) exceptions: given the error the dispatch loop could
	// not route through any exception handler and the bci it escaped
	// from, it may convert the error into a guest-visible Value. ok
	// is false to let the original error propagate unchanged.
	InterceptInternal func(err error, bci int) (value bytecode.Value, ok bool)

	// InterceptGuest is spec.md §7's slow path for an already-guest
	// exception that unwound past every handler in the root: it may
	// rewrite the exception value (e.g. attach a stack trace) before
	// it is returned to the caller of Execute.
	InterceptGuest func(exc bytecode.Value, bci int) bytecode.Value
}

package bytecode

import "sync/atomic"

// RootProgram is the immutable artifact EndRoot produces (spec.md §3's
// "RootProgram" record): the frozen bytecode array, the frozen constant
// pool, the sorted exception-handler table, and enough shape
// information (NumLocals, NumNodes) for internal/dispatch to allocate a
// fresh Frame per call without consulting the builder again.
//
// cachedNodes and branchProfiles are allocated lazily on first
// execution at the Cached tier (spec.md §5 "Per-root-but-not-per-call
// state... allocated lazily, release-fenced on publish, acquire-loaded
// on read"), so a root that never leaves the Uncached tier never pays
// for them.
type RootProgram struct {
	Name string

	Code       []uint32
	Constants  []any
	ExHandlers []ExceptionHandlerEntry
	SourceInfo []SourceInfoEntry

	NumLocals   int
	NumNodes    int
	MaxStack    int
	NumArgs     int

	Debug *DebugInfo

	// cachedNodes holds one *CachedNode slot per Node-carrying
	// instruction (indexed by the instruction's node index immediate),
	// published with a release store the first time the Cached tier
	// executes this root.
	cachedNodes atomic.Pointer[[]any]
	// branchProfiles holds one slot per code word, indexed by the bci of
	// the BranchFalse or BranchBackward instruction whose *BranchProfile
	// it holds, same lazy-publish discipline.
	branchProfiles atomic.Pointer[[]any]
}

func NewRootProgram(name string, buf *Buffer, pool *Pool, numLocals, numNodes, numArgs int) *RootProgram {
	return &RootProgram{
		Name:        name,
		Code:        append([]uint32(nil), buf.Code...),
		Constants:   pool.Snapshot(),
		ExHandlers:  append([]ExceptionHandlerEntry(nil), buf.ExHandlers...),
		SourceInfo:  append([]SourceInfoEntry(nil), buf.SourceInfo...),
		NumLocals:   numLocals,
		NumNodes:    numNodes,
		NumArgs:     numArgs,
		MaxStack:    buf.MaxStackHeight,
	}
}

// CachedNodes returns the lazily-allocated per-root cached-node slice,
// allocating and publishing it on first call. Safe for concurrent use
// by multiple call-target invocations racing to reach the Cached tier
// for the first time; exactly one allocation wins, the rest observe it.
func (p *RootProgram) CachedNodes() []any {
	if existing := p.cachedNodes.Load(); existing != nil {
		return *existing
	}
	fresh := make([]any, p.NumNodes)
	p.cachedNodes.CompareAndSwap(nil, &fresh)
	return *p.cachedNodes.Load()
}

func (p *RootProgram) BranchProfiles() []any {
	if existing := p.branchProfiles.Load(); existing != nil {
		return *existing
	}
	fresh := make([]any, len(p.Code))
	p.branchProfiles.CompareAndSwap(nil, &fresh)
	return *p.branchProfiles.Load()
}

// CloneUninitialized returns a RootProgram with its own copy of Code
// (including any opcodes already quickened in place, so later in-place
// rewrites of one program do not reach the other) that shares the
// Constants/ExHandlers/SourceInfo arrays and starts with fresh,
// unpublished per-root caches.
func (p *RootProgram) CloneUninitialized() *RootProgram {
	return &RootProgram{
		Name:       p.Name,
		Code:       append([]uint32(nil), p.Code...),
		Constants:  p.Constants,
		ExHandlers: p.ExHandlers,
		SourceInfo: p.SourceInfo,
		NumLocals:  p.NumLocals,
		NumNodes:   p.NumNodes,
		NumArgs:    p.NumArgs,
		MaxStack:   p.MaxStack,
		Debug:      p.Debug,
	}
}

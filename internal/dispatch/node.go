package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/solalang/opcore/internal/bytecode"
)

// SpecializationState classifies a CachedNode's type feedback, the
// same Uninitialized/Monomorphic/Polymorphic/Megamorphic progression
// the teacher's InlineCache used for method dispatch, generalized here
// to any type-specializing custom instruction (spec.md §4.6).
type SpecializationState byte

const (
	Uninitialized SpecializationState = iota
	Monomorphic
	Polymorphic
	Megamorphic
)

// MaxPolymorphicEntries bounds how many distinct operand-kind profiles
// a CachedNode tracks before giving up and going Megamorphic (at which
// point the cached tier falls back to the fully generic handler for
// that instruction rather than growing the cache unboundedly).
const MaxPolymorphicEntries = 4

// CachedNode is the per-instruction-site, per-root cached data the
// Cached tier allocates lazily (RootProgram.CachedNodes, spec.md §5).
// It tracks which SlotKind combinations this call site has observed so
// the quickening rewriter knows when a specialization still holds and
// when it must deoptimize. spec.md §5 requires the execution phase to
// stay safe under concurrent Call()s against one RootProgram, and two
// goroutines can legitimately race on the same call site's node (that
// is the whole point of publishing it per-root rather than per-call),
// so state/kind updates go through mu the same way instrument.go's
// BreakpointManager guards its own per-root shared maps; Hits/Misses
// are plain counters and use atomic.Int64 instead, mirroring
// InstrumentHooks.seq.
type CachedNode struct {
	mu     sync.Mutex
	state  SpecializationState
	kinds  []bytecode.SlotKind
	hits   atomic.Int64
	misses atomic.Int64
}

// Observe folds one more observed operand kind into the node's
// specialization state, mirroring the teacher's InlineCache.Update.
func (n *CachedNode) Observe(kind bytecode.SlotKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			n.hits.Add(1)
			return
		}
	}
	n.misses.Add(1)
	switch n.state {
	case Uninitialized:
		n.state = Monomorphic
		n.kinds = append(n.kinds, kind)
	case Monomorphic:
		n.state = Polymorphic
		n.kinds = append(n.kinds, kind)
	case Polymorphic:
		if len(n.kinds) >= MaxPolymorphicEntries {
			n.state = Megamorphic
			n.kinds = nil
			return
		}
		n.kinds = append(n.kinds, kind)
	}
}

// State returns the node's current specialization state, safe to call
// while another goroutine is inside Observe for the same call site.
func (n *CachedNode) State() SpecializationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *CachedNode) Hits() int64   { return n.hits.Load() }
func (n *CachedNode) Misses() int64 { return n.misses.Load() }

// BranchProfile is the per-BranchFalse-site execution count the
// Cached tier consults to decide whether a branch is worth biasing
// (spec.md §4.9's branch profiling, generalizing the teacher's
// LoopProfile to every conditional branch, not just backedges). Plain
// atomic counters, same reasoning as CachedNode.Hits/Misses: concurrent
// Call()s against the same root can race on the same branch site.
type BranchProfile struct {
	takenCount    atomic.Int64
	notTakenCount atomic.Int64
}

func (p *BranchProfile) Record(taken bool) {
	if taken {
		p.takenCount.Add(1)
	} else {
		p.notTakenCount.Add(1)
	}
}

func (p *BranchProfile) TakenCount() int64    { return p.takenCount.Load() }
func (p *BranchProfile) NotTakenCount() int64 { return p.notTakenCount.Load() }

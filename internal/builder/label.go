package builder

// Label is the handle CreateLabel hands back (spec.md §3 "Label"
// record, §4.4 "Label & Branch Resolver"). A label belongs to the
// operation that was open when it was created (declaringOpDepth); it
// is illegal to EmitLabel it from inside a different, unrelated
// operation (LabelOutsideDeclaringOp), and illegal for a Branch anywhere
// outside its declaring operation's subtree to target it
// (InvalidBranchTarget, or CrossHandlerBranch when the Branch and the
// label sit on different sides of a finally-handler boundary).
type Label struct {
	id               int
	declaringOpDepth int
	resolved         bool
	bci              int
	// handlerSeq is the FinallyTry sequence number active when this
	// label was created (-1 if none was under construction). A Branch
	// whose own currentHandlerSeq disagrees fails with CrossHandlerBranch
	// rather than patching a scratch-relative bci into the live buffer
	// once the handler is replayed at a different base (spec.md §4.5).
	handlerSeq int
	// stackHeight is the operand-stack height recorded when this label
	// was resolved; every branchPatch's own stackHeight must agree with
	// it (spec.md §4.3's registerUnresolvedBranch(label, bci,
	// stackHeight)) or the build raises UnbalancedBranch - two paths
	// merging at the same bci with different stack depths means the
	// program isn't stack-typable regardless of which path is taken.
	stackHeight int
	// pendingPatches lists every Branch that targeted this label before
	// it was resolved, recording both the immediate-word bci to patch
	// and the operand-stack height at the point the branch was emitted.
	pendingPatches []branchPatch
}

// branchPatch is one forward reference to a not-yet-resolved label.
type branchPatch struct {
	bci         int
	stackHeight int
}

// labelResolver owns every label created during a single EndRoot/
// BeginRoot build (spec.md §4.4). It never looks inside FinallyContext
// snapshots directly; beginFinallyTry/endFinallyTry coordinate with it
// through the Builder's own opStack bookkeeping instead.
type labelResolver struct {
	labels []*Label
	nextID int
}

func newLabelResolver() *labelResolver {
	return &labelResolver{}
}

// create allocates an internal, builder-generated label (the else/exit/
// skip/end labels ops_controlflow.go and finally.go create for their own
// bookkeeping). These are always resolved from inside the same
// Begin/End pair that created them, never reachable from a different
// FinallyTry handler capture, so they carry the sentinel handlerSeq -1
// and skip the CrossHandlerBranch check entirely.
func (r *labelResolver) create(declaringOpDepth int) *Label {
	return r.createWithHandlerSeq(declaringOpDepth, -1)
}

// createWithHandlerSeq is CreateLabel's backing call: handlerSeq
// captures which FinallyTry handler (if any) was under construction
// when a front-end-visible label was created.
func (r *labelResolver) createWithHandlerSeq(declaringOpDepth, handlerSeq int) *Label {
	l := &Label{id: r.nextID, declaringOpDepth: declaringOpDepth, bci: -1, handlerSeq: handlerSeq}
	r.nextID++
	r.labels = append(r.labels, l)
	return l
}

// verifyAllResolved returns the first label that was created but never
// emitted, the UndefinedLabel condition spec.md §7 calls for at EndRoot.
func (r *labelResolver) verifyAllResolved() *Label {
	for _, l := range r.labels {
		if !l.resolved {
			return l
		}
	}
	return nil
}

package bytecode

// QuickenTable is the O(1) lookup the cached dispatch tier consults to
// turn a generic instruction ID plus an observed SlotKind profile into
// its specialized quickened ID (spec.md §4.6 "Quickening"), the same
// shape the teacher's VTable gives interface dispatch: a dense index
// computed once at registration time rather than scanned per call.
type QuickenTable struct {
	// bySpecialization maps (base instruction ID, operand SlotKind) to
	// the quickened instruction's ID.
	bySpecialization map[quickenKey]OpCode
	// generalizationOf maps a quickened instruction's ID back to its
	// base (generic) instruction ID, consulted by undoQuickening.
	generalizationOf map[OpCode]OpCode
}

type quickenKey struct {
	base OpCode
	kind SlotKind
}

func NewQuickenTable() *QuickenTable {
	return &QuickenTable{
		bySpecialization: make(map[quickenKey]OpCode),
		generalizationOf: make(map[OpCode]OpCode),
	}
}

// Register associates the quickened instruction quick with base when
// the operand observed is of the given kind. Called once per
// RegisterQuickening at table-construction time (spec.md §9
// "Quickening families are closed, declared ahead of time").
func (qt *QuickenTable) Register(base OpCode, kind SlotKind, quick OpCode) {
	qt.bySpecialization[quickenKey{base, kind}] = quick
	qt.generalizationOf[quick] = base
}

// Lookup returns the quickened instruction for base specialized to
// kind, and whether one was registered.
func (qt *QuickenTable) Lookup(base OpCode, kind SlotKind) (OpCode, bool) {
	q, ok := qt.bySpecialization[quickenKey{base, kind}]
	return q, ok
}

// BaseOf returns the generic instruction a quickened opcode specializes,
// used by undoQuickening to widen a slot back to Generic.
func (qt *QuickenTable) BaseOf(quick OpCode) (OpCode, bool) {
	b, ok := qt.generalizationOf[quick]
	return b, ok
}

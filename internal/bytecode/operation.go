package bytecode

// OperationKind enumerates every operation the builder facade exposes,
// per spec.md §3's "Operation" record.
type OperationKind byte

const (
	OpKindRoot OperationKind = iota
	OpKindBlock
	OpKindIfThen
	OpKindIfThenElse
	OpKindConditional
	OpKindWhile
	OpKindTryCatch
	OpKindFinallyTry
	OpKindFinallyTryNoExcept
	OpKindReturn
	OpKindThrow
	OpKindLabel
	OpKindBranch
	OpKindLoadLocal
	OpKindStoreLocal
	OpKindLoadLocalMaterialized
	OpKindStoreLocalMaterialized
	OpKindLoadArgument
	OpKindLoadConstant
	OpKindYield
	OpKindSource
	OpKindSourceSection
	OpKindInstrumentTag
	OpKindCustomSimple
	OpKindCustomShortCircuit
)

func (k OperationKind) String() string {
	names := [...]string{
		"Root", "Block", "IfThen", "IfThenElse", "Conditional", "While",
		"TryCatch", "FinallyTry", "FinallyTryNoExcept", "Return", "Throw", "Label",
		"Branch", "LoadLocal", "StoreLocal", "LoadLocalMaterialized",
		"StoreLocalMaterialized", "LoadArgument", "LoadConstant", "Yield",
		"Source", "SourceSection", "InstrumentTag", "CustomSimple",
		"CustomShortCircuit",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Arity describes how many children an operation expects.
type Arity struct {
	// Fixed is the exact child count for non-variadic operations.
	Fixed int
	// Variadic is true when the operation accepts `Fixed` or more
	// children (e.g. Block, Root, variadic custom operations).
	Variadic bool
}

// Operation is the declarative, immutable descriptor for one operation
// kind: spec.md §3's "Operation" record. Built-in operations are
// constants; CustomSimple/CustomShortCircuit operations are registered
// per guest language through OperationRegistry.RegisterCustom/
// RegisterCustomShortCircuit.
type Operation struct {
	ID   int
	Name string
	Kind OperationKind

	Arity Arity
	// ChildrenMustBeValue[i] is consulted for i < len(); operations with
	// a uniform policy across all children (or with variadic children
	// that all share one policy) use UniformChildPolicy instead and
	// leave this nil.
	ChildrenMustBeValue []bool
	UniformChildPolicy  *bool

	// IsTransparent operations forward the value produced by a
	// designated child as their own produced value (e.g. Block forwards
	// its last value-producing child).
	IsTransparent bool
	// IsVoid operations never leave a value on the stack.
	IsVoid bool

	// Instruction is the single instruction this operation lowers to
	// when it is a simple emit (e.g. LoadLocal -> OpLoadLocal). Compound
	// operations (IfThenElse, While, ...) leave this nil; their lowering
	// is hand-written in internal/builder's control-flow state machines.
	Instruction *Instruction
}

// OperationRegistry holds the operation descriptors a Builder is
// constructed with: the built-ins plus any CustomSimple/CustomShortCircuit
// operations the guest language registered.
type OperationRegistry struct {
	byKind map[OperationKind]*Operation
	custom map[int]*Operation
	nextID int
}

func NewOperationRegistry() *OperationRegistry {
	r := &OperationRegistry{byKind: make(map[OperationKind]*Operation), custom: make(map[int]*Operation), nextID: 1000}
	for _, op := range builtinOperations() {
		r.byKind[op.Kind] = op
	}
	return r
}

func (r *OperationRegistry) Get(kind OperationKind) *Operation {
	return r.byKind[kind]
}

func (r *OperationRegistry) GetCustom(id int) *Operation {
	return r.custom[id]
}

// RegisterCustom declares a new CustomSimple operation backed by the
// given instruction (already registered in a Table via
// RegisterCustom/RegisterQuickening) and returns it.
func (r *OperationRegistry) RegisterCustom(name string, arity Arity, isVoid bool, ins *Instruction) *Operation {
	op := &Operation{
		ID:          r.nextID,
		Name:        name,
		Kind:        OpKindCustomSimple,
		Arity:       arity,
		IsVoid:      isVoid,
		Instruction: ins,
	}
	r.nextID++
	r.custom[op.ID] = op
	return op
}

// RegisterCustomShortCircuit declares a new CustomShortCircuit operation
// (guest And/Or-like short-circuiting forms). Unlike CustomSimple it has
// no backing Instruction: BeginCustomShortCircuit lowers each child to
// Dup/BranchFalse/Branch/Pop directly rather than emitting a single
// opcode, since which children even run depends on the truth value seen
// at each step. It always produces a value (the winning child's) and is
// never void.
func (r *OperationRegistry) RegisterCustomShortCircuit(name string, arity Arity) *Operation {
	op := &Operation{
		ID:    r.nextID,
		Name:  name,
		Kind:  OpKindCustomShortCircuit,
		Arity: arity,
	}
	r.nextID++
	r.custom[op.ID] = op
	return op
}

func boolPtr(b bool) *bool { return &b }

func builtinOperations() []*Operation {
	return []*Operation{
		{Kind: OpKindRoot, Name: "Root", Arity: Arity{Fixed: 0, Variadic: true}, IsTransparent: true},
		{Kind: OpKindBlock, Name: "Block", Arity: Arity{Fixed: 0, Variadic: true}, IsTransparent: true},
		{Kind: OpKindIfThen, Name: "IfThen", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{true, false}},
		{Kind: OpKindIfThenElse, Name: "IfThenElse", Arity: Arity{Fixed: 3}, IsVoid: true,
			ChildrenMustBeValue: []bool{true, false, false}},
		{Kind: OpKindConditional, Name: "Conditional", Arity: Arity{Fixed: 3},
			ChildrenMustBeValue: []bool{true, true, true}},
		{Kind: OpKindWhile, Name: "While", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{true, false}},
		{Kind: OpKindTryCatch, Name: "TryCatch", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{false, false}},
		{Kind: OpKindFinallyTry, Name: "FinallyTry", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{false, false}},
		{Kind: OpKindFinallyTryNoExcept, Name: "FinallyTryNoExcept", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{false, false}},
		{Kind: OpKindReturn, Name: "Return", Arity: Arity{Fixed: 1}, IsVoid: true,
			ChildrenMustBeValue: []bool{true}},
		{Kind: OpKindThrow, Name: "Throw", Arity: Arity{Fixed: 1}, IsVoid: true,
			ChildrenMustBeValue: []bool{true}, Instruction: &Instruction{ID: OpThrow, Kind: KindThrow}},
		{Kind: OpKindLabel, Name: "Label", Arity: Arity{Fixed: 0}, IsVoid: true},
		{Kind: OpKindBranch, Name: "Branch", Arity: Arity{Fixed: 0}, IsVoid: true},
		{Kind: OpKindLoadLocal, Name: "LoadLocal", Arity: Arity{Fixed: 0}, Instruction: &Instruction{ID: OpLoadLocal, Kind: KindLoadLocal}},
		{Kind: OpKindStoreLocal, Name: "StoreLocal", Arity: Arity{Fixed: 1}, IsVoid: true,
			ChildrenMustBeValue: []bool{true}, Instruction: &Instruction{ID: OpStoreLocal, Kind: KindStoreLocal}},
		{Kind: OpKindLoadLocalMaterialized, Name: "LoadLocalMaterialized", Arity: Arity{Fixed: 1},
			ChildrenMustBeValue: []bool{true}, Instruction: &Instruction{ID: OpLoadLocalMaterialized, Kind: KindLoadLocalMaterialized}},
		{Kind: OpKindStoreLocalMaterialized, Name: "StoreLocalMaterialized", Arity: Arity{Fixed: 2}, IsVoid: true,
			ChildrenMustBeValue: []bool{true, true}, Instruction: &Instruction{ID: OpStoreLocalMaterialized, Kind: KindStoreLocalMaterialized}},
		{Kind: OpKindLoadArgument, Name: "LoadArgument", Arity: Arity{Fixed: 0}, Instruction: &Instruction{ID: OpLoadArgument, Kind: KindLoadArgument}},
		{Kind: OpKindLoadConstant, Name: "LoadConstant", Arity: Arity{Fixed: 0}, Instruction: &Instruction{ID: OpLoadConstant, Kind: KindLoadConstant}},
		{Kind: OpKindYield, Name: "Yield", Arity: Arity{Fixed: 1},
			ChildrenMustBeValue: []bool{true}, Instruction: &Instruction{ID: OpYield, Kind: KindYield}},
		{Kind: OpKindSource, Name: "Source", Arity: Arity{Fixed: 0}, IsVoid: true},
		{Kind: OpKindSourceSection, Name: "SourceSection", Arity: Arity{Fixed: 0}, IsVoid: true},
		{Kind: OpKindInstrumentTag, Name: "InstrumentTag", Arity: Arity{Fixed: 1}, IsTransparent: true,
			UniformChildPolicy: boolPtr(false)},
	}
}

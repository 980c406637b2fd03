// Package bytecode implements the data model the rest of opcore is built
// on: instruction descriptors, the constant pool, the growable bytecode
// buffer with its parallel arrays, the exception-handler table and the
// frozen RootProgram produced by Builder.EndRoot.
//
// Nothing in this package knows how to drive a front-end through
// begin/end/emit calls (that is internal/builder) and nothing here runs
// a dispatch loop (that is internal/dispatch). This package only owns
// the immutable-after-freeze shapes both of those packages share.
package bytecode

import "fmt"

// OpCode identifies an instruction. Instructions are stored as 32-bit
// words rather than the 16-bit words the wire format (see internal/wire)
// uses on disk, because quickening (internal/bytecode/quicken.go) rewrites
// opcodes in place while other goroutines may be reading the same slot;
// Go has no portable atomic access to a 16-bit word, so the bytecode
// buffer widens the in-memory word to 32 bits and stores atomically
// there, narrowing back to 16 bits only at serialize time.
type OpCode uint16

// Kind classifies an instruction the way the instruction table needs to
// in order to decide immediate layout, stack effect and quickening
// eligibility. This is the enumeration from the data model's Instruction
// descriptor.
type Kind byte

const (
	KindBranch Kind = iota
	KindBranchBackward
	KindBranchFalse
	KindLoadConstant
	KindLoadLocal
	KindStoreLocal
	KindLoadLocalMaterialized
	KindStoreLocalMaterialized
	KindLoadArgument
	KindPop
	KindDup
	KindReturn
	KindThrow
	KindYield
	KindTrap
	KindMergeConditional
	KindStoreNull
	KindLoadVariadic
	KindMergeVariadic
	KindCustom
	KindInstrumentationEnter
	KindInstrumentationExit
	KindInstrumentationLeave
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "Branch"
	case KindBranchBackward:
		return "BranchBackward"
	case KindBranchFalse:
		return "BranchFalse"
	case KindLoadConstant:
		return "LoadConstant"
	case KindLoadLocal:
		return "LoadLocal"
	case KindStoreLocal:
		return "StoreLocal"
	case KindLoadLocalMaterialized:
		return "LoadLocalMaterialized"
	case KindStoreLocalMaterialized:
		return "StoreLocalMaterialized"
	case KindLoadArgument:
		return "LoadArgument"
	case KindPop:
		return "Pop"
	case KindDup:
		return "Dup"
	case KindReturn:
		return "Return"
	case KindThrow:
		return "Throw"
	case KindYield:
		return "Yield"
	case KindTrap:
		return "Trap"
	case KindMergeConditional:
		return "MergeConditional"
	case KindStoreNull:
		return "StoreNull"
	case KindLoadVariadic:
		return "LoadVariadic"
	case KindMergeVariadic:
		return "MergeVariadic"
	case KindCustom:
		return "Custom"
	case KindInstrumentationEnter:
		return "InstrumentationEnter"
	case KindInstrumentationExit:
		return "InstrumentationExit"
	case KindInstrumentationLeave:
		return "InstrumentationLeave"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// ImmediateKind classifies one immediate operand stored adjacent to an
// opcode in the bytecode stream.
type ImmediateKind byte

const (
	ImmBytecodeIndex ImmediateKind = iota
	ImmInteger
	ImmConstant
	ImmLocalSetter
	ImmLocalSetterRangeStart
	ImmLocalSetterRangeLength
	ImmNode
	ImmProfile
)

// Immediate describes one fixed-size word stored after an opcode.
type Immediate struct {
	Kind ImmediateKind
	Name string
}

// StackEffect is the signed change in operand-stack height an instruction
// causes. Custom instructions take the effect passed to
// Table.RegisterCustom instead of a fixed built-in constant.
type StackEffect int

const (
	EffectMinus2 StackEffect = -2
	EffectMinus1 StackEffect = -1
	EffectZero   StackEffect = 0
	EffectPlus1  StackEffect = 1
)

// Instruction is the immutable descriptor for one opcode: spec.md §3's
// "Instruction" record. The global instruction table (see Table below)
// is a constant of this program, not something generated at build time.
type Instruction struct {
	ID          OpCode
	Name        string
	Kind        Kind
	Immediates  []Immediate
	StackEffect StackEffect

	// QuickeningBase is the generic opcode this one is a quickening of.
	// HasBase is false when this instruction is itself a base (or never
	// quickens at all).
	QuickeningBase OpCode
	HasBase        bool

	// QuickenedSet lists every opcode this instruction can be rewritten
	// to by applyQuickening_T. Empty for instructions with no
	// quickenings.
	QuickenedSet []OpCode

	// ReturnType and OperandTypes describe the specialized types used
	// for boxing elimination; empty when the instruction is untyped
	// (operates on boxed Values only).
	ReturnType   string
	OperandTypes []string
}

// Length returns the instruction's length in 16-bit words: 1 (opcode) +
// one word per immediate, per spec.md §3.
func (ins *Instruction) Length() int {
	return 1 + len(ins.Immediates)
}

// IsBranchLike reports whether the instruction carries a branch-target
// BytecodeIndex immediate that the label resolver and finally-handler
// replay logic (internal/builder) need to patch.
func (ins *Instruction) IsBranchLike() bool {
	switch ins.Kind {
	case KindBranch, KindBranchBackward, KindBranchFalse, KindYield:
		return true
	default:
		return false
	}
}

const (
	OpNop OpCode = iota

	OpBranch
	OpBranchBackward
	OpBranchFalse

	OpLoadConstant
	OpLoadLocal
	OpStoreLocal
	OpLoadLocalMaterialized
	OpStoreLocalMaterialized
	OpLoadArgument

	OpPop
	OpDup
	OpReturn
	OpThrow
	OpYield
	OpTrap
	OpMergeConditional
	OpStoreNull
	OpLoadVariadic
	OpMergeVariadic

	OpInstrumentationEnter
	OpInstrumentationExit
	OpInstrumentationLeave

	// FirstCustomOpcode is the first opcode id made available to
	// dynamically registered Custom instructions and their quickenings
	// (see Table.RegisterCustom). Guest languages can register as many
	// custom opcodes as fit before the wire format's opcode space runs
	// out. CustomShortCircuit operations (internal/bytecode's
	// OpKindCustomShortCircuit) have no instruction of their own: And/Or
	// lower to Dup/BranchFalse/Branch/Pop around each child instead of a
	// single opcode, so there is nothing for one to back.
	FirstCustomOpcode
)

// Table is the read-only, process-wide instruction descriptor table.
// It is populated once at construction with the built-in instructions;
// RegisterCustom extends it for guest-supplied Custom instructions and
// their quickening families.
type Table struct {
	byID map[OpCode]*Instruction
	next OpCode
}

// NewTable constructs a table pre-populated with every built-in
// instruction from spec.md §3.
func NewTable() *Table {
	t := &Table{byID: make(map[OpCode]*Instruction), next: FirstCustomOpcode}
	for _, ins := range builtins() {
		t.byID[ins.ID] = ins
	}
	return t
}

func (t *Table) Get(id OpCode) *Instruction {
	return t.byID[id]
}

// RegisterCustom adds a new Custom instruction to the table and returns
// the opcode id assigned to it. stackEffect is the instruction's
// declared signature effect (spec.md §3: "derived from signature for
// custom"). Every Custom instruction gets one trailing ImmNode immediate
// appended automatically, whatever immediates the caller asked for: this
// is the CachedNode slot index the Cached tier keys type feedback off
// (spec.md §5), and every KindCustom instruction needs exactly one no
// matter what other operands it carries.
func (t *Table) RegisterCustom(name string, stackEffect StackEffect, immediates []Immediate) OpCode {
	id := t.next
	t.next++
	full := append(append([]Immediate(nil), immediates...), imm(ImmNode, "node"))
	t.byID[id] = &Instruction{
		ID:          id,
		Name:        name,
		Kind:        KindCustom,
		Immediates:  full,
		StackEffect: stackEffect,
	}
	return id
}

// RegisterQuickening registers `quickened` as a sound refinement of
// `base`: applying the quickened opcode on an operand for which its
// guard holds must produce the same observable effect as the base
// opcode (spec.md §8, "Quickening soundness"). The base instruction must
// already be registered.
func (t *Table) RegisterQuickening(base OpCode, quickened *Instruction) {
	baseIns, ok := t.byID[base]
	if !ok {
		panic(fmt.Sprintf("bytecode: RegisterQuickening: unknown base opcode %d", base))
	}
	quickened.HasBase = true
	quickened.QuickeningBase = base
	t.byID[quickened.ID] = quickened
	baseIns.QuickenedSet = append(baseIns.QuickenedSet, quickened.ID)
}

func imm(kind ImmediateKind, name string) Immediate { return Immediate{Kind: kind, Name: name} }

func builtins() []*Instruction {
	return []*Instruction{
		{ID: OpNop, Name: "nop", Kind: KindTrap, StackEffect: EffectZero},
		{ID: OpBranch, Name: "branch", Kind: KindBranch, StackEffect: EffectZero,
			Immediates: []Immediate{imm(ImmBytecodeIndex, "target")}},
		{ID: OpBranchBackward, Name: "branch.backward", Kind: KindBranchBackward, StackEffect: EffectZero,
			Immediates: []Immediate{imm(ImmBytecodeIndex, "target"), imm(ImmProfile, "loopProfile")}},
		{ID: OpBranchFalse, Name: "branch.false", Kind: KindBranchFalse, StackEffect: EffectMinus1,
			Immediates: []Immediate{imm(ImmBytecodeIndex, "target"), imm(ImmProfile, "profile")}},
		{ID: OpLoadConstant, Name: "load.constant", Kind: KindLoadConstant, StackEffect: EffectPlus1,
			Immediates: []Immediate{imm(ImmConstant, "constant")}},
		{ID: OpLoadLocal, Name: "load.local", Kind: KindLoadLocal, StackEffect: EffectPlus1,
			Immediates: []Immediate{imm(ImmInteger, "local")}},
		{ID: OpStoreLocal, Name: "store.local", Kind: KindStoreLocal, StackEffect: EffectMinus1,
			Immediates: []Immediate{imm(ImmInteger, "local")}},
		{ID: OpLoadLocalMaterialized, Name: "load.local.mat", Kind: KindLoadLocalMaterialized, StackEffect: EffectZero,
			Immediates: []Immediate{imm(ImmInteger, "local")}},
		{ID: OpStoreLocalMaterialized, Name: "store.local.mat", Kind: KindStoreLocalMaterialized, StackEffect: EffectMinus1,
			Immediates: []Immediate{imm(ImmInteger, "local")}},
		{ID: OpLoadArgument, Name: "load.argument", Kind: KindLoadArgument, StackEffect: EffectPlus1,
			Immediates: []Immediate{imm(ImmInteger, "index")}},
		{ID: OpPop, Name: "pop", Kind: KindPop, StackEffect: EffectMinus1},
		{ID: OpDup, Name: "dup", Kind: KindDup, StackEffect: EffectPlus1},
		{ID: OpReturn, Name: "return", Kind: KindReturn, StackEffect: EffectMinus1},
		{ID: OpThrow, Name: "throw", Kind: KindThrow, StackEffect: EffectMinus1},
		{ID: OpYield, Name: "yield", Kind: KindYield, StackEffect: EffectPlus1,
			Immediates: []Immediate{imm(ImmConstant, "continuation")}},
		{ID: OpTrap, Name: "trap", Kind: KindTrap, StackEffect: EffectZero},
		{ID: OpMergeConditional, Name: "merge.conditional", Kind: KindMergeConditional, StackEffect: EffectZero},
		{ID: OpStoreNull, Name: "store.null", Kind: KindStoreNull, StackEffect: EffectZero,
			Immediates: []Immediate{imm(ImmInteger, "local")}},
		{ID: OpLoadVariadic, Name: "load.variadic", Kind: KindLoadVariadic, StackEffect: EffectPlus1,
			Immediates: []Immediate{imm(ImmLocalSetterRangeStart, "start"), imm(ImmLocalSetterRangeLength, "length")}},
		{ID: OpMergeVariadic, Name: "merge.variadic", Kind: KindMergeVariadic, StackEffect: EffectZero},
		{ID: OpInstrumentationEnter, Name: "instr.enter", Kind: KindInstrumentationEnter, StackEffect: EffectZero},
		{ID: OpInstrumentationExit, Name: "instr.exit", Kind: KindInstrumentationExit, StackEffect: EffectZero},
		{ID: OpInstrumentationLeave, Name: "instr.leave", Kind: KindInstrumentationLeave, StackEffect: EffectZero},
	}
}

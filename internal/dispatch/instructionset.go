package dispatch

import "github.com/solalang/opcore/internal/bytecode"

// NativeFunc is the actual semantics a guest language supplies for one
// CustomSimple instruction (spec.md §1's "Custom instructions backed by
// Go functions the guest registers"). It receives exactly as many
// operands as the instruction's OperandTypes declares, or one operand
// when it declares none (see arity).
type NativeFunc func(args []bytecode.Value) (bytecode.Value, error)

// InstructionSet is the runtime counterpart to
// bytecode.OperationRegistry.RegisterCustom: where that call declares
// the shape of a custom instruction at build time, Register here
// supplies what it actually does at execution time. Kept separate so a
// RootProgram can be built once and executed by interpreters wired to
// different native implementations (e.g. a pure-Go reference set vs an
// instrumented/logging set used in tests).
type InstructionSet struct {
	funcs map[bytecode.OpCode]NativeFunc
}

func NewInstructionSet() *InstructionSet {
	return &InstructionSet{funcs: make(map[bytecode.OpCode]NativeFunc)}
}

func (is *InstructionSet) Register(id bytecode.OpCode, fn NativeFunc) {
	is.funcs[id] = fn
}

func (is *InstructionSet) Call(id bytecode.OpCode, args []bytecode.Value) (bytecode.Value, error) {
	fn, ok := is.funcs[id]
	if !ok {
		return bytecode.Value{}, &UnregisteredInstructionError{ID: id}
	}
	return fn(args)
}

type UnregisteredInstructionError struct {
	ID bytecode.OpCode
}

func (e *UnregisteredInstructionError) Error() string {
	return "dispatch: no native implementation registered for custom instruction"
}

// arity returns how many operands a custom instruction's native
// function expects: the length of its declared OperandTypes, or 1 if
// none were declared (the common case of a unary custom instruction).
func arity(ins *bytecode.Instruction) int {
	if len(ins.OperandTypes) > 0 {
		return len(ins.OperandTypes)
	}
	return 1
}

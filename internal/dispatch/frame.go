package dispatch

import "github.com/solalang/opcore/internal/bytecode"

// StackSize is a fixed operand-stack bound, the size of the teacher's
// fixed-size VM stack. NewFrame does not consult it: each Frame's stack
// is sized per root from RootProgram.MaxStack.
const StackSize = 1024

// Frame is opcore's concrete stand-in for the host VirtualFrame
// contract spec.md §1 calls an external collaborator: one per active
// call, holding the locals array and operand stack a RootProgram's
// instructions read and write.
type Frame struct {
	Locals []bytecode.Value
	Stack  []bytecode.Value
	sp     int

	Prog *RootCallTarget
}

// NewFrame allocates a Frame sized for prog, with args copied into the
// first len(args) locals (spec.md §3's LoadArgument contract).
func NewFrame(prog *RootCallTarget, args []bytecode.Value) *Frame {
	f := &Frame{
		Locals: make([]bytecode.Value, prog.Program.NumLocals),
		Stack:  make([]bytecode.Value, prog.Program.MaxStack+1),
		Prog:   prog,
	}
	copy(f.Locals, args)
	return f
}

func (f *Frame) Push(v bytecode.Value) {
	f.Stack[f.sp] = v
	f.sp++
}

func (f *Frame) Pop() bytecode.Value {
	f.sp--
	return f.Stack[f.sp]
}

func (f *Frame) PopN(n int) []bytecode.Value {
	vs := make([]bytecode.Value, n)
	copy(vs, f.Stack[f.sp-n:f.sp])
	f.sp -= n
	return vs
}

func (f *Frame) Top() bytecode.Value {
	return f.Stack[f.sp-1]
}

// TruncateTo resets the operand stack to height sp, used when a
// handler is entered (spec.md §4.8's StartSp) to discard whatever the
// protected region had pushed before the exception.
func (f *Frame) TruncateTo(sp int) {
	f.sp = sp
}

func (f *Frame) StackHeight() int { return f.sp }

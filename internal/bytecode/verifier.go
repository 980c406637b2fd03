package bytecode

import "fmt"

// VerificationError is raised by Verify when a finished RootProgram
// violates one of the structural invariants spec.md §7 names as a
// builder-time error rather than a runtime condition.
type VerificationError struct {
	Bci     int
	Message string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("bytecode verification failed at bci %d: %s", e.Bci, e.Message)
}

// Verify re-checks a finished root's structural invariants independent
// of the incremental checks internal/builder performs while emitting
// (spec.md §4.1 "Builder invariants", §7 error catalogue): every branch
// target lands on a real instruction boundary, every exception handler
// region is well-formed and its startSp is reachable, and the operand
// stack is typable end to end. EndRoot runs it once on every finished
// root.
func Verify(code []uint32, table *Table, handlers []ExceptionHandlerEntry, maxStackDepth int) error {
	boundaries := instructionBoundaries(code, table)

	for pos := 0; pos < len(code); {
		ins := table.Get(OpCode(code[pos]))
		if ins.IsBranchLike() && ins.Kind != KindYield {
			target := int(code[pos+1])
			if !boundaries[target] {
				return &VerificationError{Bci: pos, Message: fmt.Sprintf("%s targets non-instruction bci %d", ins.Name, target)}
			}
		}
		pos += ins.Length()
	}

	for i, h := range handlers {
		if h.StartBci < 0 || h.EndBci > len(code) || h.StartBci >= h.EndBci {
			return &VerificationError{Bci: h.StartBci, Message: fmt.Sprintf("handler entry %d has malformed region [%d, %d)", i, h.StartBci, h.EndBci)}
		}
		if !boundaries[h.StartBci] || (h.EndBci < len(code) && !boundaries[h.EndBci]) {
			return &VerificationError{Bci: h.StartBci, Message: fmt.Sprintf("handler entry %d region boundary is mid-instruction", i)}
		}
		if !boundaries[h.HandlerBci] {
			return &VerificationError{Bci: h.HandlerBci, Message: fmt.Sprintf("handler entry %d target is not an instruction boundary", i)}
		}
	}

	entryPoints := make([]int, 0, len(handlers)+1)
	entryPoints = append(entryPoints, 0)
	for _, h := range handlers {
		entryPoints = append(entryPoints, h.HandlerBci)
	}
	result := CheckStackTypability(code, table, entryPoints, maxStackDepth)
	if !result.IsValid() {
		return &VerificationError{Bci: 0, Message: result.Errors[0]}
	}

	return nil
}

func instructionBoundaries(code []uint32, table *Table) []bool {
	boundaries := make([]bool, len(code)+1)
	pos := 0
	for pos < len(code) {
		boundaries[pos] = true
		pos += table.Get(OpCode(code[pos])).Length()
	}
	boundaries[len(code)] = true
	return boundaries
}

package bytecode

import "fmt"

// DefaultMaxStackDepth bounds a single root's operand stack, mirroring
// the frame-slot budget a host VirtualFrame would need to preallocate.
const DefaultMaxStackDepth = 1024

// StackCheckResult is the outcome of CheckStackTypability: every reachable
// bci must be entered with exactly one stack height regardless of which
// predecessor reached it (spec.md §3, "Stack effects invariant" /
// "Stack-typability").
type StackCheckResult struct {
	MaxDepth int
	Errors   []string
}

func (r StackCheckResult) IsValid() bool { return len(r.Errors) == 0 }

// CheckStackTypability walks every instruction reachable from bci 0 (or
// a custom set of entry points, for finally-handler copies that start
// mid-stream) with a worklist, the same shape the teacher's stack depth
// analysis used: each branch target is queued with the stack height the
// branch instruction leaves behind, and a bci visited twice with two
// different heights is a builder bug, not a recoverable runtime
// condition.
func CheckStackTypability(code []uint32, table *Table, entryPoints []int, maxAllowed int) StackCheckResult {
	if maxAllowed <= 0 {
		maxAllowed = DefaultMaxStackDepth
	}
	if len(entryPoints) == 0 {
		entryPoints = []int{0}
	}

	depths := make([]int, len(code))
	for i := range depths {
		depths[i] = -1
	}

	type workItem struct{ pos, depth int }
	var worklist []workItem
	for _, e := range entryPoints {
		worklist = append(worklist, workItem{e, 0})
	}

	result := StackCheckResult{}

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		pos, depth := item.pos, item.depth

		for pos < len(code) {
			if depths[pos] >= 0 {
				if depths[pos] != depth {
					result.Errors = append(result.Errors, fmt.Sprintf(
						"bci %d reachable with two different stack heights: %d and %d", pos, depths[pos], depth))
				}
				break
			}
			depths[pos] = depth

			ins := table.Get(OpCode(code[pos]))
			newDepth := depth + int(ins.StackEffect)
			if newDepth < 0 {
				result.Errors = append(result.Errors, fmt.Sprintf(
					"bci %d: %s underflows the operand stack (depth %d -> %d)", pos, ins.Name, depth, newDepth))
				newDepth = 0
			}
			if newDepth > result.MaxDepth {
				result.MaxDepth = newDepth
			}
			if newDepth > maxAllowed {
				result.Errors = append(result.Errors, fmt.Sprintf(
					"bci %d: operand stack depth %d exceeds limit %d", pos, newDepth, maxAllowed))
			}

			next := pos + ins.Length()
			switch ins.Kind {
			case KindBranch, KindBranchBackward:
				target := int(code[pos+1])
				if target >= 0 && target < len(code) {
					worklist = append(worklist, workItem{target, newDepth})
				}
				pos = len(code)
				continue
			case KindBranchFalse:
				target := int(code[pos+1])
				if target >= 0 && target < len(code) {
					worklist = append(worklist, workItem{target, newDepth})
				}
			case KindReturn, KindThrow:
				pos = len(code)
				continue
			}
			depth = newDepth
			pos = next
		}
	}

	return result
}

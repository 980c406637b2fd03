package introspect

import (
	"fmt"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/solalang/opcore/internal/bytecode"
)

// hoverAt finds every bci whose DebugInfo line is line (column is not
// consulted) and renders each instruction opcore generated there, along
// with any local variable live at the first of those bcis.
func (s *Server) hoverAt(prog *bytecode.RootProgram, line, column int) *protocol.Hover {
	if prog.Debug == nil {
		return nil
	}
	var bcis []int
	for bci, l := range prog.Debug.LineMap {
		if l == line {
			bcis = append(bcis, bci)
		}
	}
	if len(bcis) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n\n", prog.Name)
	for _, bci := range bcis {
		ins := s.table.Get(bytecode.OpCode(prog.Code[bci]))
		fmt.Fprintf(&sb, "- `bci=%d` `%s`", bci, ins.Name)
		if ins.HasBase {
			fmt.Fprintf(&sb, " (quickened from `%s`)", s.table.Get(ins.QuickeningBase).Name)
		}
		sb.WriteString("\n")
	}
	if local := localAt(prog, bcis[0]); local != nil {
		fmt.Fprintf(&sb, "\nlocal `%s` (slot %d)\n", local.Name, local.Slot)
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: sb.String(),
		},
	}
}

func localAt(prog *bytecode.RootProgram, bci int) *bytecode.LocalDebugInfo {
	if prog.Debug == nil {
		return nil
	}
	for i := range prog.Debug.Locals {
		l := &prog.Debug.Locals[i]
		if bci >= l.StartPC && bci < l.EndPC {
			return l
		}
	}
	return nil
}

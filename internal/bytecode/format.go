package bytecode

import (
	"fmt"
	"strings"
)

// FileExtension names the compiled artifact this module's serializer
// produces (spec.md §6).
const FileExtension = ".opcorebc"

// MagicNumber is the 4-byte wire header magic ("OPC1" in ASCII),
// spec.md §6 "Serializer/deserializer".
const MagicNumber uint32 = 0x4F504331

const (
	WireMajorVersion uint8 = 1
	WireMinorVersion uint8 = 0
)

// HeaderSize is the fixed prefix before the tagged instruction stream:
// magic(4) + major(1) + minor(1) + session-id(16, a UUID) + numLocals(4)
// + numNodes(4).
const HeaderSize = 4 + 1 + 1 + 16 + 4 + 4

// Disassemble renders a RootProgram's code array as one line per
// instruction, in the tradition of a javap/dis-style listing: bci,
// mnemonic, immediates. Used by cmd/opcore-demo -disasm.
func Disassemble(name string, code []uint32, table *Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	bci := 0
	for bci < len(code) {
		ins := table.Get(OpCode(code[bci]))
		fmt.Fprintf(&b, "%04d %-24s", bci, ins.Name)
		for i, im := range ins.Immediates {
			fmt.Fprintf(&b, " %s=%d", im.Name, code[bci+1+i])
		}
		b.WriteByte('\n')
		bci += ins.Length()
	}
	return b.String()
}

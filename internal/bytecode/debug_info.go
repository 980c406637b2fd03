package bytecode

// DebugInfo is the per-RootProgram bundle introspection and the
// instrumented dispatch tier consult to map a bci back to source
// (spec.md §4.1's source-info triples) and to locals/labels declared
// while building. Unlike Buffer.SourceInfo, which is a flat parallel
// array kept purely for wire serialization, DebugInfo holds
// lookup-friendly shapes for internal/introspect. BuildFromBuffer fills
// one in; neither EndRoot nor Deserialize builds one, so
// RootProgram.Debug stays nil unless a caller sets it.
type DebugInfo struct {
	SourceFile string

	// LineMap/ColumnMap are derived from Buffer.SourceInfo by resolving
	// each entry's StartOffset against the line starts passed to
	// BuildFromBuffer; an entry's SourceIndex is not consulted.
	LineMap   map[int]int
	ColumnMap map[int]int

	Locals []LocalDebugInfo
	// BreakpointBcis lists every bci that carries a source-info entry,
	// in SourceInfo order.
	BreakpointBcis []int
}

// LocalDebugInfo names a frame slot for introspection/hover.
type LocalDebugInfo struct {
	Name    string
	Slot    int
	StartPC int
	EndPC   int
}

func NewDebugInfo(sourceFile string) *DebugInfo {
	return &DebugInfo{
		SourceFile: sourceFile,
		LineMap:    make(map[int]int),
		ColumnMap:  make(map[int]int),
	}
}

// BuildFromBuffer resolves LineMap/ColumnMap/BreakpointBcis from a
// finished Buffer's source-info triples. lineStarts is the sorted list
// of byte offsets at which each source line begins, as registered by
// the Source operation (spec.md §4.9).
func (d *DebugInfo) BuildFromBuffer(buf *Buffer, lineStarts []int) {
	for _, e := range buf.SourceInfo {
		line, col := resolveLineColumn(lineStarts, e.StartOffset)
		d.LineMap[e.Bci] = line
		d.ColumnMap[e.Bci] = col
		d.BreakpointBcis = append(d.BreakpointBcis, e.Bci)
	}
}

func resolveLineColumn(lineStarts []int, offset int) (line, col int) {
	lo, hi := 0, len(lineStarts)-1
	line = 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if lineStarts[mid] <= offset {
			line = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if line < len(lineStarts) {
		col = offset - lineStarts[line]
	}
	return line + 1, col + 1
}

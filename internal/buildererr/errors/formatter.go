package errors

import (
	"fmt"
	"strings"
)

// Label annotates one extra source position alongside a diagnostic's
// primary span, the way a multi-span rustc/clang diagnostic points at
// both the mismatched value and the declaration it disagreed with.
type Label struct {
	Line    int
	Column  int
	Length  int
	Message string
	Primary bool
}

// CompileError is a builder/verifier failure resolved to a source
// position (see buildererr.FromBuilderError), ready for Formatter to
// render.
type CompileError struct {
	Code      string // one of the B0xxx codes in codes.go
	Level     Level
	Message   string
	File      string
	Line      int
	Column    int
	EndColumn int
	Labels    []Label
	Hints     []string
	Notes     []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// StackFrame is one entry of a dispatch-time uncaught-exception trace
// (spec.md §4.8), resolved from the RootProgram's DebugInfo the way
// CompileError resolves a builder error's bci.
type StackFrame struct {
	FunctionName string
	ClassName    string
	FileName     string
	LineNumber   int
	SourceLine   string
}

// RuntimeError is a dispatch-loop failure (uncaught guest exception,
// unregistered custom instruction, operand-stack overflow) rather than
// a build-time one; it carries a stack trace instead of a single
// source span.
type RuntimeError struct {
	Code       string // one of the R0xxx codes in codes.go
	Level      Level
	Message    string
	Context    map[string]interface{}
	Frames     []StackFrame
	Hints      []string
	SourceLine string
	Column     int
	Length     int
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// Formatter renders CompileError/RuntimeError values as source-annotated
// diagnostics.
type Formatter struct {
	Colors     bool
	ShowSource bool
	ShowHints  bool
	MaxContext int
	TabWidth   int
}

func NewFormatter() *Formatter {
	return &Formatter{
		Colors:     true,
		ShowSource: true,
		ShowHints:  true,
		MaxContext: 2,
		TabWidth:   4,
	}
}

// FormatCompileError renders one builder/verifier error, e.g.
// "error[B0001]: opStack.top()..." followed by the offending source
// line and a caret underline.
func (f *Formatter) FormatCompileError(err *CompileError, sourceLines []string) string {
	var sb strings.Builder

	levelStr := f.colorize(err.Level.String(), f.levelColor(err.Level))
	codeStr := f.colorize(fmt.Sprintf("[%s]", err.Code), f.levelColor(err.Level))
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", levelStr, codeStr, err.Message))

	arrow := f.colorize("-->", ColorCyan)
	location := f.colorize(fmt.Sprintf("%s:%d:%d", err.File, err.Line, err.Column), ColorCyan)
	sb.WriteString(fmt.Sprintf(" %s %s\n", arrow, location))

	if f.ShowSource && len(sourceLines) > 0 && err.Line > 0 && err.Line <= len(sourceLines) {
		sb.WriteString(f.formatSourceContext(sourceLines, err.Line, err.Column, err.EndColumn, err.Labels))
	}

	if f.ShowHints {
		for _, hint := range err.Hints {
			hintLabel := f.colorize(" = help:", ColorCyan)
			sb.WriteString(fmt.Sprintf("%s %s\n", hintLabel, hint))
		}
	}

	for _, note := range err.Notes {
		noteLabel := f.colorize(" = note:", ColorCyan)
		sb.WriteString(fmt.Sprintf("%s %s\n", noteLabel, note))
	}

	return sb.String()
}

// FormatRuntimeError renders one dispatch-time failure, its context map
// (the operand values or opcode involved) and stack trace.
func (f *Formatter) FormatRuntimeError(err *RuntimeError, sourceCache map[string][]string) string {
	var sb strings.Builder

	levelStr := f.colorize("RuntimeError", ColorRed)
	codeStr := f.colorize(fmt.Sprintf("[%s]", err.Code), ColorRed)
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", levelStr, codeStr, err.Message))

	if len(err.Context) > 0 {
		sb.WriteString("\n")
		for key, value := range err.Context {
			keyStr := f.colorize(fmt.Sprintf("  %s:", key), ColorYellow)
			sb.WriteString(fmt.Sprintf("%s %v\n", keyStr, value))
		}
	}

	if len(err.Frames) > 0 {
		sb.WriteString("\n")
		traceLabel := f.colorize("Stack trace:", ColorWhite)
		sb.WriteString(fmt.Sprintf("%s\n", traceLabel))

		for i, frame := range err.Frames {
			funcName := frame.FunctionName
			if frame.ClassName != "" {
				funcName = frame.ClassName + "." + funcName
			}

			atStr := f.colorize("at", ColorWhite)
			funcStr := f.colorize(funcName, ColorYellow)

			if frame.FileName != "" {
				locStr := f.colorize(fmt.Sprintf("(%s:%d)", frame.FileName, frame.LineNumber), ColorCyan)
				sb.WriteString(fmt.Sprintf("    %s %s %s\n", atStr, funcStr, locStr))
			} else {
				locStr := f.colorize(fmt.Sprintf("(line %d)", frame.LineNumber), ColorCyan)
				sb.WriteString(fmt.Sprintf("    %s %s %s\n", atStr, funcStr, locStr))
			}

			if i == 0 && f.ShowSource && frame.FileName != "" {
				if lines, ok := sourceCache[frame.FileName]; ok && frame.LineNumber > 0 && frame.LineNumber <= len(lines) {
					sb.WriteString(f.formatSingleLine(lines[frame.LineNumber-1], frame.LineNumber, err.Column, err.Length))
				} else if err.SourceLine != "" {
					sb.WriteString(f.formatSingleLine(err.SourceLine, frame.LineNumber, err.Column, err.Length))
				}
			}
		}
	}

	if f.ShowHints && len(err.Hints) > 0 {
		sb.WriteString("\n")
		for _, hint := range err.Hints {
			hintLabel := f.colorize(" = help:", ColorCyan)
			sb.WriteString(fmt.Sprintf("%s %s\n", hintLabel, hint))
		}
	}

	return sb.String()
}

func (f *Formatter) formatSourceContext(lines []string, errorLine, startCol, endCol int, labels []Label) string {
	var sb strings.Builder

	maxLine := errorLine + f.MaxContext
	if maxLine > len(lines) {
		maxLine = len(lines)
	}
	lineNumWidth := len(fmt.Sprintf("%d", maxLine))

	separator := f.colorize(strings.Repeat(" ", lineNumWidth)+" |", ColorBlue)
	sb.WriteString(separator + "\n")

	if errorLine > 0 && errorLine <= len(lines) {
		line := lines[errorLine-1]
		lineNum := f.colorize(fmt.Sprintf("%*d", lineNumWidth, errorLine), ColorBlue)
		pipe := f.colorize(" |", ColorBlue)
		sb.WriteString(fmt.Sprintf("%s%s %s\n", lineNum, pipe, f.expandTabs(line)))

		if endCol == 0 {
			endCol = startCol + 1
		}
		length := endCol - startCol
		if length < 1 {
			length = 1
		}

		actualCol := f.calculateActualColumn(line, startCol)

		underline := strings.Repeat(" ", lineNumWidth+3+actualCol-1) +
			f.colorize(strings.Repeat("^", length), ColorRed)
		sb.WriteString(underline + "\n")
	}

	for _, label := range labels {
		if label.Line != errorLine && label.Line > 0 && label.Line <= len(lines) {
			line := lines[label.Line-1]
			lineNum := f.colorize(fmt.Sprintf("%*d", lineNumWidth, label.Line), ColorBlue)
			pipe := f.colorize(" |", ColorBlue)
			sb.WriteString(fmt.Sprintf("%s%s %s\n", lineNum, pipe, f.expandTabs(line)))

			if label.Message != "" {
				actualCol := f.calculateActualColumn(line, label.Column)
				msgLine := strings.Repeat(" ", lineNumWidth+3+actualCol-1) +
					f.colorize(strings.Repeat("^", label.Length)+" "+label.Message, f.labelColor(label.Primary))
				sb.WriteString(msgLine + "\n")
			}
		}
	}

	return sb.String()
}

func (f *Formatter) formatSingleLine(line string, lineNum, col, length int) string {
	var sb strings.Builder

	lineNumWidth := len(fmt.Sprintf("%d", lineNum))

	separator := f.colorize(strings.Repeat(" ", lineNumWidth+3)+" |", ColorBlue)
	sb.WriteString(separator + "\n")

	lineNumStr := f.colorize(fmt.Sprintf("%*d", lineNumWidth, lineNum), ColorBlue)
	pipe := f.colorize(" |", ColorBlue)
	sb.WriteString(fmt.Sprintf("    %s%s %s\n", lineNumStr, pipe, f.expandTabs(line)))

	if col > 0 {
		if length < 1 {
			length = 1
		}
		actualCol := f.calculateActualColumn(line, col)
		underline := strings.Repeat(" ", lineNumWidth+7+actualCol-1) +
			f.colorize(strings.Repeat("^", length), ColorRed)
		sb.WriteString(underline + "\n")
	}

	sb.WriteString(separator + "\n")

	return sb.String()
}

func (f *Formatter) expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", strings.Repeat(" ", f.TabWidth))
}

func (f *Formatter) calculateActualColumn(line string, col int) int {
	if col <= 0 {
		return 0
	}
	actual := 0
	for i := 0; i < col-1 && i < len(line); i++ {
		if line[i] == '\t' {
			actual += f.TabWidth
		} else {
			actual++
		}
	}
	return actual
}

func (f *Formatter) levelColor(level Level) Color {
	return LevelColor(level)
}

func (f *Formatter) labelColor(primary bool) Color {
	if primary {
		return ColorRed
	}
	return ColorYellow
}

func (f *Formatter) colorize(s string, color Color) string {
	if !f.Colors {
		return s
	}
	return Colorize(s, color)
}

// FormatCompileErrors renders every accumulated builder error plus a
// trailing "N error(s) generated" summary line.
func (f *Formatter) FormatCompileErrors(errors []*CompileError, sourceCache map[string][]string) string {
	var sb strings.Builder

	for i, err := range errors {
		if i > 0 {
			sb.WriteString("\n")
		}

		var lines []string
		if sourceCache != nil {
			lines = sourceCache[err.File]
		}
		sb.WriteString(f.FormatCompileError(err, lines))
	}

	if len(errors) > 0 {
		sb.WriteString("\n")
		countMsg := fmt.Sprintf("error: %d errors generated", len(errors))
		if len(errors) == 1 {
			countMsg = "error: 1 error generated"
		}
		sb.WriteString(f.colorize(countMsg, ColorRed) + "\n")
	}

	return sb.String()
}

var defaultFormatter = NewFormatter()

func SetDefaultFormatter(f *Formatter) {
	defaultFormatter = f
}

func GetDefaultFormatter() *Formatter {
	return defaultFormatter
}

func Format(err *CompileError, sourceLines []string) string {
	return defaultFormatter.FormatCompileError(err, sourceLines)
}

func FormatRuntime(err *RuntimeError, sourceCache map[string][]string) string {
	return defaultFormatter.FormatRuntimeError(err, sourceCache)
}

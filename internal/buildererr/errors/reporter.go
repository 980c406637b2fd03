package errors

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Reporter accumulates builder/verifier CompileErrors and dispatch
// RuntimeErrors and prints them formatted, caching each source file's
// lines the first time a diagnostic needs them.
type Reporter struct {
	formatter   *Formatter
	sourceCache map[string][]string
	errors      []*CompileError
	warnings    []*CompileError
}

func NewReporter() *Reporter {
	return &Reporter{
		formatter:   NewFormatter(),
		sourceCache: make(map[string][]string),
	}
}

func (r *Reporter) SetFormatter(f *Formatter) {
	r.formatter = f
}

// LoadSource reads filename into the source cache, a no-op if it is
// already loaded.
func (r *Reporter) LoadSource(filename string) error {
	if _, ok := r.sourceCache[filename]; ok {
		return nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	r.sourceCache[filename] = lines
	return nil
}

// SetSource seeds the source cache directly, for tests that build a
// guest source string in memory instead of reading a file.
func (r *Reporter) SetSource(filename string, content string) {
	r.sourceCache[filename] = strings.Split(content, "\n")
}

func (r *Reporter) GetSourceLine(filename string, line int) string {
	if lines, ok := r.sourceCache[filename]; ok {
		if line > 0 && line <= len(lines) {
			return lines[line-1]
		}
	}
	return ""
}

func (r *Reporter) GetSourceLines(filename string) []string {
	return r.sourceCache[filename]
}

// ReportError records and prints one builder/verifier error, filling in
// Hints from GetSuggestions if the caller left them empty.
func (r *Reporter) ReportError(err *CompileError) {
	r.LoadSource(err.File)

	if len(err.Hints) == 0 {
		err.Hints = GetSuggestions(err.Code, map[string]interface{}{
			"file": err.File,
			"line": err.Line,
		})
	}

	r.errors = append(r.errors, err)

	lines := r.GetSourceLines(err.File)
	output := r.formatter.FormatCompileError(err, lines)
	fmt.Print(output)
}

func (r *Reporter) ReportWarning(err *CompileError) {
	err.Level = LevelWarning
	r.warnings = append(r.warnings, err)

	lines := r.GetSourceLines(err.File)
	output := r.formatter.FormatCompileError(err, lines)
	fmt.Print(output)
}

// ReportSimple builds a CompileError from a bare message, inferring its
// B0xxx code from the message text - used by callers that only have a
// formatted string, not a builder.Error to run through
// buildererr.FromBuilderError.
func (r *Reporter) ReportSimple(file string, line, col int, message string) {
	r.LoadSource(file)

	err := &CompileError{
		Code:    B0300,
		Level:   LevelError,
		Message: message,
		File:    file,
		Line:    line,
		Column:  col,
	}
	err.Code = r.inferErrorCode(message)

	r.ReportError(err)
}

// inferErrorCode guesses a B0xxx code from a bare message's wording,
// mirroring buildererr.FromBuilderError's Kind->code table for callers
// that don't have the original builder.ErrorKind.
func (r *Reporter) inferErrorCode(message string) string {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "unbalanced") && strings.Contains(msg, "branch"):
		return B0002
	case strings.Contains(msg, "unbalanced") || strings.Contains(msg, "stack"):
		return B0001
	case strings.Contains(msg, "backward branch"):
		return B0100
	case strings.Contains(msg, "not reachable") || strings.Contains(msg, "branch target"):
		return B0101
	case strings.Contains(msg, "never emitted") || strings.Contains(msg, "undefined label"):
		return B0102
	case strings.Contains(msg, "already emitted"):
		return B0103
	case strings.Contains(msg, "outside its declaring"):
		return B0104
	case strings.Contains(msg, "finally handler") || strings.Contains(msg, "cross") && strings.Contains(msg, "handler"):
		return B0105
	case strings.Contains(msg, "must produce a value"):
		return B0201
	case strings.Contains(msg, "must not produce a value"):
		return B0202
	case strings.Contains(msg, "beginroot"):
		return B0301
	case strings.Contains(msg, "tag"):
		return B0302
	default:
		return B0300
	}
}

// ReportRuntimeError records and prints one dispatch-time failure,
// loading each frame's source file so the top frame can be annotated.
func (r *Reporter) ReportRuntimeError(err *RuntimeError) {
	for _, frame := range err.Frames {
		if frame.FileName != "" {
			r.LoadSource(frame.FileName)
		}
	}

	if len(err.Hints) == 0 {
		err.Hints = GetSuggestions(err.Code, err.Context)
	}

	output := r.formatter.FormatRuntimeError(err, r.sourceCache)
	fmt.Print(output)
}

func (r *Reporter) ReportRuntimeSimple(message string, frames []StackFrame) {
	err := &RuntimeError{
		Code:    R0001,
		Level:   LevelError,
		Message: message,
		Frames:  frames,
	}
	err.Code = r.inferRuntimeErrorCode(message)

	r.ReportRuntimeError(err)
}

// inferRuntimeErrorCode guesses an R0xxx code from a bare dispatch
// message's wording.
func (r *Reporter) inferRuntimeErrorCode(message string) string {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "unknown opcode"):
		return R0002
	case strings.Contains(msg, "bci") && strings.Contains(msg, "bound"):
		return R0003
	case strings.Contains(msg, "unregistered") || strings.Contains(msg, "not registered"):
		return R0100
	case strings.Contains(msg, "native"):
		return R0101
	case strings.Contains(msg, "overflow"):
		return R0200
	case strings.Contains(msg, "local") && strings.Contains(msg, "bound"):
		return R0201
	case strings.Contains(msg, "quicken"):
		return R0300
	default:
		return R0001
	}
}

func (r *Reporter) HasErrors() bool {
	return len(r.errors) > 0
}

func (r *Reporter) HasWarnings() bool {
	return len(r.warnings) > 0
}

func (r *Reporter) ErrorCount() int {
	return len(r.errors)
}

func (r *Reporter) WarningCount() int {
	return len(r.warnings)
}

func (r *Reporter) Errors() []*CompileError {
	return r.errors
}

func (r *Reporter) Warnings() []*CompileError {
	return r.warnings
}

func (r *Reporter) Clear() {
	r.errors = nil
	r.warnings = nil
}

var defaultReporter = NewReporter()

func GetDefaultReporter() *Reporter {
	return defaultReporter
}

func SetDefaultReporter(r *Reporter) {
	defaultReporter = r
}

func Report(err *CompileError) {
	defaultReporter.ReportError(err)
}

func ReportCompileError(file string, line, col int, message string) {
	defaultReporter.ReportSimple(file, line, col, message)
}

func ReportRuntimeErr(err *RuntimeError) {
	defaultReporter.ReportRuntimeError(err)
}

// GetSuggestions returns a short list of remediation hints for a B0xxx/
// R0xxx code, the domain-specific counterpart of the teacher's
// SuggestionGenerator (no i18n table here: these hints describe builder
// call sequencing, not guest-language syntax).
func GetSuggestions(code string, context map[string]interface{}) []string {
	switch code {
	case B0001:
		return []string{"check every Begin*/End* pair for this operation left exactly the stack effect its Arity/IsVoid declares"}
	case B0002:
		return []string{"two paths reaching the same label must leave the operand stack at the same height"}
	case B0100:
		return []string{"use a loop construct (BeginWhile or similar) for a backward branch instead of Branch"}
	case B0101:
		return []string{"a label can only be targeted from inside the operation subtree that created it"}
	case B0102:
		return []string{"every CreateLabel'd label must be EmitLabel'd exactly once before EndRoot"}
	case B0103:
		return []string{"EmitLabel was already called for this label"}
	case B0104:
		return []string{"EmitLabel must run inside the same operation subtree as the matching CreateLabel"}
	case B0105:
		return []string{"a label created while capturing a FinallyTry handler can't be targeted from outside it; capture the branch inside the handler body instead"}
	case B0201:
		return []string{"this child position requires a value-producing operation - end it with something other than a void op or a bare Pop"}
	case B0202:
		return []string{"this child position must be void - call Pop or use a statement form instead of an expression"}
	case B0300:
		return []string{"check the Begin*/End* call sequence matches; every End must close the operation most recently Begin'd"}
	case B0301:
		return []string{"call BeginRoot before any other builder method"}
	case B0302:
		return []string{"an InstrumentTag operation requires an instrumentation tag"}
	case R0100:
		return []string{"register a native Go function for this custom instruction before dispatching a program that uses it"}
	case R0200:
		return []string{"the operand stack exceeded the RootProgram's declared maximum depth - check for unbounded recursion"}
	case R0300:
		return []string{"the quickened target site no longer matches the instruction that was quickened; this triggers deoptimization automatically"}
	default:
		return nil
	}
}

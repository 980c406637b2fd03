// Package buildererr turns the builder's stack/branch/arity errors
// (builder.Error values; the bytecode verifier's VerificationError is
// not converted) into source-annotated CompileError diagnostics,
// resolving a bci back to a line/column via DebugInfo the
// same way the teacher's reporter resolves an AST node's position.
package buildererr

import (
	"github.com/solalang/opcore/internal/builder"
	"github.com/solalang/opcore/internal/buildererr/errors"
	"github.com/solalang/opcore/internal/bytecode"
)

var builderCodeByKind = map[builder.ErrorKind]string{
	builder.UnbalancedStack:           errors.B0001,
	builder.UnbalancedBranch:          errors.B0002,
	builder.BackwardBranchUnsupported: errors.B0100,
	builder.InvalidBranchTarget:       errors.B0101,
	builder.UndefinedLabel:            errors.B0102,
	builder.LabelAlreadyEmitted:       errors.B0103,
	builder.LabelOutsideDeclaringOp:   errors.B0104,
	builder.CrossHandlerBranch:        errors.B0105,
	builder.ArityMismatch:             errors.B0200,
	builder.ValueExpected:             errors.B0201,
	builder.VoidExpected:              errors.B0202,
	builder.UnexpectedOperationEnd:    errors.B0300,
	builder.MissingBeginRoot:          errors.B0301,
	builder.TagNotProvided:            errors.B0302,
}

// FromBuilderError converts one builder.Error into a CompileError ready
// for errors.Formatter, resolving its bci to a source line/column when
// debug is non-nil.
func FromBuilderError(file string, err *builder.Error, debug *bytecode.DebugInfo) *errors.CompileError {
	code, ok := builderCodeByKind[err.Kind]
	if !ok {
		code = errors.B0300
	}
	ce := &errors.CompileError{
		Code:    code,
		Level:   errors.LevelError,
		Message: err.Message,
		File:    file,
	}
	if debug != nil {
		ce.Line = debug.LineMap[err.Bci]
		ce.Column = debug.ColumnMap[err.Bci]
	}
	if ce.Line == 0 {
		ce.Line = 1
	}
	if ce.Column == 0 {
		ce.Column = 1
	}
	return ce
}

// FromBuilderErrors converts every accumulated builder error in one
// call, the shape Builder.Errors() returns after a failed EndRoot.
func FromBuilderErrors(file string, errs []*builder.Error, debug *bytecode.DebugInfo) []*errors.CompileError {
	out := make([]*errors.CompileError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FromBuilderError(file, e, debug))
	}
	return out
}

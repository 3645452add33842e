// Package errs defines the error taxonomy shared by every pipeline stage.
//
// Every failure the pipeline surfaces is an *Error carrying a Code, the stage
// that raised it, and the offending row, field, or path where known, so a
// user never sees a bare generic failure.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes pipeline errors.
type Code string

const (
	// CodeSourceUnavailable indicates the source file could not be opened or read.
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"

	// CodeSchemaMismatch indicates the source table or a required column is absent
	// or holds values of the wrong kind.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeInvalidTimestamp indicates a single epoch value is non-numeric or out of range.
	CodeInvalidTimestamp Code = "INVALID_TIMESTAMP"

	// CodeConversionError indicates normalization aborted; it wraps the first
	// InvalidTimestamp and names its row.
	CodeConversionError Code = "CONVERSION_ERROR"

	// CodeArtifactWriteError indicates a report could not be written to its destination.
	CodeArtifactWriteError Code = "ARTIFACT_WRITE_ERROR"
)

// Stage names used in errors, logs, and metrics.
const (
	StageSource    = "source"
	StageNormalize = "normalize"
	StageMap       = "map"
	StageTable     = "table"
)

// NoRow marks an error that is not attributable to a single row.
const NoRow = -1

// Error is a classified pipeline failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Stage names the pipeline stage that failed.
	Stage string

	// Row is the 0-based source row index, or NoRow.
	Row int

	// Field names the offending column, if any.
	Field string

	// Path is the file involved (source or artifact), if any.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if e.Row != NoRow {
		ctx = append(ctx, fmt.Sprintf("row=%d", e.Row))
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithStage returns a copy of e with the stage set, unless already set.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	if cp.Stage == "" {
		cp.Stage = stage
	}
	return &cp
}

// SourceUnavailable creates an error for a source that cannot be opened or read.
func SourceUnavailable(path string, err error) *Error {
	return &Error{
		Code:    CodeSourceUnavailable,
		Stage:   StageSource,
		Row:     NoRow,
		Path:    path,
		Message: "cannot read source",
		Err:     err,
	}
}

// SchemaMismatch creates an error for a missing table or column.
func SchemaMismatch(field, message string) *Error {
	return &Error{
		Code:    CodeSchemaMismatch,
		Stage:   StageSource,
		Row:     NoRow,
		Field:   field,
		Message: message,
	}
}

// SchemaMismatchAt creates an error for a cell whose type does not fit its column.
func SchemaMismatchAt(row int, field string, err error) *Error {
	return &Error{
		Code:    CodeSchemaMismatch,
		Stage:   StageSource,
		Row:     row,
		Field:   field,
		Message: "unexpected value",
		Err:     err,
	}
}

// InvalidTimestamp creates an error for an epoch value that cannot be converted.
// The row is filled in by the caller that knows it.
func InvalidTimestamp(value string, reason string) *Error {
	return &Error{
		Code:    CodeInvalidTimestamp,
		Row:     NoRow,
		Message: fmt.Sprintf("invalid timestamp %s: %s", value, reason),
	}
}

// ConversionError wraps the first InvalidTimestamp hit during normalization.
func ConversionError(row int, field string, err error) *Error {
	return &Error{
		Code:    CodeConversionError,
		Stage:   StageNormalize,
		Row:     row,
		Field:   field,
		Message: "normalization aborted",
		Err:     err,
	}
}

// ArtifactWriteError creates an error for a report that could not be written.
func ArtifactWriteError(stage, path string, err error) *Error {
	return &Error{
		Code:    CodeArtifactWriteError,
		Stage:   stage,
		Row:     NoRow,
		Path:    path,
		Message: "cannot write artifact",
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StageOf returns the stage of the outermost *Error in err's chain, or "".
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsSourceUnavailable reports whether err is, or wraps, a SourceUnavailable error.
func IsSourceUnavailable(err error) bool { return HasCode(err, CodeSourceUnavailable) }

// IsSchemaMismatch reports whether err is, or wraps, a SchemaMismatch error.
func IsSchemaMismatch(err error) bool { return HasCode(err, CodeSchemaMismatch) }

// IsInvalidTimestamp reports whether err is, or wraps, an InvalidTimestamp error.
func IsInvalidTimestamp(err error) bool { return HasCode(err, CodeInvalidTimestamp) }

// IsConversionError reports whether err is, or wraps, a ConversionError.
func IsConversionError(err error) bool { return HasCode(err, CodeConversionError) }

// IsArtifactWriteError reports whether err is, or wraps, an ArtifactWriteError.
func IsArtifactWriteError(err error) bool { return HasCode(err, CodeArtifactWriteError) }

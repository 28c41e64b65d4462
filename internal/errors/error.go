package errors

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryStructure Category = "structure"
	CategoryRuntime   Category = "runtime"
	CategoryState     Category = "state"
	CategoryApplier   Category = "applier"
	CategoryReuse     Category = "reuse"
	CategoryConfig    Category = "config"
	CategoryCLI       Category = "cli"
)

// Location is the source position of a call site that opened a group.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ComposeError is a coded error with an optional call-site location and hint.
type ComposeError struct {
	// Code is a unique error identifier (e.g., "E001").
	Code string

	// Category groups related codes.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the call site of the group involved, when known.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example is code showing the correct approach.
	Example string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *ComposeError) Error() string {
	msg := e.Message
	if e.Location != nil {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.Location)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *ComposeError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a ComposeError with the same code.
// Sentinels built with New therefore match any error carrying their code.
func (e *ComposeError) Is(target error) bool {
	t, ok := target.(*ComposeError)
	if !ok || t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// WithLocation adds source location to the error.
func (e *ComposeError) WithLocation(file string, line, column int) *ComposeError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *ComposeError) WithSuggestion(s string) *ComposeError {
	e.Suggestion = s
	return e
}

// WithExample adds a code example to the error.
func (e *ComposeError) WithExample(ex string) *ComposeError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *ComposeError) WithDetail(d string) *ComposeError {
	e.Detail = d
	return e
}

// WithDetailf is WithDetail with formatting.
func (e *ComposeError) WithDetailf(format string, args ...any) *ComposeError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *ComposeError) Wrap(err error) *ComposeError {
	e.Wrapped = err
	return e
}

// MarshalJSON encodes the error for the inspector and dump files.
func (e *ComposeError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code       string    `json:"code,omitempty"`
		Category   Category  `json:"category"`
		Message    string    `json:"message"`
		Detail     string    `json:"detail,omitempty"`
		Location   *Location `json:"location,omitempty"`
		Suggestion string    `json:"suggestion,omitempty"`
		DocURL     string    `json:"docUrl,omitempty"`
		Cause      string    `json:"cause,omitempty"`
	}{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Location:   e.Location,
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	return json.Marshal(out)
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a ComposeError from a registered error code.
func New(code string) *ComposeError {
	template, ok := registry[code]
	if !ok {
		return &ComposeError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &ComposeError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new ComposeError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *ComposeError {
	return &ComposeError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a ComposeError.
func FromError(err error, code string) *ComposeError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*ComposeError); ok {
		return ce
	}
	return New(code).Wrap(err)
}

// CodeOf returns the code of the first ComposeError in err's chain.
func CodeOf(err error) string {
	for err != nil {
		if ce, ok := err.(*ComposeError); ok && ce.Code != "" {
			return ce.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

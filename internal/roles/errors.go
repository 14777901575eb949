package roles

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindConfigNotFound    Kind = "ConfigNotFound"
	KindSchema            Kind = "SchemaError"
	KindValidation        Kind = "ValidationError"
	KindDuplicateRoleName Kind = "DuplicateRoleName"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrConfigNotFound    = &Error{Kind: KindConfigNotFound}
	ErrSchema            = &Error{Kind: KindSchema}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrDuplicateRoleName = &Error{Kind: KindDuplicateRoleName}
)

// Violation is a single field-level finding.
type Violation struct {
	Field   string   `json:"field" yaml:"field"`
	Rule    string   `json:"rule" yaml:"rule"`
	Value   string   `json:"value" yaml:"value"`
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s: %s (value: %q)", v.Field, v.Rule, v.Value)
	if len(v.Sources) > 0 {
		s += " in " + strings.Join(v.Sources, ", ")
	}
	return s
}

// Error is the structured error returned by the loader and the validator.
type Error struct {
	Kind       Kind
	Path       string
	Message    string
	Violations []Violation
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if len(e.Violations) > 0 {
		fmt.Fprintf(&b, " (%d violation(s))", len(e.Violations))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewConfigNotFound(path string, cause error) *Error {
	return &Error{Kind: KindConfigNotFound, Path: path, Message: "directory does not exist", Cause: cause}
}

func NewSchemaError(path string, cause error) *Error {
	return &Error{Kind: KindSchema, Path: path, Message: "malformed JSON", Cause: cause}
}

func NewUnreadable(path string, cause error) *Error {
	return &Error{Kind: KindSchema, Path: path, Message: "file cannot be read", Cause: cause}
}

func NewValidationError(path string, violations []Violation) *Error {
	return &Error{Kind: KindValidation, Path: path, Violations: violations}
}

func NewDuplicateRoleName(path string, violation Violation) *Error {
	return &Error{
		Kind:       KindDuplicateRoleName,
		Path:       path,
		Message:    fmt.Sprintf("role name %q is declared more than once", violation.Value),
		Violations: []Violation{violation},
	}
}

// KindOf returns the kind of the first *Error found in err's tree.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

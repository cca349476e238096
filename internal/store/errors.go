package store

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors to use with errors.Is.
var (
	ErrParse     = errors.New("invalid yaml")
	ErrDuplicate = errors.New("model already exists")
	ErrNotFound  = errors.New("model not found")
	ErrInvalid   = errors.New("invalid document")
)

var lineRE = regexp.MustCompile(`line (\d+):\s*`)

// ParseError is returned when a content is not valid YAML, or is YAML of the
// wrong shape (a list instead of a mapping, a string where columns are
// expected...).
type ParseError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

// NewParseError wraps a YAML decoding error, extracting its line.
func NewParseError(path string, err error) *ParseError {
	pe := &ParseError{Path: path, Err: err}
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	msg = strings.TrimPrefix(msg, "unmarshal errors:\n")
	if m := lineRE.FindStringSubmatch(msg); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		msg = strings.Replace(msg, m[0], "", 1)
	}
	pe.Msg = strings.TrimSpace(msg)
	return pe
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path + ": ")
	}
	b.WriteString(ErrParse.Error())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	b.WriteString(": " + e.Msg)
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DuplicateError is returned when adding a model whose name is already used.
type DuplicateError struct {
	Path string
	Name string
}

func (e *DuplicateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model %s already exists", e.Name)
	}
	return fmt.Sprintf("model %s already exists in %s", e.Name, e.Path)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// NotFoundError is returned when a model to read, update or delete is absent.
type NotFoundError struct {
	Path string
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model %s not found", e.Name)
	}
	return fmt.Sprintf("model %s not found in %s", e.Name, e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError lists the structural problems of a well formed YAML
// document (missing names, duplicated models, unsupported version...).
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path + ": ")
	}
	b.WriteString(ErrInvalid.Error() + ": " + strings.Join(e.Problems, "; "))
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

package extract

import (
	"errors"
	"fmt"
)

// ErrParseFailed indicates that a source file could not be interpreted.
// The file is skipped and none of its nodes are emitted.
var ErrParseFailed = errors.New("parse failed")

// ParseError describes a file-level parse failure.
type ParseError struct {
	Path string
	Line int // 1-based line of the first syntax error, 0 if unknown.
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

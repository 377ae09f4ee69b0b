package openformats

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrHeaderMismatch is returned when a required header line is absent or carries an unsupported version.
	ErrHeaderMismatch = errors.New("format header mismatch")
	// ErrSectionNotFound is returned when a required section never appears.
	ErrSectionNotFound = errors.New("section not found")
	// ErrStructure covers brace mismatches, count mismatches and non-numeric tokens.
	ErrStructure = errors.New("structural parse failure")
	// ErrDegenerateFace is reported by scene builders for faces they refuse to add.
	ErrDegenerateFace = errors.New("degenerate face")
	// ErrReference marks a sub-file of an ODR or ODD that could not be loaded.
	ErrReference = errors.New("reference resolution failure")
)

func structuralf(line int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrStructure, "line %d: %s", line, fmt.Sprintf(format, args...))
}

// ReferenceError records one dropped reference of an ODR or ODD document.
type ReferenceError struct {
	Path string
	Kind string
	Err  error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Path, e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

func (e *ReferenceError) Is(target error) bool { return target == ErrReference }

// ChunkError records a Geometry block that was dropped while reading a mesh.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("geometry %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

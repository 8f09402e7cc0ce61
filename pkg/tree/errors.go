package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned when a segment is missing or an
	// intermediate segment names a file.
	ErrPathNotFound = errors.New("path not found")

	// ErrPathConflict is returned when the target path is already occupied.
	ErrPathConflict = errors.New("path already exists")

	// ErrInvalidMove is returned when a move or copy targets the source
	// itself or a location inside it.
	ErrInvalidMove = errors.New("cannot move or copy an entry into itself")

	// ErrInvalidPath is returned for empty paths and empty segments.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFile is returned when a file-only operation addresses a folder.
	ErrNotFile = errors.New("not a file")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// AsPathError checks if an error is a PathError and returns it.
func AsPathError(err error) (*PathError, bool) {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func pathErr(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

package be

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	zfs "github.com/vansante/go-bootenv"
)

// Kind is the closed set of error kinds returned by every boot environment operation.
// A Kind is an error itself, so callers can use errors.Is(err, be.Busy).
type Kind uint8

const (
	Success Kind = iota
	Access
	Busy
	Exists
	Invalid
	NameTooLong
	NoEnt
	NoMem
	Perm
)

var kindNames = map[Kind]string{
	Success:     "success",
	Access:      "permission denied",
	Busy:        "busy",
	Exists:      "already exists",
	Invalid:     "invalid",
	NameTooLong: "name too long",
	NoEnt:       "not found",
	NoMem:       "out of memory",
	Perm:        "operation not permitted",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", k)
	}
	return name
}

func (k Kind) Error() string {
	return k.String()
}

// Error is returned by the Engine for every failed operation
type Error struct {
	Kind Kind
	// Op is the operation that failed, such as copy or mount
	Op string
	// Name is the boot environment, dataset or snapshot the operation failed on
	Name string
	// Err is the underlying cause, which may be a joined error when unwinding failed as well
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Name, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the Kind of the error
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of an error returned by the Engine, nil errors are a Success
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	var beErr *Error
	if errors.As(err, &beErr) {
		return beErr.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return translate(err)
}

func newError(kind Kind, op, name, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Name: name,
		Err:  fmt.Errorf(format, args...),
	}
}

// wrapError converts storage errors into an Error, errors that already are one are returned as is
func wrapError(op, name string, err error) *Error {
	var beErr *Error
	if errors.As(err, &beErr) {
		return beErr
	}
	return &Error{
		Kind: translate(err),
		Op:   op,
		Name: name,
		Err:  err,
	}
}

// translate maps storage engine errors to the nearest Kind
func translate(err error) Kind {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, zfs.ErrDatasetNotFound),
		errors.Is(err, zfs.ErrPoolNotFound),
		errors.Is(err, fs.ErrNotExist):
		return NoEnt
	case errors.Is(err, zfs.ErrDatasetExists),
		errors.Is(err, fs.ErrExist):
		return Exists
	case errors.Is(err, zfs.ErrDatasetBusy),
		errors.Is(err, zfs.ErrHasClones),
		errors.Is(err, zfs.ErrHasChildren):
		return Busy
	case errors.Is(err, zfs.ErrPermissionDenied),
		errors.Is(err, fs.ErrPermission):
		return Access
	case errors.Is(err, zfs.ErrNotPermitted):
		return Perm
	case errors.Is(err, zfs.ErrNameTooLong):
		return NameTooLong
	case errors.Is(err, zfs.ErrOutOfMemory):
		return NoMem
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Busy
	default:
		return Invalid
	}
}

package zfs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDatasetNotFound        = errors.New("dataset not found")
	ErrPoolNotFound           = errors.New("pool not found")
	ErrDatasetExists          = errors.New("dataset already exists")
	ErrDatasetBusy            = errors.New("dataset is busy")
	ErrHasClones              = errors.New("snapshot has dependent clones")
	ErrHasChildren            = errors.New("dataset has children")
	ErrNotMounted             = errors.New("dataset is not mounted")
	ErrMoreRecentSnapshots    = errors.New("more recent snapshots exist")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrNotPermitted           = errors.New("operation not permitted")
	ErrNameTooLong            = errors.New("name is too long")
	ErrOutOfMemory            = errors.New("out of memory")
	ErrOnlySnapshotsSupported = errors.New("only snapshots are supported for this action")
	ErrSnapshotsNotSupported  = errors.New("snapshots are not supported for this action")
)

// stderrMessages maps the messages printed by the zfs, zpool and mount commands to the errors above
var stderrMessages = map[error][]string{
	ErrDatasetNotFound:     {"dataset does not exist", "no such pool or dataset", "could not find any snapshots"},
	ErrPoolNotFound:        {"no such pool"},
	ErrDatasetExists:       {"already exists"},
	ErrDatasetBusy:         {"is busy", "device or resource busy"},
	ErrHasClones:           {"has dependent clones"},
	ErrHasChildren:         {"has children"},
	ErrNotMounted:          {"not currently mounted", "not mounted"},
	ErrMoreRecentSnapshots: {"more recent snapshots"},
	ErrPermissionDenied:    {"permission denied"},
	ErrNotPermitted:        {"operation not permitted", "not owner"},
	ErrNameTooLong:         {"name is too long", "too long"},
	ErrOutOfMemory:         {"out of memory", "cannot allocate memory"},
}

// CommandError is an error which is returned when the `zfs`, `zpool` or `mount` shell
// commands return with a non-zero exit code.
type CommandError struct {
	Err    error
	Debug  string
	Stderr string
}

// Error returns the string representation of an CommandError.
func (e CommandError) Error() string {
	return fmt.Sprintf("%s: %q => %s", e.Err, e.Debug, e.Stderr)
}

func (e CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether the stderr output of the command matches one of the known errors,
// so callers can use errors.Is(err, ErrDatasetNotFound)
func (e CommandError) Is(target error) bool {
	msgs, ok := stderrMessages[target]
	if !ok {
		return false
	}
	stderr := strings.ToLower(e.Stderr)
	for _, msg := range msgs {
		if strings.Contains(stderr, msg) {
			return true
		}
	}
	return false
}

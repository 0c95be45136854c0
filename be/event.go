package be

import eventemitter "github.com/vansante/go-event-emitter"

// Events emitted by the Engine. The arguments are the pool and the boot environment name, followed
// by the event specific arguments noted below.
const (
	CreatedEvent eventemitter.EventType = "created-boot-environment"
	// CopiedEvent has the source boot environment and snapshot as extra arguments
	CopiedEvent    eventemitter.EventType = "copied-boot-environment"
	DestroyedEvent eventemitter.EventType = "destroyed-boot-environment"
	// MountedEvent has the mount path as extra argument
	MountedEvent   eventemitter.EventType = "mounted-boot-environment"
	UnmountedEvent eventemitter.EventType = "unmounted-boot-environment"
	// RenamedEvent has the new name as extra argument
	RenamedEvent   eventemitter.EventType = "renamed-boot-environment"
	ActivatedEvent eventemitter.EventType = "activated-boot-environment"
	// The snapshot events have the snapshot name as extra argument
	CreatedSnapshotEvent   eventemitter.EventType = "created-snapshot"
	DestroyedSnapshotEvent eventemitter.EventType = "destroyed-snapshot"
	RolledBackEvent        eventemitter.EventType = "rolled-back"
	// ExportedEvent has the snapshot name and the amount of bytes written as extra arguments
	ExportedEvent eventemitter.EventType = "exported-boot-environment"
	ImportedEvent eventemitter.EventType = "imported-boot-environment"

	// DiagnosticEvent has a single ErrorRecord argument, it is emitted for every failed step
	DiagnosticEvent eventemitter.EventType = "diagnostic"
)

// ErrorRecord describes a failed step for an operator facing error report
type ErrorRecord struct {
	Origin  string `json:"Origin"`
	Kind    Kind   `json:"Kind"`
	Message string `json:"Message"`
}

func (e *Engine) diagnose(origin string, err error) {
	e.EmitEvent(DiagnosticEvent, ErrorRecord{
		Origin:  origin,
		Kind:    KindOf(err),
		Message: err.Error(),
	})
}

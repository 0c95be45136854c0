package job

import eventemitter "github.com/vansante/go-event-emitter"

// The events have the pool and the boot environment name as first arguments
const (
	// CreatedSnapshotEvent has the snapshot name and the policy as extra arguments
	CreatedSnapshotEvent eventemitter.EventType = "created-snapshot"
	// DeletedSnapshotEvent has the snapshot name as extra argument
	DeletedSnapshotEvent    eventemitter.EventType = "deleted-snapshot"
	DeletedEnvironmentEvent eventemitter.EventType = "deleted-boot-environment"
)

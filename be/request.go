package be

import (
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// InitRequest creates a new, empty boot environment
type InitRequest struct {
	Pool        string            `json:"Pool"`
	Name        string            `json:"Name"`
	Description string            `json:"Description"`
	Policy      string            `json:"Policy"`
	Properties  map[string]string `json:"Properties"`
	// Filesystems are created below the root, such as var or usr/local
	Filesystems []string `json:"Filesystems"`
	// SharedFilesystems are created below the pool when missing, and tagged as shared, such as home
	SharedFilesystems []string `json:"SharedFilesystems"`
}

func (r *InitRequest) Validate() error {
	err := validateName("init", "name", r.Name)
	if err != nil {
		return err
	}
	for _, fs := range r.Filesystems {
		err = validateRelativePath("init", "filesystem", fs)
		if err != nil {
			return err
		}
	}
	for _, fs := range r.SharedFilesystems {
		err = validateRelativePath("init", "shared filesystem", fs)
		if err != nil {
			return err
		}
	}
	return nil
}

// CopyRequest clones an existing boot environment into a new one
type CopyRequest struct {
	// SourceName defaults to the boot environment that is active now, or else to the one active on boot
	SourceName string `json:"SourceName"`
	SourcePool string `json:"SourcePool"`
	// SourceSnapshot is the snapshot to clone, either snap or be@snap. A new snapshot is made when empty.
	SourceSnapshot string `json:"SourceSnapshot"`
	// Name defaults to the source name followed by a number
	Name        string            `json:"Name"`
	Pool        string            `json:"Pool"`
	Description string            `json:"Description"`
	Policy      string            `json:"Policy"`
	Properties  map[string]string `json:"Properties"`
}

func (r *CopyRequest) Validate() error {
	if before, after, ok := strings.Cut(r.SourceSnapshot, "@"); ok {
		if r.SourceName != "" && r.SourceName != before {
			return newError(Invalid, "copy", r.SourceSnapshot, "snapshot belongs to %s, not %s", before, r.SourceName)
		}
		r.SourceName = before
		r.SourceSnapshot = after
	}
	if r.SourceName != "" {
		err := validateName("copy", "source name", r.SourceName)
		if err != nil {
			return err
		}
	}
	if r.SourceSnapshot != "" {
		err := validateName("copy", "source snapshot", r.SourceSnapshot)
		if err != nil {
			return err
		}
	}
	if r.Name != "" {
		return validateName("copy", "name", r.Name)
	}
	return nil
}

// DestroyRequest destroys a boot environment
type DestroyRequest struct {
	Pool string `json:"Pool"`
	Name string `json:"Name"`
	// ForceUnmount unmounts a mounted boot environment first
	ForceUnmount bool `json:"ForceUnmount"`
	// DestroyOrigin also destroys the snapshot the boot environment was cloned from, when nothing else uses it
	DestroyOrigin bool `json:"DestroyOrigin"`
}

func (r *DestroyRequest) Validate() error {
	return validateName("destroy", "name", r.Name)
}

// MountFlags modify the mount and unmount operations
type MountFlags uint8

const (
	// MountSharedFilesystems also mounts the shared filesystems below the mount root
	MountSharedFilesystems MountFlags = 1 << iota
	// MountSharedReadWrite mounts the shared filesystems writable, they are read only otherwise
	MountSharedReadWrite
	// MountForce forces unmounting filesystems that are in use
	MountForce
)

// Has returns whether the flag is set
func (f MountFlags) Has(flag MountFlags) bool {
	return f&flag == flag
}

// MountRequest mounts the datasets of a boot environment below a mount root
type MountRequest struct {
	Pool       string     `json:"Pool"`
	Name       string     `json:"Name"`
	Mountpoint string     `json:"Mountpoint"`
	Flags      MountFlags `json:"Flags"`
}

func (r *MountRequest) Validate() error {
	err := validateName("mount", "name", r.Name)
	if err != nil {
		return err
	}
	if r.Mountpoint == "" {
		return newError(Invalid, "mount", r.Name, "mountpoint is required")
	}
	if !path.IsAbs(r.Mountpoint) {
		return newError(Invalid, "mount", r.Name, "mountpoint %s is not absolute", r.Mountpoint)
	}
	return nil
}

// UnmountRequest unmounts the datasets of a boot environment
type UnmountRequest struct {
	Pool  string     `json:"Pool"`
	Name  string     `json:"Name"`
	Flags MountFlags `json:"Flags"`
}

func (r *UnmountRequest) Validate() error {
	return validateName("unmount", "name", r.Name)
}

// RenameRequest renames a boot environment
type RenameRequest struct {
	Pool    string `json:"Pool"`
	Name    string `json:"Name"`
	NewName string `json:"NewName"`
}

func (r *RenameRequest) Validate() error {
	err := validateName("rename", "name", r.Name)
	if err != nil {
		return err
	}
	err = validateName("rename", "new name", r.NewName)
	if err != nil {
		return err
	}
	if r.Name == r.NewName {
		return newError(Invalid, "rename", r.Name, "new name is the same as the current name")
	}
	return nil
}

// ActivateRequest selects the boot environment to boot next
type ActivateRequest struct {
	Pool string `json:"Pool"`
	Name string `json:"Name"`
}

func (r *ActivateRequest) Validate() error {
	return validateName("activate", "name", r.Name)
}

// CreateSnapshotRequest snapshots every dataset of a boot environment
type CreateSnapshotRequest struct {
	Pool string `json:"Pool"`
	Name string `json:"Name"`
	// Snapshot is generated from the configured template when empty
	Snapshot string `json:"Snapshot"`
	Policy   string `json:"Policy"`
}

func (r *CreateSnapshotRequest) Validate() error {
	err := validateName("snapshot", "name", r.Name)
	if err != nil {
		return err
	}
	if r.Snapshot != "" {
		return validateName("snapshot", "snapshot", r.Snapshot)
	}
	return nil
}

// DestroySnapshotRequest destroys a snapshot set of a boot environment
type DestroySnapshotRequest struct {
	Pool     string `json:"Pool"`
	Name     string `json:"Name"`
	Snapshot string `json:"Snapshot"`
}

func (r *DestroySnapshotRequest) Validate() error {
	err := validateName("destroy-snapshot", "name", r.Name)
	if err != nil {
		return err
	}
	return validateName("destroy-snapshot", "snapshot", r.Snapshot)
}

// RollbackRequest rolls every dataset of a boot environment back to a snapshot
type RollbackRequest struct {
	Pool     string `json:"Pool"`
	Name     string `json:"Name"`
	Snapshot string `json:"Snapshot"`
	// Force allows rolling back a boot environment that is mounted or active
	Force bool `json:"Force"`
}

func (r *RollbackRequest) Validate() error {
	err := validateName("rollback", "name", r.Name)
	if err != nil {
		return err
	}
	return validateName("rollback", "snapshot", r.Snapshot)
}

// ExportRequest writes a boot environment as a replication stream
type ExportRequest struct {
	Pool string `json:"Pool"`
	Name string `json:"Name"`
	// Snapshot to export, a temporary snapshot is used when empty
	Snapshot         string            `json:"Snapshot"`
	CompressionLevel zstd.EncoderLevel `json:"CompressionLevel"`
	BytesPerSecond   int64             `json:"BytesPerSecond"`
}

func (r *ExportRequest) Validate() error {
	err := validateName("export", "name", r.Name)
	if err != nil {
		return err
	}
	if r.Snapshot != "" {
		return validateName("export", "snapshot", r.Snapshot)
	}
	return nil
}

// ImportRequest creates a boot environment from a replication stream
type ImportRequest struct {
	Pool                string `json:"Pool"`
	Name                string `json:"Name"`
	EnableDecompression bool   `json:"EnableDecompression"`
	BytesPerSecond      int64  `json:"BytesPerSecond"`
}

func (r *ImportRequest) Validate() error {
	return validateName("import", "name", r.Name)
}

package zfs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/moby/sys/mountinfo"
)

var (
	// MountBinary is the command used to mount a dataset at an arbitrary path
	MountBinary = "mount"
	// UnmountBinary is the command used to unmount a path
	UnmountBinary = "umount"
)

// Mount is an entry of the system mount table for a ZFS filesystem
type Mount struct {
	Dataset string `json:"Dataset"`
	Path    string `json:"Path"`
	Options string `json:"Options"`
}

// ListMounts returns every mounted ZFS filesystem from the system mount table
func ListMounts() ([]Mount, error) {
	infos, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("zfs"))
	if err != nil {
		return nil, fmt.Errorf("error reading mount table: %w", err)
	}

	mounts := make([]Mount, 0, len(infos))
	for _, info := range infos {
		mounts = append(mounts, Mount{
			Dataset: info.Source,
			Path:    info.Mountpoint,
			Options: info.Options,
		})
	}
	return mounts, nil
}

// MountAtOptions are options you can specify to customize MountAt
type MountAtOptions struct {
	// Mount the filesystem read only
	ReadOnly bool
}

// MountAt mounts a ZFS filesystem at the given path, regardless of its mountpoint property.
// The path is created when it does not exist.
func MountAt(ctx context.Context, name, path string, options MountAtOptions) error {
	if strings.Contains(name, "@") {
		return ErrSnapshotsNotSupported
	}

	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return fmt.Errorf("error creating mountpoint %s: %w", path, err)
	}

	opts := make([]string, 0, 2)
	if mountZFSUtilOption != "" {
		opts = append(opts, mountZFSUtilOption)
	}
	if options.ReadOnly {
		opts = append(opts, "ro")
	}

	args := []string{"-t", "zfs"}
	if len(opts) > 0 {
		args = append(args, "-o", strings.Join(opts, ","))
	}
	args = append(args, name, path)

	c := command{
		cmd: MountBinary,
		ctx: ctx,
	}
	_, err = c.Run(args...)
	return err
}

// UnmountAt unmounts the filesystem mounted at the given path
func UnmountAt(ctx context.Context, path string, options UnmountOptions) error {
	args := make([]string, 0, 2)
	if options.Force {
		args = append(args, "-f")
	}
	args = append(args, path)

	c := command{
		cmd: UnmountBinary,
		ctx: ctx,
	}
	_, err := c.Run(args...)
	return err
}

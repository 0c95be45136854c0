// Package zfs provides wrappers around the ZFS command line tools.
package zfs

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// Binary is the zfs command
	Binary = "zfs"
	// PoolBinary is the zpool command
	PoolBinary = "zpool"
)

// ListOptions are options you can specify to customize the list command
type ListOptions struct {
	// ParentDataset filters by parent dataset, empty lists all
	ParentDataset string
	// DatasetType filters the results by type, a comma separated list is allowed
	DatasetType DatasetType
	// ExtraProperties lists the properties to retrieve besides the ones in the Dataset struct (in the ExtraProps key)
	ExtraProperties []string
	// Recursive, if true will list all under the parent dataset
	Recursive bool
	// Depth specifies the depth to go below the parent dataset (or root if no parent)
	Depth int
	// PropertySources is a list of sources to display. Those properties coming from a source other than those in this
	// list are ignored
	PropertySources []PropertySource
}

func (lo ListOptions) propertySourceStrings() []string {
	sl := make([]string, len(lo.PropertySources))
	for i, ps := range lo.PropertySources {
		sl[i] = string(ps)
	}
	return sl
}

// ListDatasets lists the datasets by type and allows you to fetch extra custom fields
func ListDatasets(ctx context.Context, options ListOptions) ([]Dataset, error) {
	args := make([]string, 0, 16)
	args = append(args, "get", "-Hp", "-o", "name,property,value,source")
	if options.DatasetType != "" {
		args = append(args, "-t", string(options.DatasetType))
	}

	if options.Recursive {
		args = append(args, "-r")
	}

	if options.Depth > 0 {
		args = append(args, "-d", strconv.Itoa(options.Depth))
	}

	if len(options.PropertySources) > 0 {
		if !slices.Contains(options.PropertySources, PropertySourceNone) {
			options.PropertySources = append(options.PropertySources, PropertySourceNone)
		}
		args = append(args, "-s", strings.Join(options.propertySourceStrings(), ","))
	}

	allFields := append(slices.Clone(dsPropList), options.ExtraProperties...)
	args = append(args, strings.Join(allFields, ","))

	if options.ParentDataset != "" {
		args = append(args, options.ParentDataset)
	}

	out, err := zfsOutput(ctx, args...)
	if err != nil {
		return nil, err
	}

	return readDatasets(out, options.ExtraProperties)
}

// GetDataset retrieves a single ZFS dataset by name.
// This dataset could be any valid ZFS dataset type, such as a clone, filesystem, snapshot, or volume.
func GetDataset(ctx context.Context, name string, extraProperties ...string) (*Dataset, error) {
	ds, err := ListDatasets(ctx, ListOptions{
		ParentDataset:   name,
		ExtraProperties: extraProperties,
	})
	if err != nil {
		return nil, err
	}

	if len(ds) != 1 {
		return nil, fmt.Errorf("expected one dataset for %s, got %d", name, len(ds))
	}
	return &ds[0], nil
}

// CreateFilesystemOptions are options you can specify to customize the create filesystem command
type CreateFilesystemOptions struct {
	// Sets the specified properties as if the command zfs set property=value was invoked at the same time the dataset was created.
	Properties map[string]string

	// Creates all the non-existing parent datasets. Datasets created in this manner are automatically mounted according
	// to the mountpoint property inherited from their parent. Any property specified on the command line using the -o option
	// is ignored. If the target filesystem already exists, the operation completes successfully.
	CreateParents bool

	// Do not mount the newly created file system.
	NoMount bool
}

// CreateFilesystem creates a new ZFS filesystem with the specified name and properties.
//
// A full list of available ZFS properties may be found in the ZFS manual:
// https://openzfs.github.io/openzfs-docs/man/7/zfsprops.7.html.
func CreateFilesystem(ctx context.Context, name string, options CreateFilesystemOptions) error {
	args := make([]string, 1, 10)
	args[0] = "create"

	if options.Properties != nil {
		args = append(args, propsSlice(options.Properties)...)
	}
	if options.CreateParents {
		args = append(args, "-p")
	}
	if options.NoMount {
		args = append(args, "-u")
	}
	args = append(args, name)

	return zfs(ctx, args...)
}

// SnapshotOptions are options you can specify to customize the snapshot command
type SnapshotOptions struct {
	// Sets the specified properties on the snapshot.
	Properties map[string]string

	// Recursively create snapshots of all descendent datasets.
	Recursive bool
}

// Snapshot creates a new ZFS snapshot of the given dataset, using the specified name.
// Optionally, the snapshot can be taken recursively, creating snapshots of all descendent filesystems in a single, atomic operation.
func Snapshot(ctx context.Context, dataset, name string, options SnapshotOptions) error {
	args := make([]string, 1, 10)
	args[0] = "snapshot"
	if options.Recursive {
		args = append(args, "-r")
	}
	if options.Properties != nil {
		args = append(args, propsSlice(options.Properties)...)
	}
	args = append(args, fmt.Sprintf("%s@%s", dataset, name))

	return zfs(ctx, args...)
}

// CloneOptions are options you can specify to customize the clone command
type CloneOptions struct {
	// Properties to be applied to the new dataset
	Properties map[string]string

	// Creates all the non-existing parent datasets.
	CreateParents bool
}

// Clone clones a ZFS snapshot into a new dataset.
// An error will be returned if the input dataset is not a snapshot.
func Clone(ctx context.Context, snapshot, dest string, options CloneOptions) error {
	if !strings.Contains(snapshot, "@") {
		return ErrOnlySnapshotsSupported
	}
	args := make([]string, 1, 8)
	args[0] = "clone"
	if options.CreateParents {
		args = append(args, "-p")
	}
	if options.Properties != nil {
		args = append(args, propsSlice(options.Properties)...)
	}
	args = append(args, snapshot, dest)

	return zfs(ctx, args...)
}

// Promote promotes a clone, so it no longer depends on its origin snapshot.
// The origin filesystem becomes a clone of the promoted dataset instead.
func Promote(ctx context.Context, name string) error {
	if strings.Contains(name, "@") {
		return ErrSnapshotsNotSupported
	}
	return zfs(ctx, "promote", name)
}

// RenameOptions are options you can specify to customize the rename command
type RenameOptions struct {
	// Creates all the nonexistent parent datasets.
	CreateParent bool

	// Do not remount file systems during rename.
	NoMount bool

	// Force unmount any file systems that need to be unmounted in the process.
	Force bool
}

// Rename renames a dataset, all its descendants are renamed along with it.
func Rename(ctx context.Context, name, newName string, options RenameOptions) error {
	args := make([]string, 1, 6)
	args[0] = "rename"
	if options.CreateParent {
		args = append(args, "-p")
	}
	if options.NoMount {
		args = append(args, "-u")
	}
	if options.Force {
		args = append(args, "-f")
	}
	args = append(args, name, newName)

	return zfs(ctx, args...)
}

// RollbackOptions are options you can specify to customize the rollback command
type RollbackOptions struct {
	// Destroy any snapshots and bookmarks more recent than the one specified.
	DestroyMoreRecent bool

	// Destroy any more recent snapshots and bookmarks, as well as any clones of those snapshots.
	DestroyMoreRecentClones bool

	// Used with the DestroyMoreRecentClones option to force an unmount of any clone file systems that are to be destroyed.
	Force bool
}

// Rollback rolls back the dataset of the given snapshot to that snapshot.
// A ZFS snapshot rollback cannot be completed without DestroyMoreRecent, if more recent snapshots exist.
func Rollback(ctx context.Context, snapshot string, options RollbackOptions) error {
	if !strings.Contains(snapshot, "@") {
		return ErrOnlySnapshotsSupported
	}

	args := make([]string, 1, 5)
	args[0] = "rollback"
	if options.DestroyMoreRecent {
		args = append(args, "-r")
	}
	if options.DestroyMoreRecentClones {
		args = append(args, "-R")
	}
	if options.Force {
		args = append(args, "-f")
	}
	args = append(args, snapshot)

	return zfs(ctx, args...)
}

// DestroyOptions are options you can specify to customize the destroy command
type DestroyOptions struct {
	// Recursively destroy all children.
	Recursive bool

	// Recursively destroy all dependents, including cloned file systems outside the target hierarchy.
	RecursiveClones bool

	// Forcibly unmount file systems. This option has no effect on non-file systems or unmounted file systems.
	Force bool

	// Only for snapshots. Destroy immediately. If a snapshot cannot be destroyed now, mark it for deferred destruction.
	Defer bool
}

// Destroy destroys a ZFS dataset or snapshot.
func Destroy(ctx context.Context, name string, options DestroyOptions) error {
	args := make([]string, 1, 6)
	args[0] = "destroy"
	if options.Recursive {
		args = append(args, "-r")
	}
	if options.RecursiveClones {
		args = append(args, "-R")
	}
	if options.Defer {
		args = append(args, "-d")
	}
	if options.Force {
		args = append(args, "-f")
	}
	args = append(args, name)

	return zfs(ctx, args...)
}

// SetProperty sets a ZFS property on the dataset.
//
// A full list of available ZFS properties may be found in the ZFS manual:
// https://openzfs.github.io/openzfs-docs/man/7/zfsprops.7.html.
func SetProperty(ctx context.Context, name, key, val string) error {
	return zfs(ctx, "set", key+"="+val, name)
}

// InheritProperty clears a property from the dataset, making it use its parent datasets value.
func InheritProperty(ctx context.Context, name, key string) error {
	return zfs(ctx, "inherit", key, name)
}

// UnmountOptions are options you can specify to customize the unmount command
type UnmountOptions struct {
	// Forcefully unmount the file system, even if it is currently in use.
	Force bool
}

// SendOptions are options you can specify to customize the send command
type SendOptions struct {
	// When set, uses a rate-limiter to limit the flow to this amount of bytes per second
	BytesPerSecond int64

	// When set, the stream is compressed with zstd at this level
	CompressionLevel zstd.EncoderLevel

	// Generate a replication stream package, which will replicate the specified file system, and all descendent file
	// systems, up to the named snapshot. When received, all properties, snapshots, descendent file systems, and clones
	// are preserved.
	Replicate bool

	// For encrypted datasets, send data exactly as it exists on disk.
	Raw bool

	// Include the dataset's properties in the stream. This flag is implicit when Replicate is specified.
	IncludeProperties bool

	// Generate an incremental stream from this snapshot to the sent snapshot.
	IncrementalBase string
}

// Send sends a ZFS stream of a snapshot to the io.Writer.
// An error will be returned if the input dataset is not a snapshot.
func Send(ctx context.Context, snapshot string, output io.Writer, options SendOptions) error {
	if !strings.Contains(snapshot, "@") {
		return ErrOnlySnapshotsSupported
	}

	args := make([]string, 1, 8)
	args[0] = "send"
	if options.Replicate {
		args = append(args, "-R")
	}
	if options.Raw {
		args = append(args, "-w")
	}
	if options.IncludeProperties {
		args = append(args, "-p")
	}
	if options.IncrementalBase != "" {
		if !strings.Contains(options.IncrementalBase, "@") {
			return fmt.Errorf("send base %s: %w", options.IncrementalBase, ErrOnlySnapshotsSupported)
		}
		args = append(args, "-i", options.IncrementalBase)
	}
	args = append(args, snapshot)

	writer, closer, err := StreamWriter(output, options.BytesPerSecond, options.CompressionLevel)
	if err != nil {
		return err
	}

	c := command{
		cmd:    Binary,
		ctx:    ctx,
		stdout: writer,
	}
	_, err = c.Run(args...)
	closeErr := closer()
	if err != nil {
		return err
	}
	return closeErr
}

// ReceiveOptions are options you can specify to customize the receive command
type ReceiveOptions struct {
	// When set, uses a rate-limiter to limit the flow to this amount of bytes per second
	BytesPerSecond int64

	// When set, the stream is expected to be zstd compressed
	EnableDecompression bool

	// Do not mount the received file systems
	NoMount bool

	// Properties to be applied to the received dataset
	Properties map[string]string
}

// Receive receives a ZFS stream from the input io.Reader into a new dataset with the given name.
func Receive(ctx context.Context, name string, input io.Reader, options ReceiveOptions) error {
	reader, closer, err := StreamReader(input, options.BytesPerSecond, options.EnableDecompression)
	if err != nil {
		return err
	}
	defer closer()

	c := command{
		cmd:   Binary,
		ctx:   ctx,
		stdin: reader,
	}

	args := make([]string, 1, 8)
	args[0] = "receive"
	if options.NoMount {
		args = append(args, "-u")
	}
	args = append(args, propsSlice(options.Properties)...)
	args = append(args, name)

	_, err = c.Run(args...)
	return err
}

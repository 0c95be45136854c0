// Package memzfs is an in memory implementation of the storage the boot environment engine runs on.
// It models the parts of zfs the engine relies on: property inheritance, clones, promotion, renames,
// rollbacks and mounts. It is used to test without a zpool.
package memzfs

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	zfs "github.com/vansante/go-bootenv"
)

const maxNameLength = 255

type dataset struct {
	name       string
	typ        zfs.DatasetType
	origin     string
	creation   time.Time
	used       uint64
	referenced uint64
	local      map[string]string
	received   map[string]string
}

// Storage holds pools, datasets and a mount table in memory. It is safe for concurrent use.
type Storage struct {
	mu        sync.Mutex
	datasets  map[string]*dataset
	pools     map[string]map[string]string
	mounts    []zfs.Mount
	clock     time.Time
	available uint64
	failures  map[string]map[string]error
	calls     []string
}

// New creates an empty Storage without pools
func New() *Storage {
	return &Storage{
		datasets:  make(map[string]*dataset),
		pools:     make(map[string]map[string]string),
		clock:     time.Unix(1_700_000_000, 0),
		available: 100 << 30,
		failures:  make(map[string]map[string]error),
	}
}

// AddPool creates a pool with its root dataset
func (s *Storage) AddPool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[name] = make(map[string]string)
	s.datasets[name] = s.newDataset(name, zfs.DatasetFilesystem)
}

// FailOn makes every call of the operation on the named dataset return err. An empty name fails
// the operation for every dataset. The operations are named after the methods in lowercase, for
// unmount the name is the path.
func (s *Storage) FailOn(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures[op] == nil {
		s.failures[op] = make(map[string]error)
	}
	s.failures[op][name] = err
}

// ClearFailures removes every failure set by FailOn
func (s *Storage) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]map[string]error)
}

// SetUsed sets the space written to a filesystem, or the space unique to a snapshot
func (s *Storage) SetUsed(name string, used uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds, ok := s.datasets[name]; ok {
		ds.used = used
	}
}

// SetClock moves the clock used for creation times, every new dataset is created one second later
func (s *Storage) SetClock(tm time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tm
}

// Exists returns whether the filesystem or snapshot exists
func (s *Storage) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.datasets[name]
	return ok
}

// Property returns the effective value of a property and where it comes from
func (s *Storage) Property(name, key string) (string, zfs.PropertySource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[name]
	if !ok {
		return "", zfs.PropertySourceNone
	}
	return s.property(ds, key)
}

// Origin returns the snapshot the filesystem was cloned from
func (s *Storage) Origin(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds, ok := s.datasets[name]; ok {
		return ds.origin
	}
	return ""
}

// Calls returns the modifying calls that succeeded, such as "destroy pool/ROOT/a@snap"
func (s *Storage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Storage) check(ctx context.Context, op, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.failures[op][name]; ok {
		return err
	}
	if err, ok := s.failures[op][""]; ok {
		return err
	}
	return nil
}

func (s *Storage) record(op, name string) {
	s.calls = append(s.calls, op+" "+name)
}

func (s *Storage) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Storage) newDataset(name string, typ zfs.DatasetType) *dataset {
	return &dataset{
		name:     name,
		typ:      typ,
		creation: s.tick(),
		local:    make(map[string]string),
		received: make(map[string]string),
	}
}

func notFound(name string) error {
	return fmt.Errorf("cannot open '%s': %w", name, zfs.ErrDatasetNotFound)
}

func (s *Storage) filesystem(name string) (*dataset, error) {
	ds, ok := s.datasets[name]
	if !ok || ds.typ != zfs.DatasetFilesystem {
		return nil, notFound(name)
	}
	return ds, nil
}

func (s *Storage) snapshot(name string) (*dataset, error) {
	ds, ok := s.datasets[name]
	if !ok || ds.typ != zfs.DatasetSnapshot {
		return nil, notFound(name)
	}
	return ds, nil
}

// createChecks verifies a new dataset can be created with the name
func (s *Storage) createChecks(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("cannot create '%s': %w", name, zfs.ErrNameTooLong)
	}
	if _, ok := s.pools[zfs.PoolName(name)]; !ok {
		return fmt.Errorf("cannot create '%s': %w", name, zfs.ErrPoolNotFound)
	}
	if _, ok := s.datasets[name]; ok {
		return fmt.Errorf("cannot create '%s': %w", name, zfs.ErrDatasetExists)
	}
	if _, err := s.filesystem(path.Dir(name)); err != nil || !strings.Contains(name, "/") {
		return fmt.Errorf("cannot create '%s': parent does not exist: %w", name, zfs.ErrDatasetNotFound)
	}
	return nil
}

// property resolves the effective value of a property. Every property except canmount is inherited.
func (s *Storage) property(ds *dataset, key string) (string, zfs.PropertySource) {
	if v, ok := ds.local[key]; ok {
		return v, zfs.PropertySourceLocal
	}
	if v, ok := ds.received[key]; ok {
		return v, zfs.PropertySourceReceived
	}

	switch {
	case key == zfs.PropertyCanMount:
		if ds.typ == zfs.DatasetSnapshot {
			return "", zfs.PropertySourceNone
		}
		return zfs.PropertyOn, zfs.PropertySourceDefault
	case key == zfs.PropertyMountPoint && ds.typ == zfs.DatasetSnapshot:
		return "", zfs.PropertySourceNone
	}

	name := ds.name
	if ds.typ == zfs.DatasetSnapshot {
		name, _, _ = strings.Cut(name, "@")
		if parent, ok := s.datasets[name]; ok {
			v, src := s.property(parent, key)
			if src == zfs.PropertySourceDefault || src == zfs.PropertySourceNone {
				return v, src
			}
			return v, zfs.PropertySourceInherited
		}
	}

	for parent := name; strings.Contains(parent, "/"); {
		parent = path.Dir(parent)
		p, ok := s.datasets[parent]
		if !ok {
			continue
		}
		v, ok := p.local[key]
		if !ok {
			v, ok = p.received[key]
		}
		if !ok {
			continue
		}
		if key == zfs.PropertyMountPoint && v != zfs.PropertyNone && v != zfs.PropertyLegacy {
			v = path.Join(v, strings.TrimPrefix(name, parent+"/"))
		}
		return v, zfs.PropertySourceInherited
	}

	if key == zfs.PropertyMountPoint {
		return "/" + ds.name, zfs.PropertySourceDefault
	}
	return "", zfs.PropertySourceNone
}

// snapshotsOf returns the snapshots of a filesystem, oldest first
func (s *Storage) snapshotsOf(name string) []*dataset {
	var snaps []*dataset
	for key, ds := range s.datasets {
		if strings.HasPrefix(key, name+"@") {
			snaps = append(snaps, ds)
		}
	}
	slices.SortFunc(snaps, func(a, b *dataset) int {
		if c := a.creation.Compare(b.creation); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	return snaps
}

// descendants returns the names of every child filesystem and snapshot below the dataset
func (s *Storage) descendants(name string) []string {
	var names []string
	for key := range s.datasets {
		if strings.HasPrefix(key, name+"/") || strings.HasPrefix(key, name+"@") {
			names = append(names, key)
		}
	}
	slices.Sort(names)
	return names
}

func (s *Storage) clones(snapshot string) []string {
	var clones []string
	for key, ds := range s.datasets {
		if ds.origin == snapshot {
			clones = append(clones, key)
		}
	}
	slices.Sort(clones)
	return clones
}

func (s *Storage) mounted(name string) bool {
	for _, m := range s.mounts {
		if m.Dataset == name {
			return true
		}
	}
	return false
}

// totalUsed returns the space used by a filesystem, its snapshots and its children
func (s *Storage) totalUsed(name string) (total, bySnapshots uint64) {
	total = s.datasets[name].used
	for _, key := range s.descendants(name) {
		ds := s.datasets[key]
		total += ds.used
		if strings.HasPrefix(key, name+"@") {
			bySnapshots += ds.used
		}
	}
	return total, bySnapshots
}

func (s *Storage) describe(ds *dataset, extraProperties []string) zfs.Dataset {
	out := zfs.Dataset{
		Name:       ds.name,
		Type:       ds.typ,
		Origin:     ds.origin,
		Creation:   ds.creation,
		Available:  s.available,
		ExtraProps: make(map[string]string, len(extraProperties)),
		Sources:    make(map[string]zfs.PropertySource, len(extraProperties)+2),
	}

	if ds.typ == zfs.DatasetSnapshot {
		out.Used = ds.used
		out.Referenced = ds.referenced
		out.Clones = s.clones(ds.name)
	} else {
		out.Used, out.Usedbysnapshots = s.totalUsed(ds.name)
		out.Usedbydataset = ds.used
		out.Referenced = ds.used
		out.Mounted = s.mounted(ds.name)
		out.Mountpoint, out.Sources[zfs.PropertyMountPoint] = s.property(ds, zfs.PropertyMountPoint)
		out.CanMount, out.Sources[zfs.PropertyCanMount] = s.property(ds, zfs.PropertyCanMount)
	}

	for _, key := range extraProperties {
		out.ExtraProps[key], out.Sources[key] = s.property(ds, key)
	}
	return out
}

// Dataset describes a single filesystem or snapshot
func (s *Storage) Dataset(ctx context.Context, name string) (zfs.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "dataset", name)
	if err != nil {
		return zfs.Dataset{}, err
	}
	ds, ok := s.datasets[name]
	if !ok {
		return zfs.Dataset{}, notFound(name)
	}
	return s.describe(ds, nil), nil
}

// ListDatasets lists the filesystems and snapshots of the pool, sorted by name
func (s *Storage) ListDatasets(ctx context.Context, pool string, extraProperties []string) ([]zfs.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "list", pool)
	if err != nil {
		return nil, err
	}
	if _, ok := s.pools[pool]; pool != "" && !ok {
		return nil, notFound(pool)
	}

	names := make([]string, 0, len(s.datasets))
	for name := range s.datasets {
		if pool == "" || zfs.PoolName(name) == pool {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	list := make([]zfs.Dataset, 0, len(names))
	for _, name := range names {
		list = append(list, s.describe(s.datasets[name], extraProperties))
	}
	return list, nil
}

// Mounts returns the mount table in the order the filesystems were mounted
func (s *Storage) Mounts(ctx context.Context) ([]zfs.Mount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "mounts", "")
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.mounts), nil
}

func (s *Storage) PoolProperty(ctx context.Context, pool, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "poolproperty", pool)
	if err != nil {
		return "", err
	}
	props, ok := s.pools[pool]
	if !ok {
		return "", fmt.Errorf("cannot open '%s': %w", pool, zfs.ErrPoolNotFound)
	}
	return props[key], nil
}

// SetPoolProperty sets a pool property. The bootfs must name an existing filesystem of the pool.
func (s *Storage) SetPoolProperty(ctx context.Context, pool, key, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "setpoolproperty", pool)
	if err != nil {
		return err
	}
	props, ok := s.pools[pool]
	if !ok {
		return fmt.Errorf("cannot open '%s': %w", pool, zfs.ErrPoolNotFound)
	}
	if key == zfs.PoolPropertyBootFS && val != "" {
		if _, err := s.filesystem(val); err != nil || zfs.PoolName(val) != pool {
			return fmt.Errorf("cannot set property for '%s': %w", pool, notFound(val))
		}
	}
	props[key] = val
	s.record("setpoolproperty", pool+" "+key+"="+val)
	return nil
}

// CreateFilesystem creates a filesystem. The parent must exist.
func (s *Storage) CreateFilesystem(ctx context.Context, name string, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "create", name)
	if err != nil {
		return err
	}
	err = s.createChecks(name)
	if err != nil {
		return err
	}

	ds := s.newDataset(name, zfs.DatasetFilesystem)
	for k, v := range props {
		ds.local[k] = v
	}
	s.datasets[name] = ds
	s.record("create", name)
	return nil
}

func (s *Storage) Snapshot(ctx context.Context, dataset, name string, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := dataset + "@" + name
	err := s.check(ctx, "snapshot", full)
	if err != nil {
		return err
	}
	fs, err := s.filesystem(dataset)
	if err != nil {
		return err
	}
	if len(full) > maxNameLength {
		return fmt.Errorf("cannot create snapshot '%s': %w", full, zfs.ErrNameTooLong)
	}
	if _, ok := s.datasets[full]; ok {
		return fmt.Errorf("cannot create snapshot '%s': %w", full, zfs.ErrDatasetExists)
	}

	snap := s.newDataset(full, zfs.DatasetSnapshot)
	snap.referenced = fs.used
	for k, v := range props {
		snap.local[k] = v
	}
	s.datasets[full] = snap
	s.record("snapshot", full)
	return nil
}

func (s *Storage) Clone(ctx context.Context, snapshot, dest string, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "clone", dest)
	if err != nil {
		return err
	}
	snap, err := s.snapshot(snapshot)
	if err != nil {
		return err
	}
	if zfs.PoolName(snapshot) != zfs.PoolName(dest) {
		return fmt.Errorf("cannot create '%s': source and target pools differ", dest)
	}
	err = s.createChecks(dest)
	if err != nil {
		return err
	}

	ds := s.newDataset(dest, zfs.DatasetFilesystem)
	ds.origin = snap.name
	for k, v := range props {
		ds.local[k] = v
	}
	s.datasets[dest] = ds
	s.record("clone", dest)
	return nil
}

// Promote reverses the clone relation with its origin. The origin snapshot and every older snapshot
// move to the promoted filesystem.
func (s *Storage) Promote(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "promote", name)
	if err != nil {
		return err
	}
	ds, err := s.filesystem(name)
	if err != nil {
		return err
	}
	if ds.origin == "" {
		return fmt.Errorf("cannot promote '%s': not a cloned filesystem", name)
	}

	originName, originSnap, _ := strings.Cut(ds.origin, "@")
	origin, err := s.filesystem(originName)
	if err != nil {
		return err
	}

	snaps := s.snapshotsOf(originName)
	last := slices.IndexFunc(snaps, func(snap *dataset) bool {
		return snap.name == ds.origin
	})
	moving := snaps[:last+1]
	for _, snap := range moving {
		_, snapName, _ := strings.Cut(snap.name, "@")
		if _, ok := s.datasets[name+"@"+snapName]; ok {
			return fmt.Errorf("cannot promote '%s': snapshot %s: %w", name, snapName, zfs.ErrDatasetExists)
		}
	}

	oldOrigin := origin.origin
	for _, snap := range moving {
		_, snapName, _ := strings.Cut(snap.name, "@")
		s.renameKey(snap.name, name+"@"+snapName)
	}
	ds.origin = oldOrigin
	origin.origin = name + "@" + originSnap
	s.record("promote", name)
	return nil
}

// renameKey moves a dataset to a new name, updating the clones that reference it
func (s *Storage) renameKey(oldName, newName string) {
	ds := s.datasets[oldName]
	delete(s.datasets, oldName)
	ds.name = newName
	s.datasets[newName] = ds
	if ds.typ != zfs.DatasetSnapshot {
		return
	}
	for _, other := range s.datasets {
		if other.origin == oldName {
			other.origin = newName
		}
	}
}

// Rename renames a filesystem with its children and snapshots. Mounted filesystems stay mounted
// at the same path, the pool bootfs is not updated.
func (s *Storage) Rename(ctx context.Context, name, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "rename", name)
	if err != nil {
		return err
	}
	if _, err = s.filesystem(name); err != nil {
		return err
	}
	if zfs.PoolName(name) != zfs.PoolName(newName) {
		return fmt.Errorf("cannot rename '%s': cannot rename to a different pool", name)
	}
	if strings.HasPrefix(newName, name+"/") {
		return fmt.Errorf("cannot rename '%s': cannot rename to a descendant", name)
	}
	err = s.createChecks(newName)
	if err != nil {
		return err
	}
	for _, key := range s.descendants(name) {
		if len(newName+key[len(name):]) > maxNameLength {
			return fmt.Errorf("cannot rename '%s': %w", key, zfs.ErrNameTooLong)
		}
	}

	for _, key := range append(s.descendants(name), name) {
		s.renameKey(key, newName+key[len(name):])
	}
	for i := range s.mounts {
		ds := s.mounts[i].Dataset
		if ds == name || strings.HasPrefix(ds, name+"/") {
			s.mounts[i].Dataset = newName + ds[len(name):]
		}
	}
	s.record("rename", name+" "+newName)
	return nil
}

// Rollback rolls a filesystem back to a snapshot, destroying the more recent snapshots
func (s *Storage) Rollback(ctx context.Context, snapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "rollback", snapshot)
	if err != nil {
		return err
	}
	snap, err := s.snapshot(snapshot)
	if err != nil {
		return err
	}
	name, _, _ := strings.Cut(snapshot, "@")
	snaps := s.snapshotsOf(name)
	idx := slices.Index(snaps, snap)

	newer := snaps[idx+1:]
	for _, n := range newer {
		if len(s.clones(n.name)) > 0 {
			return fmt.Errorf("cannot rollback to '%s': snapshot %s: %w", snapshot, n.name, zfs.ErrHasClones)
		}
	}
	for _, n := range newer {
		delete(s.datasets, n.name)
	}
	s.datasets[name].used = snap.referenced
	s.record("rollback", snapshot)
	return nil
}

// Destroy destroys a filesystem or snapshot. Recursive also destroys the children and snapshots of
// a filesystem, but never clones that live elsewhere.
func (s *Storage) Destroy(ctx context.Context, name string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "destroy", name)
	if err != nil {
		return err
	}
	ds, ok := s.datasets[name]
	if !ok {
		return notFound(name)
	}

	if ds.typ == zfs.DatasetSnapshot {
		if len(s.clones(name)) > 0 {
			return fmt.Errorf("cannot destroy '%s': %w", name, zfs.ErrHasClones)
		}
		delete(s.datasets, name)
		s.record("destroy", name)
		return nil
	}

	if !strings.Contains(name, "/") {
		return fmt.Errorf("cannot destroy '%s': operation does not apply to pools", name)
	}
	targets := s.descendants(name)
	if len(targets) > 0 && !recursive {
		return fmt.Errorf("cannot destroy '%s': %w", name, zfs.ErrHasChildren)
	}
	targets = append(targets, name)
	for _, key := range targets {
		for _, clone := range s.clones(key) {
			if !slices.Contains(targets, clone) {
				return fmt.Errorf("cannot destroy '%s': %s %w", name, key, zfs.ErrHasClones)
			}
		}
		if s.mounted(key) {
			return fmt.Errorf("cannot destroy '%s': %w", key, zfs.ErrDatasetBusy)
		}
	}

	for _, key := range targets {
		delete(s.datasets, key)
	}
	s.record("destroy", name)
	return nil
}

func (s *Storage) SetProperty(ctx context.Context, name, key, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "setproperty", name)
	if err != nil {
		return err
	}
	ds, ok := s.datasets[name]
	if !ok {
		return notFound(name)
	}
	ds.local[key] = val
	s.record("setproperty", name+" "+key+"="+val)
	return nil
}

// InheritProperty removes the local value of a property
func (s *Storage) InheritProperty(ctx context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "inheritproperty", name)
	if err != nil {
		return err
	}
	ds, ok := s.datasets[name]
	if !ok {
		return notFound(name)
	}
	delete(ds.local, key)
	s.record("inheritproperty", name+" "+key)
	return nil
}

// MountAt adds a filesystem to the mount table. A path or filesystem can be mounted only once.
func (s *Storage) MountAt(ctx context.Context, name, target string, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "mount", name)
	if err != nil {
		return err
	}
	if _, err = s.filesystem(name); err != nil {
		return err
	}
	target = path.Clean(target)
	for _, m := range s.mounts {
		if m.Path == target || m.Dataset == name {
			return fmt.Errorf("cannot mount '%s' at %s: %w", name, target, zfs.ErrDatasetBusy)
		}
	}

	opts := "rw"
	if readOnly {
		opts = "ro"
	}
	s.mounts = append(s.mounts, zfs.Mount{Dataset: name, Path: target, Options: opts})
	s.record("mount", name+" "+target)
	return nil
}

// Unmount removes a path from the mount table. Paths with mounts below them are busy unless forced.
func (s *Storage) Unmount(ctx context.Context, target string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target = path.Clean(target)
	err := s.check(ctx, "unmount", target)
	if err != nil {
		return err
	}

	idx := -1
	for i, m := range s.mounts {
		switch {
		case m.Path == target:
			idx = i
		case !force && strings.HasPrefix(m.Path, strings.TrimSuffix(target, "/")+"/"):
			return fmt.Errorf("cannot unmount %s: %w", target, zfs.ErrDatasetBusy)
		}
	}
	if idx < 0 {
		return fmt.Errorf("cannot unmount %s: %w", target, zfs.ErrNotMounted)
	}

	s.mounts = slices.Delete(s.mounts, idx, idx+1)
	s.record("unmount", target)
	return nil
}

package be

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/fvbommel/sortorder"

	zfs "github.com/vansante/go-bootenv"
)

// node is a filesystem in the forest. Relations are indices into forest.nodes.
type node struct {
	ds        zfs.Dataset
	parent    int
	children  []int
	snapshots []zfs.Dataset
	env       int
	shared    bool
	mountPath string
}

// envTree is the dataset tree of one boot environment
type envTree struct {
	name string
	root int
	// members holds the root followed by its descendants in preorder, stopping at nested boot environment roots
	members []int
}

// forest is a point in time view of the boot environments of one or all pools
type forest struct {
	pool   string
	nodes  []node
	index  map[string]int
	envs   []envTree
	shared []int
	// activeNow is the dataset mounted at /
	activeNow string
	// bootfs holds the bootfs pool property per pool
	bootfs map[string]string
	mounts []zfs.Mount
}

// discover reads every filesystem and snapshot of the pool and groups them into boot environments
func (e *Engine) discover(ctx context.Context, pool string) (*forest, error) {
	props := e.config.Properties
	list, err := e.storage.ListDatasets(ctx, pool, props.list())
	if err != nil {
		return nil, wrapError("discover", pool, err)
	}

	f := &forest{
		pool:   pool,
		index:  make(map[string]int, len(list)),
		bootfs: make(map[string]string),
	}

	filesystems := make([]zfs.Dataset, 0, len(list))
	snapshots := make([]zfs.Dataset, 0, len(list))
	for _, ds := range list {
		switch ds.Type {
		case zfs.DatasetFilesystem:
			filesystems = append(filesystems, ds)
		case zfs.DatasetSnapshot:
			snapshots = append(snapshots, ds)
		}
	}
	// Sorting by name puts parents before their children
	slices.SortFunc(filesystems, func(a, b zfs.Dataset) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, ds := range filesystems {
		f.index[ds.Name] = len(f.nodes)
		f.nodes = append(f.nodes, node{ds: ds, parent: -1, env: -1})
	}
	for i := range f.nodes {
		n := &f.nodes[i]
		parent, ok := f.index[path.Dir(n.ds.Name)]
		if !ok || !strings.Contains(n.ds.Name, "/") {
			continue
		}
		n.parent = parent
		f.nodes[parent].children = append(f.nodes[parent].children, i)
	}

	for _, snap := range snapshots {
		idx, ok := f.index[snap.DatasetName()]
		if !ok {
			continue
		}
		f.nodes[idx].snapshots = append(f.nodes[idx].snapshots, snap)
	}
	for i := range f.nodes {
		sortSnapshots(f.nodes[i].snapshots)
	}

	rootProp := props.RootProperty()
	for i := range f.nodes {
		if !isEnvRoot(&f.nodes[i].ds, rootProp) {
			continue
		}
		f.envs = append(f.envs, envTree{
			name: path.Base(f.nodes[i].ds.Name),
			root: i,
		})
	}
	for envIdx := range f.envs {
		f.envs[envIdx].members = f.collect(f.envs[envIdx].root, envIdx, rootProp)
	}

	sharedProp := props.SharedProperty()
	for i := range f.nodes {
		n := &f.nodes[i]
		if n.env >= 0 || n.ds.ExtraProps[sharedProp] != zfs.PropertyYes {
			continue
		}
		n.shared = true
		f.shared = append(f.shared, i)
	}

	err = e.readMounts(ctx, f)
	if err != nil {
		return nil, err
	}
	err = e.readBootFS(ctx, f)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// isEnvRoot returns whether the dataset carries the root tag itself. User properties are inherited by
// the children of a root, so inherited values do not count.
func isEnvRoot(ds *zfs.Dataset, rootProp string) bool {
	if ds.ExtraProps[rootProp] != zfs.PropertyYes {
		return false
	}
	src := ds.Source(rootProp)
	return src == zfs.PropertySourceLocal || src == zfs.PropertySourceReceived
}

// ownProperty returns the value of a user property only when the dataset carries it itself
func ownProperty(ds *zfs.Dataset, prop string) string {
	switch ds.Source(prop) {
	case zfs.PropertySourceLocal, zfs.PropertySourceReceived:
		return ds.ExtraProps[prop]
	}
	return ""
}

// collect walks the tree below root in preorder, assigning every dataset to the environment
func (f *forest) collect(root, envIdx int, rootProp string) []int {
	members := make([]int, 0, 4)
	stack := []int{root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if idx != root && isEnvRoot(&f.nodes[idx].ds, rootProp) {
			continue
		}

		f.nodes[idx].env = envIdx
		members = append(members, idx)

		children := f.nodes[idx].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return members
}

func (e *Engine) readMounts(ctx context.Context, f *forest) error {
	mounts, err := e.storage.Mounts(ctx)
	if err != nil {
		return wrapError("discover", f.pool, err)
	}
	f.mounts = mounts

	for _, m := range mounts {
		if m.Path == "/" {
			f.activeNow = m.Dataset
		}
		idx, ok := f.index[m.Dataset]
		if !ok || f.nodes[idx].mountPath != "" {
			continue
		}
		f.nodes[idx].mountPath = m.Path
	}
	return nil
}

func (e *Engine) readBootFS(ctx context.Context, f *forest) error {
	for _, env := range f.envs {
		pool := zfs.PoolName(f.nodes[env.root].ds.Name)
		if _, ok := f.bootfs[pool]; ok {
			continue
		}
		val, err := e.storage.PoolProperty(ctx, pool, zfs.PoolPropertyBootFS)
		if err != nil {
			return wrapError("discover", pool, err)
		}
		f.bootfs[pool] = val
	}
	return nil
}

func sortSnapshots(snaps []zfs.Dataset) {
	slices.SortStableFunc(snaps, func(a, b zfs.Dataset) int {
		if c := a.Creation.Compare(b.Creation); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// lookup finds a boot environment by name. Roots inside the root container of the pool take precedence.
func (f *forest) lookup(pool, container, name string) (*envTree, bool) {
	preferred := path.Join(pool, container, name)
	var found *envTree
	for i := range f.envs {
		env := &f.envs[i]
		if env.name != name {
			continue
		}
		rootName := f.nodes[env.root].ds.Name
		if zfs.PoolName(rootName) != pool {
			continue
		}
		if rootName == preferred {
			return env, true
		}
		if found == nil {
			found = env
		}
	}
	return found, found != nil
}

// sortedEnvs returns the environments ordered by creation time, ties broken by natural name order
func (f *forest) sortedEnvs() []*envTree {
	envs := make([]*envTree, len(f.envs))
	for i := range f.envs {
		envs[i] = &f.envs[i]
	}
	slices.SortStableFunc(envs, func(a, b *envTree) int {
		if c := f.nodes[a.root].ds.Creation.Compare(f.nodes[b.root].ds.Creation); c != 0 {
			return c
		}
		switch {
		case sortorder.NaturalLess(a.name, b.name):
			return -1
		case sortorder.NaturalLess(b.name, a.name):
			return 1
		}
		return strings.Compare(f.nodes[a.root].ds.Name, f.nodes[b.root].ds.Name)
	})
	return envs
}

// relPath returns the dataset name relative to the root of its environment
func (f *forest) relPath(env *envTree, idx int) string {
	rootName := f.nodes[env.root].ds.Name
	return strings.TrimPrefix(strings.TrimPrefix(f.nodes[idx].ds.Name, rootName), "/")
}

// hasSnapshot returns whether the dataset has a snapshot with the given name
func (n *node) hasSnapshot(name string) bool {
	return n.snapshot(name) != nil
}

func (n *node) snapshot(name string) *zfs.Dataset {
	for i := range n.snapshots {
		if n.snapshots[i].SnapshotName() == name {
			return &n.snapshots[i]
		}
	}
	return nil
}

// inEnv returns whether the named dataset belongs to the environment
func (f *forest) inEnv(env *envTree, name string) bool {
	idx, ok := f.index[name]
	if !ok {
		return false
	}
	return f.nodes[idx].env == f.envIndex(env)
}

func (f *forest) envIndex(env *envTree) int {
	return f.nodes[env.root].env
}

// holdsEnv returns whether a boot environment root lives below the dataset
func (f *forest) holdsEnv(name string) bool {
	for _, env := range f.envs {
		if strings.HasPrefix(f.nodes[env.root].ds.Name, name+"/") {
			return true
		}
	}
	return false
}

// anyMounted returns whether any dataset of the environment is mounted
func (f *forest) anyMounted(env *envTree) bool {
	for _, idx := range env.members {
		if f.nodes[idx].mountPath != "" {
			return true
		}
	}
	return false
}

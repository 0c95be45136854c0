package be

import (
	"time"
)

// MountpointMode describes how the mountpoint of a dataset is determined
type MountpointMode string

const (
	MountpointInherited MountpointMode = "inherited"
	MountpointExplicit  MountpointMode = "explicit"
	MountpointLegacy    MountpointMode = "legacy"
	MountpointNone      MountpointMode = "none"
)

// BootEnvironment is a named, bootable tree of datasets
type BootEnvironment struct {
	Name string `json:"Name"`
	Pool string `json:"Pool"`
	// Root is the name of the root dataset
	Root         string    `json:"Root"`
	ActiveNow    bool      `json:"ActiveNow"`
	ActiveOnBoot bool      `json:"ActiveOnBoot"`
	Mounted      bool      `json:"Mounted"`
	MountPath    string    `json:"MountPath,omitempty"`
	SpaceUsed    uint64    `json:"SpaceUsed"`
	Policy       string    `json:"Policy,omitempty"`
	Description  string    `json:"Description,omitempty"`
	Creation     time.Time `json:"Creation"`
	// Origin is the snapshot the root dataset was cloned from, if any
	Origin string `json:"Origin,omitempty"`
	// Datasets holds the root dataset first, followed by its descendants, parents before children
	Datasets []Dataset `json:"Datasets"`
	// Snapshots holds the snapshot sets of the tree, ordered by creation time
	Snapshots []SnapshotSet `json:"Snapshots"`
}

// Dataset is one filesystem of a boot environment
type Dataset struct {
	Name string `json:"Name"`
	// Path is the name of the dataset relative to the boot environment root, empty for the root itself
	Path           string         `json:"Path"`
	Mountpoint     string         `json:"Mountpoint"`
	MountpointMode MountpointMode `json:"MountpointMode"`
	CanMount       string         `json:"CanMount"`
	Mounted        bool           `json:"Mounted"`
	MountPath      string         `json:"MountPath,omitempty"`
	SpaceUsed      uint64         `json:"SpaceUsed"`
	Referenced     uint64         `json:"Referenced"`
	Origin         string         `json:"Origin,omitempty"`
	Creation       time.Time      `json:"Creation"`
	Policy         string         `json:"Policy,omitempty"`
	Snapshots      []Snapshot     `json:"Snapshots"`
}

// Snapshot is a snapshot of a single dataset
type Snapshot struct {
	Name     string    `json:"Name"`
	Dataset  string    `json:"Dataset"`
	Creation time.Time `json:"Creation"`
	Policy   string    `json:"Policy,omitempty"`
	Used     uint64    `json:"Used"`
	Clones   []string  `json:"Clones,omitempty"`
}

// SnapshotSet is the set of same named snapshots of the datasets of a boot environment
type SnapshotSet struct {
	Name     string    `json:"Name"`
	Creation time.Time `json:"Creation"`
	Policy   string    `json:"Policy,omitempty"`
	Used     uint64    `json:"Used"`
	Datasets []string  `json:"Datasets"`
}

// Mountable returns whether the dataset is mounted when its boot environment is mounted
func (d *Dataset) Mountable() bool {
	if d.Path == "" {
		return true
	}
	return d.MountpointMode != MountpointNone && d.CanMount != "off"
}

// Snapshot returns the snapshot set with the given name
func (b *BootEnvironment) Snapshot(name string) (SnapshotSet, bool) {
	for _, s := range b.Snapshots {
		if s.Name == name {
			return s, true
		}
	}
	return SnapshotSet{}, false
}

package be

import "fmt"

const (
	defaultRootContainer        = "ROOT"
	defaultSnapshotNameTemplate = "%DATETIME%"

	defaultNamespace           = "com.github.vansante"
	defaultRootProperty        = "be-root"
	defaultSharedProperty      = "be-shared"
	defaultPolicyProperty      = "be-policy"
	defaultDescriptionProperty = "be-description"
)

// Config configures the Engine
type Config struct {
	// Pool is used by requests that do not name a pool
	Pool string `json:"Pool" yaml:"Pool"`
	// RootContainer is the dataset below the pool that holds the boot environments
	RootContainer string `json:"RootContainer" yaml:"RootContainer"`
	// SnapshotNameTemplate is used to name snapshots when none is given.
	// It supports %DATETIME%, %UNIXTIME% and %BE%.
	SnapshotNameTemplate string `json:"SnapshotNameTemplate" yaml:"SnapshotNameTemplate"`

	Properties Properties `json:"Properties" yaml:"Properties"`
}

// ApplyDefaults applies all the default values to the configuration
func (c *Config) ApplyDefaults() {
	c.RootContainer = defaultRootContainer
	c.SnapshotNameTemplate = defaultSnapshotNameTemplate

	c.Properties.ApplyDefaults()
}

// Properties sets the names of the custom ZFS properties used to tag boot environments
type Properties struct {
	Namespace string `json:"Namespace" yaml:"Namespace"`

	Root        string `json:"Root" yaml:"Root"`
	Shared      string `json:"Shared" yaml:"Shared"`
	Policy      string `json:"Policy" yaml:"Policy"`
	Description string `json:"Description" yaml:"Description"`
}

// ApplyDefaults applies all the default values to the Properties
func (p *Properties) ApplyDefaults() {
	p.Namespace = defaultNamespace

	p.Root = defaultRootProperty
	p.Shared = defaultSharedProperty
	p.Policy = defaultPolicyProperty
	p.Description = defaultDescriptionProperty
}

// RootProperty marks a dataset as the root of a boot environment
func (p *Properties) RootProperty() string {
	return fmt.Sprintf("%s:%s", p.Namespace, p.Root)
}

// SharedProperty marks a dataset outside of the boot environments as shared by all of them
func (p *Properties) SharedProperty() string {
	return fmt.Sprintf("%s:%s", p.Namespace, p.Shared)
}

// PolicyProperty holds the cleanup policy of a boot environment or snapshot
func (p *Properties) PolicyProperty() string {
	return fmt.Sprintf("%s:%s", p.Namespace, p.Policy)
}

// DescriptionProperty holds the description of a boot environment
func (p *Properties) DescriptionProperty() string {
	return fmt.Sprintf("%s:%s", p.Namespace, p.Description)
}

func (p *Properties) list() []string {
	return []string{
		p.RootProperty(),
		p.SharedProperty(),
		p.PolicyProperty(),
		p.DescriptionProperty(),
	}
}

package job

const (
	defaultSnapshotNameTemplate = "%POLICY%-%UNIXTIME%"
)

// Config configures the runner
type Config struct {
	// Pool holds the boot environments the runner manages, the engine default pool is used when empty
	Pool                 string `json:"Pool" yaml:"Pool"`
	SnapshotNameTemplate string `json:"SnapshotNameTemplate" yaml:"SnapshotNameTemplate"`

	EnableSnapshotCreate   bool `json:"EnableSnapshotCreate" yaml:"EnableSnapshotCreate"`
	EnableSnapshotPrune    bool `json:"EnableSnapshotPrune" yaml:"EnableSnapshotPrune"`
	EnableEnvironmentPrune bool `json:"EnableEnvironmentPrune" yaml:"EnableEnvironmentPrune"`

	// Policies are referenced by name from the policy property of boot environments and snapshots
	Policies map[string]Policy `json:"Policies" yaml:"Policies"`
}

// Policy describes how the boot environments tagged with it are snapshotted and cleaned up
type Policy struct {
	// Schedule is a standard cron expression, such as "0 * * * *" or "@daily". No snapshots are made when empty.
	Schedule string `json:"Schedule" yaml:"Schedule"`

	// KeepSnapshots is the number of policy snapshots kept per boot environment, 0 keeps all of them
	KeepSnapshots int `json:"KeepSnapshots" yaml:"KeepSnapshots"`
	// SnapshotRetentionMinutes destroys older policy snapshots, 0 disables
	SnapshotRetentionMinutes int64 `json:"SnapshotRetentionMinutes" yaml:"SnapshotRetentionMinutes"`

	// KeepEnvironments makes the boot environments with this policy volatile: only the newest ones are kept
	KeepEnvironments int `json:"KeepEnvironments" yaml:"KeepEnvironments"`
	// EnvironmentRetentionMinutes destroys older volatile boot environments, 0 disables
	EnvironmentRetentionMinutes int64 `json:"EnvironmentRetentionMinutes" yaml:"EnvironmentRetentionMinutes"`
}

// volatile returns whether boot environments with the policy are pruned
func (p Policy) volatile() bool {
	return p.KeepEnvironments > 0 || p.EnvironmentRetentionMinutes > 0
}

// ApplyDefaults applies all the default values to the configuration
func (c *Config) ApplyDefaults() {
	c.SnapshotNameTemplate = defaultSnapshotNameTemplate

	c.EnableSnapshotCreate = true
	c.EnableSnapshotPrune = true
	c.EnableEnvironmentPrune = false
}

package http

const (
	defaultHTTPPort       = 7654
	defaultBytesPerSecond = 50 * 1024 * 1024
)

type Config struct {
	Port                 int      `json:"Port" yaml:"Port"`
	Host                 string   `json:"Host" yaml:"Host"`
	AuthenticationTokens []string `json:"AuthenticationTokens" yaml:"AuthenticationTokens"`
	SpeedBytesPerSecond  int64    `json:"BytesPerSecond" yaml:"BytesPerSecond"`

	Permissions Permissions `json:"Permissions" yaml:"Permissions"`
}

// Permissions gate the operations that destroy data or move it off the machine
type Permissions struct {
	AllowSpeedOverride bool `json:"AllowSpeedOverride" yaml:"AllowSpeedOverride"`
	AllowDestroy       bool `json:"AllowDestroy" yaml:"AllowDestroy"`
	AllowRollback      bool `json:"AllowRollback" yaml:"AllowRollback"`
	AllowExport        bool `json:"AllowExport" yaml:"AllowExport"`
	AllowImport        bool `json:"AllowImport" yaml:"AllowImport"`
}

// ApplyDefaults sets all config values to their defaults (if they have one)
func (c *Config) ApplyDefaults() {
	c.SpeedBytesPerSecond = defaultBytesPerSecond
	c.Port = defaultHTTPPort
}

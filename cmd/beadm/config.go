package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vansante/go-bootenv/be"
	zfshttp "github.com/vansante/go-bootenv/http"
	"github.com/vansante/go-bootenv/job"
)

// Config is the configuration file of beadm
type Config struct {
	Engine be.Config      `json:"Engine" yaml:"Engine"`
	HTTP   zfshttp.Config `json:"HTTP" yaml:"HTTP"`
	Jobs   job.Config     `json:"Jobs" yaml:"Jobs"`
}

// ApplyDefaults applies all the default values to the configuration
func (c *Config) ApplyDefaults() {
	c.Engine.ApplyDefaults()
	c.HTTP.ApplyDefaults()
	c.Jobs.ApplyDefaults()
}

// loadConfig reads the file over the defaults, only the defaults are returned without a file
func loadConfig(file string) (Config, error) {
	var conf Config
	conf.ApplyDefaults()
	if file == "" {
		return conf, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return conf, fmt.Errorf("error reading config file: %w", err)
	}
	err = yaml.Unmarshal(data, &conf)
	if err != nil {
		return conf, fmt.Errorf("error parsing config file %s: %w", file, err)
	}
	return conf, nil
}

// Package runtime contains the structs and definitions consumed by chartpack
// at runtime.
package runtime

import (
	"github.com/spf13/viper"

	"github.com/opdev/chartpack/internal/option"
)

// Config contains configuration details for running chartpack.
type Config struct {
	ChartURI         string
	LogFile          string
	Artifacts        string
	OutputDir        string
	NoImages         bool
	IncludeSigs      bool
	Platform         string
	DockerConfig     string
	Insecure         bool
	DiscoveryWorkers int
	PushWorkers      int
	// Import-Specific Fields
	HarborURL      string
	HarborUser     string
	HarborPassword string
	Project        string
}

// NewConfigFrom will return a runtime.Config based on the stored inputs in
// the provided viper.Viper. Note that shared configuration should be set
// in this function. Defaults should be set after this function has been
// called.
func NewConfigFrom(vcfg viper.Viper) (*Config, error) {
	cfg := Config{}
	cfg.LogFile = vcfg.GetString("logfile")
	cfg.Artifacts = vcfg.GetString("artifacts")
	cfg.DockerConfig = vcfg.GetString("dockerConfig")
	cfg.OutputDir = vcfg.GetString("output")
	cfg.NoImages = vcfg.GetBool("no_images")
	cfg.IncludeSigs = vcfg.GetBool("include_signatures")
	cfg.Platform = vcfg.GetString("platform")
	cfg.Insecure = vcfg.GetBool("insecure")
	cfg.DiscoveryWorkers = vcfg.GetInt("discovery_workers")
	cfg.PushWorkers = vcfg.GetInt("push_workers")
	cfg.storeImportConfiguration(vcfg)
	return &cfg, nil
}

// storeImportConfiguration reads import-specific config items in viper,
// normalizes them, and stores them in Config.
func (c *Config) storeImportConfiguration(vcfg viper.Viper) {
	c.HarborURL = vcfg.GetString("harbor_url")
	c.HarborUser = vcfg.GetString("harbor_user")
	c.HarborPassword = vcfg.GetString("harbor_password")
	c.Project = vcfg.GetString("project")
}

// This is to satisfy the CraneConfig interface
func (c *Config) CraneDockerConfig() string {
	return c.DockerConfig
}

func (c *Config) CranePlatform() string {
	return c.Platform
}

func (c *Config) CraneInsecure() bool {
	return c.Insecure
}

var _ option.CraneConfig = &Config{}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backends
const (
	BackendGCloud = "gcloud"
	BackendAPI    = "api"
)

// Config represents the complete projaudit configuration
type Config struct {
	Audit   AuditConfig   `mapstructure:"audit"`
	GCP     GCPConfig     `mapstructure:"gcp"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AuditConfig contains the run parameters
type AuditConfig struct {
	Organization    string        `mapstructure:"org"`
	OutFile         string        `mapstructure:"out"`
	PropagationWait time.Duration `mapstructure:"propagation_wait"`
	NoHeal          bool          `mapstructure:"no_heal"`
	Upload          string        `mapstructure:"upload"`
}

// GCPConfig selects and configures the Google Cloud backend
type GCPConfig struct {
	Backend         string `mapstructure:"backend"`
	GcloudPath      string `mapstructure:"gcloud_path"`
	Freshness       string `mapstructure:"freshness"`
	CredentialsFile string `mapstructure:"credentials"`
}

// OutputConfig contains terminal output configuration
type OutputConfig struct {
	NoColor bool `mapstructure:"no_color"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Audit: AuditConfig{
			OutFile:         "output.csv",
			PropagationWait: 60 * time.Second,
		},
		GCP: GCPConfig{
			Backend:    BackendGCloud,
			GcloudPath: "gcloud",
			Freshness:  "400d",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigFile returns $HOME/.projaudit/config.yaml
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".projaudit", "config.yaml")
}

// Load reads configuration into v from defaults, the config file and the
// environment, then unmarshals it. Flags must already be bound to v. A
// missing config file is not an error unless cfgFile was set explicitly.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v, DefaultConfig())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".projaudit"))
		}
	}

	v.SetEnvPrefix("PROJAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names for the common keys
	v.BindEnv("audit.org", "PROJAUDIT_ORG", "PROJAUDIT_AUDIT_ORG")
	v.BindEnv("audit.out", "PROJAUDIT_OUT", "PROJAUDIT_AUDIT_OUT")
	v.BindEnv("logging.level", "PROJAUDIT_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("gcp.credentials", "PROJAUDIT_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("audit.org", d.Audit.Organization)
	v.SetDefault("audit.out", d.Audit.OutFile)
	v.SetDefault("audit.propagation_wait", d.Audit.PropagationWait)
	v.SetDefault("audit.no_heal", d.Audit.NoHeal)
	v.SetDefault("audit.upload", d.Audit.Upload)
	v.SetDefault("gcp.backend", d.GCP.Backend)
	v.SetDefault("gcp.gcloud_path", d.GCP.GcloudPath)
	v.SetDefault("gcp.freshness", d.GCP.Freshness)
	v.SetDefault("gcp.credentials", d.GCP.CredentialsFile)
	v.SetDefault("output.no_color", d.Output.NoColor)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Audit.Organization) == "" {
		return fmt.Errorf("organization id is required (--org)")
	}

	if c.Audit.OutFile == "" {
		return fmt.Errorf("output file path is required")
	}

	if c.Audit.PropagationWait < 0 {
		return fmt.Errorf("propagation wait must not be negative")
	}

	switch c.GCP.Backend {
	case BackendGCloud:
		if c.GCP.GcloudPath == "" {
			return fmt.Errorf("gcloud path is required for the gcloud backend")
		}
	case BackendAPI:
	default:
		return fmt.Errorf("unknown backend %q (use %s or %s)", c.GCP.Backend, BackendGCloud, BackendAPI)
	}

	if u := c.Audit.Upload; u != "" && !strings.HasPrefix(u, "gs://") && !strings.HasPrefix(u, "s3://") {
		return fmt.Errorf("upload destination %q must start with gs:// or s3://", u)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands home directory paths
func (c *Config) ExpandPaths() error {
	var err error
	c.Audit.OutFile, err = expandPath(c.Audit.OutFile)
	if err != nil {
		return fmt.Errorf("failed to expand output path: %w", err)
	}

	c.GCP.CredentialsFile, err = expandPath(c.GCP.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to expand credentials path: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}

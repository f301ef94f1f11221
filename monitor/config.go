package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/argus/monitor/internal/fetch"
	"github.com/hazyhaar/argus/similarity"
)

// Config holds the monitor settings. Zero values are replaced by defaults.
type Config struct {
	// Name registers the orchestrator. Default "default".
	Name   string `yaml:"name" toml:"name"`
	Listen string `yaml:"listen" toml:"listen"`
	DBPath string `yaml:"db_path" toml:"db_path"`

	Workers        int `yaml:"workers" toml:"workers"`
	FaultTolerance int `yaml:"fault_tolerance" toml:"fault_tolerance"`

	DefaultInterval time.Duration `yaml:"default_interval" toml:"default_interval"`
	// MinInterval is the shortest polling interval a subscriber may ask for.
	MinInterval   time.Duration `yaml:"min_interval" toml:"min_interval"`
	SnippetOffset int           `yaml:"snippet_offset" toml:"snippet_offset"`

	// ReloadInterval is how often the subscriptions table is polled for
	// edits made by other processes.
	ReloadInterval time.Duration `yaml:"reload_interval" toml:"reload_interval"`
	MaxBody        int64         `yaml:"max_body" toml:"max_body"`

	Fetch      fetch.Config        `yaml:"fetch" toml:"fetch"`
	Browser    fetch.BrowserConfig `yaml:"browser" toml:"browser"`
	Similarity SimilarityConfig    `yaml:"similarity" toml:"similarity"`
	Notify     NotifyConfig        `yaml:"notify" toml:"notify"`
	MCP        MCPConfig           `yaml:"mcp" toml:"mcp"`
}

// SimilarityConfig sizes snapshot signatures.
type SimilarityConfig struct {
	similarity.Config `yaml:",inline"`
	ShingleLength     int `yaml:"shingle_length" toml:"shingle_length"`
}

// NotifyConfig tunes webhook deliveries.
type NotifyConfig struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "argus.db"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FaultTolerance <= 0 {
		c.FaultTolerance = 5
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 15 * time.Minute
	}
	if c.DefaultInterval < c.MinInterval {
		c.DefaultInterval = c.MinInterval
	}
	if c.SnippetOffset <= 0 {
		c.SnippetOffset = 30
	}
	if c.ReloadInterval <= 0 {
		c.ReloadInterval = 2 * time.Second
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 1 << 20
	}
	if c.Similarity.ShingleLength <= 0 {
		c.Similarity.ShingleLength = 3
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}
}

// LoadConfigFile reads a YAML (.yaml, .yml) or TOML (.toml) file and
// applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("monitor: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("monitor: parse config: %w", err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("monitor: parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("monitor: config %s: unsupported extension %q", path, ext)
	}
	cfg.defaults()
	return &cfg, nil
}

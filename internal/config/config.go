package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config represents configuration data for the availability service.
type Config struct {
	ListenAddr              string  `yaml:"listen_addr"`
	Storage                 string  `yaml:"storage"`
	DataDirectory           string  `yaml:"data_directory"`
	DatabasePath            string  `yaml:"database_path"`
	SuspectThresholdMinutes int     `yaml:"suspect_threshold_minutes"`
	SweepIntervalSeconds    int     `yaml:"sweep_interval_seconds"`
	PurgeIntervalMinutes    int     `yaml:"purge_interval_minutes"`
	RetentionDays           int     `yaml:"retention_days"`
	MergeWorkers            int     `yaml:"merge_workers"`
	PushIntervalSeconds     int     `yaml:"push_interval_seconds"`
	LogLevel                string  `yaml:"log_level"`
	LogFormat               string  `yaml:"log_format"`
	Agents                  []Agent `yaml:"agents"`
	Groups                  []Group `yaml:"groups"`
}

// Agent declares a reporting agent and the resources it monitors.
type Agent struct {
	Name      string   `yaml:"name"`
	Resources []string `yaml:"resources"`
}

// Group declares a named set of resources rolled up together.
type Group struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Resources []string `yaml:"resources"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:              ":8080",
		Storage:                 StorageSQLite,
		DataDirectory:           filepath.Join(".dist", "data"),
		SuspectThresholdMinutes: 5,
		SweepIntervalSeconds:    60,
		PurgeIntervalMinutes:    60,
		RetentionDays:           365,
		MergeWorkers:            8,
		PushIntervalSeconds:     60,
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalise() error {
	defaults := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.Storage == "" {
		c.Storage = defaults.Storage
	}
	if c.DataDirectory == "" {
		c.DataDirectory = defaults.DataDirectory
	}
	if c.SuspectThresholdMinutes <= 0 {
		c.SuspectThresholdMinutes = defaults.SuspectThresholdMinutes
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = defaults.SweepIntervalSeconds
	}
	if c.PurgeIntervalMinutes <= 0 {
		c.PurgeIntervalMinutes = defaults.PurgeIntervalMinutes
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.MergeWorkers <= 0 {
		c.MergeWorkers = defaults.MergeWorkers
	}
	if c.PushIntervalSeconds <= 0 {
		c.PushIntervalSeconds = defaults.PushIntervalSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaults.LogFormat
	}

	switch c.Storage {
	case StorageMemory, StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage)
	}

	owners := make(map[string]string)
	for i, agent := range c.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agent %d is missing name", i)
		}
		for _, id := range agent.Resources {
			if previous, ok := owners[id]; ok {
				return fmt.Errorf("resource %s is owned by both %s and %s", id, previous, agent.Name)
			}
			owners[id] = agent.Name
		}
	}
	for i, group := range c.Groups {
		if group.ID == "" {
			return fmt.Errorf("group %d is missing id", i)
		}
	}
	return nil
}

// SuspectThreshold is how long an agent may go without a heartbeat.
func (c Config) SuspectThreshold() time.Duration {
	return time.Duration(c.SuspectThresholdMinutes) * time.Minute
}

// SweepInterval is the liveness sweep cadence.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// PurgeInterval is the purge job cadence.
func (c Config) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalMinutes) * time.Minute
}

// Retention is how long closed history is kept.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// PushInterval is the live WebSocket refresh cadence.
func (c Config) PushInterval() time.Duration {
	return time.Duration(c.PushIntervalSeconds) * time.Second
}

// ResolvedDatabasePath returns the SQLite path, defaulting into the data directory.
func (c Config) ResolvedDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDirectory, "availability.db")
}

// SnapshotPath is where the file backend keeps its JSON snapshot.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.DataDirectory, "availability.json")
}

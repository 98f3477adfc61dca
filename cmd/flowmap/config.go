package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the flowmap CLI and server configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	Scheduler         bool   `json:"scheduler"`
	SchedulerInterval string `json:"scheduler_interval"`
	BinDir            string `json:"bin_dir"`
}

func defaultConfig() Config {
	dir := flowmapDir()
	return Config{
		DBPath:            filepath.Join(dir, "flowmap.db"),
		LogLevel:          "info",
		Scheduler:         true,
		SchedulerInterval: "60s",
		BinDir:            filepath.Join(dir, "bin"),
	}
}

func flowmapDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowmap"
	}
	return filepath.Join(home, ".flowmap")
}

func settingsPath() string {
	return filepath.Join(flowmapDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// settings.json is optional.
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("FLOWMAP_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWMAP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWMAP_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWMAP_SCHEDULER_INTERVAL"); v != "" {
		cfg.SchedulerInterval = v
	}
	if v := os.Getenv("FLOWMAP_BIN_DIR"); v != "" {
		cfg.BinDir = v
	}
	return cfg
}

// interval parses SchedulerInterval, falling back to a minute.
func (c Config) interval() time.Duration {
	d, err := time.ParseDuration(c.SchedulerInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// dsn is the libSQL connection string for DBPath.
func (c Config) dsn() string {
	return "file:" + c.DBPath
}

func writeConfig(cfg Config) (string, error) {
	dir := flowmapDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

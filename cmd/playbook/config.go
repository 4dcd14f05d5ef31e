package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all playbook server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	PoolSize     int    `json:"pool_size"`
	WorkspaceDir string `json:"workspace_dir"`
	ResumePolicy string `json:"resume_policy"`
	Scheduler    bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(playbookDir(), "playbook.db"),
		LogLevel:     "info",
		PoolSize:     10,
		WorkspaceDir: filepath.Join(playbookDir(), "workspace"),
		ResumePolicy: "block",
		Scheduler:    true,
	}
}

func playbookDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".playbook"
	}
	return filepath.Join(home, ".playbook")
}

func settingsPath() string {
	return filepath.Join(playbookDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PLAYBOOK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PLAYBOOK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PLAYBOOK_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("PLAYBOOK_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv("PLAYBOOK_RESUME_POLICY"); v != "" {
		cfg.ResumePolicy = v
	}
	if v := os.Getenv("PLAYBOOK_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

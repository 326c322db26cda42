package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/ehimanual/pkg/adapter"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ChaptersDir == "" {
		return fmt.Errorf("chapters_dir is required")
	}
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}
	if e := strings.ToLower(c.Dataset.Engine); e != "" && !adapter.IsRegistered(e) {
		return &adapter.UnknownEngineError{Type: c.Dataset.Engine, Available: adapter.Engines()}
	}
	if c.Build.RowCap < 0 {
		return fmt.Errorf("build.row_cap must not be negative, got %d", c.Build.RowCap)
	}
	if c.Build.Workers < 0 {
		return fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers)
	}
	if c.Runtime.RowCap < 0 {
		return fmt.Errorf("runtime.row_cap must not be negative, got %d", c.Runtime.RowCap)
	}
	if c.Serve.MaxSessions < 0 {
		return fmt.Errorf("serve.max_sessions must not be negative, got %d", c.Serve.MaxSessions)
	}
	if c.Serve.SessionIdle < 0 {
		return fmt.Errorf("serve.session_idle must not be negative, got %s", c.Serve.SessionIdle)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ValidateDirectories checks if the chapters directory and dataset exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ChaptersDir); os.IsNotExist(err) {
		return fmt.Errorf("chapters directory does not exist: %s\nHint: Create the directory or use --chapters-dir to specify a different path", c.ChaptersDir)
	}
	if _, err := os.Stat(c.Dataset.Path); os.IsNotExist(err) {
		return fmt.Errorf("dataset does not exist: %s\nHint: Use --dataset to point at the snapshot", c.Dataset.Path)
	}
	return nil
}

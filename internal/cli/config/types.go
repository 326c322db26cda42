// Package config provides configuration management for the ehimanual CLI.
package config

import "time"

// Default configuration values.
const (
	DefaultTitle       = "Epic EHI Export - The Missing Manual"
	DefaultChaptersDir = "chapters"
	DefaultOutputDir   = "dist"
	DefaultBasePath    = "/"
	DefaultStateFile   = ".ehimanual/state.db"
	DefaultDataset     = "data/ehi.sqlite"
	DefaultPublishAs   = "assets/data/ehi.sqlite"
	DefaultCacheDir    = ".ehimanual/cache"
	DefaultSQLJSURL    = "https://cdnjs.cloudflare.com/ajax/libs/sql.js/1.10.3/"
	DefaultMermaidURL  = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.esm.min.mjs"
	DefaultDatastarURL = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"
	DefaultRuntimeCap  = 100
	DefaultPort        = 8080
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogFormat   = "text"
)

// ConfigFileNames are searched in order.
var ConfigFileNames = []string{"manual.yaml", "manual.yml"}

// Config holds all CLI configuration options.
type Config struct {
	Title         string        `koanf:"title"`
	ChaptersDir   string        `koanf:"chapters_dir"`
	OutputDir     string        `koanf:"output_dir"`
	BasePath      string        `koanf:"base_path"`
	StatePath     string        `koanf:"state_path"`
	IncludeDrafts bool          `koanf:"include_drafts"`
	Dataset       DatasetConfig `koanf:"dataset"`
	Build         BuildConfig   `koanf:"build"`
	Runtime       RuntimeConfig `koanf:"runtime"`
	Serve         ServeConfig   `koanf:"serve"`
	Verbose       bool          `koanf:"verbose"`
	LogFormat     string        `koanf:"log_format"`
	OutputFormat  string        `koanf:"output"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// DatasetConfig locates the reference dataset.
type DatasetConfig struct {
	Engine    string         `koanf:"engine"` // sqlite, duckdb; empty picks by extension
	Path      string         `koanf:"path"`
	PublishAs string         `koanf:"publish_as"`
	Params    map[string]any `koanf:"params"` // engine-specific settings
}

// BuildConfig controls the site build.
type BuildConfig struct {
	RowCap  int  `koanf:"row_cap"` // 0 = no cap when baking
	Workers int  `koanf:"workers"` // 0 = one per CPU
	Minify  bool `koanf:"minify"`
	Cache   bool `koanf:"cache"`
}

// RuntimeConfig controls reader sessions.
type RuntimeConfig struct {
	RowCap     int    `koanf:"row_cap"`
	SQLJSURL   string `koanf:"sql_js_url"`
	MermaidURL string `koanf:"mermaid_url"` // empty leaves diagrams as source
	CacheDir   string `koanf:"cache_dir"`   // download directory for remote snapshots
}

// ServeConfig holds configuration for the reader server.
type ServeConfig struct {
	Port          int    `koanf:"port"`
	Watch         bool   `koanf:"watch"`
	SessionSecret string `koanf:"session_secret"`
	DatastarURL   string `koanf:"datastar_url"`
	// MaxSessions and SessionIdle bound the widget state kept per reader.
	MaxSessions int           `koanf:"max_sessions"`
	SessionIdle time.Duration `koanf:"session_idle"`
}

// Default returns a Config with every default applied, relative to the
// current directory.
func Default() *Config {
	return &Config{
		Title:       DefaultTitle,
		ChaptersDir: DefaultChaptersDir,
		OutputDir:   DefaultOutputDir,
		BasePath:    DefaultBasePath,
		StatePath:   DefaultStateFile,
		Dataset: DatasetConfig{
			Path:      DefaultDataset,
			PublishAs: DefaultPublishAs,
		},
		Build: BuildConfig{
			Minify: true,
			Cache:  true,
		},
		Runtime: RuntimeConfig{
			RowCap:     DefaultRuntimeCap,
			SQLJSURL:   DefaultSQLJSURL,
			MermaidURL: DefaultMermaidURL,
			CacheDir:   DefaultCacheDir,
		},
		Serve: ServeConfig{
			Port:        DefaultPort,
			Watch:       true,
			DatastarURL: DefaultDatastarURL,
		},
		LogFormat:    DefaultLogFormat,
		OutputFormat: DefaultOutput,
		ProjectRoot:  ".",
	}
}

func defaults() map[string]any {
	return map[string]any{
		"title":               DefaultTitle,
		"chapters_dir":        DefaultChaptersDir,
		"output_dir":          DefaultOutputDir,
		"base_path":           DefaultBasePath,
		"state_path":          DefaultStateFile,
		"include_drafts":      false,
		"dataset.path":        DefaultDataset,
		"dataset.publish_as":  DefaultPublishAs,
		"build.row_cap":       0,
		"build.workers":       0,
		"build.minify":        true,
		"build.cache":         true,
		"runtime.row_cap":     DefaultRuntimeCap,
		"runtime.sql_js_url":  DefaultSQLJSURL,
		"runtime.mermaid_url": DefaultMermaidURL,
		"runtime.cache_dir":   DefaultCacheDir,
		"serve.port":          DefaultPort,
		"serve.watch":         true,
		"serve.datastar_url":  DefaultDatastarURL,
		"verbose":             false,
		"log_format":          DefaultLogFormat,
		"output":              DefaultOutput,
	}
}

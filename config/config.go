// Package config loads the TOML configuration file and applies defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains output locations.
type Paths struct {
	OutputDir string `toml:"output_dir"`
}

// Tools names the external binaries the pipeline shells out to.
type Tools struct {
	YTDLP   string `toml:"ytdlp"`
	FFmpeg  string `toml:"ffmpeg"`
	Whisper string `toml:"whisper"`
	Demucs  string `toml:"demucs"`
}

// Whisper contains speech-to-text settings.
type Whisper struct {
	Model    string `toml:"model"`
	Language string `toml:"language"`
	Threads  int    `toml:"threads"`
}

// Slicing contains the sentence selection policy and worker settings.
type Slicing struct {
	MinDuration    float64 `toml:"min_duration"`
	MaxDuration    float64 `toml:"max_duration"`
	Workers        int     `toml:"workers"`
	OnError        string  `toml:"on_error"`
	RangeTolerance float64 `toml:"range_tolerance"`
	IsolateVocals  bool    `toml:"isolate_vocals"`
}

// Retry bounds external tool invocations.
type Retry struct {
	MaxRetries               int `toml:"max_retries"`
	FetchTimeoutSeconds      int `toml:"fetch_timeout_seconds"`
	TranscribeTimeoutSeconds int `toml:"transcribe_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Catalog configures the optional SQLite dataset catalog.
type Catalog struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config encapsulates all configuration values.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Tools   Tools   `toml:"tools"`
	Whisper Whisper `toml:"whisper"`
	Slicing Slicing `toml:"slicing"`
	Retry   Retry   `toml:"retry"`
	Logging Logging `toml:"logging"`
	Catalog Catalog `toml:"catalog"`
}

const (
	defaultOutputDir         = "output"
	defaultWhisperModel      = "~/models/ggml-large-v3.bin"
	defaultMinDuration       = 2.0
	defaultMaxDuration       = 10.0
	defaultWorkers           = 1
	defaultOnError           = "abort"
	defaultMaxRetries        = 3
	defaultFetchTimeout      = 600
	defaultTranscribeTimeout = 3600
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultCatalogPath       = "~/.local/share/sentence-slicer/catalog.db"
	defaultConfigPath        = "~/.config/sentence-slicer/config.toml"
	projectConfigName        = "sentence-slicer.toml"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{OutputDir: defaultOutputDir},
		Tools: Tools{
			YTDLP:   "yt-dlp",
			FFmpeg:  "ffmpeg",
			Whisper: "whisper-cli",
			Demucs:  "demucs",
		},
		Whisper: Whisper{Model: defaultWhisperModel},
		Slicing: Slicing{
			MinDuration: defaultMinDuration,
			MaxDuration: defaultMaxDuration,
			Workers:     defaultWorkers,
			OnError:     defaultOnError,
		},
		Retry: Retry{
			MaxRetries:               defaultMaxRetries,
			FetchTimeoutSeconds:      defaultFetchTimeout,
			TranscribeTimeoutSeconds: defaultTranscribeTimeout,
		},
		Logging: Logging{Format: defaultLogFormat, Level: defaultLogLevel},
		Catalog: Catalog{Path: defaultCatalogPath},
	}
}

// Load locates, parses, and validates a configuration file. It returns the
// resolved path and whether a file existed there; a missing file yields the
// defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := ExpandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Normalize trims string fields and expands path fields. Call it again
// after overriding fields from flags.
func (c *Config) Normalize() error {
	var err error
	if c.Paths.OutputDir, err = ExpandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Whisper.Model, err = ExpandPath(strings.TrimSpace(c.Whisper.Model)); err != nil {
		return fmt.Errorf("whisper.model: %w", err)
	}
	if c.Catalog.Path, err = ExpandPath(strings.TrimSpace(c.Catalog.Path)); err != nil {
		return fmt.Errorf("catalog.path: %w", err)
	}
	c.Tools.YTDLP = strings.TrimSpace(c.Tools.YTDLP)
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	c.Tools.Whisper = strings.TrimSpace(c.Tools.Whisper)
	c.Tools.Demucs = strings.TrimSpace(c.Tools.Demucs)
	c.Slicing.OnError = strings.ToLower(strings.TrimSpace(c.Slicing.OnError))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Slicing.MinDuration < 0 {
		return fmt.Errorf("slicing.min_duration must not be negative, got %v", c.Slicing.MinDuration)
	}
	if c.Slicing.MaxDuration <= c.Slicing.MinDuration {
		return fmt.Errorf("slicing.max_duration (%v) must exceed slicing.min_duration (%v)",
			c.Slicing.MaxDuration, c.Slicing.MinDuration)
	}
	if c.Slicing.Workers < 1 {
		return fmt.Errorf("slicing.workers must be at least 1, got %d", c.Slicing.Workers)
	}
	switch c.Slicing.OnError {
	case "abort", "skip":
	default:
		return fmt.Errorf("slicing.on_error must be abort or skip, got %q", c.Slicing.OnError)
	}
	if c.Slicing.RangeTolerance < 0 {
		return fmt.Errorf("slicing.range_tolerance must not be negative, got %v", c.Slicing.RangeTolerance)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.FetchTimeoutSeconds < 0 || c.Retry.TranscribeTimeoutSeconds < 0 {
		return errors.New("retry timeouts must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return errors.New("catalog.path must be set when the catalog is enabled")
	}
	return nil
}

// FetchTimeout is the per-attempt limit for downloading media.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Retry.FetchTimeoutSeconds) * time.Second
}

// TranscribeTimeout is the per-attempt limit for speech-to-text.
func (c *Config) TranscribeTimeout() time.Duration {
	return time.Duration(c.Retry.TranscribeTimeoutSeconds) * time.Second
}

// ExpandPath expands a leading ~ and makes the path absolute. Empty stays
// empty.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

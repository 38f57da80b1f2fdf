package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/menta2k/wallcrop/internal/utils"
	"github.com/menta2k/wallcrop/pkg/detection"
	"github.com/menta2k/wallcrop/pkg/geometry"
)

// Config holds the application configuration
type Config struct {
	Library     LibraryConfig         `json:"library" toml:"library"`
	Resolutions []geometry.Resolution `json:"resolutions" toml:"resolutions"`
	Detector    DetectorConfig        `json:"detector" toml:"detector"`
	Output      OutputConfig          `json:"output" toml:"output"`
	Log         LogConfig             `json:"log" toml:"log"`
	Workers     int                   `json:"workers" toml:"workers"`
	MetricsAddr string                `json:"metrics_addr" toml:"metrics_addr"`
}

// LibraryConfig describes the wallpaper collection
type LibraryConfig struct {
	WallpapersDir    string `json:"wallpapers_dir" toml:"wallpapers_dir"`
	CSVPath          string `json:"csv_path" toml:"csv_path"`
	MinWidth         int    `json:"min_width" toml:"min_width"`
	MinHeight        int    `json:"min_height" toml:"min_height"`
	ShowFaces        bool   `json:"show_faces" toml:"show_faces"`
	WallpaperCommand string `json:"wallpaper_command,omitempty" toml:"wallpaper_command,omitempty"`
}

// Detector kinds
const (
	DetectorExec     = "exec"
	DetectorPigo     = "pigo"
	DetectorOllama   = "ollama"
	DetectorLlamaCpp = "llamacpp"
)

// DetectorConfig selects and tunes the face detector
type DetectorConfig struct {
	Kind    string               `json:"kind" toml:"kind"`
	Command []string             `json:"command,omitempty" toml:"command,omitempty"`
	Cascade string               `json:"cascade,omitempty" toml:"cascade,omitempty"`
	Pigo    detection.PigoParams `json:"pigo" toml:"pigo"`
	URL     string               `json:"url,omitempty" toml:"url,omitempty"`
	Model   string               `json:"model,omitempty" toml:"model,omitempty"`
	MaxDim  int                  `json:"max_dim" toml:"max_dim"`
}

// OutputConfig holds configuration for exported crops
type OutputConfig struct {
	Dir      string `json:"dir" toml:"dir"`
	Format   string `json:"format" toml:"format"`
	Quality  int    `json:"quality" toml:"quality"`
	Lossless bool   `json:"lossless" toml:"lossless"`
	Debug    bool   `json:"debug" toml:"debug"`
}

// LogConfig controls the log level and optional rotating log file
type LogConfig struct {
	Level      string `json:"level" toml:"level"`
	File       string `json:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days"`
	Compress   bool   `json:"compress" toml:"compress"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Library: LibraryConfig{
			WallpapersDir: utils.FullPath("~/Pictures/Wallpapers"),
			CSVPath:       filepath.Join(GetConfigDir(), "wallpapers.csv"),
			MinWidth:      1920,
			MinHeight:     1080,
		},
		Resolutions: []geometry.Resolution{
			{Name: "HD", Ratio: geometry.NewAspectRatio(1920, 1080)},
		},
		Detector: DetectorConfig{
			Kind:    DetectorExec,
			Command: append([]string{}, detection.DefaultCommand...),
			Pigo:    detection.DefaultPigoParams(),
			MaxDim:  1024,
		},
		Output: OutputConfig{
			Dir:     "./output",
			Format:  "jpg",
			Quality: 90,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Workers: runtime.NumCPU(),
	}
}

// isTOML reports whether the file extension selects the TOML format
func isTOML(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".toml")
}

// LoadFromFile loads configuration from a JSON or TOML file.
// Fields missing from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isTOML(filename) {
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.expandPaths()
	return config, nil
}

// Load reads the configuration file if it exists and falls back to defaults otherwise
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration as JSON or TOML depending on the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(filename) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Library.CSVPath == "" {
		return errors.New("library.csv_path cannot be empty")
	}

	if c.Library.MinWidth < 0 || c.Library.MinHeight < 0 {
		return errors.New("library.min_width and library.min_height must not be negative")
	}

	if len(c.Resolutions) == 0 {
		return errors.New("resolutions cannot be empty")
	}

	seen := make(map[string]bool, len(c.Resolutions))
	for _, res := range c.Resolutions {
		if res.Name == "" {
			return errors.New("resolution name cannot be empty")
		}
		if !res.Ratio.Valid() {
			return fmt.Errorf("resolution %s: %w", res.Name, geometry.ErrInvalidAspectRatio)
		}
		if seen[res.Name] {
			return fmt.Errorf("duplicate resolution %s", res.Name)
		}
		seen[res.Name] = true
	}

	switch c.Detector.Kind {
	case DetectorExec:
		if len(c.Detector.Command) == 0 {
			return errors.New("detector.command cannot be empty")
		}
	case DetectorPigo:
		if c.Detector.Cascade == "" {
			return errors.New("detector.cascade is required for the pigo detector")
		}
	case DetectorOllama, DetectorLlamaCpp:
		if c.Detector.Model == "" {
			return fmt.Errorf("detector.model is required for the %s detector", c.Detector.Kind)
		}
	default:
		return fmt.Errorf("unknown detector.kind %q", c.Detector.Kind)
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("unsupported output.format %q", c.Output.Format)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return errors.New("output.quality must be between 1 and 100")
	}

	if c.Workers < 1 {
		return errors.New("workers must be positive")
	}

	return nil
}

// SortedResolutions returns the resolutions ordered from narrowest to widest
func (c *Config) SortedResolutions() []geometry.Resolution {
	res := append([]geometry.Resolution{}, c.Resolutions...)
	geometry.SortResolutions(res)
	return res
}

// Resolution looks up a resolution by name
func (c *Config) Resolution(name string) (geometry.Resolution, bool) {
	for _, res := range c.Resolutions {
		if res.Name == name {
			return res, true
		}
	}
	return geometry.Resolution{}, false
}

// AddResolution adds a named resolution, replacing one with the same name.
// It reports false when the ratio is already configured under another name.
func (c *Config) AddResolution(res geometry.Resolution) bool {
	for i, existing := range c.Resolutions {
		if existing.Name == res.Name {
			c.Resolutions[i] = res
			return true
		}
		if existing.Ratio == res.Ratio {
			return false
		}
	}
	c.Resolutions = append(c.Resolutions, res)
	return true
}

// ClosestResolution returns the configured resolution whose ratio is nearest
// to ratio, ignoring an identical ratio
func (c *Config) ClosestResolution(ratio geometry.AspectRatio) (geometry.Resolution, bool) {
	var best geometry.Resolution
	bestDiff := math.Inf(1)
	for _, res := range c.Resolutions {
		diff := math.Abs(res.Ratio.Float() - ratio.Float())
		if diff == 0 {
			continue
		}
		if diff < bestDiff {
			best, bestDiff = res, diff
		}
	}
	return best, !math.IsInf(bestDiff, 1)
}

func (c *Config) expandPaths() {
	c.Library.WallpapersDir = utils.FullPath(c.Library.WallpapersDir)
	c.Library.CSVPath = utils.FullPath(c.Library.CSVPath)
	c.Detector.Cascade = utils.FullPath(c.Detector.Cascade)
	c.Output.Dir = utils.FullPath(c.Output.Dir)
	c.Log.File = utils.FullPath(c.Log.File)
}

// GetConfigDir returns the directory holding the configuration and the CSV store
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "wallcrop")
}

// GetConfigPath returns the default configuration file path. A config.toml
// takes precedence over config.json when both exist.
func GetConfigPath() string {
	dir := GetConfigDir()
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(dir, "config.json")
}

// Package config loads the editor process settings from JSON, YAML or TOML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/pkg/encoding"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

var levels = []string{"debug", "info", "warn", "warning", "error", "fatal", "silent", "off", "none"}

type Config struct {
	Project       Project       `json:"project" yaml:"project" toml:"project"`
	Editor        Editor        `json:"editor" yaml:"editor" toml:"editor"`
	Serialization Serialization `json:"serialization" yaml:"serialization" toml:"serialization"`
	Log           Log           `json:"log" yaml:"log" toml:"log"`
}

type Project struct {
	// Root is the asset root; asset ids are relative to it.
	Root           string `json:"root" yaml:"root" toml:"root"`
	PrefabDir      string `json:"prefab_dir" yaml:"prefab_dir" toml:"prefab_dir"`
	PrefabExt      string `json:"prefab_ext" yaml:"prefab_ext" toml:"prefab_ext"`
	Scene          string `json:"scene" yaml:"scene" toml:"scene"`
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpoint_path" toml:"checkpoint_path"`
}

type Editor struct {
	FrameInterval  Duration `json:"frame_interval" yaml:"frame_interval" toml:"frame_interval"`
	WatchAssets    bool     `json:"watch_assets" yaml:"watch_assets" toml:"watch_assets"`
	PreloadWorkers int      `json:"preload_workers" yaml:"preload_workers" toml:"preload_workers"`
}

type Serialization struct {
	// Format is one of json, yaml or binary.
	Format string `json:"format" yaml:"format" toml:"format"`
}

type Log struct {
	Level string `json:"level" yaml:"level" toml:"level"`
}

// Duration is a time.Duration written as a string such as "16ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func Default() *Config {
	return &Config{
		Project: Project{
			Root:           ".",
			PrefabDir:      "prefabs",
			PrefabExt:      ".prefab",
			Scene:          "scenes/main.scene",
			CheckpointPath: ".checkpoints/play.bin",
		},
		Editor: Editor{
			FrameInterval:  Duration(16 * time.Millisecond),
			WatchAssets:    true,
			PreloadWorkers: 4,
		},
		Serialization: Serialization{Format: encoding.JSON.Name()},
		Log:           Log{Level: "info"},
	}
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Project.Root == "" {
		errs = append(errs, fmt.Errorf("project.root is empty: %w", ErrInvalidConfig))
	}
	if c.Project.PrefabExt != "" && !strings.HasPrefix(c.Project.PrefabExt, ".") {
		errs = append(errs, fmt.Errorf("project.prefab_ext %q must start with a dot: %w", c.Project.PrefabExt, ErrInvalidConfig))
	}
	if c.Editor.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("editor.frame_interval must be positive: %w", ErrInvalidConfig))
	}
	if c.Editor.PreloadWorkers < 1 {
		errs = append(errs, fmt.Errorf("editor.preload_workers must be at least 1: %w", ErrInvalidConfig))
	}
	if _, err := encoding.FormatByName(c.Serialization.Format); err != nil {
		errs = append(errs, fmt.Errorf("serialization.format: %w: %w", err, ErrInvalidConfig))
	}
	if !slices.Contains(levels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q: %w", c.Log.Level, ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Format returns the archive format named by Serialization.Format.
func (c *Config) Format() encoding.Format {
	f, err := encoding.FormatByName(c.Serialization.Format)
	if err != nil {
		return encoding.JSON
	}
	return f
}

// LogLevel returns the parsed Log.Level.
func (c *Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}

// Load reads the file at path over the defaults, choosing the decoder by extension.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var c *Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		c, err = LoadYAML(f)
	case ".toml":
		c, err = LoadTOML(f)
	case ".json":
		c, err = LoadJSON(f)
	default:
		return nil, fmt.Errorf("%s: unsupported config extension %q: %w", path, ext, ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return c, nil
}

func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return c, nil
}

func LoadTOML(r io.Reader) (*Config, error) {
	c := Default()
	if err := toml.NewDecoder(r).Decode(c); err != nil {
		return nil, err
	}
	return c, nil
}

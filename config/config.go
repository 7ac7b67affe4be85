// Package config loads every tunable of a populate run: image geometry,
// normalization, value ranges, class count, provenance strings and paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudchase/tfmeta/errdefs"
)

// FileName is the config file looked up in the working directory.
const FileName = "tfmeta"

// Config is the full set of tunables.
type Config struct {
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	Input    InputConfig    `mapstructure:"input" yaml:"input"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Labels   LabelsConfig   `mapstructure:"labels" yaml:"labels"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// ModelConfig holds provenance strings.
type ModelConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Version     string `mapstructure:"version" yaml:"version"`
	Author      string `mapstructure:"author" yaml:"author"`
	License     string `mapstructure:"license" yaml:"license"`
}

// InputConfig describes the image input tensor.
type InputConfig struct {
	Name        string    `mapstructure:"name" yaml:"name"`
	Description string    `mapstructure:"description" yaml:"description,omitempty"`
	Width       int       `mapstructure:"width" yaml:"width"`
	Height      int       `mapstructure:"height" yaml:"height"`
	Channels    int       `mapstructure:"channels" yaml:"channels"`
	Mean        []float32 `mapstructure:"mean" yaml:"mean,flow"`
	Std         []float32 `mapstructure:"std" yaml:"std,flow"`
	Min         float32   `mapstructure:"min" yaml:"min"`
	Max         float32   `mapstructure:"max" yaml:"max"`
}

// OutputConfig describes the class-probability output tensor.
type OutputConfig struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Description string  `mapstructure:"description" yaml:"description"`
	Classes     int     `mapstructure:"classes" yaml:"classes"`
	Min         float32 `mapstructure:"min" yaml:"min"`
	Max         float32 `mapstructure:"max" yaml:"max"`
}

// LabelsConfig points at the label file packed with the model.
type LabelsConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Description string `mapstructure:"description" yaml:"description"`
}

// RegistryConfig locates the local artifact registry.
type RegistryConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// ServerConfig configures the registry API server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Flag names bound to config keys when present on the flag set.
var flagKeys = map[string]string{
	"labels":       "labels.path",
	"width":        "input.width",
	"height":       "input.height",
	"classes":      "output.classes",
	"name":         "model.name",
	"version":      "model.version",
	"author":       "model.author",
	"registry-dir": "registry.dir",
	"addr":         "server.addr",
	"log-level":    "log_level",
}

// Default returns the configuration of the seven-class emotion classifier.
func Default() *Config {
	v := newViper()
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("model.name", "Emotion Classification Model")
	v.SetDefault("model.description", "Classifies images into one of seven emotions: "+
		"angry, disgust, fear, happy, neutral, sad, surprise.")
	v.SetDefault("model.version", "v1")
	v.SetDefault("model.author", "Ombati")
	v.SetDefault("model.license", "Apache License. Version 2.0 http://www.apache.org/licenses/LICENSE-2.0.")

	v.SetDefault("input.name", "image")
	v.SetDefault("input.description", "")
	v.SetDefault("input.width", 150)
	v.SetDefault("input.height", 150)
	v.SetDefault("input.channels", 3)
	v.SetDefault("input.mean", []float32{0.5})
	v.SetDefault("input.std", []float32{0.5})
	v.SetDefault("input.min", 0)
	v.SetDefault("input.max", 255)

	v.SetDefault("output.name", "probability")
	v.SetDefault("output.description", "Probabilities of the seven emotion classes.")
	v.SetDefault("output.classes", 7)
	v.SetDefault("output.min", 0.0)
	v.SetDefault("output.max", 1.0)

	v.SetDefault("labels.path", "labels.txt")
	v.SetDefault("labels.description", "Labels for emotions that the model can recognize.")

	v.SetDefault("registry.dir", "")
	v.SetDefault("server.addr", ":8480")
	v.SetDefault("log_level", "warn")
	return v
}

// Load reads configuration from path, or from tfmeta.yaml in the working
// directory when path is empty. A missing default file is not an error; a
// missing explicit file is. Environment variables (TFMETA_INPUT_WIDTH, ...)
// override the file, and flags set on the command line override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()
	v.SetEnvPrefix("TFMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: config file %s", errdefs.ErrMissingInputFile, path)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Relative label paths are relative to the config file, not the caller.
	if used := v.ConfigFileUsed(); used != "" && cfg.Labels.Path != "" &&
		!filepath.IsAbs(cfg.Labels.Path) && !flagChanged(flags, "labels") {
		cfg.Labels.Path = filepath.Join(filepath.Dir(used), cfg.Labels.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// Validate checks the values that do not depend on any model or label file.
// Tensor-level checks happen when descriptors are built.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model.name must be set", errdefs.ErrMalformedConfiguration)
	}
	if c.Output.Classes <= 0 {
		return fmt.Errorf("%w: output.classes must be positive, got %d",
			errdefs.ErrMalformedConfiguration, c.Output.Classes)
	}
	if c.Labels.Path == "" {
		return fmt.Errorf("%w: labels.path must be set", errdefs.ErrMalformedConfiguration)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level must be debug, info, warn or error, got %q",
			errdefs.ErrMalformedConfiguration, c.LogLevel)
	}
	return nil
}

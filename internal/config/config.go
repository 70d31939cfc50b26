// Package config loads ~/.shoesnap/shoesnap.yaml, applies environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/neighbors"
)

// Environment keys. Each one is resolved through GetConfigValue, so it can
// live in the process environment or in ~/.shoesnap/.env.
const (
	EnvGalleryDir     = "SHOESNAP_GALLERY_DIR"
	EnvCacheDir       = "SHOESNAP_CACHE_DIR"
	EnvEncoderURL     = "SHOESNAP_ENCODER_URL"
	EnvEncoderAPIKey  = "SHOESNAP_ENCODER_API_KEY"
	EnvEncoderTimeout = "SHOESNAP_ENCODER_TIMEOUT"
	EnvLogLevel       = "SHOESNAP_LOG_LEVEL"
	EnvLogFormat      = "SHOESNAP_LOG_FORMAT"
	EnvSearchBackend  = "SHOESNAP_SEARCH_BACKEND"
)

// EncoderConfig points at the CLIP inference server.
type EncoderConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ModelConfig is the ordered fallback list of model variants.
type ModelConfig struct {
	Variants []embeddings.Variant `yaml:"variants" validate:"required,min=1,dive"`
}

// SearchConfig selects the neighbour backend and default k.
type SearchConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=exact annoy"`
	K          int    `yaml:"k" validate:"gte=1,lte=64"`
	AnnoyTrees int    `yaml:"annoy_trees" validate:"gte=1,lte=256"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ServerConfig configures `shoesnap serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// Config is the in-memory representation of ~/.shoesnap/shoesnap.yaml.
type Config struct {
	GalleryDir string        `yaml:"gallery_dir" validate:"required"`
	CacheDir   string        `yaml:"cache_dir" validate:"required"`
	Excludes   []string      `yaml:"excludes,omitempty"`
	Encoder    EncoderConfig `yaml:"encoder"`
	Model      ModelConfig   `yaml:"model"`
	Search     SearchConfig  `yaml:"search"`
	Log        LogConfig     `yaml:"log"`
	Server     ServerConfig  `yaml:"server"`
}

// ShoesnapDir returns the absolute path to ~/.shoesnap/.
func ShoesnapDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".shoesnap"), nil
}

// ConfigPath returns the absolute path to ~/.shoesnap/shoesnap.yaml.
func ConfigPath() (string, error) {
	dir, err := ShoesnapDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shoesnap.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		GalleryDir: "gallery",
		CacheDir:   filepath.Join("~", ".shoesnap", "cache"),
		Excludes: []string{
			".DS_Store",
			"Thumbs.db",
			"desktop.ini",
			"*.tmp",
			"*.bak",
			"*~",
		},
		Encoder: EncoderConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: 60 * time.Second,
		},
		Model: ModelConfig{
			Variants: append([]embeddings.Variant(nil), embeddings.DefaultVariants...),
		},
		Search: SearchConfig{
			Backend:    neighbors.BackendExact,
			K:          neighbors.DefaultMaxK,
			AnnoyTrees: 10,
		},
		Log:    LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
	}
}

// Load reads path (or the default config path when empty), applies env
// overrides, expands ~ and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.GalleryDir, err = ExpandPath(cfg.GalleryDir); err != nil {
		return nil, err
	}
	if cfg.CacheDir, err = ExpandPath(cfg.CacheDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		EnvGalleryDir:    &cfg.GalleryDir,
		EnvCacheDir:      &cfg.CacheDir,
		EnvEncoderURL:    &cfg.Encoder.BaseURL,
		EnvEncoderAPIKey: &cfg.Encoder.APIKey,
		EnvLogLevel:      &cfg.Log.Level,
		EnvLogFormat:     &cfg.Log.Format,
		EnvSearchBackend: &cfg.Search.Backend,
	}
	for key, dst := range str {
		v, err := GetConfigValue(key)
		if err != nil {
			return err
		}
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}

	v, err := GetConfigValue(EnvEncoderTimeout)
	if err != nil {
		return err
	}
	if v = strings.TrimSpace(v); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEncoderTimeout, v, err)
		}
		cfg.Encoder.Timeout = d
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// NeighborOptions converts the search section for neighbors.Build.
func (c *Config) NeighborOptions() neighbors.Options {
	return neighbors.Options{
		Backend: c.Search.Backend,
		Trees:   c.Search.AnnoyTrees,
		MaxK:    c.Search.K,
	}
}

// Save marshals cfg and writes it to path, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Package config loads the YAML runtime configuration shared by the CLI
// commands and the inference server.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultMaxBodyBytes = 8 << 20
	DefaultMaxBatch     = 16
	DefaultMaxPixels    = 4096 * 4096
)

// Config captures the runtime knobs for inference.
type Config struct {
	Weights     string      `yaml:"weights"`
	Seed        int64       `yaml:"seed"`
	Workers     int         `yaml:"workers"`
	Server      Server      `yaml:"server"`
	Calibration Calibration `yaml:"calibration"`
}

// Server configures the HTTP endpoint.
type Server struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	MaxBatch     int           `yaml:"max_batch"`
	MaxPixels    int64         `yaml:"max_pixels"`
}

// Calibration maps raw model outputs to model-input pixels:
// pixel = output*Scale + Offset.
type Calibration struct {
	Scale  float32 `yaml:"scale"`
	Offset float32 `yaml:"offset"`
}

// Apply calibrates one raw output value.
func (c Calibration) Apply(v float32) float32 {
	return v*c.Scale + c.Offset
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Weights string
	Seed    int64
	Workers int
	Addr    string
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:         DefaultAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			MaxBodyBytes: DefaultMaxBodyBytes,
			MaxBatch:     DefaultMaxBatch,
			MaxPixels:    DefaultMaxPixels,
		},
		Calibration: Calibration{Scale: 1},
	}
}

// Load reads and validates a Config from a YAML file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over Default, so absent keys keep their
// defaults and explicit values, zero included, are kept. Unknown keys are
// rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Weights != "" {
		c.Weights = o.Weights
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.Addr != "" {
		c.Server.Addr = o.Addr
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be >= 0 (got %s, %s)", c.Server.ReadTimeout, c.Server.WriteTimeout)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0 (got %d)", c.Server.MaxBodyBytes)
	}
	if c.Server.MaxBatch <= 0 {
		return fmt.Errorf("server.max_batch must be > 0 (got %d)", c.Server.MaxBatch)
	}
	if c.Server.MaxPixels <= 0 {
		return fmt.Errorf("server.max_pixels must be > 0 (got %d)", c.Server.MaxPixels)
	}
	return nil
}

// Encode writes c as YAML.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Package config loads the recorder daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/toc"
)

// Config is the daemon configuration file.
type Config struct {
	// Listen is the UDP address packets arrive on.
	Listen string `yaml:"listen"`
	// StatusAddr serves /status and /toc. Empty disables it.
	StatusAddr string `yaml:"statusAddr"`
	OutputDir  string `yaml:"outputDir"`
	// FilePrefix names recordings <prefix>-<UTC time>.rwr.
	FilePrefix string `yaml:"filePrefix"`
	// RotateEvery starts a new recording after this long; zero never rotates.
	RotateEvery   Duration `yaml:"rotateEvery"`
	Capacity      int      `yaml:"capacity"`
	Resolution    uint32   `yaml:"resolution"`
	RewritePeriod Duration `yaml:"rewritePeriod"`
	// MaxDatagram bounds the UDP read buffer.
	MaxDatagram int               `yaml:"maxDatagram"`
	EventLog    bool              `yaml:"eventLog"`
	Logs        common.LogOptions `yaml:"logs"`
}

// Duration accepts Go duration strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads the file at path and fills in defaults. Relative paths in the
// file are resolved against its directory.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	cfg.OutputDir = resolvePath(base, cfg.OutputDir)
	cfg.Logs.Directory = resolvePath(base, cfg.Logs.Directory)
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":4000"
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(".", "recordings")
	}
	if c.FilePrefix == "" {
		c.FilePrefix = "rec"
	}
	if c.Capacity <= 0 {
		c.Capacity = toc.DefaultCapacity
	}
	if c.Resolution == 0 {
		c.Resolution = toc.DefaultResolution
	}
	if c.RewritePeriod <= 0 {
		c.RewritePeriod = Duration(record.DefaultRewritePeriod)
	}
	if c.MaxDatagram <= 0 {
		c.MaxDatagram = 65535
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.OutputDir, "logs")
	}
	if c.Logs.FileName == "" {
		c.Logs.FileName = "trackrecd.log"
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.RotateEvery < 0 {
		errs = append(errs, errors.New("rotateEvery must not be negative"))
	}
	if c.RotateEvery > 0 && c.RotateEvery.Std() < time.Second {
		errs = append(errs, fmt.Errorf("rotateEvery %s is shorter than a second", c.RotateEvery.Std()))
	}
	if c.Capacity < 2 {
		errs = append(errs, fmt.Errorf("capacity %d is below 2", c.Capacity))
	}
	return errors.Join(errs...)
}

// SessionOptions is the recording configuration for one file.
func (c Config) SessionOptions(source string) record.Options {
	return record.Options{
		Capacity:      c.Capacity,
		Resolution:    c.Resolution,
		RewritePeriod: c.RewritePeriod.Std(),
		Source:        source,
	}
}

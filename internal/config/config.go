// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/yafengV/CrashParser/internal/utils"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

const (
	ReaderAtos  = "atos"
	ReaderMacho = "macho"
)

type daemon struct {
	Host   string `mapstructure:"host" json:"host"`
	Port   int    `mapstructure:"port" json:"port"`
	Socket string `mapstructure:"socket" json:"socket"`
	Debug  bool   `mapstructure:"debug" json:"debug"`
}

type symbolicate struct {
	// Reader is "atos" or "macho"
	Reader         string        `mapstructure:"reader" json:"reader"`
	AtosPath       string        `mapstructure:"atos-path" json:"atos_path"`
	Archs          []string      `mapstructure:"archs" json:"archs"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	Workers        int           `mapstructure:"workers" json:"workers"`
	CacheSize      int           `mapstructure:"cache-size" json:"cache_size"`
	BatchSize      int           `mapstructure:"batch-size" json:"batch_size"`
	RefineEmbedded bool          `mapstructure:"refine-embedded" json:"refine_embedded"`
	Demangle       bool          `mapstructure:"demangle" json:"demangle"`
}

type dsym struct {
	Dirs     []string          `mapstructure:"dirs" json:"dirs"`
	Archives []string          `mapstructure:"archives" json:"archives"`
	Map      map[string]string `mapstructure:"map" json:"map"`
}

// Config is the configuration struct
type Config struct {
	Daemon      daemon      `mapstructure:"daemon" json:"daemon"`
	Symbolicate symbolicate `mapstructure:"symbolicate" json:"symbolicate"`
	DSYM        dsym        `mapstructure:"dsym" json:"dsym"`
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("symbolicate.reader", ReaderAtos)
	v.SetDefault("symbolicate.atos-path", "atos")
	v.SetDefault("symbolicate.archs", []string{"arm64e", "arm64", "x86_64"})
	v.SetDefault("symbolicate.timeout", 30*time.Second)
	v.SetDefault("symbolicate.workers", 4)
	v.SetDefault("symbolicate.cache-size", 65536)
	v.SetDefault("symbolicate.batch-size", 64)
	v.SetDefault("symbolicate.demangle", true)
}

// Archs returns the configured atos fallback architectures
func (c *Config) Archs() []crashlog.Arch {
	var archs []crashlog.Arch
	c.Symbolicate.Archs = utils.UniqueAppend(nil, c.Symbolicate.Archs...)
	for _, a := range c.Symbolicate.Archs {
		if arch := crashlog.ParseArch(a); arch.Known() {
			archs = append(archs, arch)
		}
	}
	return archs
}

func (c *Config) verify() error {
	if c.Daemon.Host == "" && c.Daemon.Port == 0 && c.Daemon.Socket == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: failed to get user home directory: %v", err)
		}
		c.Daemon.Socket = filepath.Join(home, ".config", "crashsym", "crashsym.sock")
	} else if c.Daemon.Host != "" && c.Daemon.Socket != "" {
		return fmt.Errorf("config: host and socket cannot be set at the same time")
	} else if c.Daemon.Host != "" && c.Daemon.Port == 0 {
		return fmt.Errorf("config: port must be set if host is set")
	} else if c.Daemon.Host == "" && c.Daemon.Port != 0 {
		c.Daemon.Host = "localhost"
	}

	switch strings.ToLower(c.Symbolicate.Reader) {
	case "":
		c.Symbolicate.Reader = ReaderAtos
	case ReaderAtos, ReaderMacho:
		c.Symbolicate.Reader = strings.ToLower(c.Symbolicate.Reader)
	default:
		return fmt.Errorf("config: unknown symbol reader %q (want %s or %s)", c.Symbolicate.Reader, ReaderAtos, ReaderMacho)
	}
	if c.Symbolicate.AtosPath == "" {
		c.Symbolicate.AtosPath = "atos"
	}
	c.Symbolicate.Archs = utils.UniqueAppend(nil, c.Symbolicate.Archs...)
	for _, a := range c.Symbolicate.Archs {
		if !crashlog.ParseArch(a).Known() {
			return fmt.Errorf("config: unknown architecture %q", a)
		}
	}
	if c.Symbolicate.Timeout < 0 {
		return fmt.Errorf("config: timeout cannot be negative")
	}
	if c.Symbolicate.Workers <= 0 {
		c.Symbolicate.Workers = 1
	}
	if c.Symbolicate.BatchSize <= 0 {
		c.Symbolicate.BatchSize = 64
	}
	var dirs, archives []string
	for _, dir := range c.DSYM.Dirs {
		dirs = utils.UniqueAppend(dirs, utils.ExpandPath(dir))
	}
	for _, a := range c.DSYM.Archives {
		archives = utils.UniqueAppend(archives, utils.ExpandPath(a))
	}
	c.DSYM.Dirs, c.DSYM.Archives = dirs, archives

	return nil
}

// Load decodes and verifies the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}

	if err := v.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

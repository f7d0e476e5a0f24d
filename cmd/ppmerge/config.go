package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pp "github.com/zhangzqs/partitionpager-go"
)

// PartitionConfig is one partition: its key range and the JSON-lines file holding its
// documents in partition order.
type PartitionConfig struct {
	pp.PartitionRange `mapstructure:",squash"`
	File              string `mapstructure:"file"`
}

// Config is the ppmerge configuration, read from a file and PPMERGE_ environment variables.
type Config struct {
	Partitions  []PartitionConfig `mapstructure:"partitions"`
	Order       []string          `mapstructure:"order"`
	PageSize    int               `mapstructure:"page_size"`
	Limit       int               `mapstructure:"limit"`
	Concurrency int               `mapstructure:"concurrency"`
	MixedKinds  bool              `mapstructure:"mixed_kinds"`
	LogLevel    string            `mapstructure:"log_level"`
}

func defaultConfig() Config {
	return Config{
		PageSize:    100,
		Limit:       100,
		Concurrency: 8,
		LogLevel:    "info",
	}
}

// Load reads the config file at path, or ./ppmerge.* when path is empty, and applies
// PPMERGE_ environment overrides and any flags set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ppmerge")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("PPMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"page_size", "limit", "concurrency", "mixed_kinds", "log_level"} {
		_ = v.BindEnv(key)
	}
	if flags != nil {
		for key, name := range map[string]string{"page_size": "page-size", "limit": "limit", "log_level": "log-level"} {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Partitions) == 0 {
		return fmt.Errorf("no partitions configured")
	}
	for _, p := range c.Partitions {
		if p.File == "" {
			return fmt.Errorf("partition %s has no file", p.ID)
		}
	}
	if len(c.Order) == 0 {
		return fmt.Errorf("no sort order configured")
	}
	if c.PageSize <= 0 || c.Limit <= 0 {
		return fmt.Errorf("page_size and limit must be positive")
	}
	return nil
}

// SortSpec parses the configured directions.
func (c *Config) SortSpec() (pp.SortSpec, error) {
	return pp.ParseSortSpec(c.Order)
}

// Ranges returns the partition ranges in configured order.
func (c *Config) Ranges() []pp.PartitionRange {
	out := make([]pp.PartitionRange, len(c.Partitions))
	for i, p := range c.Partitions {
		out[i] = p.PartitionRange
	}
	return out
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

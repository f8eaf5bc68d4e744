package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Server holds the runtime configuration of the TinyLens server.
type Server struct {
	Port         string `mapstructure:"port"`
	DataDir      string `mapstructure:"data_dir"`
	InMemory     bool   `mapstructure:"in_memory"`
	MaxStorageGB int64  `mapstructure:"max_storage_gb"`
	MaxMemoryMB  int64  `mapstructure:"max_memory_mb"`
	LogLevel     string `mapstructure:"log_level"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the optional aggregation cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration with priority env > tinylens.yaml > defaults.
// A missing config file is not an error.
func Load(paths ...string) (*Server, error) {
	v := viper.New()

	v.SetConfigName("tinylens")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("TINYLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("in_memory", false)
	v.SetDefault("max_storage_gb", DefaultMaxStorageGB)
	v.SetDefault("max_memory_mb", DefaultMaxMemoryMB)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

func (c *Server) validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if !c.InMemory && c.DataDir == "" {
		return errors.New("data_dir must be set unless in_memory is enabled")
	}
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("max_storage_gb must be positive, got %d", c.MaxStorageGB)
	}
	if c.MaxMemoryMB < 0 {
		return fmt.Errorf("max_memory_mb must not be negative, got %d", c.MaxMemoryMB)
	}
	return nil
}

// MaxStorageBytes converts the storage limit to bytes.
func (c *Server) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

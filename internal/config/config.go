package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "FLOWSIM"

// Config holds the configuration of the flowsim binary.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine struct {
		MaxSteps       int     `mapstructure:"max_steps"`
		RandomStepType string  `mapstructure:"random_step_type"`
		SuccessRate    float64 `mapstructure:"success_rate"`
		Seed           uint64  `mapstructure:"seed"`
	} `mapstructure:"engine"`
	Store struct {
		Driver      string `mapstructure:"driver"`
		SQLitePath  string `mapstructure:"sqlite_path"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
	} `mapstructure:"store"`
	Server struct {
		Addr      string `mapstructure:"addr"`
		Workers   int    `mapstructure:"workers"`
		QueueSize int    `mapstructure:"queue_size"`
	} `mapstructure:"server"`
	Tracing struct {
		Endpoint    string `mapstructure:"endpoint"`
		Insecure    bool   `mapstructure:"insecure"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.max_steps", 10000)
	v.SetDefault("engine.random_step_type", "email")
	v.SetDefault("engine.success_rate", 0.5)
	v.SetDefault("engine.seed", 0)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "flowsim.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.queue_size", 100)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "flowsim")
}

// Load reads the optional YAML file at path (or ./flowsim.yaml, ./config/flowsim.yaml
// when path is empty) and applies FLOWSIM_* environment overrides,
// e.g. FLOWSIM_STORE_DRIVER for store.driver.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Engine.SuccessRate < 0 || c.Engine.SuccessRate > 1 {
		return fmt.Errorf("engine.success_rate must be within [0, 1], got %v", c.Engine.SuccessRate)
	}

	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers)
	}

	return nil
}

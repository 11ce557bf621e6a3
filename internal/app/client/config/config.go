package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultEnv           = "local"
	defaultConfigDir     = ".or3sync"
	configName           = "config"
	configType           = "yaml"
	envPrefix            = "OR3SYNC"
)

type Config struct {
	Env            string        `mapstructure:"app_env"`
	ServerAddress  string        `mapstructure:"server_address"`
	ConfigDir      string        `mapstructure:"config_dir"`
	DataPath       string        `mapstructure:"data_path"`
	DeviceID       string        `mapstructure:"device_id"`
	Token          string        `mapstructure:"token"`
	UserID         string        `mapstructure:"user_id"`
	Workspace      string        `mapstructure:"workspace"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	PageSize       int           `mapstructure:"page_size"`
	PushBatch      int           `mapstructure:"push_batch"`
	MaxRetries     uint64        `mapstructure:"max_retries"`

	v *viper.Viper
}

// MustLoad reads .env if present, then the config file in the user's
// config directory, then OR3SYNC_* environment variables.
func MustLoad() *Config {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg, err := Load(viper.New(), filepath.Join(home, defaultConfigDir))
	if err != nil {
		panic(fmt.Sprintf("client config: %v", err))
	}
	return cfg
}

// Load reads configuration rooted at dir unless OR3SYNC_CONFIG_DIR points
// elsewhere. A missing config file is not an error. A device id is
// generated and saved on first use.
func Load(v *viper.Viper, dir string) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("config_dir", dir)

	dir = v.GetString("config_dir")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("data_path", filepath.Join(dir, "replica.db"))
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("page_size", 500)
	v.SetDefault("push_batch", 100)
	v.SetDefault("max_retries", 5)
	for _, key := range []string{"device_id", "token", "user_id", "workspace"} {
		v.SetDefault(key, "")
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigDir = dir

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		v.Set("device_id", cfg.DeviceID)
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the session and workspace selection to the config file.
func (c *Config) Save() error {
	c.v.Set("device_id", c.DeviceID)
	c.v.Set("token", c.Token)
	c.v.Set("user_id", c.UserID)
	c.v.Set("workspace", c.Workspace)
	c.v.Set("server_address", c.ServerAddress)

	path := filepath.Join(c.ConfigDir, configName+"."+configType)
	if err := c.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

func (c *Config) validate() error {
	switch {
	case c.ServerAddress == "":
		return errors.New("server_address must not be empty")
	case c.DataPath == "":
		return errors.New("data_path must not be empty")
	case c.PageSize < 1:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.PushBatch < 1:
		return fmt.Errorf("push_batch must be positive, got %d", c.PushBatch)
	}
	return nil
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DaemonPort        int           `mapstructure:"daemon_port"`
	DBPath            string        `mapstructure:"db_path"`
	Workers           int           `mapstructure:"workers"`
	IgnoredFileNames  []string      `mapstructure:"ignored_file_names"`
	IgnoredExtensions []string      `mapstructure:"ignored_extensions"`
	DeletedItemsDir   string        `mapstructure:"deleted_items_dir"`
	BufferSize        int           `mapstructure:"buffer_size"`
	RescanDelay       time.Duration `mapstructure:"rescan_delay"`
}

var Default = Config{
	DaemonPort:        9100,
	DBPath:            "assurance.db",
	Workers:           4,
	IgnoredFileNames:  []string{".DS_Store", "Thumbs.db", "desktop.ini"},
	IgnoredExtensions: []string{},
	DeletedItemsDir:   "deleted",
	BufferSize:        100,
	RescanDelay:       2 * time.Second,
}

// Dir returns the per-user directory holding config, database and deleted
// items.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	return filepath.Join(home, ".assurance"), nil
}

func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	v.SetEnvPrefix("ASSURANCE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DBPath = resolve(configDir, cfg.DBPath)
	cfg.DeletedItemsDir = resolve(configDir, cfg.DeletedItemsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DaemonPort <= 0 || c.DaemonPort > 65535 {
		return fmt.Errorf("invalid daemon_port %d", c.DaemonPort)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.DeletedItemsDir == "" {
		return fmt.Errorf("deleted_items_dir must not be empty")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon_port", Default.DaemonPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("workers", Default.Workers)
	v.SetDefault("ignored_file_names", Default.IgnoredFileNames)
	v.SetDefault("ignored_extensions", Default.IgnoredExtensions)
	v.SetDefault("deleted_items_dir", Default.DeletedItemsDir)
	v.SetDefault("buffer_size", Default.BufferSize)
	v.SetDefault("rescan_delay", Default.RescanDelay)
}

// relative paths in the config file are relative to the config dir
func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}

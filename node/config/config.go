package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the optional node settings file looked up in the home directory.
const FileName = "skull.toml"

// Config holds the node settings that are not part of CometBFT's config.toml.
type Config struct {
	// Server Configuration
	HTTPPort string `mapstructure:"http_port"`
	Home     string `mapstructure:"home"`

	// Database Configuration. An empty host disables the relational mirror.
	DatabaseHost string `mapstructure:"db_host"`
	DatabasePort string `mapstructure:"db_port"`
	DatabaseUser string `mapstructure:"db_user"`
	DatabasePass string `mapstructure:"db_pass"`
	DatabaseName string `mapstructure:"db_name"`

	LogAllTxs        bool          `mapstructure:"log_all_txs"`
	MirrorTimeout    time.Duration `mapstructure:"mirror_timeout"`
	ConsensusTimeout time.Duration `mapstructure:"consensus_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "5000")
	v.SetDefault("home", "./node-config/skull-node")
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_pass", "postgrespassword")
	v.SetDefault("db_name", "skullchain")
	v.SetDefault("log_all_txs", false)
	v.SetDefault("mirror_timeout", 5*time.Second)
	v.SetDefault("consensus_timeout", 30*time.Second)
}

// LoadConfig reads SKULL_* environment variables and, when present,
// <home>/skull.toml over the defaults. Environment wins over the file.
// home may be empty, in which case SKULL_HOME or the default is used.
func LoadConfig(home string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SKULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if home == "" {
		home = v.GetString("home")
	}
	v.Set("home", home)

	path := filepath.Join(home, FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding node config: %w", err)
	}
	return &c, nil
}

// MirrorEnabled reports whether a postgres mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.DatabaseHost != ""
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	if !c.MirrorEnabled() {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("home is required")
	}
	port, err := strconv.Atoi(c.HTTPPort)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid http port %q", c.HTTPPort)
	}
	if c.MirrorEnabled() && c.DatabaseName == "" {
		return errors.New("db_name is required when db_host is set")
	}
	if c.MirrorTimeout <= 0 {
		return errors.New("mirror_timeout must be positive")
	}
	if c.ConsensusTimeout <= 0 {
		return errors.New("consensus_timeout must be positive")
	}
	return nil
}

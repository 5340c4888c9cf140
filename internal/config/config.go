// Package config loads CLI and client configuration from a YAML file and
// the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Auth   AuthConfig   `mapstructure:"auth"`
	Poll   PollConfig   `mapstructure:"poll"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Input  InputConfig  `mapstructure:"input"`
	Log    LogConfig    `mapstructure:"log"`
}

// AuthConfig carries the session credential. Obtaining and refreshing the
// credential is outside the bulk engine; the CLIs read it from here.
type AuthConfig struct {
	InstanceURL string `mapstructure:"instance_url"`
	AccessToken string `mapstructure:"access_token"`
	APIVersion  string `mapstructure:"api_version"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// InputConfig configures the optional S3 input source for bulkload.
type InputConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("auth.api_version", "58.0")
	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.timeout", "10m")
	v.SetDefault("ledger.path", "./data/forcebulk.db")
	v.SetDefault("input.s3.region", "us-east-1")
	v.SetDefault("input.s3.use_ssl", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("auth.instance_url", "SF_INSTANCE_URL")
	v.BindEnv("auth.access_token", "SF_ACCESS_TOKEN")
	v.BindEnv("auth.api_version", "SF_API_VERSION")
	v.BindEnv("input.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("input.s3.access_key", "S3_ACCESS_KEY")
	v.BindEnv("input.s3.secret_key", "S3_SECRET_KEY")
	v.BindEnv("input.s3.region", "S3_REGION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.InstanceURL == "" {
		return nil, fmt.Errorf("auth.instance_url is required (or set SF_INSTANCE_URL)")
	}
	if cfg.Auth.AccessToken == "" {
		return nil, fmt.Errorf("auth.access_token is required (or set SF_ACCESS_TOKEN)")
	}

	return &cfg, nil
}

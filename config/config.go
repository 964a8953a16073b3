// Package config loads server configuration from file, environment and
// defaults via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the provider process.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	// Issuer is the value of the iss claim in every minted token, usually the
	// public base URL of this server.
	Issuer string `mapstructure:"ISSUER"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// RedisAddr enables the shared Redis token cache; empty means the
	// in-process cache.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// SigningKeys are PEM-encoded RSA private keys, oldest first. The last
	// one signs; all of them verify. Rotation means appending a key and,
	// after the longest token lifetime has passed, removing the oldest.
	SigningKeys []string `mapstructure:"SIGNING_KEYS"`

	// AuthCodeKey is the base64 (raw, standard alphabet) 32-byte key sealing
	// authorization codes. Rotating it invalidates outstanding codes, which
	// live at most a minute.
	AuthCodeKey string `mapstructure:"AUTH_CODE_KEY"`

	// FirstPartyClientID is the one client exempt from pairwise subject
	// mapping.
	FirstPartyClientID string `mapstructure:"FIRST_PARTY_CLIENT_ID"`

	// TeamsCollection is the external user store's team membership
	// collection, read by the team claim provider.
	TeamsCollection string `mapstructure:"TEAMS_COLLECTION"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// LoadConfig reads configuration from config.yaml, environment variables and
// defaults, in ascending precedence.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oidc/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/oidc_dev")
	v.SetDefault("MONGO_DB_NAME", "oidc_dev")
	v.SetDefault("TEAMS_COLLECTION", "team_members")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

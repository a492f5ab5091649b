// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"APP_ENV"`
	JWTSecret  string `mapstructure:"JWT_SECRET"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Catalog metadata service (title/cover lookup for catalog links).
	CatalogAPIURL   string `mapstructure:"CATALOG_API_URL"`
	CatalogAPIKey   string `mapstructure:"CATALOG_API_KEY"`
	CatalogDomain   string `mapstructure:"CATALOG_DOMAIN"`
	CatalogCacheTTL int    `mapstructure:"CATALOG_CACHE_TTL_MINUTES"`

	// Chat platform channel/role names, resolved once at startup.
	SubmissionChannel string `mapstructure:"SUBMISSION_CHANNEL"`
	ListingChannel    string `mapstructure:"LISTING_CHANNEL"`
	TalkChannel       string `mapstructure:"TALK_CHANNEL"`
	MembersRole       string `mapstructure:"MEMBERS_ROLE"`
	MaintainerID      string `mapstructure:"MAINTAINER_ID"`

	// PendingLimit closes the submission channel once reached by
	// non-donator pending requests.
	PendingLimit int `mapstructure:"PENDING_LIMIT"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional; environment variables are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("failed merging config.%s.yml: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	viper.SetDefault("PORT", "8390")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "requestdesk")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("CATALOG_API_URL", "https://api.nemoralni.site")
	viper.SetDefault("CATALOG_API_KEY", "")
	viper.SetDefault("CATALOG_DOMAIN", "vgmdb.net")
	viper.SetDefault("CATALOG_CACHE_TTL_MINUTES", 360)
	viper.SetDefault("SUBMISSION_CHANNEL", "request-submission")
	viper.SetDefault("LISTING_CHANNEL", "open-requests")
	viper.SetDefault("TALK_CHANNEL", "request-talk")
	viper.SetDefault("MEMBERS_ROLE", "Members")
	viper.SetDefault("MAINTAINER_ID", "")
	viper.SetDefault("PENDING_LIMIT", 20)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PendingLimit <= 0 {
		return errors.New("PENDING_LIMIT must be positive")
	}
	if c.SubmissionChannel == "" || c.ListingChannel == "" || c.TalkChannel == "" {
		return errors.New("SUBMISSION_CHANNEL, LISTING_CHANNEL and TALK_CHANNEL are required")
	}
	if c.MembersRole == "" {
		return errors.New("MEMBERS_ROLE is required")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must not be 'disable' in production")
		}
		if c.CatalogAPIKey == "" {
			log.Println("WARNING: CATALOG_API_KEY is empty; catalog metadata lookups will be unauthenticated")
		}
	} else {
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}

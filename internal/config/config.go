package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/instarlab/instar-maps/backend/internal/projects"
)

const (
	envPrefix           = "INSTAR"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "instar.db"
	defaultMediaRoot    = "media"
	defaultMediaBaseURL = "/media"
	defaultListOrder    = string(projects.ListOrderUpdatedDesc)
	defaultLogLevel     = "info"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	MediaRoot    string
	MediaBaseURL string
	ListOrder    projects.ListOrder
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("media.root", defaultMediaRoot)
	configViper.SetDefault("media.base_url", defaultMediaBaseURL)
	configViper.SetDefault("projects.list_order", defaultListOrder)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		MediaRoot:    configViper.GetString("media.root"),
		MediaBaseURL: configViper.GetString("media.base_url"),
		ListOrder:    projects.ListOrder(configViper.GetString("projects.list_order")),
		LogLevel:     configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.MediaRoot) == "" {
		return fmt.Errorf("media.root is required")
	}
	if c.ListOrder != projects.ListOrderUpdatedDesc && c.ListOrder != projects.ListOrderUpdatedAsc {
		return fmt.Errorf("projects.list_order must be %q or %q",
			projects.ListOrderUpdatedDesc, projects.ListOrderUpdatedAsc)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tethys-dataset-services/pkg/dataset"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServicesFile string
	HTTP         HTTPConfig
	Logging      LoggingConfig
	Services     []ServiceConfig
}

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

type LoggingConfig struct {
	Level      string
	FilePath   string
	DiscordURL string
}

// ServiceConfig describes one configured dataset service.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Engine   string `yaml:"engine"`
	Endpoint string `yaml:"endpoint"`

	APIKey   string `yaml:"apikey,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// HydroShare
	Token        string `yaml:"token,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`

	// GeoServer
	PublicEndpoint       string `yaml:"public_endpoint,omitempty"`
	NodePorts            []int  `yaml:"node_ports,omitempty"`
	CreateMissingParents bool   `yaml:"create_missing_parents,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Map returns the fields checked by dataset.ValidateConfig.
func (s ServiceConfig) Map() map[string]interface{} {
	return map[string]interface{}{
		"engine":   s.Engine,
		"endpoint": s.Endpoint,
	}
}

// Validate checks the service without contacting it.
func (s ServiceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if err := dataset.ValidateConfig(s.Map()); err != nil {
		return fmt.Errorf("service %q: %w", s.Name, err)
	}
	return nil
}

type servicesFile struct {
	Services []ServiceConfig `yaml:"services"`
}

// Load reads settings from the environment and, when present, the services
// file it names.
func Load() (*Config, error) {
	cfg := &Config{
		ServicesFile: getEnv("TETHYS_SERVICES_FILE", "services.yml"),
		HTTP: HTTPConfig{
			Timeout:   getDurationEnv("TETHYS_HTTP_TIMEOUT", 0),
			UserAgent: getEnv("TETHYS_USER_AGENT", "tethys-datasets/1.0"),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE", ""),
			DiscordURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
	}

	if _, err := os.Stat(cfg.ServicesFile); err == nil {
		services, err := LoadServices(cfg.ServicesFile)
		if err != nil {
			return nil, err
		}
		cfg.Services = services
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking services file: %w", err)
	}

	return cfg, nil
}

// LoadServices parses a YAML services file. ${VAR} references are expanded
// from the environment before parsing.
func LoadServices(path string) ([]ServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading services file: %w", err)
	}
	return ParseServices([]byte(os.ExpandEnv(string(raw))))
}

// ParseServices decodes and validates a services document.
func ParseServices(data []byte) ([]ServiceConfig, error) {
	var doc servicesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing services file: %w", err)
	}
	seen := make(map[string]bool, len(doc.Services))
	for i := range doc.Services {
		s := &doc.Services[i]
		s.Engine = strings.ToLower(strings.TrimSpace(s.Engine))
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return doc.Services, nil
}

// Service returns the named service. An empty name selects the only
// configured service.
func (c *Config) Service(name string) (ServiceConfig, error) {
	if name == "" {
		if len(c.Services) == 1 {
			return c.Services[0], nil
		}
		return ServiceConfig{}, fmt.Errorf("%d services configured, a service name is required", len(c.Services))
	}
	for _, s := range c.Services {
		if s.Name == name {
			return s, nil
		}
	}
	return ServiceConfig{}, fmt.Errorf("service %q is not configured", name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

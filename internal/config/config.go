package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"zakai/internal/logger"
)

// Config is the full runtime configuration. Structural settings come from
// config.yaml; secrets and deployment overrides come from the environment.
type Config struct {
	Log     logger.Config `yaml:"log"`
	Model   ModelConfig   `yaml:"model"`
	Router  RouterConfig  `yaml:"router"`
	Session SessionConfig `yaml:"session"`
	Gateway GatewayConfig `yaml:"gateway"`
	Weather WeatherConfig `yaml:"weather"`
	Email   EmailConfig   `yaml:"email"`
	Server  ServerConfig  `yaml:"server"`
}

// ModelConfig selects and configures the chat model backend.
type ModelConfig struct {
	Provider    string  `yaml:"provider" envconfig:"MODEL_PROVIDER"`
	Model       string  `yaml:"model" envconfig:"MODEL_NAME"`
	BaseURL     string  `yaml:"base_url" envconfig:"MODEL_BASE_URL"`
	APIKey      string  `yaml:"-" envconfig:"LLM_API_KEY"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// RouterConfig bounds the conversation context the router classifier sees.
type RouterConfig struct {
	MaxContextMessages int `yaml:"max_context_messages"`
}

// SessionConfig controls per-user conversation state and the idle sweep.
type SessionConfig struct {
	MaxHistory           int `yaml:"max_history"`
	IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// IdleTimeout returns the idle threshold after which a session is evicted.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// SweepInterval returns how often the idle sweep runs.
func (s SessionConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// GatewayConfig configures history persistence and auth lookups.
// Mode "http" talks to the user service; mode "redis" keeps history in Redis
// (auth lookups always go to the user service).
type GatewayConfig struct {
	Mode           string `yaml:"mode"`
	BaseURL        string `yaml:"base_url" envconfig:"GATEWAY_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RedisURL       string `yaml:"-" envconfig:"REDIS_URL"`
	TTLSeconds     int    `yaml:"ttl_seconds"`
}

// Timeout returns the per-call timeout for gateway HTTP requests.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// TTL returns the Redis history expiry.
func (g GatewayConfig) TTL() time.Duration {
	return time.Duration(g.TTLSeconds) * time.Second
}

// WeatherConfig configures the weather backend. The default coordinates are
// used when neither the request nor the utterance carries a location.
type WeatherConfig struct {
	GeocodeURL       string  `yaml:"geocode_url"`
	ForecastURL      string  `yaml:"forecast_url"`
	DefaultLatitude  float64 `yaml:"default_latitude"`
	DefaultLongitude float64 `yaml:"default_longitude"`
}

// EmailConfig configures the Gmail backend and OAuth token refresh.
type EmailConfig struct {
	ClientID     string `yaml:"-" envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"-" envconfig:"GOOGLE_CLIENT_SECRET"`
	TokenURI     string `yaml:"token_uri" envconfig:"GOOGLE_TOKEN_URI"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// ServerConfig configures the HTTP listener. AuthURL is where users are sent
// to authorize email access.
type ServerConfig struct {
	Addr    string `yaml:"addr" envconfig:"SERVER_ADDR"`
	AuthURL string `yaml:"auth_url"`
}

// Load reads config.yaml, overlays environment variables and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.Model == "" {
		c.Model.Model = "openai/gpt-4o-mini"
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 1500
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.3
	}
	if c.Router.MaxContextMessages == 0 {
		c.Router.MaxContextMessages = 10
	}
	if c.Session.MaxHistory == 0 {
		c.Session.MaxHistory = 50
	}
	if c.Session.IdleTimeoutSeconds == 0 {
		c.Session.IdleTimeoutSeconds = 60
	}
	if c.Session.SweepIntervalSeconds == 0 {
		c.Session.SweepIntervalSeconds = 60
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = "http"
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}
	if c.Gateway.TTLSeconds == 0 {
		c.Gateway.TTLSeconds = 2400
	}
	if c.Weather.GeocodeURL == "" {
		c.Weather.GeocodeURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	if c.Weather.ForecastURL == "" {
		c.Weather.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	if c.Weather.DefaultLatitude == 0 && c.Weather.DefaultLongitude == 0 {
		// Cairo
		c.Weather.DefaultLatitude = 30.0444
		c.Weather.DefaultLongitude = 31.2357
	}
	if c.Email.TokenURI == "" {
		c.Email.TokenURI = "https://oauth2.googleapis.com/token"
	}
	if c.Email.APIBaseURL == "" {
		c.Email.APIBaseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.AuthURL == "" {
		c.Server.AuthURL = "http://127.0.0.1:8000/auth"
	}
}

// Package config loads the relay configuration from an optional YAML file
// and the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gematik/authrelay/pkg/relay"
	"github.com/gematik/authrelay/pkg/state"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultPathPrefix      = "/spotify-auth"
	defaultResponseMode    = "json"
	defaultStateTTL        = 10 * time.Minute
	defaultExchangeTimeout = relay.DefaultExchangeTimeout
	defaultLogLevel        = "info"
	defaultLogFormat       = "pretty"
)

// Config is read once at start-up and handed to the components; nothing
// reads the environment after Load returns.
type Config struct {
	ClientID         string        `yaml:"client_id" validate:"required"`
	ClientSecret     string        `yaml:"client_secret" validate:"required"`
	RedirectURI      string        `yaml:"redirect_uri" validate:"required,url"`
	Scopes           string        `yaml:"scopes"`
	Port             int           `yaml:"port" validate:"min=1,max=65535"`
	PathPrefix       string        `yaml:"path_prefix" validate:"omitempty,startswith=/"`
	AuthorizeURL     string        `yaml:"authorize_url" validate:"required,url"`
	TokenURL         string        `yaml:"token_url" validate:"required,url"`
	ResponseMode     string        `yaml:"response_mode" validate:"oneof=json redirect"`
	AppRedirectURI   string        `yaml:"app_redirect_uri" validate:"required_if=ResponseMode redirect"`
	ErrorRedirectURI string        `yaml:"error_redirect_uri" validate:"omitempty,url"`
	StateMode        state.Mode    `yaml:"state_mode" validate:"oneof=cookie signed nonce"`
	StateSignKey     string        `yaml:"state_sign_key" validate:"required_if=StateMode signed"`
	StateTTL         time.Duration `yaml:"state_ttl" validate:"gt=0"`
	SecureCookie     bool          `yaml:"secure_cookie"`
	ExchangeTimeout  time.Duration `yaml:"exchange_timeout" validate:"gt=0"`
	CORSAllowOrigins []string      `yaml:"cors_allow_origins" validate:"dive,required"`
	LogLevel         string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat        string        `yaml:"log_format" validate:"oneof=pretty json"`
}

func defaults() *Config {
	return &Config{
		Port:             defaultPort,
		PathPrefix:       defaultPathPrefix,
		AuthorizeURL:     relay.SpotifyAuthorizeURL,
		TokenURL:         relay.SpotifyTokenURL,
		ResponseMode:     defaultResponseMode,
		StateMode:        state.ModeCookie,
		StateTTL:         defaultStateTTL,
		ExchangeTimeout:  defaultExchangeTimeout,
		CORSAllowOrigins: []string{"*"},
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
	}
}

// Load applies defaults, then the YAML file named by CONFIG_PATH (if set),
// then environment variables, and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.AppRedirectURI != "" {
		if err := validate.Var(cfg.AppRedirectURI, "url"); err != nil {
			return nil, fmt.Errorf("invalid APP_REDIRECT_URI: %w", err)
		}
	}
	if cfg.StateSignKey != "" {
		if err := validate.Var(cfg.StateSignKey, "base64"); err != nil {
			return nil, fmt.Errorf("invalid STATE_SIGN_KEY: %w", err)
		}
	}

	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(yamlData, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file '%s': %w", path, err)
	}
	return nil
}

func (cfg *Config) loadEnv() error {
	setString(&cfg.ClientID, "CLIENT_ID")
	setString(&cfg.ClientSecret, "CLIENT_SECRET")
	setString(&cfg.RedirectURI, "RETURN_URL")
	setString(&cfg.Scopes, "SCOPES")
	setString(&cfg.PathPrefix, "PATH_PREFIX")
	setString(&cfg.AuthorizeURL, "AUTHORIZE_URL")
	setString(&cfg.TokenURL, "TOKEN_URL")
	setString(&cfg.ResponseMode, "RESPONSE_MODE")
	setString(&cfg.AppRedirectURI, "APP_REDIRECT_URI")
	setString(&cfg.ErrorRedirectURI, "ERROR_REDIRECT_URI")
	setString(&cfg.StateSignKey, "STATE_SIGN_KEY")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	if v, ok := lookup("STATE_MODE"); ok {
		cfg.StateMode = state.Mode(v)
	}
	if v, ok := lookup("CORS_ALLOW_ORIGINS"); ok {
		cfg.CORSAllowOrigins = splitList(v)
	}

	var err error
	if cfg.Port, err = getEnvAsInt("PORT", cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.StateTTL, err = getEnvAsDuration("STATE_TTL", cfg.StateTTL); err != nil {
		return fmt.Errorf("invalid STATE_TTL: %w", err)
	}
	if cfg.ExchangeTimeout, err = getEnvAsDuration("EXCHANGE_TIMEOUT", cfg.ExchangeTimeout); err != nil {
		return fmt.Errorf("invalid EXCHANGE_TIMEOUT: %w", err)
	}
	if cfg.SecureCookie, err = getEnvAsBool("SECURE_COOKIE", cfg.SecureCookie); err != nil {
		return fmt.Errorf("invalid SECURE_COOKIE: %w", err)
	}
	return nil
}

// ScopeList splits the space-delimited scope string.
func (cfg *Config) ScopeList() []string {
	return strings.Fields(cfg.Scopes)
}

func (cfg *Config) Addr() string {
	return fmt.Sprintf(":%d", cfg.Port)
}

func (cfg *Config) StateSigningKey() ([]byte, error) {
	if cfg.StateSignKey == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(cfg.StateSignKey)
}

func (cfg *Config) CookieOptions() state.CookieOptions {
	return state.CookieOptions{
		Name:   state.DefaultCookieName,
		Secure: cfg.SecureCookie,
		TTL:    cfg.StateTTL,
	}
}

func (cfg *Config) Relay() relay.Config {
	return relay.Config{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		RedirectURI:     cfg.RedirectURI,
		Scopes:          cfg.ScopeList(),
		AuthorizeURL:    cfg.AuthorizeURL,
		TokenURL:        cfg.TokenURL,
		ExchangeTimeout: cfg.ExchangeTimeout,
	}
}

// Responder builds the response strategy for the callback.
func (cfg *Config) Responder() (relay.Responder, error) {
	if cfg.ResponseMode == "redirect" {
		responder, err := relay.NewRedirectResponder(cfg.AppRedirectURI, cfg.ErrorRedirectURI)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect target: %w", err)
		}
		return responder, nil
	}
	return relay.JSONResponder{}, nil
}

// Binder builds the state binder for the configured mode.
func (cfg *Config) Binder() (state.Binder, error) {
	key, err := cfg.StateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("invalid STATE_SIGN_KEY: %w", err)
	}
	return state.NewBinder(cfg.StateMode, key, cfg.CookieOptions())
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func setString(target *string, key string) {
	if value, ok := lookup(key); ok {
		*target = value
	}
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	return time.ParseDuration(valueStr)
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

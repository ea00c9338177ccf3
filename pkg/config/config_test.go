package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/gematik/authrelay/pkg/config"
	"github.com/gematik/authrelay/pkg/relay"
	"github.com/gematik/authrelay/pkg/state"
)

var envKeys = []string{
	"CONFIG_PATH", "CLIENT_ID", "CLIENT_SECRET", "RETURN_URL", "SCOPES", "PORT",
	"PATH_PREFIX", "AUTHORIZE_URL", "TOKEN_URL", "RESPONSE_MODE", "APP_REDIRECT_URI",
	"ERROR_REDIRECT_URI", "STATE_MODE", "STATE_SIGN_KEY", "STATE_TTL", "SECURE_COOKIE",
	"EXCHANGE_TIMEOUT", "CORS_ALLOW_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func setRequired(t *testing.T) {
	t.Setenv("CLIENT_ID", "X")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("RETURN_URL", "http://127.0.0.1:8080/spotify-auth/callback")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("SCOPES", "user-read-private  user-read-email")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr() != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr())
	}
	if cfg.AuthorizeURL != relay.SpotifyAuthorizeURL || cfg.TokenURL != relay.SpotifyTokenURL {
		t.Errorf("expected spotify endpoints, got %s %s", cfg.AuthorizeURL, cfg.TokenURL)
	}
	if cfg.StateMode != state.ModeCookie || cfg.ResponseMode != "json" {
		t.Errorf("unexpected modes %s %s", cfg.StateMode, cfg.ResponseMode)
	}
	if cfg.ExchangeTimeout != 10*time.Second {
		t.Errorf("expected 10s exchange timeout, got %s", cfg.ExchangeTimeout)
	}
	if !reflect.DeepEqual(cfg.ScopeList(), []string{"user-read-private", "user-read-email"}) {
		t.Errorf("unexpected scopes %v", cfg.ScopeList())
	}

	rc := cfg.Relay()
	if rc.ClientID != "X" || rc.ClientSecret != "secret" || len(rc.Scopes) != 2 {
		t.Errorf("unexpected relay config %+v", rc)
	}
	if _, err := relay.New(rc); err != nil {
		t.Errorf("expected relay config to be accepted, got %v", err)
	}

	responder, err := cfg.Responder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := responder.(relay.JSONResponder); !ok {
		t.Errorf("expected json responder, got %T", responder)
	}

	binder, err := cfg.Binder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := binder.(*state.CookieBinder); !ok {
		t.Errorf("expected cookie binder, got %T", binder)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIENT_ID", "X")

	if _, err := config.Load(); err == nil {
		t.Error("expected error for missing client secret and return url")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PORT":             "not-a-port",
		"EXCHANGE_TIMEOUT": "ten seconds",
		"STATE_TTL":        "-1m",
		"SECURE_COOKIE":    "sometimes",
		"STATE_MODE":       "session",
		"RESPONSE_MODE":    "xml",
		"LOG_LEVEL":        "verbose",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			t.Setenv(key, value)
			if _, err := config.Load(); err == nil {
				t.Errorf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadRedirectMode(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("RESPONSE_MODE", "redirect")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for redirect mode without APP_REDIRECT_URI")
	}

	t.Setenv("APP_REDIRECT_URI", "http://127.0.0.1:3000/")
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	responder, err := cfg.Responder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := responder.(*relay.RedirectResponder); !ok {
		t.Errorf("expected redirect responder, got %T", responder)
	}
}

func TestLoadSignedStateMode(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("STATE_MODE", "signed")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for signed mode without STATE_SIGN_KEY")
	}

	t.Setenv("STATE_SIGN_KEY", base64.StdEncoding.EncodeToString(state.GenerateRandomKey(256)))
	t.Setenv("SECURE_COOKIE", "true")
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.CookieOptions().Secure {
		t.Error("expected secure cookie")
	}
	binder, err := cfg.Binder()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := binder.(*state.SignedCookieBinder); !ok {
		t.Errorf("expected signed binder, got %T", binder)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "authrelay.yaml")
	yamlData := `
client_id: from-file
client_secret: file-secret
redirect_uri: http://127.0.0.1:8080/spotify-auth/callback
scopes: playlist-read-private
port: 9090
state_mode: nonce
state_ttl: 5m
exchange_timeout: 3s
cors_allow_origins:
  - http://127.0.0.1:3000
`
	if err := os.WriteFile(path, []byte(yamlData), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CLIENT_ID", "from-env")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.example, http://b.example")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ClientID != "from-env" {
		t.Errorf("expected env to override file, got %s", cfg.ClientID)
	}
	if cfg.ClientSecret != "file-secret" || cfg.Port != 9090 || cfg.StateMode != state.ModeNonce {
		t.Errorf("unexpected values from file %+v", cfg)
	}
	if cfg.StateTTL != 5*time.Minute || cfg.ExchangeTimeout != 3*time.Second {
		t.Errorf("unexpected durations %s %s", cfg.StateTTL, cfg.ExchangeTimeout)
	}
	if !reflect.DeepEqual(cfg.CORSAllowOrigins, []string{"http://a.example", "http://b.example"}) {
		t.Errorf("unexpected origins %v", cfg.CORSAllowOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := config.Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

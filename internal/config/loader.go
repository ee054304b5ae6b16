package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	keyAppName          = "app_name"
	keyEnv              = "env"
	keyLogLevel         = "log_level"
	keyBaseURL          = "base_url"
	keySignInPath       = "auth.sign_in_path"
	keyRefreshPath      = "auth.refresh_path"
	keyRefreshTimeout   = "auth.refresh_timeout"
	keyHTTPTimeout      = "http.timeout"
	keyStoreKind        = "store.kind"
	keyStorePath        = "store.path"
	keyStoreNamespace   = "store.namespace"
	keyOIDCIssuer       = "oidc.issuer"
	keyOIDCClientID     = "oidc.client_id"
	keyOIDCJWKSURL      = "oidc.jwks_url"
	keyListenAddr       = "dev.listen_addr"
	keyAccessExpiry     = "dev.access_token_expiry"
	keyIDTokenExpiry    = "dev.id_token_expiry"
	keyRefreshLength    = "dev.refresh_token_length"
	keyRotateRefreshTok = "dev.rotate_refresh_tokens"
)

type mainConfig struct {
	v *viper.Viper
}

var _ Config = mainConfig{}

// New returns a Config read from the environment only.
func New() Config {
	return FromViper(viper.New())
}

// Load reads configFile (YAML) when given, otherwise looks for authclient.yaml
// in the working directory and the user config directory. A missing file is
// not an error; environment variables prefixed AUTHCLIENT_ override file
// values, e.g. AUTHCLIENT_STORE_KIND overrides store.kind.
func Load(configFile string) (Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile([]string{".", configDir()}); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("[config.Load] read config file: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper wraps an existing viper instance, adding defaults and environment
// bindings.
func FromViper(v *viper.Viper) Config {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return mainConfig{v: v}
}

// Validate checks the values that cannot be defaulted sensibly.
func Validate(cfg Config) error {
	if !cfg.GetStoreKind().Valid() {
		return fmt.Errorf("[config.Validate] store.kind must be one of memory, file, sqlite: got %q", cfg.GetStoreKind())
	}
	if cfg.GetBaseURL() == "" {
		return errors.New("[config.Validate] base_url is required")
	}
	if u, err := url.Parse(cfg.GetBaseURL()); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("[config.Validate] base_url must be an absolute http(s) URL: got %q", cfg.GetBaseURL())
	}
	if cfg.GetRefreshTimeout() <= 0 {
		return errors.New("[config.Validate] auth.refresh_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyAppName, "Auth Client")
	v.SetDefault(keyEnv, "DEV")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyBaseURL, "http://localhost:8080")
	v.SetDefault(keySignInPath, "/auth/login")
	v.SetDefault(keyRefreshPath, "/auth/refresh")
	v.SetDefault(keyRefreshTimeout, 30*time.Second)
	v.SetDefault(keyHTTPTimeout, 30*time.Second)
	v.SetDefault(keyStoreKind, string(StoreFile))
	v.SetDefault(keyStorePath, "")
	v.SetDefault(keyStoreNamespace, "authclient")
	v.SetDefault(keyOIDCIssuer, "")
	v.SetDefault(keyOIDCClientID, "")
	v.SetDefault(keyOIDCJWKSURL, "")
	v.SetDefault(keyListenAddr, "8080")
	v.SetDefault(keyAccessExpiry, 15*time.Minute)
	v.SetDefault(keyIDTokenExpiry, time.Hour)
	v.SetDefault(keyRefreshLength, 32)
	v.SetDefault(keyRotateRefreshTok, true)
}

func findConfigFile(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func (c mainConfig) GetAppName() string {
	return c.v.GetString(keyAppName)
}

func (c mainConfig) GetEnv() string {
	return c.v.GetString(keyEnv)
}

func (c mainConfig) GetLogLevel() string {
	return c.v.GetString(keyLogLevel)
}

func (c mainConfig) GetBaseURL() string {
	return strings.TrimRight(c.v.GetString(keyBaseURL), "/")
}

func (c mainConfig) GetSignInPath() string {
	return c.v.GetString(keySignInPath)
}

func (c mainConfig) GetRefreshPath() string {
	return c.v.GetString(keyRefreshPath)
}

func (c mainConfig) GetRefreshTimeout() time.Duration {
	return c.v.GetDuration(keyRefreshTimeout)
}

func (c mainConfig) GetHTTPTimeout() time.Duration {
	return c.v.GetDuration(keyHTTPTimeout)
}

func (c mainConfig) GetStoreKind() StoreKind {
	return StoreKind(strings.ToLower(c.v.GetString(keyStoreKind)))
}

// GetStorePath defaults to a file in the user config directory, named by
// store kind.
func (c mainConfig) GetStorePath() string {
	if path := c.v.GetString(keyStorePath); path != "" {
		return path
	}
	switch c.GetStoreKind() {
	case StoreSQLite:
		return filepath.Join(configDir(), "credentials.db")
	default:
		return filepath.Join(configDir(), "credentials.json")
	}
}

func (c mainConfig) GetStoreNamespace() string {
	return c.v.GetString(keyStoreNamespace)
}

func (c mainConfig) GetOIDCIssuer() string {
	return c.v.GetString(keyOIDCIssuer)
}

func (c mainConfig) GetOIDCClientID() string {
	return c.v.GetString(keyOIDCClientID)
}

func (c mainConfig) GetOIDCJWKSURL() string {
	return c.v.GetString(keyOIDCJWKSURL)
}

func (c mainConfig) OIDCEnabled() bool {
	return c.GetOIDCIssuer() != "" && c.GetOIDCClientID() != "" && c.GetOIDCJWKSURL() != ""
}

// GetListenAddr returns the dev backend listen address with a leading colon
// added to a bare port.
func (c mainConfig) GetListenAddr() string {
	addr := c.v.GetString(keyListenAddr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

func (c mainConfig) GetAccessTokenExpiry() time.Duration {
	return c.v.GetDuration(keyAccessExpiry)
}

func (c mainConfig) GetIDTokenExpiry() time.Duration {
	return c.v.GetDuration(keyIDTokenExpiry)
}

func (c mainConfig) GetRefreshTokenLength() int {
	return c.v.GetInt(keyRefreshLength)
}

func (c mainConfig) GetRotateRefreshTokens() bool {
	return c.v.GetBool(keyRotateRefreshTok)
}

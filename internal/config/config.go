// Package config provides configuration management functionality.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Default endpoint and behavior values. Endpoints are configurable so tests
// can point the clients at local servers.
const (
	DefaultLiveAuthURL  = "https://login.live.com/oauth20_authorize.srf"
	DefaultLiveTokenURL = "https://login.live.com/oauth20_token.srf"
	DefaultUserAuthURL  = "https://user.auth.xboxlive.com/user/authenticate"
	DefaultXSTSAuthURL  = "https://xsts.auth.xboxlive.com/xsts/authorize"
	DefaultRelyingParty = "http://licensing.xboxlive.com"
	DefaultCatalogURL   = "https://displaycatalog.mp.microsoft.com/v7.0/products"
	DefaultPackageURL   = "https://packagespc.xboxlive.com/GetBasePackage"
)

// GlobalConfig holds the facade's configuration, loaded once at startup and
// passed explicitly into each component's constructor.
type GlobalConfig struct {
	Debug   bool   `json:"debug"`
	APIPort int    `json:"api_port"`
	APIKey  string `json:"api_key,omitempty"`

	DatabasePath         string `json:"database_path"`
	CredentialPath       string `json:"credential_path"`
	CredentialPassphrase string `json:"credential_passphrase,omitempty"`

	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`

	LiveAuthURL  string `json:"live_auth_url,omitempty"`
	LiveTokenURL string `json:"live_token_url,omitempty"`
	UserAuthURL  string `json:"user_auth_url,omitempty"`
	XSTSAuthURL  string `json:"xsts_auth_url,omitempty"`
	RelyingParty string `json:"relying_party,omitempty"`

	CatalogURL string `json:"catalog_url,omitempty"`
	Market     string `json:"market,omitempty"`
	Language   string `json:"language,omitempty"`

	PackageURL string `json:"package_url,omitempty"`

	HTTPTimeoutSeconds int `json:"http_timeout_seconds,omitempty"`

	Cache CacheSettings `json:"cache"`

	LogDir           string `json:"log_dir,omitempty"`
	LogRetentionDays int    `json:"log_retention_days,omitempty"`
	EnableFileLog    bool   `json:"enable_file_log,omitempty"`
}

// CacheSettings control cache behavior. These are the settings the config
// watcher reloads at runtime.
type CacheSettings struct {
	// KeepHistory retains prior rows for a product id instead of replacing them.
	KeepHistory bool `json:"keep_history"`
	// PurgeMaxAgeHours is the age past which rows are swept. Zero disables the sweep.
	PurgeMaxAgeHours int `json:"purge_max_age_hours"`
	// PurgeIntervalMinutes is how often the background sweep runs.
	PurgeIntervalMinutes int `json:"purge_interval_minutes"`
}

// LoadGlobalConfig loads the global configuration from a JSON file and
// applies defaults for unset optional fields.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *GlobalConfig) applyDefaults() {
	if c.APIPort == 0 {
		c.APIPort = 8080
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "cache.db"
	}
	if c.CredentialPath == "" {
		c.CredentialPath = "credentials.json"
	}
	if c.LiveAuthURL == "" {
		c.LiveAuthURL = DefaultLiveAuthURL
	}
	if c.LiveTokenURL == "" {
		c.LiveTokenURL = DefaultLiveTokenURL
	}
	if c.UserAuthURL == "" {
		c.UserAuthURL = DefaultUserAuthURL
	}
	if c.XSTSAuthURL == "" {
		c.XSTSAuthURL = DefaultXSTSAuthURL
	}
	if c.RelyingParty == "" {
		c.RelyingParty = DefaultRelyingParty
	}
	if c.CatalogURL == "" {
		c.CatalogURL = DefaultCatalogURL
	}
	if c.Market == "" {
		c.Market = "US"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.PackageURL == "" {
		c.PackageURL = DefaultPackageURL
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 30
	}
	if c.Cache.PurgeIntervalMinutes == 0 {
		c.Cache.PurgeIntervalMinutes = 60
	}
	if c.LogRetentionDays == 0 {
		c.LogRetentionDays = 7
	}
}

// Validate checks the configuration for invalid values.
func (c *GlobalConfig) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	if c.HTTPTimeoutSeconds < 1 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	if c.Cache.PurgeMaxAgeHours < 0 {
		return fmt.Errorf("purge_max_age_hours must not be negative, got %d", c.Cache.PurgeMaxAgeHours)
	}
	return nil
}

// HTTPTimeout returns the configured timeout for outbound HTTP calls.
func (c *GlobalConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MarketplaceConfig locates the marketplace appstore endpoints. Authorize and
// exchange URLs are derived per vendor as https://{domain}.{host}{path}.
type MarketplaceConfig struct {
	Host          string `koanf:"host" mapstructure:"host"`
	AuthorizePath string `koanf:"authorize_path" mapstructure:"authorize_path"`
	ExchangePath  string `koanf:"exchange_path" mapstructure:"exchange_path"`
}

// OAuthConfig carries the app registration issued by the marketplace. The
// client secret doubles as the HMAC signing key for inbound requests.
type OAuthConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
}

// ParamConfig names the wire query parameters, which vary across marketplace
// deployments (state vs nonce, code vs authorization_code). Protocol logic
// never hard-codes these names.
type ParamConfig struct {
	Correlation string `koanf:"correlation" mapstructure:"correlation"`
	Code        string `koanf:"code" mapstructure:"code"`
	Signature   string `koanf:"signature" mapstructure:"signature"`
}

type NonceConfig struct {
	TTL           time.Duration `koanf:"ttl" mapstructure:"ttl"`
	MaxEntries    int           `koanf:"max_entries" mapstructure:"max_entries"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

type ExchangeConfig struct {
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
	RetryAttempts  int           `koanf:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" mapstructure:"retry_base_delay"`
}

type InstallConfig struct {
	Interstitial             bool `koanf:"interstitial" mapstructure:"interstitial"`
	InterstitialDelaySeconds int  `koanf:"interstitial_delay_seconds" mapstructure:"interstitial_delay_seconds"`
}

// CollectorConfig points at an optional endpoint that receives a JSON copy of
// every persisted record, alongside the primary store.
type CollectorConfig struct {
	Endpoint string        `koanf:"endpoint" mapstructure:"endpoint"`
	Timeout  time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Marketplace MarketplaceConfig `koanf:"marketplace" mapstructure:"marketplace"`
	OAuth       OAuthConfig       `koanf:"oauth" mapstructure:"oauth"`
	Params      ParamConfig       `koanf:"params" mapstructure:"params"`
	Nonce       NonceConfig       `koanf:"nonce" mapstructure:"nonce"`
	Exchange    ExchangeConfig    `koanf:"exchange" mapstructure:"exchange"`
	Install     InstallConfig     `koanf:"install" mapstructure:"install"`
	Collector   CollectorConfig   `koanf:"collector" mapstructure:"collector"`
	Storage     StorageConfig     `koanf:"storage" mapstructure:"storage"`
	Server      ServerConfig      `koanf:"server" mapstructure:"server"`
}

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"

	maxExchangeRetryAttempts = 5
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "appstore-connect",
		Marketplace: MarketplaceConfig{
			Host:          "bokun.io",
			AuthorizePath: "/appstore/oauth/authorize",
			ExchangePath:  "/appstore/oauth/access_token",
		},
		Params: ParamConfig{
			Correlation: "nonce",
			Code:        "code",
			Signature:   "hmac",
		},
		Nonce: NonceConfig{
			TTL:           defaultNonceTTL,
			MaxEntries:    10000,
			SweepInterval: time.Minute,
		},
		Exchange: ExchangeConfig{
			Timeout:        10 * time.Second,
			RetryAttempts:  2,
			RetryBaseDelay: 250 * time.Millisecond,
		},
		Install: InstallConfig{
			Interstitial:             false,
			InterstitialDelaySeconds: 3,
		},
		Collector: CollectorConfig{
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageDriverMemory,
		},
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks structural consistency. Credential presence is enforced
// separately by ValidateRequired so partially layered configs can still be
// merged.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: config service_name is required")
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.Nonce.TTL < 0 {
		return fmt.Errorf("core: config nonce.ttl must not be negative")
	}
	if c.Nonce.MaxEntries < 0 {
		return fmt.Errorf("core: config nonce.max_entries must not be negative")
	}
	if c.Exchange.Timeout < 0 {
		return fmt.Errorf("core: config exchange.timeout must not be negative")
	}
	if c.Exchange.RetryAttempts < 0 || c.Exchange.RetryAttempts > maxExchangeRetryAttempts {
		return fmt.Errorf("core: config exchange.retry_attempts must be between 0 and %d", maxExchangeRetryAttempts)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("core: config server.port must be a valid port")
	}
	switch strings.TrimSpace(strings.ToLower(c.Storage.Driver)) {
	case "", StorageDriverMemory, StorageDriverPostgres, StorageDriverSQLite:
	default:
		return fmt.Errorf("core: config storage.driver %q is not supported", c.Storage.Driver)
	}
	if endpoint := strings.TrimSpace(c.Collector.Endpoint); endpoint != "" {
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: config collector.endpoint must be an absolute URL")
		}
	}
	return nil
}

// ValidateRequired enforces the deployment credentials on top of Validate.
// The service refuses to start without them.
func (c Config) ValidateRequired() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return fmt.Errorf("core: config oauth.client_id is required")
	}
	if strings.TrimSpace(c.OAuth.ClientSecret) == "" {
		return fmt.Errorf("core: config oauth.client_secret is required")
	}
	if len(normalizeScopes(c.OAuth.Scopes)) == 0 {
		return fmt.Errorf("core: config oauth.scopes is required")
	}
	if strings.TrimSpace(c.OAuth.RedirectURI) == "" {
		return fmt.Errorf("core: config oauth.redirect_uri is required")
	}
	if parsed, err := url.Parse(strings.TrimSpace(c.OAuth.RedirectURI)); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("core: config oauth.redirect_uri must be an absolute URL")
	}
	if strings.TrimSpace(c.Marketplace.Host) == "" {
		return fmt.Errorf("core: config marketplace.host is required")
	}
	return nil
}

func (p ParamConfig) Validate() error {
	correlation := strings.TrimSpace(p.Correlation)
	code := strings.TrimSpace(p.Code)
	signature := strings.TrimSpace(p.Signature)
	if correlation == "" {
		return fmt.Errorf("core: config params.correlation is required")
	}
	if code == "" {
		return fmt.Errorf("core: config params.code is required")
	}
	if signature == "" {
		return fmt.Errorf("core: config params.signature is required")
	}
	if correlation == code || correlation == signature || code == signature {
		return fmt.Errorf("core: config params must name distinct query parameters")
	}
	return nil
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		out = append(out, scope)
	}
	return out
}

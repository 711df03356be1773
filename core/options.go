package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	nonceStore        NonceStore
	verifier          SignatureVerifier
	marketplace       MarketplaceClient
	recordSink        RecordSink
	installationStore InstallationStore
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithNonceStore(store NonceStore) Option {
	return func(b *serviceBuilder) {
		b.nonceStore = store
	}
}

func WithSignatureVerifier(verifier SignatureVerifier) Option {
	return func(b *serviceBuilder) {
		b.verifier = verifier
	}
}

func WithMarketplaceClient(client MarketplaceClient) Option {
	return func(b *serviceBuilder) {
		b.marketplace = client
	}
}

func WithRecordSink(sink RecordSink) Option {
	return func(b *serviceBuilder) {
		b.recordSink = sink
	}
}

func WithInstallationStore(store InstallationStore) Option {
	return func(b *serviceBuilder) {
		b.installationStore = store
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("appstore-connect", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return appstoreErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// EnvRawConfigLoader maps the deployment environment (API_KEY, CLIENT_SECRET,
// SCOPES, REDIRECT_URI, BOKUN_HOST, PORT, and the optional overrides) into
// the raw configuration tree. Only variables that are actually set produce
// keys, so defaults survive the merge.
type EnvRawConfigLoader struct{}

type envRawConfig struct {
	ServiceName           string   `env:"SERVICE_NAME"`
	APIKey                string   `env:"API_KEY"`
	ClientSecret          string   `env:"CLIENT_SECRET"`
	Scopes                []string `env:"SCOPES" envSeparator:","`
	RedirectURI           string   `env:"REDIRECT_URI"`
	BokunHost             string   `env:"BOKUN_HOST"`
	Port                  int      `env:"PORT"`
	CorrelationParam      string   `env:"CORRELATION_PARAM"`
	CodeParam             string   `env:"CODE_PARAM"`
	SignatureParam        string   `env:"SIGNATURE_PARAM"`
	NonceTTL              string   `env:"NONCE_TTL"`
	NonceMaxEntries       int      `env:"NONCE_MAX_ENTRIES"`
	NonceSweepInterval    string   `env:"NONCE_SWEEP_INTERVAL"`
	ExchangeTimeout       string   `env:"EXCHANGE_TIMEOUT"`
	ExchangeRetryAttempts int      `env:"EXCHANGE_RETRY_ATTEMPTS"`
	InstallInterstitial   bool     `env:"INSTALL_INTERSTITIAL"`
	CollectorEndpoint     string   `env:"COLLECTOR_ENDPOINT"`
	StorageDriver         string   `env:"STORAGE_DRIVER"`
	StorageDSN            string   `env:"DATABASE_URL"`
}

func (EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := envRawConfig{}
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("core: parse environment config: %w", err)
	}

	out := map[string]any{}
	if strings.TrimSpace(raw.ServiceName) != "" {
		out["service_name"] = strings.TrimSpace(raw.ServiceName)
	}

	oauth := map[string]any{}
	if strings.TrimSpace(raw.APIKey) != "" {
		oauth["client_id"] = strings.TrimSpace(raw.APIKey)
	}
	if raw.ClientSecret != "" {
		oauth["client_secret"] = raw.ClientSecret
	}
	if scopes := normalizeScopes(raw.Scopes); len(scopes) > 0 {
		oauth["scopes"] = scopes
	}
	if strings.TrimSpace(raw.RedirectURI) != "" {
		oauth["redirect_uri"] = strings.TrimSpace(raw.RedirectURI)
	}
	if len(oauth) > 0 {
		out["oauth"] = oauth
	}

	if strings.TrimSpace(raw.BokunHost) != "" {
		out["marketplace"] = map[string]any{"host": strings.TrimSpace(raw.BokunHost)}
	}

	params := map[string]any{}
	if strings.TrimSpace(raw.CorrelationParam) != "" {
		params["correlation"] = strings.TrimSpace(raw.CorrelationParam)
	}
	if strings.TrimSpace(raw.CodeParam) != "" {
		params["code"] = strings.TrimSpace(raw.CodeParam)
	}
	if strings.TrimSpace(raw.SignatureParam) != "" {
		params["signature"] = strings.TrimSpace(raw.SignatureParam)
	}
	if len(params) > 0 {
		out["params"] = params
	}

	nonce := map[string]any{}
	if ttl, ok := parseEnvDuration(raw.NonceTTL); ok {
		nonce["ttl"] = ttl
	}
	if _, set := os.LookupEnv("NONCE_MAX_ENTRIES"); set {
		nonce["max_entries"] = raw.NonceMaxEntries
	}
	if interval, ok := parseEnvDuration(raw.NonceSweepInterval); ok {
		nonce["sweep_interval"] = interval
	}
	if len(nonce) > 0 {
		out["nonce"] = nonce
	}

	exchange := map[string]any{}
	if timeout, ok := parseEnvDuration(raw.ExchangeTimeout); ok {
		exchange["timeout"] = timeout
	}
	if _, set := os.LookupEnv("EXCHANGE_RETRY_ATTEMPTS"); set {
		exchange["retry_attempts"] = raw.ExchangeRetryAttempts
	}
	if len(exchange) > 0 {
		out["exchange"] = exchange
	}

	if _, set := os.LookupEnv("INSTALL_INTERSTITIAL"); set {
		out["install"] = map[string]any{"interstitial": raw.InstallInterstitial}
	}

	if strings.TrimSpace(raw.CollectorEndpoint) != "" {
		out["collector"] = map[string]any{"endpoint": strings.TrimSpace(raw.CollectorEndpoint)}
	}

	storage := map[string]any{}
	if strings.TrimSpace(raw.StorageDriver) != "" {
		storage["driver"] = strings.TrimSpace(strings.ToLower(raw.StorageDriver))
	}
	if strings.TrimSpace(raw.StorageDSN) != "" {
		storage["dsn"] = strings.TrimSpace(raw.StorageDSN)
	}
	if len(storage) > 0 {
		out["storage"] = storage
	}

	if _, set := os.LookupEnv("PORT"); set {
		out["server"] = map[string]any{"port": raw.Port}
	}

	return out, nil
}

func parseEnvDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	marketplace := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Marketplace.Host) != "" {
		marketplace["host"] = cfg.Marketplace.Host
	}
	if includeZero || strings.TrimSpace(cfg.Marketplace.AuthorizePath) != "" {
		marketplace["authorize_path"] = cfg.Marketplace.AuthorizePath
	}
	if includeZero || strings.TrimSpace(cfg.Marketplace.ExchangePath) != "" {
		marketplace["exchange_path"] = cfg.Marketplace.ExchangePath
	}
	if len(marketplace) > 0 {
		layer["marketplace"] = marketplace
	}

	oauth := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.OAuth.ClientID) != "" {
		oauth["client_id"] = cfg.OAuth.ClientID
	}
	if includeZero || cfg.OAuth.ClientSecret != "" {
		oauth["client_secret"] = cfg.OAuth.ClientSecret
	}
	if includeZero || len(cfg.OAuth.Scopes) > 0 {
		oauth["scopes"] = append([]string(nil), cfg.OAuth.Scopes...)
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.RedirectURI) != "" {
		oauth["redirect_uri"] = cfg.OAuth.RedirectURI
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	params := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Params.Correlation) != "" {
		params["correlation"] = cfg.Params.Correlation
	}
	if includeZero || strings.TrimSpace(cfg.Params.Code) != "" {
		params["code"] = cfg.Params.Code
	}
	if includeZero || strings.TrimSpace(cfg.Params.Signature) != "" {
		params["signature"] = cfg.Params.Signature
	}
	if len(params) > 0 {
		layer["params"] = params
	}

	nonce := map[string]any{}
	if includeZero || cfg.Nonce.TTL > 0 {
		nonce["ttl"] = cfg.Nonce.TTL
	}
	if includeZero || cfg.Nonce.MaxEntries > 0 {
		nonce["max_entries"] = cfg.Nonce.MaxEntries
	}
	if includeZero || cfg.Nonce.SweepInterval > 0 {
		nonce["sweep_interval"] = cfg.Nonce.SweepInterval
	}
	if len(nonce) > 0 {
		layer["nonce"] = nonce
	}

	exchange := map[string]any{}
	if includeZero || cfg.Exchange.Timeout > 0 {
		exchange["timeout"] = cfg.Exchange.Timeout
	}
	if includeZero || cfg.Exchange.RetryAttempts > 0 {
		exchange["retry_attempts"] = cfg.Exchange.RetryAttempts
	}
	if includeZero || cfg.Exchange.RetryBaseDelay > 0 {
		exchange["retry_base_delay"] = cfg.Exchange.RetryBaseDelay
	}
	if len(exchange) > 0 {
		layer["exchange"] = exchange
	}

	install := map[string]any{}
	if includeZero || cfg.Install.Interstitial {
		install["interstitial"] = cfg.Install.Interstitial
	}
	if includeZero || cfg.Install.InterstitialDelaySeconds > 0 {
		install["interstitial_delay_seconds"] = cfg.Install.InterstitialDelaySeconds
	}
	if len(install) > 0 {
		layer["install"] = install
	}

	collector := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Collector.Endpoint) != "" {
		collector["endpoint"] = cfg.Collector.Endpoint
	}
	if includeZero || cfg.Collector.Timeout > 0 {
		collector["timeout"] = cfg.Collector.Timeout
	}
	if len(collector) > 0 {
		layer["collector"] = collector
	}

	storage := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Storage.Driver) != "" {
		storage["driver"] = cfg.Storage.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Storage.DSN) != "" {
		storage["dsn"] = cfg.Storage.DSN
	}
	if len(storage) > 0 {
		layer["storage"] = storage
	}

	server := map[string]any{}
	if includeZero || cfg.Server.Port > 0 {
		server["port"] = cfg.Server.Port
	}
	if includeZero || cfg.Server.ShutdownTimeout > 0 {
		server["shutdown_timeout"] = cfg.Server.ShutdownTimeout
	}
	if len(server) > 0 {
		layer["server"] = server
	}

	return layer
}

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service runs the vendor side of the marketplace app-install handshake:
// verified install requests open a correlated pending entry, verified
// callbacks consume it, exchange the authorization code, and persist the
// resulting installation.
type Service struct {
	config            Config
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

// ServiceDependencies exposes the resolved collaborators for downstream
// wiring (transport handlers, command registration, maintenance jobs).
type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	NonceStore        NonceStore
	Verifier          SignatureVerifier
	Marketplace       MarketplaceClient
	RecordSink        RecordSink
	InstallationStore InstallationStore
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("appstore-connect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("appstore-connect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if err := finalConfig.ValidateRequired(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.nonceStore == nil {
		builder.nonceStore = NewMemoryNonceStoreWithLimits(finalConfig.Nonce.TTL, finalConfig.Nonce.MaxEntries)
	}
	if builder.verifier == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: signature verifier is required"))
	}
	if builder.marketplace == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: marketplace client is required"))
	}
	if builder.recordSink == nil && builder.installationStore != nil {
		builder.recordSink = installationStoreSink{store: builder.installationStore}
	}
	if builder.recordSink == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: record sink is required"))
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		nonceStore:        builder.nonceStore,
		verifier:          builder.verifier,
		marketplace:       builder.marketplace,
		recordSink:        builder.recordSink,
		installationStore: builder.installationStore,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	cfg := s.config
	cfg.OAuth.Scopes = append([]string(nil), s.config.OAuth.Scopes...)
	return cfg
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		NonceStore:        s.nonceStore,
		Verifier:          s.verifier,
		Marketplace:       s.marketplace,
		RecordSink:        s.recordSink,
		InstallationStore: s.installationStore,
	}
}

// InstallRequest carries the flattened query parameters of an inbound
// install request. All parameters participate in signature verification.
type InstallRequest struct {
	Params map[string]string
}

type InstallResponse struct {
	RedirectURL string
	Token       string
	Context     InstallContext
}

// Install verifies the inbound request, opens a pending handshake entry
// under a fresh correlation token, and returns the marketplace authorize
// redirect target.
func (s *Service) Install(ctx context.Context, req InstallRequest) (response InstallResponse, err error) {
	if s == nil {
		return InstallResponse{}, fmt.Errorf("core: service is not configured")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"domain": strings.TrimSpace(req.Params["domain"]),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "install", err, fields)
	}()

	params := req.Params
	domain := strings.TrimSpace(params["domain"])
	user := strings.TrimSpace(params["user"])
	timestamp := strings.TrimSpace(params["timestamp"])
	if domain == "" {
		err = s.badRequest("install domain is required")
		return InstallResponse{}, err
	}
	if user == "" {
		err = s.badRequest("install user is required")
		return InstallResponse{}, err
	}
	if timestamp == "" {
		err = s.badRequest("install timestamp is required")
		return InstallResponse{}, err
	}

	if err = s.verifySignature(ctx, params); err != nil {
		return InstallResponse{}, err
	}

	token, genErr := GenerateCorrelationToken()
	if genErr != nil {
		err = s.mapError(genErr)
		return InstallResponse{}, err
	}

	install := InstallContext{
		User:      user,
		Domain:    domain,
		Timestamp: timestamp,
		CreatedAt: time.Now().UTC(),
	}
	if putErr := s.nonceStore.Put(ctx, token, install); putErr != nil {
		err = s.storeFailure("store pending install", putErr)
		return InstallResponse{}, err
	}

	redirect, urlErr := s.marketplace.AuthorizeURL(domain, token)
	if urlErr != nil {
		err = s.mapError(urlErr)
		return InstallResponse{}, err
	}

	response = InstallResponse{
		RedirectURL: redirect,
		Token:       token,
		Context:     install,
	}
	return response, nil
}

// CallbackRequest carries the flattened query parameters of the marketplace
// callback. The correlation, code, and signature parameter names come from
// configuration.
type CallbackRequest struct {
	Params map[string]string
}

type CallbackResult struct {
	Record  PersistedRecord
	Grant   TokenGrant
	Context InstallContext
}

// CompleteCallback consumes the correlation token, verifies the callback
// signature, exchanges the authorization code, and persists the merged
// record.
//
// The token is taken before signature verification: an unknown or already
// consumed token short-circuits without spending the HMAC. Once taken, the
// entry is never restored, whatever happens afterwards.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	if s == nil {
		return CallbackResult{}, fmt.Errorf("core: service is not configured")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"domain": strings.TrimSpace(req.Params["domain"]),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	params := req.Params
	token := strings.TrimSpace(params[s.config.Params.Correlation])
	if token == "" {
		err = s.unknownCorrelationToken()
		return CallbackResult{}, err
	}

	install, takeErr := s.nonceStore.Take(ctx, token)
	if takeErr != nil {
		if errors.Is(takeErr, ErrNonceNotFound) || errors.Is(takeErr, ErrNonceExpired) {
			err = s.unknownCorrelationToken()
		} else {
			err = s.storeFailure("consume correlation token", takeErr)
		}
		return CallbackResult{}, err
	}

	if err = s.verifySignature(ctx, params); err != nil {
		return CallbackResult{}, err
	}

	code := strings.TrimSpace(params[s.config.Params.Code])
	if code == "" {
		err = s.badRequest(fmt.Sprintf("%s parameter is required", s.config.Params.Code))
		return CallbackResult{}, err
	}

	domain := strings.TrimSpace(params["domain"])
	if domain == "" {
		domain = install.Domain
	}

	grant, exchangeErr := s.marketplace.ExchangeCode(ctx, domain, code)
	if exchangeErr != nil {
		fields["exchange_error"] = exchangeErr.Error()
		err = newAppstoreError("token exchange failed", goerrors.CategoryExternal, AppstoreErrorExchangeFailed)
		return CallbackResult{}, err
	}

	record := PersistedRecord{
		User:        install.User,
		Domain:      install.Domain,
		Nonce:       token,
		AccessToken: grant.AccessToken,
		Scope:       grant.Scope,
		VendorID:    grant.VendorID,
	}
	if sinkErr := s.recordSink.SaveInstallation(ctx, record); sinkErr != nil {
		fields["persist_error"] = sinkErr.Error()
		err = newAppstoreError("persist installation failed", goerrors.CategoryExternal, AppstoreErrorPersistFailed)
		return CallbackResult{}, err
	}

	fields["vendor_id"] = grant.VendorID
	result = CallbackResult{
		Record:  record,
		Grant:   grant,
		Context: install,
	}
	return result, nil
}

// GetInstallation loads a persisted installation by vendor id.
func (s *Service) GetInstallation(ctx context.Context, vendorID string) (Installation, error) {
	if s == nil || s.installationStore == nil {
		return Installation{}, newAppstoreError("core: installation store is not configured", goerrors.CategoryOperation, AppstoreErrorStoreFailure)
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return Installation{}, s.badRequest("vendor id is required")
	}
	installation, err := s.installationStore.GetByVendorID(ctx, vendorID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return installation, nil
}

// ListInstallations lists persisted installations.
func (s *Service) ListInstallations(ctx context.Context, filter InstallationFilter) ([]Installation, error) {
	if s == nil || s.installationStore == nil {
		return nil, newAppstoreError("core: installation store is not configured", goerrors.CategoryOperation, AppstoreErrorStoreFailure)
	}
	installations, err := s.installationStore.List(ctx, filter)
	if err != nil {
		return nil, s.mapError(err)
	}
	return installations, nil
}

// RevokeInstallation marks an installation revoked, keeping the row for
// audit. Used when the marketplace reports an uninstall.
func (s *Service) RevokeInstallation(ctx context.Context, vendorID string) (installation Installation, err error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: service is not configured")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{"vendor_id": strings.TrimSpace(vendorID)}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_installation", err, fields)
	}()

	if s.installationStore == nil {
		err = newAppstoreError("core: installation store is not configured", goerrors.CategoryOperation, AppstoreErrorStoreFailure)
		return Installation{}, err
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		err = s.badRequest("vendor id is required")
		return Installation{}, err
	}
	installation, revokeErr := s.installationStore.Revoke(ctx, vendorID)
	if revokeErr != nil {
		err = s.mapError(revokeErr)
		return Installation{}, err
	}
	return installation, nil
}

// ReplayRecord re-sends a persisted installation through the record sink,
// the repair path for a collector that missed the original hand-off.
func (s *Service) ReplayRecord(ctx context.Context, vendorID string) (err error) {
	if s == nil {
		return fmt.Errorf("core: service is not configured")
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{"vendor_id": strings.TrimSpace(vendorID)}
	defer func() {
		s.observeOperation(ctx, startedAt, "replay_record", err, fields)
	}()

	installation, getErr := s.GetInstallation(ctx, vendorID)
	if getErr != nil {
		err = getErr
		return err
	}
	record := PersistedRecord{
		User:        installation.User,
		Domain:      installation.Domain,
		Nonce:       installation.Nonce,
		AccessToken: installation.AccessToken,
		Scope:       installation.Scope,
		VendorID:    installation.VendorID,
	}
	if sinkErr := s.recordSink.SaveInstallation(ctx, record); sinkErr != nil {
		err = newAppstoreError("persist installation failed", goerrors.CategoryExternal, AppstoreErrorPersistFailed)
		return err
	}
	return nil
}

// PruneNonces drops expired pending entries when the configured nonce store
// supports sweeping.
func (s *Service) PruneNonces(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.nonceStore == nil {
		return 0, fmt.Errorf("core: nonce store is not configured")
	}
	sweeper, ok := s.nonceStore.(NonceSweeper)
	if !ok {
		return 0, nil
	}
	removed, err := sweeper.Sweep(ctx, now)
	if err != nil {
		return 0, s.mapError(err)
	}
	if removed > 0 {
		s.logInfo(ctx, "pruned expired correlation tokens", map[string]any{"removed": removed})
	}
	return removed, nil
}

func (s *Service) verifySignature(ctx context.Context, params map[string]string) error {
	if s.verifier == nil {
		return newAppstoreError("core: signature verifier is not configured", goerrors.CategoryInternal, AppstoreErrorInternal)
	}
	provided := strings.TrimSpace(params[s.config.Params.Signature])
	if provided == "" {
		return s.invalidSignature(ctx, "request signature is required", params, provided)
	}
	if !s.verifier.Verify(params, provided) {
		return s.invalidSignature(ctx, "request signature verification failed", params, provided)
	}
	return nil
}

// invalidSignature logs the mismatch diagnostics (canonical message plus
// computed vs provided signature, never the secret) and returns the 400
// envelope.
func (s *Service) invalidSignature(ctx context.Context, message string, params map[string]string, provided string) error {
	fields := map[string]any{
		"provided_signature": provided,
		"domain":             strings.TrimSpace(params["domain"]),
	}
	if s.verifier != nil {
		fields["computed_signature"] = s.verifier.Sign(params)
		fields["signed_message"] = s.verifier.Message(params)
	}
	s.logError(ctx, message, fields)
	return newAppstoreError(message, goerrors.CategoryBadInput, AppstoreErrorInvalidSignature)
}

func (s *Service) unknownCorrelationToken() error {
	return newAppstoreError("invalid or missing correlation token", goerrors.CategoryBadInput, AppstoreErrorUnknownNonce)
}

func (s *Service) badRequest(message string) error {
	factory := s.errorFactory
	if factory == nil {
		factory = goerrors.New
	}
	return ensureAppstoreErrorEnvelope(factory(message, goerrors.CategoryBadInput))
}

func (s *Service) storeFailure(operation string, cause error) error {
	return newAppstoreError(
		fmt.Sprintf("%s: %v", operation, cause),
		goerrors.CategoryInternal,
		AppstoreErrorStoreFailure,
	)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// installationStoreSink adapts the installation store into the record sink
// used by the callback flow.
type installationStoreSink struct {
	store InstallationStore
}

func (s installationStoreSink) SaveInstallation(ctx context.Context, record PersistedRecord) error {
	if s.store == nil {
		return fmt.Errorf("core: installation store is not configured")
	}
	_, err := s.store.Upsert(ctx, record)
	return err
}

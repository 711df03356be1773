package appstoreconnect

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-appstore-connect/adapters/gojob"
	"github.com/goliatone/go-appstore-connect/appstore"
	"github.com/goliatone/go-appstore-connect/auth"
	"github.com/goliatone/go-appstore-connect/core"
	"github.com/goliatone/go-appstore-connect/jobs"
	"github.com/goliatone/go-appstore-connect/transport"
	glog "github.com/goliatone/go-logger/glog"
)

// App assembles the full vendor runtime: resolved configuration, the
// handshake service, the HTTP surface, and the maintenance queue. Hosts that
// only need the service layer can keep using NewService directly.
type App struct {
	config    core.Config
	logger    core.Logger
	service   *core.Service
	facade    *Facade
	handler   *transport.Handler
	router    http.Handler
	server    *transport.Server
	queue     *jobs.MemoryQueue
	enqueuer  core.JobEnqueuer
	worker    *jobs.Worker
	scheduler *jobs.Scheduler
}

type appBuilder struct {
	loader         core.RawConfigLoader
	runtime        core.Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	store          core.InstallationStore
	verifier       core.SignatureVerifier
	marketplace    core.MarketplaceClient
	exchangeHTTP   appstore.HTTPDoer
	collectorHTTP  transport.HTTPDoer
	workerConfig   jobs.WorkerConfig
	queueCapacity  int
	serviceOptions []core.Option
	hooks          *ExtensionHooks
}

type AppOption func(*appBuilder)

// WithConfigLoader sets the raw configuration source layered between the
// defaults and the runtime config. EnvRawConfigLoader reads the deployment
// environment.
func WithConfigLoader(loader core.RawConfigLoader) AppOption {
	return func(b *appBuilder) {
		b.loader = loader
	}
}

// WithRuntimeConfig overlays cfg on top of loaded configuration.
func WithRuntimeConfig(cfg Config) AppOption {
	return func(b *appBuilder) {
		b.runtime = cfg
	}
}

func WithAppLogger(logger core.Logger) AppOption {
	return func(b *appBuilder) {
		b.logger = logger
	}
}

func WithAppLoggerProvider(provider core.LoggerProvider) AppOption {
	return func(b *appBuilder) {
		b.loggerProvider = provider
	}
}

// WithStorage injects the installation store. Required for the sqlite and
// postgres drivers, whose connections are opened by the host binary.
func WithStorage(store core.InstallationStore) AppOption {
	return func(b *appBuilder) {
		b.store = store
	}
}

// WithVerifier replaces the HMAC query signer derived from the client secret.
func WithVerifier(verifier core.SignatureVerifier) AppOption {
	return func(b *appBuilder) {
		b.verifier = verifier
	}
}

// WithMarketplace replaces the marketplace client built from configuration.
func WithMarketplace(client core.MarketplaceClient) AppOption {
	return func(b *appBuilder) {
		b.marketplace = client
	}
}

// WithExchangeHTTPClient sets the HTTP client used for the code-for-token
// exchange.
func WithExchangeHTTPClient(client appstore.HTTPDoer) AppOption {
	return func(b *appBuilder) {
		b.exchangeHTTP = client
	}
}

// WithCollectorHTTPClient sets the HTTP client used for record copies.
func WithCollectorHTTPClient(client transport.HTTPDoer) AppOption {
	return func(b *appBuilder) {
		b.collectorHTTP = client
	}
}

func WithWorkerConfig(cfg jobs.WorkerConfig) AppOption {
	return func(b *appBuilder) {
		b.workerConfig = cfg
	}
}

func WithQueueCapacity(capacity int) AppOption {
	return func(b *appBuilder) {
		b.queueCapacity = capacity
	}
}

// WithServiceOptions appends options passed through to NewService, applied
// after the app's own wiring so they win.
func WithServiceOptions(opts ...Option) AppOption {
	return func(b *appBuilder) {
		b.serviceOptions = append(b.serviceOptions, opts...)
	}
}

// WithExtensionHooks folds host contributions into the app: extra record
// sinks join the fan-out and extra job handlers run on the maintenance
// worker.
func WithExtensionHooks(hooks *ExtensionHooks) AppOption {
	return func(b *appBuilder) {
		b.hooks = hooks
	}
}

// New resolves configuration, wires the service with its marketplace client,
// signer, storage, and record sinks, and prepares the HTTP server plus the
// maintenance queue. Nothing starts running until Run.
func New(ctx context.Context, opts ...AppOption) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	builder := appBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(builder.loader).Load(ctx, defaults)
	if err != nil {
		return nil, fmt.Errorf("appstoreconnect: load config: %w", err)
	}
	cfg, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, builder.runtime)
	if err != nil {
		return nil, fmt.Errorf("appstoreconnect: resolve config: %w", err)
	}
	if err := cfg.ValidateRequired(); err != nil {
		return nil, err
	}

	provider, logger := glog.Resolve(cfg.ServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	verifier := builder.verifier
	if verifier == nil {
		verifier = auth.NewQuerySigner(cfg.Params.Signature, []byte(cfg.OAuth.ClientSecret))
	}

	marketplace := builder.marketplace
	if marketplace == nil {
		clientCfg := appstore.FromServiceConfig(cfg)
		clientCfg.HTTPClient = builder.exchangeHTTP
		client, clientErr := appstore.NewClient(clientCfg)
		if clientErr != nil {
			return nil, clientErr
		}
		marketplace = client
	}

	store, err := resolveInstallationStore(cfg, builder.store)
	if err != nil {
		return nil, err
	}

	sink, err := buildRecordSink(cfg, store, builder.collectorHTTP, builder.hooks.RecordSinks(), logger)
	if err != nil {
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithSignatureVerifier(verifier),
		core.WithMarketplaceClient(marketplace),
		core.WithInstallationStore(store),
		core.WithRecordSink(sink),
	}
	serviceOpts = append(serviceOpts, builder.serviceOptions...)

	service, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		return nil, err
	}
	finalCfg := service.Config()

	facade, err := NewFacade(service)
	if err != nil {
		return nil, err
	}

	handler := transport.NewHandler(finalCfg, service, service, service, logger)
	router := transport.NewRouter(handler)
	server := transport.NewServer(finalCfg.Server, router, logger)

	queueOpts := []jobs.MemoryQueueOption{}
	if builder.queueCapacity > 0 {
		queueOpts = append(queueOpts, jobs.WithCapacity(builder.queueCapacity))
	}
	queue := jobs.NewMemoryQueue(queueOpts...)
	retryPolicy := gojob.RetryPolicy{
		MaxAttempts:     builder.workerConfig.MaxAttempts,
		DeadLetterOnMax: true,
	}
	enqueuer := gojob.NewEnqueuerAdapter(queue)
	dequeuer := gojob.NewDequeuerAdapter(queue, retryPolicy)

	worker := jobs.NewWorker(dequeuer, builder.workerConfig, logger).
		Register(jobs.JobIDNonceSweep, jobs.NewNonceSweepHandler(facade.Commands().PruneNonces)).
		Register(jobs.JobIDRecordReplay, jobs.NewRecordReplayHandler(facade.Commands().ReplayRecord)).
		WithHook(jobs.NewLogHook(logger))
	if err := builder.hooks.ApplyJobHandlers(worker); err != nil {
		return nil, err
	}

	scheduler, err := jobs.NewNonceSweepScheduler(enqueuer, finalCfg.Nonce, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		config:    finalCfg,
		logger:    logger,
		service:   service,
		facade:    facade,
		handler:   handler,
		router:    router,
		server:    server,
		queue:     queue,
		enqueuer:  enqueuer,
		worker:    worker,
		scheduler: scheduler,
	}, nil
}

func resolveInstallationStore(cfg core.Config, injected core.InstallationStore) (core.InstallationStore, error) {
	if injected != nil {
		return injected, nil
	}
	driver := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver))
	switch driver {
	case "", core.StorageDriverMemory:
		return core.NewMemoryInstallationStore(), nil
	default:
		return nil, fmt.Errorf(
			"appstoreconnect: storage driver %q needs an installation store wired with WithStorage",
			driver,
		)
	}
}

func buildRecordSink(
	cfg core.Config,
	store core.InstallationStore,
	collectorHTTP transport.HTTPDoer,
	extra []core.RecordSink,
	logger core.Logger,
) (core.RecordSink, error) {
	primary, err := core.NewInstallationStoreSink(store)
	if err != nil {
		return nil, err
	}
	copies := []core.RecordSink{}
	if strings.TrimSpace(cfg.Collector.Endpoint) != "" {
		collector, collectorErr := transport.NewCollectorSink(cfg.Collector, collectorHTTP, logger)
		if collectorErr != nil {
			return nil, collectorErr
		}
		copies = append(copies, collector)
	}
	copies = append(copies, extra...)
	if len(copies) == 0 {
		return primary, nil
	}
	fanout, err := core.NewFanoutSink(primary, copies...)
	if err != nil {
		return nil, err
	}
	return fanout.WithLogger(logger), nil
}

func (a *App) Config() Config {
	if a == nil {
		return Config{}
	}
	return a.config
}

func (a *App) Service() *Service {
	if a == nil {
		return nil
	}
	return a.service
}

func (a *App) Facade() *Facade {
	if a == nil {
		return nil
	}
	return a.facade
}

// Router exposes the assembled HTTP surface for hosts that mount it into a
// larger mux or drive it in tests.
func (a *App) Router() http.Handler {
	if a == nil {
		return nil
	}
	return a.router
}

func (a *App) Server() *transport.Server {
	if a == nil {
		return nil
	}
	return a.server
}

// Enqueuer exposes the maintenance queue for hosts submitting jobs directly.
func (a *App) Enqueuer() core.JobEnqueuer {
	if a == nil {
		return nil
	}
	return a.enqueuer
}

// EnqueueRecordReplay queues a record replay for vendorID, re-sending its
// stored installation through the record sinks.
func (a *App) EnqueueRecordReplay(ctx context.Context, vendorID string) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("appstoreconnect: maintenance queue is not configured")
	}
	return a.enqueuer.Enqueue(ctx, jobs.RecordReplayMessage(vendorID))
}

// Run serves HTTP and runs the maintenance worker and sweep scheduler until
// ctx ends or one of them fails. The first failure stops the rest.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("appstoreconnect: app is not configured")
	}
	return a.runAll(ctx, true)
}

// RunMaintenance runs the worker and sweep scheduler without the HTTP
// server, for hosts that mount Router into their own server.
func (a *App) RunMaintenance(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("appstoreconnect: app is not configured")
	}
	return a.runAll(ctx, false)
}

func (a *App) runAll(ctx context.Context, serveHTTP bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := 2
	if serveHTTP {
		count = 3
	}
	results := make(chan error, count)
	if serveHTTP {
		go func() { results <- a.server.ListenAndServe(runCtx) }()
	}
	go func() { results <- a.worker.Run(runCtx) }()
	go func() { results <- a.scheduler.Run(runCtx) }()

	var firstErr error
	for i := 0; i < count; i++ {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

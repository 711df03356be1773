package appstoreconnect_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	appstoreconnect "github.com/goliatone/go-appstore-connect"
	"github.com/goliatone/go-appstore-connect/core"
	"github.com/goliatone/go-appstore-connect/jobs"
	glog "github.com/goliatone/go-logger/glog"
)

func TestDownstreamComposition_HandshakeAndMaintenanceThroughEmbeddedApp(t *testing.T) {
	exchange := newExchangeServer(t, exchangeScript{
		code:        "auth_code_1",
		accessToken: "tok_live_1",
		scope:       "BOOKINGS_READ,PRODUCTS_READ",
		vendorID:    "vendor_42",
	})
	defer exchange.Close()

	hooks := appstoreconnect.NewExtensionHooks()
	analytics := &recordCopySink{}
	if err := hooks.RegisterRecordSinkPack(appstoreconnect.RecordSinkPack{
		Name:  "analytics",
		Sinks: []core.RecordSink{analytics},
	}); err != nil {
		t.Fatalf("register sink pack: %v", err)
	}

	var auditMu sync.Mutex
	auditRuns := 0
	if err := hooks.RegisterJobHandlerPack(appstoreconnect.JobHandlerPack{
		Name: "host-audit",
		Handlers: map[string]jobs.Handler{
			"host.audit.flush": func(context.Context, *core.JobExecutionMessage) error {
				auditMu.Lock()
				defer auditMu.Unlock()
				auditRuns++
				return nil
			},
		},
	}); err != nil {
		t.Fatalf("register job handler pack: %v", err)
	}

	if err := hooks.RegisterCommandQueryBundle("operator", func(service appstoreconnect.CommandQueryService) (any, error) {
		return operatorBundle{service: service}, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}

	app, err := appstoreconnect.New(context.Background(),
		appstoreconnect.WithRuntimeConfig(handshakeConfig()),
		appstoreconnect.WithExtensionHooks(hooks),
		appstoreconnect.WithExchangeHTTPClient(exchange.RewritingClient()),
		appstoreconnect.WithAppLogger(glog.Nop()),
		appstoreconnect.WithWorkerConfig(jobs.WorkerConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}

	srv := httptest.NewServer(app.Router())
	defer srv.Close()
	client := noRedirectClient(srv)

	token := driveInstall(t, srv, client, map[string]string{
		"domain":    "acme",
		"user":      "usr_7",
		"timestamp": "1736112000",
	})

	callbackBody := driveCallback(t, srv, client, map[string]string{
		"nonce":  token,
		"code":   "auth_code_1",
		"domain": "acme",
	}, http.StatusOK)
	if callbackBody["status"] != "installed" || callbackBody["vendor_id"] != "vendor_42" {
		t.Fatalf("unexpected callback payload: %v", callbackBody)
	}

	saved := analytics.saved()
	if len(saved) != 1 {
		t.Fatalf("expected one record copy, got %d", len(saved))
	}
	if saved[0].AccessToken != "tok_live_1" || saved[0].Nonce != token || saved[0].VendorID != "vendor_42" {
		t.Fatalf("unexpected record copy: %#v", saved[0])
	}

	rawInstallation := fetchRaw(t, client, srv.URL+"/installations/vendor_42", http.StatusOK)
	if strings.Contains(rawInstallation, "tok_live_1") {
		t.Fatalf("expected access token to stay out of the operator payload")
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	maintenanceDone := make(chan error, 1)
	go func() { maintenanceDone <- app.RunMaintenance(runCtx) }()

	if err := app.EnqueueRecordReplay(context.Background(), "vendor_42"); err != nil {
		t.Fatalf("enqueue replay: %v", err)
	}
	if err := app.Enqueuer().Enqueue(context.Background(), &core.JobExecutionMessage{
		JobID:      "host.audit.flush",
		Parameters: map[string]any{"window": "daily"},
	}); err != nil {
		t.Fatalf("enqueue audit job: %v", err)
	}

	waitForAppCondition(t, func() bool {
		auditMu.Lock()
		runs := auditRuns
		auditMu.Unlock()
		return len(analytics.saved()) == 2 && runs == 1
	}, "replayed record copy and host audit job")

	cancelRun()
	select {
	case err := <-maintenanceDone:
		if err != nil {
			t.Fatalf("maintenance run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("maintenance did not stop after cancellation")
	}

	replayed := analytics.saved()[1]
	if replayed.AccessToken != "tok_live_1" || replayed.VendorID != "vendor_42" {
		t.Fatalf("unexpected replayed record: %#v", replayed)
	}

	bundles, err := hooks.BuildCommandQueryBundles(app.Service())
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	operator, ok := bundles["operator"].(operatorBundle)
	if !ok {
		t.Fatalf("expected operator bundle, got %T", bundles["operator"])
	}
	installation, err := operator.Installation(context.Background(), "vendor_42")
	if err != nil {
		t.Fatalf("bundle installation lookup: %v", err)
	}
	if installation.Domain != "acme" || installation.User != "usr_7" {
		t.Fatalf("unexpected bundle lookup result: %#v", installation)
	}
}

type operatorBundle struct {
	service appstoreconnect.CommandQueryService
}

func (b operatorBundle) Installation(ctx context.Context, vendorID string) (core.Installation, error) {
	return b.service.GetInstallation(ctx, vendorID)
}

type recordCopySink struct {
	mu      sync.Mutex
	records []core.PersistedRecord
}

func (s *recordCopySink) SaveInstallation(_ context.Context, record core.PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *recordCopySink) saved() []core.PersistedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PersistedRecord(nil), s.records...)
}

// exchangeRewriteTransport redirects the marketplace exchange call, addressed
// to https://{vendor}.{host}, onto the local test server while keeping the
// original host visible to the handler.
type exchangeRewriteTransport struct {
	target *url.URL
}

func (t exchangeRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if clone.Host == "" {
		clone.Host = clone.URL.Host
	}
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func waitForAppCondition(t *testing.T, check func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var _ core.RecordSink = (*recordCopySink)(nil)

package core

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Logger matches the go-logger contract used across the module.
type Logger = glog.Logger

// LoggerProvider resolves named loggers.
type LoggerProvider = glog.LoggerProvider

// FieldsLogger upgrades a Logger with structured field support.
type FieldsLogger = glog.FieldsLogger

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// NonceStore maps correlation tokens to pending install context. Take is
// atomic: concurrent callers presenting the same token see exactly one
// success, everyone else gets ErrNonceNotFound.
type NonceStore interface {
	Put(ctx context.Context, token string, install InstallContext) error
	Take(ctx context.Context, token string) (InstallContext, error)
}

// NonceSweeper is implemented by nonce stores that support bulk expiry.
type NonceSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SignatureVerifier validates marketplace request signatures over flat query
// parameter sets. Message exposes the canonical payload for diagnostics.
type SignatureVerifier interface {
	Message(params map[string]string) string
	Sign(params map[string]string) string
	Verify(params map[string]string, provided string) bool
}

// MarketplaceClient talks to the marketplace appstore endpoints for one
// configured application.
type MarketplaceClient interface {
	AuthorizeURL(domain, state string) (string, error)
	ExchangeCode(ctx context.Context, domain, code string) (TokenGrant, error)
}

// RecordSink receives the merged record of a completed handshake.
type RecordSink interface {
	SaveInstallation(ctx context.Context, record PersistedRecord) error
}

// InstallationStore persists marketplace installations. Upsert is idempotent
// and keyed by vendor id.
type InstallationStore interface {
	Upsert(ctx context.Context, record PersistedRecord) (Installation, error)
	GetByVendorID(ctx context.Context, vendorID string) (Installation, error)
	List(ctx context.Context, filter InstallationFilter) ([]Installation, error)
	Revoke(ctx context.Context, vendorID string) (Installation, error)
}

// StoreProvider exposes the stores built by a storage driver.
type StoreProvider interface {
	InstallationStore() InstallationStore
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

package appstoreconnect

import "github.com/goliatone/go-appstore-connect/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Installation = core.Installation
type InstallationFilter = core.InstallationFilter
type InstallContext = core.InstallContext
type PersistedRecord = core.PersistedRecord
type TokenGrant = core.TokenGrant

type NonceStore = core.NonceStore
type InstallationStore = core.InstallationStore
type RecordSink = core.RecordSink
type SignatureVerifier = core.SignatureVerifier
type MarketplaceClient = core.MarketplaceClient
type RawConfigLoader = core.RawConfigLoader

type InstallRequest = core.InstallRequest
type InstallResponse = core.InstallResponse
type CallbackRequest = core.CallbackRequest
type CallbackResult = core.CallbackResult

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithNonceStore        = core.WithNonceStore
	WithSignatureVerifier = core.WithSignatureVerifier
	WithMarketplaceClient = core.WithMarketplaceClient
	WithRecordSink        = core.WithRecordSink
	WithInstallationStore = core.WithInstallationStore
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

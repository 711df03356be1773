package appstoreconnect

import (
	"time"

	"github.com/goliatone/go-appstore-connect/appstore"
	"github.com/goliatone/go-appstore-connect/auth"
	"github.com/goliatone/go-appstore-connect/core"
	"github.com/goliatone/go-appstore-connect/jobs"
	"github.com/goliatone/go-appstore-connect/transport"
)

// Root-level factories for the pieces hosts swap in through service and app
// options, so embedding a custom assembly does not require importing every
// subpackage.

func MemoryInstallationStore() core.InstallationStore {
	return core.NewMemoryInstallationStore()
}

func MemoryNonceStore(ttl time.Duration) core.NonceStore {
	return core.NewMemoryNonceStore(ttl)
}

func BoundedMemoryNonceStore(ttl time.Duration, maxEntries int) core.NonceStore {
	return core.NewMemoryNonceStoreWithLimits(ttl, maxEntries)
}

func QuerySignatureVerifier(signatureParam string, secret []byte) core.SignatureVerifier {
	return auth.NewQuerySigner(signatureParam, secret)
}

func MarketplaceHTTPClient(cfg appstore.Config) (core.MarketplaceClient, error) {
	return appstore.NewClient(cfg)
}

func InstallationStoreRecordSink(store core.InstallationStore) (core.RecordSink, error) {
	return core.NewInstallationStoreSink(store)
}

func CollectorRecordSink(
	cfg core.CollectorConfig,
	client transport.HTTPDoer,
	logger core.Logger,
) (core.RecordSink, error) {
	return transport.NewCollectorSink(cfg, client, logger)
}

func FanoutRecordSink(primary core.RecordSink, copies ...core.RecordSink) (core.RecordSink, error) {
	return core.NewFanoutSink(primary, copies...)
}

func MaintenanceQueue(capacity int) *jobs.MemoryQueue {
	if capacity > 0 {
		return jobs.NewMemoryQueue(jobs.WithCapacity(capacity))
	}
	return jobs.NewMemoryQueue()
}

package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-appstore-connect/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const installationCacheKeyPrefix = "go-appstore-connect::installation::v1"

// CachedInstallationStore fronts an installation store with a read-through
// cache keyed by vendor id. Writes invalidate the vendor's entry; listings
// always hit the base store.
type CachedInstallationStore struct {
	base  core.InstallationStore
	cache repositorycache.CacheService
}

func NewCachedInstallationStore(
	base core.InstallationStore,
	cacheService repositorycache.CacheService,
) (*CachedInstallationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base installation store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: installation cache service is required")
	}
	return &CachedInstallationStore{base: base, cache: cacheService}, nil
}

// InstallationCacheKey returns the deterministic cache key contract for
// vendor reads: go-appstore-connect::installation::v1::<vendor_id> with the
// vendor segment URL-path escaped.
func InstallationCacheKey(vendorID string) (string, error) {
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return "", fmt.Errorf("sqlstore: vendor id is required")
	}
	return installationCacheKeyPrefix + "::" + url.PathEscape(vendorID), nil
}

func (s *CachedInstallationStore) Upsert(ctx context.Context, record core.PersistedRecord) (core.Installation, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	installation, err := s.base.Upsert(ctx, record)
	if err != nil {
		return core.Installation{}, err
	}
	if err := s.invalidate(ctx, installation.VendorID); err != nil {
		return core.Installation{}, err
	}
	return installation, nil
}

func (s *CachedInstallationStore) GetByVendorID(ctx context.Context, vendorID string) (core.Installation, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	vendorID = strings.TrimSpace(vendorID)
	cacheKey, err := InstallationCacheKey(vendorID)
	if err != nil {
		return core.Installation{}, err
	}

	installation, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Installation, error) {
		fetched, fetchErr := s.base.GetByVendorID(ctx, vendorID)
		if fetchErr != nil {
			return core.Installation{}, fetchErr
		}
		return cloneStoredInstallation(fetched), nil
	})
	if err != nil {
		return core.Installation{}, err
	}
	return cloneStoredInstallation(installation), nil
}

func (s *CachedInstallationStore) List(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedInstallationStore) Revoke(ctx context.Context, vendorID string) (core.Installation, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	installation, err := s.base.Revoke(ctx, vendorID)
	if err != nil {
		return core.Installation{}, err
	}
	if err := s.invalidate(ctx, installation.VendorID); err != nil {
		return core.Installation{}, err
	}
	return installation, nil
}

func (s *CachedInstallationStore) invalidate(ctx context.Context, vendorID string) error {
	cacheKey, err := InstallationCacheKey(vendorID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneStoredInstallation(installation core.Installation) core.Installation {
	cloned := installation
	if installation.RevokedAt != nil {
		value := *installation.RevokedAt
		cloned.RevokedAt = &value
	}
	return cloned
}

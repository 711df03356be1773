package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryInstallationStore is a mutex-guarded in-process installation store.
// Upserts are keyed by vendor id; IDs use the same uuid shape as the SQL
// store so switching drivers does not change identifier format.
type MemoryInstallationStore struct {
	mu      sync.Mutex
	records map[string]Installation
}

func NewMemoryInstallationStore() *MemoryInstallationStore {
	return &MemoryInstallationStore{
		records: map[string]Installation{},
	}
}

// Upsert inserts or refreshes the installation for record.VendorID. Existing
// rows keep their ID and InstalledAt; a re-install clears any revocation.
func (s *MemoryInstallationStore) Upsert(_ context.Context, record PersistedRecord) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	record.VendorID = strings.TrimSpace(record.VendorID)
	if err := record.Validate(); err != nil {
		return Installation{}, err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	installation, ok := s.records[record.VendorID]
	if !ok {
		installation = Installation{
			ID:          uuid.NewString(),
			VendorID:    record.VendorID,
			InstalledAt: now,
		}
	}
	installation.User = record.User
	installation.Domain = record.Domain
	installation.Nonce = record.Nonce
	installation.AccessToken = record.AccessToken
	installation.Scope = record.Scope
	installation.UpdatedAt = now
	installation.RevokedAt = nil

	s.records[record.VendorID] = installation
	return cloneInstallation(installation), nil
}

func (s *MemoryInstallationStore) GetByVendorID(_ context.Context, vendorID string) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return Installation{}, fmt.Errorf("core: vendor id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	installation, ok := s.records[vendorID]
	if !ok {
		return Installation{}, fmt.Errorf("core: installation %s not found", vendorID)
	}
	return cloneInstallation(installation), nil
}

func (s *MemoryInstallationStore) List(_ context.Context, filter InstallationFilter) ([]Installation, error) {
	if s == nil {
		return nil, fmt.Errorf("core: installation store is not configured")
	}
	domain := strings.TrimSpace(strings.ToLower(filter.Domain))

	s.mu.Lock()
	matched := make([]Installation, 0, len(s.records))
	for _, installation := range s.records {
		if domain != "" && strings.ToLower(installation.Domain) != domain {
			continue
		}
		if !filter.IncludeRevoked && installation.Revoked() {
			continue
		}
		matched = append(matched, cloneInstallation(installation))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].InstalledAt.Equal(matched[j].InstalledAt) {
			return matched[i].InstalledAt.Before(matched[j].InstalledAt)
		}
		return matched[i].VendorID < matched[j].VendorID
	})

	return paginateInstallations(matched, filter.Offset, filter.Limit), nil
}

// Revoke soft-deletes the installation. Revoking twice keeps the original
// revocation timestamp.
func (s *MemoryInstallationStore) Revoke(_ context.Context, vendorID string) (Installation, error) {
	if s == nil {
		return Installation{}, fmt.Errorf("core: installation store is not configured")
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return Installation{}, fmt.Errorf("core: vendor id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	installation, ok := s.records[vendorID]
	if !ok {
		return Installation{}, fmt.Errorf("core: installation %s not found", vendorID)
	}
	if !installation.Revoked() {
		now := time.Now().UTC()
		installation.RevokedAt = &now
		installation.UpdatedAt = now
		s.records[vendorID] = installation
	}
	return cloneInstallation(installation), nil
}

// Len reports the number of stored installations, revoked ones included.
func (s *MemoryInstallationStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneInstallation(installation Installation) Installation {
	cloned := installation
	if installation.RevokedAt != nil {
		value := *installation.RevokedAt
		cloned.RevokedAt = &value
	}
	return cloned
}

func paginateInstallations(items []Installation, offset, limit int) []Installation {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []Installation{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ InstallationStore = (*MemoryInstallationStore)(nil)

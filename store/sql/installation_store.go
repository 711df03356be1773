package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InstallationStore struct {
	db   *bun.DB
	repo repository.Repository[*installationRecord]
}

func NewInstallationStore(db *bun.DB) (*InstallationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*installationRecord](db, installationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid installation repository wiring: %w", err)
		}
	}
	return &InstallationStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert inserts or refreshes the row for record.VendorID inside one
// transaction, so concurrent callbacks for the same vendor cannot race into
// duplicate rows. Existing rows keep their id and installed_at.
func (s *InstallationStore) Upsert(ctx context.Context, record core.PersistedRecord) (core.Installation, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	record.VendorID = strings.TrimSpace(record.VendorID)
	if err := record.Validate(); err != nil {
		return core.Installation{}, err
	}

	now := time.Now().UTC()
	var out core.Installation
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := findInstallationTx(ctx, tx, record.VendorID)
		if err != nil {
			return err
		}
		if row == nil {
			row = newInstallationRecord(record, now)
			row.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(row).Exec(ctx); insertErr != nil {
				return insertErr
			}
			out = row.toDomain()
			return nil
		}

		row.applyRecord(record, now)
		if _, updateErr := tx.NewUpdate().
			Model(row).
			Where("id = ?", row.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return core.Installation{}, err
	}
	return out, nil
}

func (s *InstallationStore) GetByVendorID(ctx context.Context, vendorID string) (core.Installation, error) {
	if s == nil || s.repo == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return core.Installation{}, fmt.Errorf("sqlstore: vendor id is required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("vendor_id", "=", vendorID),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Installation{}, err
	}
	if len(records) == 0 {
		return core.Installation{}, fmt.Errorf("sqlstore: installation %s not found", vendorID)
	}
	return records[0].toDomain(), nil
}

func (s *InstallationStore) List(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: installation store is not configured")
	}
	domain := strings.TrimSpace(strings.ToLower(filter.Domain))
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	limit := filter.Limit

	selectors := []repository.SelectCriteria{
		repository.OrderBy("installed_at ASC, vendor_id ASC"),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			if domain != "" {
				q = q.Where("lower(?TableAlias.domain) = ?", domain)
			}
			if !filter.IncludeRevoked {
				q = q.Where("?TableAlias.revoked_at IS NULL")
			}
			if offset > 0 {
				q = q.Offset(offset)
			}
			if limit > 0 {
				q = q.Limit(limit)
			}
			return q
		}),
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Installation, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Revoke soft-deletes the vendor's installation. Revoking twice keeps the
// original revocation timestamp.
func (s *InstallationStore) Revoke(ctx context.Context, vendorID string) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation store is not configured")
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return core.Installation{}, fmt.Errorf("sqlstore: vendor id is required")
	}

	var out core.Installation
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := findInstallationTx(ctx, tx, vendorID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("sqlstore: installation %s not found", vendorID)
		}
		if row.RevokedAt == nil {
			now := time.Now().UTC()
			row.RevokedAt = &now
			row.UpdatedAt = now
			if _, updateErr := tx.NewUpdate().
				Model(row).
				Where("id = ?", row.ID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return core.Installation{}, err
	}
	return out, nil
}

func findInstallationTx(ctx context.Context, tx bun.Tx, vendorID string) (*installationRecord, error) {
	record := &installationRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.vendor_id = ?", strings.TrimSpace(vendorID)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

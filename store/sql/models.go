package sqlstore

import (
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	"github.com/uptrace/bun"
)

type installationRecord struct {
	bun.BaseModel `bun:"table:appstore_installations,alias:ai"`

	ID          string     `bun:"id,pk"`
	VendorID    string     `bun:"vendor_id,notnull"`
	InstallUser string     `bun:"install_user"`
	Domain      string     `bun:"domain,notnull"`
	Nonce       string     `bun:"nonce"`
	AccessToken string     `bun:"access_token,notnull"`
	Scope       string     `bun:"scope"`
	InstalledAt time.Time  `bun:"installed_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	RevokedAt   *time.Time `bun:"revoked_at,nullzero"`
}

func newInstallationRecord(record core.PersistedRecord, now time.Time) *installationRecord {
	return &installationRecord{
		VendorID:    record.VendorID,
		InstallUser: record.User,
		Domain:      record.Domain,
		Nonce:       record.Nonce,
		AccessToken: record.AccessToken,
		Scope:       record.Scope,
		InstalledAt: now,
		UpdatedAt:   now,
	}
}

// applyRecord refreshes a row in place for a re-install. The primary key and
// InstalledAt survive; any revocation is cleared.
func (r *installationRecord) applyRecord(record core.PersistedRecord, now time.Time) {
	if r == nil {
		return
	}
	r.InstallUser = record.User
	r.Domain = record.Domain
	r.Nonce = record.Nonce
	r.AccessToken = record.AccessToken
	r.Scope = record.Scope
	r.UpdatedAt = now
	r.RevokedAt = nil
}

func (r *installationRecord) toDomain() core.Installation {
	if r == nil {
		return core.Installation{}
	}
	installation := core.Installation{
		ID:          r.ID,
		VendorID:    r.VendorID,
		User:        r.InstallUser,
		Domain:      r.Domain,
		Nonce:       r.Nonce,
		AccessToken: r.AccessToken,
		Scope:       r.Scope,
		InstalledAt: r.InstalledAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.RevokedAt != nil {
		value := *r.RevokedAt
		installation.RevokedAt = &value
	}
	return installation
}

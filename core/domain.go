package core

import (
	"fmt"
	"strings"
	"time"
)

// InstallContext is the pending-install state held by the nonce store between
// a verified install request and the marketplace callback that consumes it.
type InstallContext struct {
	User      string
	Domain    string
	Timestamp string
	CreatedAt time.Time
}

func (c InstallContext) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return fmt.Errorf("core: install domain is required")
	}
	return nil
}

// TokenGrant is the payload returned by the marketplace token-exchange
// endpoint. Fields are stored as received, not interpreted.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	VendorID    string `json:"vendor_id"`
}

// PersistedRecord merges the consumed InstallContext with the TokenGrant and
// is what the record sink receives when a handshake completes.
type PersistedRecord struct {
	User        string `json:"user"`
	Domain      string `json:"domain"`
	Nonce       string `json:"nonce"`
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	VendorID    string `json:"vendor_id"`
}

func (r PersistedRecord) Validate() error {
	if strings.TrimSpace(r.VendorID) == "" {
		return fmt.Errorf("core: vendor id is required")
	}
	if strings.TrimSpace(r.Domain) == "" {
		return fmt.Errorf("core: domain is required")
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	return nil
}

// Installation is a persisted marketplace installation. Upserts are keyed by
// VendorID; InstalledAt survives re-installs of the same vendor.
type Installation struct {
	ID          string
	VendorID    string
	User        string
	Domain      string
	Nonce       string
	AccessToken string
	Scope       string
	InstalledAt time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}

func (i Installation) Revoked() bool {
	return i.RevokedAt != nil && !i.RevokedAt.IsZero()
}

type InstallationFilter struct {
	Domain         string
	IncludeRevoked bool
	Limit          int
	Offset         int
}

package query

import (
	"strings"

	"github.com/goliatone/go-appstore-connect/core"
)

const (
	TypeGetInstallation   = "appstore.query.installation.get"
	TypeListInstallations = "appstore.query.installation.list"
)

type GetInstallationMessage struct {
	VendorID string
}

func (GetInstallationMessage) Type() string { return TypeGetInstallation }

func (m GetInstallationMessage) Validate() error {
	if strings.TrimSpace(m.VendorID) == "" {
		return queryValidationError("vendor_id", "vendor id is required")
	}
	return nil
}

type ListInstallationsMessage struct {
	Filter core.InstallationFilter
}

func (ListInstallationsMessage) Type() string { return TypeListInstallations }

func (m ListInstallationsMessage) Validate() error {
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

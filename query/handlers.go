package query

import (
	"context"

	"github.com/goliatone/go-appstore-connect/core"
)

// InstallationReader covers the read-side operations the query bus serves.
type InstallationReader interface {
	GetInstallation(ctx context.Context, vendorID string) (core.Installation, error)
	ListInstallations(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error)
}

type GetInstallationQuery struct {
	reader InstallationReader
}

func NewGetInstallationQuery(reader InstallationReader) *GetInstallationQuery {
	return &GetInstallationQuery{reader: reader}
}

func (q *GetInstallationQuery) Query(ctx context.Context, msg GetInstallationMessage) (core.Installation, error) {
	if q == nil || q.reader == nil {
		return core.Installation{}, queryDependencyError("query: installation reader is required")
	}
	return q.reader.GetInstallation(ctx, msg.VendorID)
}

type ListInstallationsQuery struct {
	reader InstallationReader
}

func NewListInstallationsQuery(reader InstallationReader) *ListInstallationsQuery {
	return &ListInstallationsQuery{reader: reader}
}

func (q *ListInstallationsQuery) Query(
	ctx context.Context,
	msg ListInstallationsMessage,
) ([]core.Installation, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: installation reader is required")
	}
	return q.reader.ListInstallations(ctx, msg.Filter)
}

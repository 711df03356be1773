package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-appstore-connect/core"
)

func TestInstallationQueries_Delegate(t *testing.T) {
	calledGet := false
	calledList := false
	reader := stubInstallationReader{
		getFn: func(_ context.Context, vendorID string) (core.Installation, error) {
			calledGet = true
			if vendorID != "vendor_1" {
				t.Fatalf("unexpected vendor id %q", vendorID)
			}
			return core.Installation{ID: "ins_1", VendorID: vendorID, Domain: "acme"}, nil
		},
		listFn: func(_ context.Context, filter core.InstallationFilter) ([]core.Installation, error) {
			calledList = true
			if filter.Domain != "acme" || !filter.IncludeRevoked {
				t.Fatalf("unexpected list filter: %#v", filter)
			}
			return []core.Installation{{ID: "ins_1", VendorID: "vendor_1"}}, nil
		},
	}

	getResult, err := NewGetInstallationQuery(reader).Query(context.Background(), GetInstallationMessage{
		VendorID: "vendor_1",
	})
	if err != nil {
		t.Fatalf("query installation: %v", err)
	}
	if !calledGet || getResult.VendorID != "vendor_1" {
		t.Fatalf("expected get installation delegation")
	}

	listResult, err := NewListInstallationsQuery(reader).Query(context.Background(), ListInstallationsMessage{
		Filter: core.InstallationFilter{Domain: "acme", IncludeRevoked: true},
	})
	if err != nil {
		t.Fatalf("list installations query: %v", err)
	}
	if !calledList || len(listResult) != 1 {
		t.Fatalf("expected list installation delegation")
	}
}

func TestInstallationQueries_NilReaderReturnsDependencyError(t *testing.T) {
	var getQry *GetInstallationQuery
	if _, err := getQry.Query(context.Background(), GetInstallationMessage{VendorID: "vendor_1"}); err == nil {
		t.Fatalf("expected get dependency error")
	}

	listQry := NewListInstallationsQuery(nil)
	if _, err := listQry.Query(context.Background(), ListInstallationsMessage{}); err == nil {
		t.Fatalf("expected list dependency error")
	}
}

func TestQueryMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{
			name:    "get valid",
			msg:     GetInstallationMessage{VendorID: "vendor_1"},
			wantErr: false,
		},
		{
			name:    "get missing vendor",
			msg:     GetInstallationMessage{VendorID: "  "},
			wantErr: true,
		},
		{
			name:    "list valid",
			msg:     ListInstallationsMessage{Filter: core.InstallationFilter{Domain: "acme", Limit: 50}},
			wantErr: false,
		},
		{
			name:    "list negative offset",
			msg:     ListInstallationsMessage{Filter: core.InstallationFilter{Offset: -1}},
			wantErr: true,
		},
		{
			name:    "list negative limit",
			msg:     ListInstallationsMessage{Filter: core.InstallationFilter{Limit: -5}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type stubInstallationReader struct {
	getFn  func(ctx context.Context, vendorID string) (core.Installation, error)
	listFn func(ctx context.Context, filter core.InstallationFilter) ([]core.Installation, error)
}

func (s stubInstallationReader) GetInstallation(ctx context.Context, vendorID string) (core.Installation, error) {
	if s.getFn == nil {
		return core.Installation{}, fmt.Errorf("get installation not configured")
	}
	return s.getFn(ctx, vendorID)
}

func (s stubInstallationReader) ListInstallations(
	ctx context.Context,
	filter core.InstallationFilter,
) ([]core.Installation, error) {
	if s.listFn == nil {
		return nil, fmt.Errorf("list installations not configured")
	}
	return s.listFn(ctx, filter)
}

var _ InstallationReader = stubInstallationReader{}

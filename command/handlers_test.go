package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	gocmd "github.com/goliatone/go-command"
)

func TestRevokeInstallCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	revokedAt := time.Now().UTC()
	expected := core.Installation{
		ID:        "ins_1",
		VendorID:  "vendor_1",
		Domain:    "acme",
		RevokedAt: &revokedAt,
	}
	called := false

	svc := stubMutatingService{
		revokeInstallationFn: func(_ context.Context, vendorID string) (core.Installation, error) {
			called = true
			if vendorID != "vendor_1" {
				t.Fatalf("expected vendor vendor_1, got %q", vendorID)
			}
			return expected, nil
		},
	}

	cmd := NewRevokeInstallCommand(svc)
	collector := gocmd.NewResult[core.Installation]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, RevokeInstallMessage{VendorID: "vendor_1"}); err != nil {
		t.Fatalf("execute revoke install: %v", err)
	}
	if !called {
		t.Fatalf("expected revoke invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ID != expected.ID || !result.Revoked() {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRevokeInstallCommand_ServiceErrorSkipsResult(t *testing.T) {
	svc := stubMutatingService{
		revokeInstallationFn: func(_ context.Context, vendorID string) (core.Installation, error) {
			return core.Installation{}, fmt.Errorf("installation %s not found", vendorID)
		},
	}

	cmd := NewRevokeInstallCommand(svc)
	collector := gocmd.NewResult[core.Installation]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, RevokeInstallMessage{VendorID: "vendor_missing"})
	if err == nil {
		t.Fatalf("expected revoke failure")
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no stored result on failure")
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("prune nonces defaults clock", func(t *testing.T) {
		var seen time.Time
		svc := stubMutatingService{
			pruneNoncesFn: func(_ context.Context, now time.Time) (int, error) {
				seen = now
				return 3, nil
			},
		}
		cmd := NewPruneNoncesCommand(svc)
		collector := gocmd.NewResult[int]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, PruneNoncesMessage{}); err != nil {
			t.Fatalf("execute prune nonces: %v", err)
		}
		if seen.IsZero() {
			t.Fatalf("expected a defaulted sweep instant")
		}
		removed, ok := collector.Load()
		if !ok {
			t.Fatalf("expected prune result")
		}
		if removed != 3 {
			t.Fatalf("expected 3 removed, got %d", removed)
		}
	})

	t.Run("prune nonces uses explicit clock", func(t *testing.T) {
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		var seen time.Time
		svc := stubMutatingService{
			pruneNoncesFn: func(_ context.Context, now time.Time) (int, error) {
				seen = now
				return 0, nil
			},
		}
		if err := NewPruneNoncesCommand(svc).Execute(context.Background(), PruneNoncesMessage{Now: at}); err != nil {
			t.Fatalf("execute prune nonces: %v", err)
		}
		if !seen.Equal(at) {
			t.Fatalf("expected sweep at %v, got %v", at, seen)
		}
	})

	t.Run("replay record", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			replayRecordFn: func(_ context.Context, vendorID string) error {
				called = true
				if vendorID != "vendor_1" {
					t.Fatalf("unexpected replay vendor: %q", vendorID)
				}
				return nil
			},
		}
		if err := NewReplayRecordCommand(svc).Execute(context.Background(), ReplayRecordMessage{VendorID: "vendor_1"}); err != nil {
			t.Fatalf("execute replay record: %v", err)
		}
		if !called {
			t.Fatalf("expected replay invocation")
		}
	})
}

func TestMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{
			name:    "revoke valid",
			msg:     RevokeInstallMessage{VendorID: "vendor_1"},
			wantErr: false,
		},
		{
			name:    "revoke missing vendor",
			msg:     RevokeInstallMessage{VendorID: "   "},
			wantErr: true,
		},
		{
			name:    "replay valid",
			msg:     ReplayRecordMessage{VendorID: "vendor_1"},
			wantErr: false,
		},
		{
			name:    "replay missing vendor",
			msg:     ReplayRecordMessage{},
			wantErr: true,
		},
		{
			name:    "prune accepts zero clock",
			msg:     PruneNoncesMessage{},
			wantErr: false,
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

func TestMessageTypes(t *testing.T) {
	if got := (RevokeInstallMessage{}).Type(); got != "appstore.command.revoke_install" {
		t.Fatalf("unexpected revoke type: %q", got)
	}
	if got := (PruneNoncesMessage{}).Type(); got != "appstore.command.prune_nonces" {
		t.Fatalf("unexpected prune type: %q", got)
	}
	if got := (ReplayRecordMessage{}).Type(); got != "appstore.command.replay_record" {
		t.Fatalf("unexpected replay type: %q", got)
	}
}

type stubMutatingService struct {
	revokeInstallationFn func(ctx context.Context, vendorID string) (core.Installation, error)
	replayRecordFn       func(ctx context.Context, vendorID string) error
	pruneNoncesFn        func(ctx context.Context, now time.Time) (int, error)
}

func (s stubMutatingService) RevokeInstallation(ctx context.Context, vendorID string) (core.Installation, error) {
	if s.revokeInstallationFn == nil {
		return core.Installation{}, fmt.Errorf("revoke installation not configured")
	}
	return s.revokeInstallationFn(ctx, vendorID)
}

func (s stubMutatingService) ReplayRecord(ctx context.Context, vendorID string) error {
	if s.replayRecordFn == nil {
		return fmt.Errorf("replay record not configured")
	}
	return s.replayRecordFn(ctx, vendorID)
}

func (s stubMutatingService) PruneNonces(ctx context.Context, now time.Time) (int, error) {
	if s.pruneNoncesFn == nil {
		return 0, fmt.Errorf("prune nonces not configured")
	}
	return s.pruneNoncesFn(ctx, now)
}

var _ MutatingService = stubMutatingService{}

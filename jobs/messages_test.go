package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-appstore-connect/command"
	"github.com/goliatone/go-appstore-connect/core"
)

type stubMaintenanceService struct {
	mu            sync.Mutex
	pruneSeen     time.Time
	pruneCalls    int
	replayedIDs   []string
	revokedIDs    []string
	pruneRemoved  int
	replayFailure error
}

func (s *stubMaintenanceService) RevokeInstallation(_ context.Context, vendorID string) (core.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedIDs = append(s.revokedIDs, vendorID)
	return core.Installation{VendorID: vendorID}, nil
}

func (s *stubMaintenanceService) ReplayRecord(_ context.Context, vendorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayedIDs = append(s.replayedIDs, vendorID)
	return s.replayFailure
}

func (s *stubMaintenanceService) PruneNonces(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCalls++
	s.pruneSeen = now
	return s.pruneRemoved, nil
}

func TestNonceSweepMessage_RoundTripsTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	msg := NonceSweepMessage(at)

	if msg.JobID != JobIDNonceSweep || msg.IdempotencyKey != JobIDNonceSweep {
		t.Fatalf("unexpected message shape: %#v", msg)
	}
	if got := sweepTime(msg); !got.Equal(at) {
		t.Fatalf("expected %v after round trip, got %v", at, got)
	}

	zero := NonceSweepMessage(time.Time{})
	if !sweepTime(zero).IsZero() {
		t.Fatalf("expected zero sweep time for zero input")
	}
}

func TestRecordReplayMessage_Shape(t *testing.T) {
	msg := RecordReplayMessage("  vendor_1  ")
	if msg.JobID != JobIDRecordReplay {
		t.Fatalf("unexpected job id %q", msg.JobID)
	}
	if msg.IdempotencyKey != JobIDRecordReplay+":vendor_1" {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
	if got := vendorIDParam(msg); got != "vendor_1" {
		t.Fatalf("expected trimmed vendor id, got %q", got)
	}
}

func TestNonceSweepHandler_DispatchesPruneCommand(t *testing.T) {
	svc := &stubMaintenanceService{pruneRemoved: 4}
	handler := NewNonceSweepHandler(command.NewPruneNoncesCommand(svc))

	at := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if err := handler(context.Background(), NonceSweepMessage(at)); err != nil {
		t.Fatalf("handle sweep: %v", err)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.pruneCalls != 1 {
		t.Fatalf("expected one prune call, got %d", svc.pruneCalls)
	}
	if !svc.pruneSeen.Equal(at) {
		t.Fatalf("expected tick timestamp %v, got %v", at, svc.pruneSeen)
	}
}

func TestNonceSweepHandler_DefaultsClockWhenParameterMissing(t *testing.T) {
	svc := &stubMaintenanceService{}
	handler := NewNonceSweepHandler(command.NewPruneNoncesCommand(svc))

	if err := handler(context.Background(), &core.JobExecutionMessage{JobID: JobIDNonceSweep}); err != nil {
		t.Fatalf("handle sweep: %v", err)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.pruneSeen.IsZero() {
		t.Fatalf("expected command to supply a clock")
	}
}

func TestRecordReplayHandler_DispatchesReplayCommand(t *testing.T) {
	svc := &stubMaintenanceService{}
	handler := NewRecordReplayHandler(command.NewReplayRecordCommand(svc))

	if err := handler(context.Background(), RecordReplayMessage("vendor_1")); err != nil {
		t.Fatalf("handle replay: %v", err)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.replayedIDs) != 1 || svc.replayedIDs[0] != "vendor_1" {
		t.Fatalf("unexpected replayed ids: %#v", svc.replayedIDs)
	}
}

func TestJobHandlers_RequireCommands(t *testing.T) {
	if err := NewNonceSweepHandler(nil)(context.Background(), NonceSweepMessage(time.Time{})); err == nil {
		t.Fatalf("expected prune command requirement error")
	}
	if err := NewRecordReplayHandler(nil)(context.Background(), RecordReplayMessage("vendor_1")); err == nil {
		t.Fatalf("expected replay command requirement error")
	}
}

var _ command.MutatingService = (*stubMaintenanceService)(nil)

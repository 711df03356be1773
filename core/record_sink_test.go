package core

import (
	"context"
	"errors"
	"testing"
)

func TestNewFanoutSink_RequiresPrimary(t *testing.T) {
	if _, err := NewFanoutSink(nil); err == nil {
		t.Fatalf("expected missing primary sink error")
	}
}

func TestFanoutSink_PrimaryFailureStopsDelivery(t *testing.T) {
	primary := &captureSink{saveErr: errors.New("primary down")}
	copySink := &captureSink{}
	sink, err := NewFanoutSink(primary, copySink)
	if err != nil {
		t.Fatalf("new fanout sink: %v", err)
	}

	err = sink.SaveInstallation(context.Background(), testPersistedRecord("vendor_1"))
	if err == nil || err.Error() != "primary down" {
		t.Fatalf("expected primary failure to surface, got %v", err)
	}
	if len(copySink.saved()) != 0 {
		t.Fatalf("expected copies to be skipped when the primary fails")
	}
}

func TestFanoutSink_CopyFailuresAreLoggedAndSwallowed(t *testing.T) {
	primary := &captureSink{}
	failing := &captureSink{saveErr: errors.New("collector unreachable")}
	healthy := &captureSink{}
	logger := newCaptureLogger()

	sink, err := NewFanoutSink(primary, failing, nil, healthy)
	if err != nil {
		t.Fatalf("new fanout sink: %v", err)
	}
	sink = sink.WithLogger(logger)

	record := testPersistedRecord("vendor_1")
	if err := sink.SaveInstallation(context.Background(), record); err != nil {
		t.Fatalf("expected copy failures to be swallowed, got %v", err)
	}

	if len(primary.saved()) != 1 || len(failing.saved()) != 1 || len(healthy.saved()) != 1 {
		t.Fatalf("expected every sink to receive the record")
	}

	records := logger.snapshot()
	if !hasLog(records, "error", "record copy failed", "record_copy") {
		t.Fatalf("expected copy failure log, got %+v", records)
	}
	for _, entry := range records {
		if entry.msg != "record copy failed" {
			continue
		}
		if entry.fields["vendor_id"] != "vendor_1" || entry.fields["domain"] != "acme" {
			t.Fatalf("expected record identity in log fields, got %+v", entry.fields)
		}
		if entry.fields["error"] != "collector unreachable" {
			t.Fatalf("expected copy error in log fields, got %+v", entry.fields)
		}
	}
}

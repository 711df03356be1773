package core

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
)

// NewInstallationStoreSink adapts an installation store into the record sink
// consumed by the callback flow, for callers assembling a fan-out around it.
func NewInstallationStoreSink(store InstallationStore) (RecordSink, error) {
	if store == nil {
		return nil, fmt.Errorf("core: installation store is required")
	}
	return installationStoreSink{store: store}, nil
}

// FanoutSink delivers each completed-handshake record to a primary sink and
// then to best-effort copies. A primary failure fails the save; copy failures
// are logged and swallowed so side channels cannot block the handshake.
type FanoutSink struct {
	primary RecordSink
	copies  []RecordSink
	logger  Logger
}

func NewFanoutSink(primary RecordSink, copies ...RecordSink) (*FanoutSink, error) {
	if primary == nil {
		return nil, fmt.Errorf("core: primary record sink is required")
	}
	filtered := make([]RecordSink, 0, len(copies))
	for _, sink := range copies {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	return &FanoutSink{
		primary: primary,
		copies:  filtered,
		logger:  glog.Nop(),
	}, nil
}

// WithLogger sets the logger used to report copy failures.
func (s *FanoutSink) WithLogger(logger Logger) *FanoutSink {
	if s == nil || logger == nil {
		return s
	}
	s.logger = logger
	return s
}

func (s *FanoutSink) SaveInstallation(ctx context.Context, record PersistedRecord) error {
	if s == nil || s.primary == nil {
		return fmt.Errorf("core: record sink is not configured")
	}
	if err := s.primary.SaveInstallation(ctx, record); err != nil {
		return err
	}
	for _, sink := range s.copies {
		if err := sink.SaveInstallation(ctx, record); err != nil {
			s.logCopyFailure(ctx, record, err)
		}
	}
	return nil
}

func (s *FanoutSink) logCopyFailure(ctx context.Context, record PersistedRecord, err error) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields := map[string]any{
		"event_type": "record_copy",
		"vendor_id":  record.VendorID,
		"domain":     record.Domain,
		"error":      err.Error(),
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Error("record copy failed", flattenFields(fields)...)
}

var _ RecordSink = (*FanoutSink)(nil)

package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-appstore-connect/command"
	"github.com/goliatone/go-appstore-connect/core"
)

const (
	JobIDNonceSweep   = "appstore.nonce.sweep"
	JobIDRecordReplay = "appstore.record.replay"
)

const (
	paramSweepAt  = "now"
	paramVendorID = "vendor_id"
)

// NonceSweepMessage builds the periodic sweep job. The idempotency key keeps
// at most one sweep in the queue at a time.
func NonceSweepMessage(now time.Time) *core.JobExecutionMessage {
	params := map[string]any{}
	if !now.IsZero() {
		params[paramSweepAt] = now.UTC().Format(time.RFC3339Nano)
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDNonceSweep,
		Parameters:     params,
		IdempotencyKey: JobIDNonceSweep,
	}
}

// RecordReplayMessage builds a replay job for one installation.
func RecordReplayMessage(vendorID string) *core.JobExecutionMessage {
	vendorID = strings.TrimSpace(vendorID)
	return &core.JobExecutionMessage{
		JobID:          JobIDRecordReplay,
		Parameters:     map[string]any{paramVendorID: vendorID},
		IdempotencyKey: JobIDRecordReplay + ":" + vendorID,
	}
}

// NewNonceSweepHandler binds sweep jobs to the prune command. A missing or
// malformed timestamp parameter falls back to the command's own clock.
func NewNonceSweepHandler(cmd *command.PruneNoncesCommand) Handler {
	return func(ctx context.Context, msg *core.JobExecutionMessage) error {
		if cmd == nil {
			return fmt.Errorf("jobs: prune command is required")
		}
		return cmd.Execute(ctx, command.PruneNoncesMessage{Now: sweepTime(msg)})
	}
}

// NewRecordReplayHandler binds replay jobs to the replay command.
func NewRecordReplayHandler(cmd *command.ReplayRecordCommand) Handler {
	return func(ctx context.Context, msg *core.JobExecutionMessage) error {
		if cmd == nil {
			return fmt.Errorf("jobs: replay command is required")
		}
		return cmd.Execute(ctx, command.ReplayRecordMessage{VendorID: vendorIDParam(msg)})
	}
}

func sweepTime(msg *core.JobExecutionMessage) time.Time {
	if msg == nil {
		return time.Time{}
	}
	raw, _ := msg.Parameters[paramSweepAt].(string)
	if strings.TrimSpace(raw) == "" {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return at
}

func vendorIDParam(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	value, _ := msg.Parameters[paramVendorID].(string)
	return strings.TrimSpace(value)
}

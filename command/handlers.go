package command

import (
	"context"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService covers the write-side operations the command bus drives.
type MutatingService interface {
	RevokeInstallation(ctx context.Context, vendorID string) (core.Installation, error)
	ReplayRecord(ctx context.Context, vendorID string) error
	PruneNonces(ctx context.Context, now time.Time) (int, error)
}

type RevokeInstallCommand struct {
	service MutatingService
}

func NewRevokeInstallCommand(service MutatingService) *RevokeInstallCommand {
	return &RevokeInstallCommand{service: service}
}

func (c *RevokeInstallCommand) Execute(ctx context.Context, msg RevokeInstallMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	out, err := c.service.RevokeInstallation(ctx, msg.VendorID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PruneNoncesCommand struct {
	service MutatingService
}

func NewPruneNoncesCommand(service MutatingService) *PruneNoncesCommand {
	return &PruneNoncesCommand{service: service}
}

func (c *PruneNoncesCommand) Execute(ctx context.Context, msg PruneNoncesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: prune service is required")
	}
	now := msg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	removed, err := c.service.PruneNonces(ctx, now)
	if err != nil {
		return err
	}
	storeResult(ctx, removed)
	return nil
}

type ReplayRecordCommand struct {
	service MutatingService
}

func NewReplayRecordCommand(service MutatingService) *ReplayRecordCommand {
	return &ReplayRecordCommand{service: service}
}

func (c *ReplayRecordCommand) Execute(ctx context.Context, msg ReplayRecordMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	return c.service.ReplayRecord(ctx, msg.VendorID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

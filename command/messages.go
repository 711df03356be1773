package command

import (
	"strings"
	"time"
)

const (
	TypeRevokeInstall = "appstore.command.revoke_install"
	TypePruneNonces   = "appstore.command.prune_nonces"
	TypeReplayRecord  = "appstore.command.replay_record"
)

// RevokeInstallMessage marks an installation revoked, keeping the row for
// audit.
type RevokeInstallMessage struct {
	VendorID string
}

func (RevokeInstallMessage) Type() string { return TypeRevokeInstall }

func (m RevokeInstallMessage) Validate() error {
	if strings.TrimSpace(m.VendorID) == "" {
		return commandValidationError("vendor_id", "vendor id is required")
	}
	return nil
}

// PruneNoncesMessage sweeps expired pending-handshake entries. A zero Now
// means the handler evaluates expiry against the current clock.
type PruneNoncesMessage struct {
	Now time.Time
}

func (PruneNoncesMessage) Type() string { return TypePruneNonces }

func (PruneNoncesMessage) Validate() error { return nil }

// ReplayRecordMessage re-sends a stored installation through the record
// sink, the repair path for a collector that missed the original hand-off.
type ReplayRecordMessage struct {
	VendorID string
}

func (ReplayRecordMessage) Type() string { return TypeReplayRecord }

func (m ReplayRecordMessage) Validate() error {
	if strings.TrimSpace(m.VendorID) == "" {
		return commandValidationError("vendor_id", "vendor id is required")
	}
	return nil
}

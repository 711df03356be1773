package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RevokeInstallMessage] = (*RevokeInstallCommand)(nil)
	_ gocmd.Commander[PruneNoncesMessage]   = (*PruneNoncesCommand)(nil)
	_ gocmd.Commander[ReplayRecordMessage]  = (*ReplayRecordCommand)(nil)
)

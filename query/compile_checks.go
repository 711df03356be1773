package query

import (
	"github.com/goliatone/go-appstore-connect/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetInstallationMessage, core.Installation]     = (*GetInstallationQuery)(nil)
	_ gocmd.Querier[ListInstallationsMessage, []core.Installation] = (*ListInstallationsQuery)(nil)
)

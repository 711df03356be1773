package appstoreconnect

import (
	"fmt"

	appstorecommand "github.com/goliatone/go-appstore-connect/command"
	appstorequery "github.com/goliatone/go-appstore-connect/query"
)

// CommandQueryService is the full write-plus-read surface the facade wraps.
// *core.Service satisfies it.
type CommandQueryService interface {
	appstorecommand.MutatingService
	appstorequery.InstallationReader
}

type Commands struct {
	RevokeInstall *appstorecommand.RevokeInstallCommand
	PruneNonces   *appstorecommand.PruneNoncesCommand
	ReplayRecord  *appstorecommand.ReplayRecordCommand
}

type Queries struct {
	GetInstallation   *appstorequery.GetInstallationQuery
	ListInstallations *appstorequery.ListInstallationsQuery
}

// Facade bundles the command and query handlers around one service so hosts
// can register them on a dispatcher or call them directly.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("appstoreconnect: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			RevokeInstall: appstorecommand.NewRevokeInstallCommand(service),
			PruneNonces:   appstorecommand.NewPruneNoncesCommand(service),
			ReplayRecord:  appstorecommand.NewReplayRecordCommand(service),
		},
		queries: Queries{
			GetInstallation:   appstorequery.NewGetInstallationQuery(service),
			ListInstallations: appstorequery.NewListInstallationsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

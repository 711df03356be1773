package sqlstore

import "github.com/goliatone/go-appstore-connect/core"

var (
	_ core.InstallationStore = (*InstallationStore)(nil)
	_ core.InstallationStore = (*CachedInstallationStore)(nil)
	_ core.StoreProvider     = (*RepositoryFactory)(nil)
)

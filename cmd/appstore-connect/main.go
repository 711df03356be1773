// Package main runs the appstore-connect handshake service: environment
// config, storage bootstrap per driver, then the HTTP server and the
// maintenance worker until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appstoreconnect "github.com/goliatone/go-appstore-connect"
	"github.com/goliatone/go-appstore-connect/core"
	appstoremigrations "github.com/goliatone/go-appstore-connect/migrations"
	sqlstore "github.com/goliatone/go-appstore-connect/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(ctx)
	if err != nil {
		log.Fatalf("resolve config: %v", err)
	}

	store, closeStore, err := openInstallationStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer closeStore()

	opts := []appstoreconnect.AppOption{
		appstoreconnect.WithRuntimeConfig(cfg),
	}
	if store != nil {
		opts = append(opts, appstoreconnect.WithStorage(store))
	}
	app, err := appstoreconnect.New(ctx, opts...)
	if err != nil {
		log.Fatalf("assemble app: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// resolveConfig performs the same layered resolution the app does so main can
// inspect the storage driver before assembly. The resolved tree is handed back
// as the runtime layer, keeping the two views identical.
func resolveConfig(ctx context.Context) (core.Config, error) {
	defaults := core.DefaultConfig()
	loaded, err := core.NewCfgxConfigProvider(core.EnvRawConfigLoader{}).Load(ctx, defaults)
	if err != nil {
		return core.Config{}, err
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, core.Config{})
}

// openInstallationStore opens the configured SQL backend, runs its migrations,
// and returns the bun-backed store. The memory driver needs no bootstrap, so it
// returns nil and the app wires its own store.
func openInstallationStore(ctx context.Context, cfg core.Config) (core.InstallationStore, func(), error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Storage.Driver))
	switch driver {
	case "", core.StorageDriverMemory:
		return nil, func() {}, nil
	case core.StorageDriverSQLite, core.StorageDriverPostgres:
	default:
		return nil, nil, fmt.Errorf("storage driver %q is not supported", cfg.Storage.Driver)
	}

	dsn := strings.TrimSpace(cfg.Storage.DSN)
	if dsn == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for the %s driver", driver)
	}

	var (
		sqlDriver string
		target    string
	)
	switch driver {
	case core.StorageDriverSQLite:
		sqlDriver = "sqlite3"
		target = appstoremigrations.DialectSQLite
	case core.StorageDriverPostgres:
		sqlDriver = "postgres"
		target = appstoremigrations.DialectPostgres
	}

	sqlDB, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	pcfg := persistenceConfig{driver: sqlDriver, server: dsn}
	var client *persistence.Client
	if driver == core.StorageDriverPostgres {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	} else {
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("persistence client: %w", err)
	}
	closer := func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Printf("close storage: %v", closeErr)
		}
	}

	_, err = appstoremigrations.Register(ctx, func(_ context.Context, migrationDialect string, _ string, fsys fs.FS) error {
		if migrationDialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, appstoremigrations.WithValidationTargets(target))
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		closer()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return factory.InstallationStore(), closer, nil
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool { return false }

func (c persistenceConfig) GetDriver() string { return c.driver }

func (c persistenceConfig) GetServer() string { return c.server }

func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }

func (c persistenceConfig) GetOtelIdentifier() string { return "go-appstore-connect" }

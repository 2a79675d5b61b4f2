// Package registry implements the C7 project/repository registry: the
// durable record of which projects and repositories exist, their
// soft-delete/purge lifecycle, and the factory that turns a
// (project, repository) name pair into a live, pointer-identity-stable
// engine object.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remind101/migrate"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/cache"
	"github.com/dogmahq/dogma/internal/objectstore"
	"github.com/dogmahq/dogma/internal/objectstore/encrypted"
	objectstorepg "github.com/dogmahq/dogma/internal/objectstore/postgres"
	"github.com/dogmahq/dogma/internal/revindex"
	"github.com/dogmahq/dogma/pkg/ctxlock"
	"github.com/dogmahq/dogma/registry/migrations"
	"github.com/dogmahq/dogma/repository"
)

// Migrate runs every pending schema migration for the registry against
// connString.
func Migrate(connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("registry: open migration handle: %w", err)
	}
	defer db.Close()

	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	return migrator.Exec(migrate.Up, migrations.Migrations...)
}

// KeyManager is the subset of encrypted.KeyManager the registry needs when
// blob encryption is enabled. It's satisfied by
// *internal/objectstore/encrypted.StaticKeyManager.
type KeyManager = encrypted.KeyManager

// Config configures a Registry.
type Config struct {
	Pool *pgxpool.Pool
	Lock ctxlock.ContextLock

	// Keys enables at-rest blob encryption when non-nil. A nil Keys
	// leaves repository content stored in plaintext.
	Keys KeyManager

	// Notifier and Invalidator, when set, are wired onto every
	// repository.Repository this Registry hands out, so pushes wake
	// watchers and invalidate cached results.
	Notifier    repository.Notifier
	Invalidator repository.Invalidator
}

// Registry is the durable project/repository registry plus a factory for
// the live engine objects backing them.
//
// A Registry's zero value is not usable; build one with New.
type Registry struct {
	pool        *pgxpool.Pool
	lock        ctxlock.ContextLock
	keys        KeyManager
	notifier    repository.Notifier
	invalidator repository.Invalidator

	// live gives every open repository a stable pointer identity for as
	// long as something holds a reference to it (a watcher, an
	// in-flight request), and lets it be garbage collected, and rebuilt
	// from durable storage, once nothing does. This is also what
	// internal/resultcache's fingerprinting relies on being cheap and
	// stable: see its "repoPointerIdentity" note.
	live cache.Live[uuid.UUID, repository.Repository]
}

// New returns a Registry backed by cfg.
func New(cfg Config) *Registry {
	return &Registry{
		pool:        cfg.Pool,
		lock:        cfg.Lock,
		keys:        cfg.Keys,
		notifier:    cfg.Notifier,
		invalidator: cfg.Invalidator,
	}
}

// Open resolves (projectName, repoName) to a live engine Repository,
// failing with ErrProjectNotFound/ErrRepositoryNotFound if either doesn't
// exist or has been soft-removed. Repeated calls for the same repository
// return the same *repository.Repository as long as a previous caller
// still holds it live.
func (r *Registry) Open(ctx context.Context, projectName, repoName string) (*repository.Repository, error) {
	project, err := r.projectRow(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if project.RemovedAt != nil {
		return nil, &dogma.Error{Kind: dogma.ErrProjectNotFound, Op: "Registry.Open", Message: projectName}
	}
	row, err := r.repositoryRow(ctx, projectName, repoName, false)
	if err != nil {
		return nil, err
	}
	create := func(ctx context.Context, id uuid.UUID) (*repository.Repository, error) {
		return r.build(ctx, id, row.Project, row.Name)
	}
	return r.live.Get(ctx, row.ID, create)
}

func (r *Registry) build(ctx context.Context, id uuid.UUID, projectName, repoName string) (*repository.Repository, error) {
	pgStore, err := objectstorepg.New(r.pool, id)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.Open", Inner: err}
	}
	var store objectstore.Store = pgStore
	if r.keys != nil {
		store = encrypted.New(pgStore, r.keys)
	}
	index := revindex.New(r.pool, r.lock, id)

	repo := repository.New(id, projectName, repoName, store, index)
	repo.Notifier = r.notifier
	repo.Invalidator = r.invalidator
	return repo, nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/dogmatest"
	objectstorepg "github.com/dogmahq/dogma/internal/objectstore/postgres"
	"github.com/dogmahq/dogma/internal/revindex"
	"github.com/dogmahq/dogma/pkg/ctxlock"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := context.Background()
	dsn := dogmatest.NeedDB(t)

	db, err := dogmatest.NewDB(ctx, t, dsn, "")
	if err != nil {
		t.Fatalf("creating scratch database: %v", err)
	}
	t.Cleanup(func() { db.Close(ctx, t) })

	cc := db.Config().ConnConfig
	connString := fmt.Sprintf("postgres://%s@%s:%d/%s", cc.User, cc.Host, cc.Port, cc.Database)
	if err := objectstorepg.Migrate(connString); err != nil {
		t.Fatalf("running objectstore migrations: %v", err)
	}
	if err := revindex.Migrate(connString); err != nil {
		t.Fatalf("running revindex migrations: %v", err)
	}
	if err := Migrate(connString); err != nil {
		t.Fatalf("running registry migrations: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, db.Config())
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return New(Config{Pool: pool, Lock: new(ctxlock.Local)})
}

func author() dogma.Author {
	return dogma.Author{Name: "test", Email: "test@example.com"}
}

func TestCreateProjectSeedsReservedRepositories(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	project, err := r.GetProject(ctx, "widgets")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(project.Repositories) != 2 {
		t.Fatalf("want 2 reserved repositories, got %d", len(project.Repositories))
	}
	var names []string
	for _, repo := range project.Repositories {
		names = append(names, repo.Name)
	}
	for _, want := range []string{dogma.MetaRepository, dogma.DogmaRepository} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("reserved repository %q missing from %v", want, names)
		}
	}
}

func TestCreateProjectDuplicateFails(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_, err := r.CreateProject(ctx, "widgets", author())
	if err == nil {
		t.Fatal("want error creating duplicate project, got nil")
	}
	var derr *dogma.Error
	if !errors.As(err, &derr) || derr.Kind != dogma.ErrProjectExists {
		t.Fatalf("want ErrProjectExists, got %v", err)
	}
}

func TestCreateRepositoryRejectsReservedNames(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_, err := r.CreateRepository(ctx, "widgets", dogma.MetaRepository, author())
	if err == nil {
		t.Fatal("want error creating reserved repository name, got nil")
	}
	var derr *dogma.Error
	if !errors.As(err, &derr) || derr.Kind != dogma.ErrInvalidArgument {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestCreateRepositoryDuplicateFails(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := r.CreateRepository(ctx, "widgets", "frontend", author()); err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	_, err := r.CreateRepository(ctx, "widgets", "frontend", author())
	if err == nil {
		t.Fatal("want error creating duplicate repository, got nil")
	}
	var derr *dogma.Error
	if !errors.As(err, &derr) || derr.Kind != dogma.ErrRepositoryExists {
		t.Fatalf("want ErrRepositoryExists, got %v", err)
	}
}

func TestRemoveUnremoveProjectRoundtrips(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := r.RemoveProject(ctx, "widgets"); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}

	all, err := r.ListProjects(ctx, false)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("want 0 live projects after removal, got %d", len(all))
	}

	withRemoved, err := r.ListProjects(ctx, true)
	if err != nil {
		t.Fatalf("ListProjects(includeRemoved): %v", err)
	}
	if len(withRemoved) != 1 {
		t.Fatalf("want 1 project including removed, got %d", len(withRemoved))
	}

	if err := r.UnremoveProject(ctx, "widgets"); err != nil {
		t.Fatalf("UnremoveProject: %v", err)
	}
	project, err := r.GetProject(ctx, "widgets")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.IsRemoved() {
		t.Error("project still reports removed after UnremoveProject")
	}
}

func TestPurgeProjectRequiresRemoval(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := r.PurgeProject(ctx, "widgets"); err == nil {
		t.Fatal("want error purging live project, got nil")
	}

	if err := r.RemoveProject(ctx, "widgets"); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if err := r.PurgeProject(ctx, "widgets"); err != nil {
		t.Fatalf("PurgeProject: %v", err)
	}
	if _, err := r.GetProject(ctx, "widgets"); err == nil {
		t.Fatal("want error getting purged project, got nil")
	}
}

func TestOpenReturnsWorkingRepository(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := r.CreateRepository(ctx, "widgets", "frontend", author()); err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}

	repo, err := r.Open(ctx, "widgets", "frontend")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	changes := []dogma.Change{
		{Path: "/a.json", Type: dogma.UpsertJSON, Content: map[string]any{"x": float64(1)}},
	}
	commit, err := repo.Push(ctx, dogma.Head, author(), "genesis", "", dogma.Plaintext, changes)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if commit.Revision != 1 {
		t.Errorf("want revision 1, got %d", commit.Revision)
	}

	again, err := r.Open(ctx, "widgets", "frontend")
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if again != repo {
		t.Error("want the same live *repository.Repository across repeated Open calls")
	}

	project, err := r.GetProject(ctx, "widgets")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	for _, repoRow := range project.Repositories {
		if repoRow.Name == "frontend" && repoRow.Head != 1 {
			t.Errorf("want frontend head 1, got %d", repoRow.Head)
		}
	}
}

func TestOpenUnknownRepositoryFails(t *testing.T) {
	t.Parallel()
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateProject(ctx, "widgets", author()); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_, err := r.Open(ctx, "widgets", "nope")
	if err == nil {
		t.Fatal("want error opening unknown repository, got nil")
	}
	var derr *dogma.Error
	if !errors.As(err, &derr) || derr.Kind != dogma.ErrRepositoryNotFound {
		t.Fatalf("want ErrRepositoryNotFound, got %v", err)
	}
}

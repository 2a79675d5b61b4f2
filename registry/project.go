package registry

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/jackc/pgx/v5"

	"github.com/dogmahq/dogma"
)

var psql = goqu.Dialect("postgres")

// CreateProject registers a new project, transactionally creating its
// reserved "meta" and "dogma" repositories alongside it, per spec.md's
// "reserved repositories are created implicitly with each project."
func (r *Registry) CreateProject(ctx context.Context, name string, createdBy dogma.Author) (dogma.Project, error) {
	if err := dogma.ValidateName("CreateProject", name); err != nil {
		return dogma.Project{}, err
	}

	var out dogma.Project
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		insertProject, args, err := psql.Insert("registry_project").Rows(goqu.Record{
			"name":             name,
			"created_by_name":  createdBy.Name,
			"created_by_email": createdBy.Email,
		}).ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertProject, args...); err != nil {
			if isUniqueViolation(err) {
				return &dogma.Error{Kind: dogma.ErrProjectExists, Op: "CreateProject", Message: name}
			}
			return &dogma.Error{Kind: dogma.ErrStorage, Op: "CreateProject", Inner: err}
		}

		for _, reserved := range []string{dogma.MetaRepository, dogma.DogmaRepository} {
			if err := insertRepositoryRow(ctx, tx, name, reserved, createdBy); err != nil {
				return err
			}
		}

		row, err := selectProjectRow(ctx, tx, name)
		if err != nil {
			return err
		}
		out = row.toProject(nil)
		return nil
	})
	if err != nil {
		if derr, ok := asDogmaError(err); ok {
			return dogma.Project{}, derr
		}
		return dogma.Project{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "CreateProject", Inner: err}
	}
	return out, nil
}

// GetProject returns name's project, including its repository list.
func (r *Registry) GetProject(ctx context.Context, name string) (dogma.Project, error) {
	row, err := r.projectRow(ctx, name)
	if err != nil {
		return dogma.Project{}, err
	}
	repos, err := r.ListRepositories(ctx, name, true)
	if err != nil {
		return dogma.Project{}, err
	}
	return row.toProject(repos), nil
}

// ListProjects returns every project. includeRemoved also returns
// soft-removed projects, matching the "?status=removed" listing mode.
func (r *Registry) ListProjects(ctx context.Context, includeRemoved bool) ([]dogma.Project, error) {
	q := psql.Select("name", "created_by_name", "created_by_email", "created_at", "removed_at").
		From("registry_project")
	if !includeRemoved {
		q = q.Where(goqu.Ex{"removed_at": nil})
	}
	q = q.Order(goqu.I("name").Asc())
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListProjects", Inner: err}
	}
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListProjects", Inner: err}
	}
	defer rows.Close()

	var out []dogma.Project
	for rows.Next() {
		var pr projectRow
		if err := rows.Scan(&pr.Name, &pr.CreatedByName, &pr.CreatedByEmail, &pr.CreatedAt, &pr.RemovedAt); err != nil {
			return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListProjects", Inner: err}
		}
		out = append(out, pr.toProject(nil))
	}
	return out, rows.Err()
}

// RemoveProject soft-removes name: it's hidden from normal listings but
// its storage, and its repositories', is preserved.
func (r *Registry) RemoveProject(ctx context.Context, name string) error {
	return r.setProjectRemoved(ctx, name, true)
}

// UnremoveProject clears a prior soft-removal.
func (r *Registry) UnremoveProject(ctx context.Context, name string) error {
	return r.setProjectRemoved(ctx, name, false)
}

func (r *Registry) setProjectRemoved(ctx context.Context, name string, removed bool) error {
	row, err := r.projectRow(ctx, name)
	if err != nil {
		return err
	}
	if removed && row.RemovedAt != nil {
		return nil
	}
	if !removed && row.RemovedAt == nil {
		return nil
	}

	var removedAt *time.Time
	if removed {
		now := time.Now()
		removedAt = &now
	}
	q := psql.Update("registry_project").
		Set(goqu.Record{"removed_at": removedAt}).
		Where(goqu.Ex{"name": name})
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.setProjectRemoved", Inner: err}
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.setProjectRemoved", Inner: err}
	}
	return nil
}

// PurgeProject hard-deletes name's registry row, which must already be
// soft-removed. The underlying content-addressed blobs and trees of its
// repositories are left in the object store: they are owned by the store,
// may be shared by other repositories, and are reclaimed, if ever, by the
// store's own garbage collection rather than the registry.
func (r *Registry) PurgeProject(ctx context.Context, name string) error {
	row, err := r.projectRow(ctx, name)
	if err != nil {
		return err
	}
	if row.RemovedAt == nil {
		return &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: "PurgeProject", Message: "project must be removed before it can be purged"}
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM registry_repository WHERE project_name = $1;`, name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM registry_project WHERE name = $1;`, name); err != nil {
			return err
		}
		return nil
	})
}

type projectRow struct {
	Name           string
	CreatedByName  string
	CreatedByEmail string
	CreatedAt      time.Time
	RemovedAt      *time.Time
}

func (pr projectRow) toProject(repos []dogma.Repository) dogma.Project {
	return dogma.Project{
		Name:         pr.Name,
		CreatedBy:    dogma.Author{Name: pr.CreatedByName, Email: pr.CreatedByEmail},
		CreatedAt:    pr.CreatedAt,
		Repositories: repos,
		RemovedAt:    pr.RemovedAt,
	}
}

func selectProjectRow(ctx context.Context, tx pgx.Tx, name string) (projectRow, error) {
	const q = `SELECT name, created_by_name, created_by_email, created_at, removed_at
		FROM registry_project WHERE name = $1;`
	var pr projectRow
	err := tx.QueryRow(ctx, q, name).Scan(&pr.Name, &pr.CreatedByName, &pr.CreatedByEmail, &pr.CreatedAt, &pr.RemovedAt)
	if err == pgx.ErrNoRows {
		return projectRow{}, &dogma.Error{Kind: dogma.ErrProjectNotFound, Op: "Registry", Message: name}
	}
	if err != nil {
		return projectRow{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry", Inner: err}
	}
	return pr, nil
}

func (r *Registry) projectRow(ctx context.Context, name string) (projectRow, error) {
	const q = `SELECT name, created_by_name, created_by_email, created_at, removed_at
		FROM registry_project WHERE name = $1;`
	var pr projectRow
	err := r.pool.QueryRow(ctx, q, name).Scan(&pr.Name, &pr.CreatedByName, &pr.CreatedByEmail, &pr.CreatedAt, &pr.RemovedAt)
	if err == pgx.ErrNoRows {
		return projectRow{}, &dogma.Error{Kind: dogma.ErrProjectNotFound, Op: "Registry", Message: name}
	}
	if err != nil {
		return projectRow{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry", Inner: err}
	}
	return pr, nil
}

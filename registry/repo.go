package registry

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dogmahq/dogma"
	"github.com/dogmahq/dogma/internal/revindex"
)

// CreateRepository registers a new repository within projectName. Reserved
// names ("meta", "dogma") are rejected here: they exist implicitly,
// created transactionally by CreateProject, and can't be created again
// through this path.
func (r *Registry) CreateRepository(ctx context.Context, projectName, name string, createdBy dogma.Author) (dogma.Repository, error) {
	if dogma.IsReserved(name) {
		return dogma.Repository{}, &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: "CreateRepository", Message: "repository name is reserved: " + name}
	}
	if err := dogma.ValidateName("CreateRepository", name); err != nil {
		return dogma.Repository{}, err
	}

	var out dogma.Repository
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		project, err := selectProjectRow(ctx, tx, projectName)
		if err != nil {
			return err
		}
		if project.RemovedAt != nil {
			return &dogma.Error{Kind: dogma.ErrProjectNotFound, Op: "CreateRepository", Message: projectName}
		}
		if err := insertRepositoryRow(ctx, tx, projectName, name, createdBy); err != nil {
			return err
		}
		row, err := selectRepositoryRow(ctx, tx, projectName, name)
		if err != nil {
			return err
		}
		out = row.toRepository(0)
		return nil
	})
	if err != nil {
		if derr, ok := asDogmaError(err); ok {
			return dogma.Repository{}, derr
		}
		return dogma.Repository{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "CreateRepository", Inner: err}
	}
	return out, nil
}

// GetRepository returns one repository by name.
func (r *Registry) GetRepository(ctx context.Context, projectName, name string) (dogma.Repository, error) {
	row, err := r.repositoryRow(ctx, projectName, name, true)
	if err != nil {
		return dogma.Repository{}, err
	}
	head, err := r.headOf(ctx, row.ID)
	if err != nil {
		return dogma.Repository{}, err
	}
	return row.toRepository(head), nil
}

// headOf returns the current head revision recorded for repositoryID, or 0
// if the repository has never received a push.
func (r *Registry) headOf(ctx context.Context, repositoryID uuid.UUID) (dogma.Revision, error) {
	head, err := revindex.New(r.pool, r.lock, repositoryID).Head(ctx)
	if err != nil {
		return 0, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.headOf", Inner: err}
	}
	return dogma.Revision(head), nil
}

// ListRepositories returns projectName's repositories. includeRemoved also
// returns soft-removed ones.
func (r *Registry) ListRepositories(ctx context.Context, projectName string, includeRemoved bool) ([]dogma.Repository, error) {
	q := psql.Select("id", "project_name", "name", "created_by_name", "created_by_email", "created_at", "removed_at").
		From("registry_repository").
		Where(goqu.Ex{"project_name": projectName, "purged_at": nil})
	if !includeRemoved {
		q = q.Where(goqu.Ex{"removed_at": nil})
	}
	q = q.Order(goqu.I("name").Asc())
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListRepositories", Inner: err}
	}
	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListRepositories", Inner: err}
	}
	defer rows.Close()

	var out []dogma.Repository
	for rows.Next() {
		var rr repositoryRow
		if err := rows.Scan(&rr.ID, &rr.Project, &rr.Name, &rr.CreatedByName, &rr.CreatedByEmail, &rr.CreatedAt, &rr.RemovedAt); err != nil {
			return nil, &dogma.Error{Kind: dogma.ErrStorage, Op: "ListRepositories", Inner: err}
		}
		head, err := r.headOf(ctx, rr.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, rr.toRepository(head))
	}
	return out, rows.Err()
}

// RemoveRepository soft-removes a repository. Reserved repositories can
// never be removed.
func (r *Registry) RemoveRepository(ctx context.Context, projectName, name string) error {
	if dogma.IsReserved(name) {
		return &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: "RemoveRepository", Message: "reserved repositories cannot be removed: " + name}
	}
	return r.setRepositoryRemoved(ctx, projectName, name, true)
}

// UnremoveRepository clears a prior soft-removal.
func (r *Registry) UnremoveRepository(ctx context.Context, projectName, name string) error {
	return r.setRepositoryRemoved(ctx, projectName, name, false)
}

func (r *Registry) setRepositoryRemoved(ctx context.Context, projectName, name string, removed bool) error {
	row, err := r.repositoryRow(ctx, projectName, name, true)
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
	q := psql.Update("registry_repository").
		Set(goqu.Record{"removed_at": removedAt}).
		Where(goqu.Ex{"id": row.ID})
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.setRepositoryRemoved", Inner: err}
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry.setRepositoryRemoved", Inner: err}
	}
	return nil
}

// PurgeRepository hard-deletes name's registry row, which must already be
// soft-removed. As with PurgeProject, the underlying content-addressed
// objects are left for the object store to manage.
func (r *Registry) PurgeRepository(ctx context.Context, projectName, name string) error {
	if dogma.IsReserved(name) {
		return &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: "PurgeRepository", Message: "reserved repositories cannot be purged: " + name}
	}
	row, err := r.repositoryRow(ctx, projectName, name, true)
	if err != nil {
		return err
	}
	if row.RemovedAt == nil {
		return &dogma.Error{Kind: dogma.ErrInvalidArgument, Op: "PurgeRepository", Message: "repository must be removed before it can be purged"}
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM registry_repository WHERE id = $1;`, row.ID)
	if err != nil {
		return &dogma.Error{Kind: dogma.ErrStorage, Op: "PurgeRepository", Inner: err}
	}
	return nil
}

type repositoryRow struct {
	ID             uuid.UUID
	Project        string
	Name           string
	CreatedByName  string
	CreatedByEmail string
	CreatedAt      time.Time
	RemovedAt      *time.Time
}

func (rr repositoryRow) toRepository(head dogma.Revision) dogma.Repository {
	return dogma.Repository{
		Project:   rr.Project,
		Name:      rr.Name,
		Head:      head,
		CreatedBy: dogma.Author{Name: rr.CreatedByName, Email: rr.CreatedByEmail},
		CreatedAt: rr.CreatedAt,
		RemovedAt: rr.RemovedAt,
	}
}

func insertRepositoryRow(ctx context.Context, tx pgx.Tx, projectName, name string, createdBy dogma.Author) error {
	q := psql.Insert("registry_repository").Rows(goqu.Record{
		"id":               uuid.New(),
		"project_name":     projectName,
		"name":             name,
		"created_by_name":  createdBy.Name,
		"created_by_email": createdBy.Email,
	})
	sqlStr, args, err := q.ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return &dogma.Error{Kind: dogma.ErrRepositoryExists, Op: "CreateRepository", Message: name}
		}
		return err
	}
	return nil
}

func selectRepositoryRow(ctx context.Context, tx pgx.Tx, projectName, name string) (repositoryRow, error) {
	const q = `SELECT id, project_name, name, created_by_name, created_by_email, created_at, removed_at
		FROM registry_repository WHERE project_name = $1 AND name = $2 AND purged_at IS NULL;`
	var rr repositoryRow
	err := tx.QueryRow(ctx, q, projectName, name).Scan(&rr.ID, &rr.Project, &rr.Name, &rr.CreatedByName, &rr.CreatedByEmail, &rr.CreatedAt, &rr.RemovedAt)
	if err == pgx.ErrNoRows {
		return repositoryRow{}, &dogma.Error{Kind: dogma.ErrRepositoryNotFound, Op: "Registry", Message: name}
	}
	if err != nil {
		return repositoryRow{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry", Inner: err}
	}
	return rr, nil
}

// repositoryRow fetches a repository row. When includeRemoved is false (the
// path Open uses), a soft-removed repository is reported as not-found:
// only a live repository can be opened for reads/pushes/watches.
func (r *Registry) repositoryRow(ctx context.Context, projectName, name string, includeRemoved bool) (repositoryRow, error) {
	const q = `SELECT id, project_name, name, created_by_name, created_by_email, created_at, removed_at
		FROM registry_repository WHERE project_name = $1 AND name = $2 AND purged_at IS NULL;`
	var rr repositoryRow
	err := r.pool.QueryRow(ctx, q, projectName, name).Scan(&rr.ID, &rr.Project, &rr.Name, &rr.CreatedByName, &rr.CreatedByEmail, &rr.CreatedAt, &rr.RemovedAt)
	if err == pgx.ErrNoRows {
		return repositoryRow{}, &dogma.Error{Kind: dogma.ErrRepositoryNotFound, Op: "Registry", Message: name}
	}
	if err != nil {
		return repositoryRow{}, &dogma.Error{Kind: dogma.ErrStorage, Op: "Registry", Inner: err}
	}
	if !includeRemoved && rr.RemovedAt != nil {
		return repositoryRow{}, &dogma.Error{Kind: dogma.ErrRepositoryNotFound, Op: "Registry", Message: name}
	}
	return rr, nil
}

package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

const versionColumns = `id, major, minor, revision, created_by, created_at`

// CreateVersion appends a version to the project. The triple must come
// strictly after the project's latest version.
func (p *ProjectStore) CreateVersion(ctx context.Context, major, minor, revision int, actor string) (models.ProjectVersion, error) {
	if major < 0 || minor < 0 || revision < 0 {
		return models.ProjectVersion{}, errors.Errorf("version %d.%d.%d: components must not be negative", major, minor, revision)
	}
	p.versionMu.Lock()
	defer p.versionMu.Unlock()

	pv := models.ProjectVersion{ProjectID: p.projectID, Major: major, Minor: minor, Revision: revision}
	latest, err := p.LatestVersion(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return models.ProjectVersion{}, err
	case !pv.IsGreaterThan(latest):
		return models.ProjectVersion{}, errors.Wrapf(ErrVersionOrder, "version %s is not after latest %s", pv, latest)
	}
	return p.insertVersion(ctx, pv, actor)
}

// NextVersion appends the version that follows the latest one by bump. The
// first version of a project is always 1.1.1.
func (p *ProjectStore) NextVersion(ctx context.Context, bump models.VersionBump, actor string) (models.ProjectVersion, error) {
	p.versionMu.Lock()
	defer p.versionMu.Unlock()

	latest, err := p.LatestVersion(ctx)
	if errors.Is(err, ErrNotFound) {
		pv := models.InitialVersion
		pv.ProjectID = p.projectID
		return p.insertVersion(ctx, pv, actor)
	}
	if err != nil {
		return models.ProjectVersion{}, err
	}
	next, err := latest.Next(bump)
	if err != nil {
		return models.ProjectVersion{}, err
	}
	return p.insertVersion(ctx, next, actor)
}

func (p *ProjectStore) insertVersion(ctx context.Context, pv models.ProjectVersion, actor string) (models.ProjectVersion, error) {
	pv.ID = uuid.NewString()
	pv.ProjectID = p.projectID
	pv.CreatedBy = actor
	pv.CreatedAt = now()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO project_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		pv.ID, pv.Major, pv.Minor, pv.Revision, pv.CreatedBy, pv.CreatedAt,
	)
	if err != nil {
		return models.ProjectVersion{}, errors.Wrapf(err, "insert version %s", pv)
	}
	p.logger.WithFields(logrus.Fields{"version": pv.String(), "actor": actor}).Info("version created")
	return pv, nil
}

// LatestVersion returns the project's frontier version.
func (p *ProjectStore) LatestVersion(ctx context.Context) (models.ProjectVersion, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions ORDER BY major DESC, minor DESC, revision DESC LIMIT 1`,
	)
	pv, err := p.scanVersion(row)
	return pv, errors.Wrap(err, "latest version")
}

// PreviousVersion returns the version immediately before pv.
func (p *ProjectStore) PreviousVersion(ctx context.Context, pv models.ProjectVersion) (models.ProjectVersion, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE (major, minor, revision) < (?, ?, ?)
		 ORDER BY major DESC, minor DESC, revision DESC LIMIT 1`,
		pv.Major, pv.Minor, pv.Revision,
	)
	prev, err := p.scanVersion(row)
	return prev, errors.Wrapf(err, "version before %s", pv)
}

// GetVersion looks up a version by id.
func (p *ProjectStore) GetVersion(ctx context.Context, id string) (models.ProjectVersion, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM project_versions WHERE id = ?`, id)
	pv, err := p.scanVersion(row)
	return pv, errors.Wrapf(err, "version %s", id)
}

// FindVersion looks up a version by its triple.
func (p *ProjectStore) FindVersion(ctx context.Context, major, minor, revision int) (models.ProjectVersion, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE major = ? AND minor = ? AND revision = ?`,
		major, minor, revision,
	)
	pv, err := p.scanVersion(row)
	return pv, errors.Wrapf(err, "version %d.%d.%d", major, minor, revision)
}

// ListVersions returns every version of the project in order.
func (p *ProjectStore) ListVersions(ctx context.Context) ([]models.ProjectVersion, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions ORDER BY major, minor, revision`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list versions")
	}
	defer rows.Close()

	var versions []models.ProjectVersion
	for rows.Next() {
		pv := models.ProjectVersion{ProjectID: p.projectID}
		if err := rows.Scan(&pv.ID, &pv.Major, &pv.Minor, &pv.Revision, &pv.CreatedBy, &pv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan version")
		}
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}

// ResolveVersion returns the stored version pv refers to, by id when it has
// one and by triple otherwise.
func (p *ProjectStore) ResolveVersion(ctx context.Context, pv models.ProjectVersion) (models.ProjectVersion, error) {
	if pv.ProjectID != "" && pv.ProjectID != p.projectID {
		return models.ProjectVersion{}, errors.Wrapf(models.ErrCrossProject, "version %s of project %s", pv, pv.ProjectID)
	}
	if pv.ID != "" {
		return p.GetVersion(ctx, pv.ID)
	}
	return p.FindVersion(ctx, pv.Major, pv.Minor, pv.Revision)
}

func (p *ProjectStore) scanVersion(row *sql.Row) (models.ProjectVersion, error) {
	pv := models.ProjectVersion{ProjectID: p.projectID}
	err := row.Scan(&pv.ID, &pv.Major, &pv.Minor, &pv.Revision, &pv.CreatedBy, &pv.CreatedAt)
	if err == sql.ErrNoRows {
		return models.ProjectVersion{}, ErrNotFound
	}
	if err != nil {
		return models.ProjectVersion{}, errors.Wrap(err, "scan version")
	}
	return pv, nil
}

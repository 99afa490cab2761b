package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

const (
	statusActive   = "active"
	statusArchived = "archived"
)

// MetaStore manages the central _meta.db database that tracks all projects.
type MetaStore struct {
	db      *sql.DB
	dataDir string
	logger  logrus.FieldLogger
}

// OpenMeta opens (or creates) the _meta.db database and runs migrations.
func OpenMeta(dataDir string, logger logrus.FieldLogger) (*MetaStore, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "projects"), filepath.Join(dataDir, "archive")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(filepath.Join(dataDir, "_meta.db")))
	if err != nil {
		return nil, errors.Wrap(err, "open meta db")
	}
	if _, err := db.Exec(MetaSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate meta db")
	}

	return &MetaStore{db: db, dataDir: dataDir, logger: logger}, nil
}

// Close closes the database connection.
func (m *MetaStore) Close() error {
	return m.db.Close()
}

// DataDir returns the base data directory.
func (m *MetaStore) DataDir() string {
	return m.dataDir
}

// CreateProject creates a new project entry and its isolated database file.
func (m *MetaStore) CreateProject(ctx context.Context, name, description string) (*models.Project, error) {
	id := uuid.NewString()
	dbPath := filepath.Join("projects", id+".db")

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, db_path, status) VALUES (?, ?, ?, ?, 'active')`,
		id, name, description, dbPath,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "insert project %q", name)
	}

	if err := initProjectDB(filepath.Join(m.dataDir, dbPath)); err != nil {
		// Rollback: remove meta entry if project DB creation fails
		m.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		return nil, errors.Wrap(err, "init project db")
	}

	m.logger.WithFields(logrus.Fields{"project_id": id, "project": name}).Info("project created")
	return m.GetProjectByID(ctx, id)
}

// GetProjectByName looks up a project by its unique name.
func (m *MetaStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, description, db_path, status, created_at, updated_at FROM projects WHERE name = ?`,
		name,
	)
	p, err := scanProject(row)
	return p, errors.Wrapf(err, "project %q", name)
}

// GetProjectByID looks up a project by its UUID.
func (m *MetaStore) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, description, db_path, status, created_at, updated_at FROM projects WHERE id = ?`,
		id,
	)
	p, err := scanProject(row)
	return p, errors.Wrapf(err, "project %s", id)
}

// ListProjects returns projects filtered by status. Use "all" for no filter.
func (m *MetaStore) ListProjects(ctx context.Context, status string) ([]models.Project, error) {
	query := `SELECT id, name, description, db_path, status, created_at, updated_at FROM projects`
	var args []any
	if status != "all" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	rows, err := m.db.QueryContext(ctx, query+` ORDER BY name`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.DBPath, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ArchiveProject sets status to 'archived' and moves the DB file from
// projects/ to archive/.
func (m *MetaStore) ArchiveProject(ctx context.Context, name string) (*models.Project, error) {
	return m.moveProject(ctx, name, statusActive, statusArchived, "archive")
}

// RestoreProject restores an archived project back to active status.
func (m *MetaStore) RestoreProject(ctx context.Context, name string) (*models.Project, error) {
	return m.moveProject(ctx, name, statusArchived, statusActive, "projects")
}

func (m *MetaStore) moveProject(ctx context.Context, name, from, to, dir string) (*models.Project, error) {
	proj, err := m.GetProjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if proj.Status != from {
		return nil, errors.Errorf("project %q is %s, not %s", name, proj.Status, from)
	}

	oldPath := filepath.Join(m.dataDir, proj.DBPath)
	newRelPath := filepath.Join(dir, filepath.Base(proj.DBPath))
	newPath := filepath.Join(m.dataDir, newRelPath)

	if err := os.Rename(oldPath, newPath); err != nil {
		return nil, errors.Wrapf(err, "move project db to %s", dir)
	}
	_, err = m.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, db_path = ?, updated_at = datetime('now') WHERE name = ?`,
		to, newRelPath, name,
	)
	if err != nil {
		// Try to undo the file move
		os.Rename(newPath, oldPath)
		return nil, errors.Wrap(err, "update project status")
	}

	m.logger.WithFields(logrus.Fields{"project": name, "status": to}).Info("project status changed")
	return m.GetProjectByName(ctx, name)
}

// DeleteProject permanently removes a project record and its database file.
// Every version record of the project goes with it.
func (m *MetaStore) DeleteProject(ctx context.Context, name string) error {
	proj, err := m.GetProjectByName(ctx, name)
	if err != nil {
		return err
	}

	absDBPath := filepath.Join(m.dataDir, proj.DBPath)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(absDBPath + suffix)
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name); err != nil {
		return errors.Wrap(err, "delete project record")
	}
	m.logger.WithField("project", name).Info("project deleted")
	return nil
}

// OpenProjectStore opens the versioned store of an active project.
func (m *MetaStore) OpenProjectStore(proj *models.Project) (*ProjectStore, error) {
	if proj.Status == statusArchived {
		return nil, errors.Errorf("project %q is archived, restore it first", proj.Name)
	}
	return OpenProject(proj.ID, m.ProjectDBPath(proj), m.logger)
}

// ProjectDBPath returns the absolute path to a project's database file.
func (m *MetaStore) ProjectDBPath(proj *models.Project) string {
	return filepath.Join(m.dataDir, proj.DBPath)
}

func scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DBPath, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan project")
	}
	return &p, nil
}

// initProjectDB creates a new project database with the full schema.
func initProjectDB(dbPath string) error {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(ProjectSchema); err != nil {
		return errors.Wrap(err, "create project schema")
	}
	if _, err := db.Exec(ProjectTriggers); err != nil {
		return errors.Wrap(err, "create project triggers")
	}
	return nil
}

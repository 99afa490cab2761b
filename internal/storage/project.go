package storage

import (
	"context"
	"database/sql"
	"sync"

	"github.com/go-playground/validator/v10"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

// ProjectStore manages a single project's versioned database.
type ProjectStore struct {
	db        *sql.DB
	projectID string
	logger    logrus.FieldLogger

	Artifacts *VersionedStore[models.Artifact]
	Traces    *VersionedStore[models.TraceLink]

	versionMu   sync.Mutex
	commitLocks sync.Map // version id -> *sync.Mutex
}

// OpenProject opens an existing project database and configures it.
func OpenProject(projectID, dbPath string, logger logrus.FieldLogger) (*ProjectStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "open project db")
	}
	// Verify the connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping project db")
	}

	logger = logger.WithField("project_id", projectID)
	validate := validator.New(validator.WithRequiredStructEnabled())
	artifacts := newVersionedStore[models.Artifact](db, projectID, artifactKind{validate: validate}, logger)
	traces := newVersionedStore[models.TraceLink](db, projectID, traceKind{validate: validate, artifacts: artifacts}, logger)

	return &ProjectStore{
		db:        db,
		projectID: projectID,
		logger:    logger,
		Artifacts: artifacts,
		Traces:    traces,
	}, nil
}

// Close closes the project database connection.
func (p *ProjectStore) Close() error {
	return p.db.Close()
}

// ProjectID returns the id of the project the store belongs to.
func (p *ProjectStore) ProjectID() string {
	return p.projectID
}

// Tx is one commit transaction against a project version. Its stores write
// through the transaction.
type Tx struct {
	tx        *sql.Tx
	Version   models.ProjectVersion
	Artifacts *VersionedStore[models.Artifact]
	Traces    *VersionedStore[models.TraceLink]
}

// RecordCommitErrors persists per-entity commit errors against the
// transaction's version.
func (t *Tx) RecordCommitErrors(ctx context.Context, errs []models.CommitError) error {
	for _, ce := range errs {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO commit_errors (id, version_id, kind, entity_id, entity_name, message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ce.ID, t.Version.ID, ce.Kind, ce.EntityID, ce.EntityName, ce.Message, ce.CreatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert commit error for %s", ce.EntityName)
		}
	}
	return nil
}

// CommitTx runs fn in one transaction against pv. Commits to the same
// version are serialized; commits to different versions are not. Any error
// from fn rolls back every record written by it.
func (p *ProjectStore) CommitTx(ctx context.Context, pv models.ProjectVersion, fn func(*Tx) error) error {
	stored, err := p.ResolveVersion(ctx, pv)
	if err != nil {
		return err
	}

	mu, _ := p.commitLocks.LoadOrStore(stored.ID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(&Tx{
		tx:        tx,
		Version:   stored,
		Artifacts: p.Artifacts.withQuerier(tx),
		Traces:    p.Traces.withQuerier(tx),
	}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Snapshot is the resolved state of a project version, read in one
// transaction so no partial commit is visible.
type Snapshot struct {
	Version   models.ProjectVersion `json:"version"`
	Artifacts []models.Artifact     `json:"artifacts"`
	Traces    []models.TraceLink    `json:"traces"`
}

// Snapshot reads every artifact and trace link present at pv.
func (p *ProjectStore) Snapshot(ctx context.Context, pv models.ProjectVersion) (*Snapshot, error) {
	stored, err := p.ResolveVersion(ctx, pv)
	if err != nil {
		return nil, err
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "begin read tx")
	}
	defer tx.Rollback()

	artifacts, err := p.Artifacts.withQuerier(tx).EntitiesAtVersion(ctx, stored)
	if err != nil {
		return nil, errors.Wrap(err, "read artifacts")
	}
	traces, err := p.Traces.withQuerier(tx).EntitiesAtVersion(ctx, stored)
	if err != nil {
		return nil, errors.Wrap(err, "read traces")
	}
	return &Snapshot{Version: stored, Artifacts: artifacts, Traces: traces}, nil
}

// Delta compares two versions across both entity kinds.
func (p *ProjectStore) Delta(ctx context.Context, baseline, target models.ProjectVersion) (*models.ProjectDelta, error) {
	artifacts, err := p.Artifacts.Delta(ctx, baseline, target)
	if err != nil {
		return nil, errors.Wrap(err, "artifact delta")
	}
	traces, err := p.Traces.Delta(ctx, baseline, target)
	if err != nil {
		return nil, errors.Wrap(err, "trace delta")
	}
	return &models.ProjectDelta{
		Baseline:  baseline,
		Target:    target,
		Artifacts: artifacts,
		Traces:    traces,
	}, nil
}

// SearchArtifacts runs a full-text query over the artifacts present at pv.
func (p *ProjectStore) SearchArtifacts(ctx context.Context, pv models.ProjectVersion, query string) ([]models.Artifact, error) {
	return p.Artifacts.Search(ctx, pv, query)
}

// ListCommitErrors returns the commit errors recorded against pv, oldest first.
func (p *ProjectStore) ListCommitErrors(ctx context.Context, pv models.ProjectVersion) ([]models.CommitError, error) {
	stored, err := p.ResolveVersion(ctx, pv)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, version_id, kind, entity_id, entity_name, message, created_at
		 FROM commit_errors WHERE version_id = ? ORDER BY created_at, rowid`,
		stored.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query commit errors")
	}
	defer rows.Close()

	var errs []models.CommitError
	for rows.Next() {
		var ce models.CommitError
		if err := rows.Scan(&ce.ID, &ce.VersionID, &ce.Kind, &ce.EntityID, &ce.EntityName, &ce.Message, &ce.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan commit error")
		}
		errs = append(errs, ce)
	}
	return errs, rows.Err()
}

// ListArtifactTypes returns every artifact type ever committed, by name.
func (p *ProjectStore) ListArtifactTypes(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM artifact_types ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query artifact types")
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan artifact type")
		}
		types = append(types, name)
	}
	return types, rows.Err()
}

// TraceMatrix is a pair of artifact types connected by at least one trace link.
type TraceMatrix struct {
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`
}

// ListTraceMatrices returns every (source type, target type) pair traced so far.
func (p *ProjectStore) ListTraceMatrices(ctx context.Context) ([]TraceMatrix, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT source_type, target_type FROM trace_matrices ORDER BY source_type, target_type`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query trace matrices")
	}
	defer rows.Close()

	var matrices []TraceMatrix
	for rows.Next() {
		var m TraceMatrix
		if err := rows.Scan(&m.SourceType, &m.TargetType); err != nil {
			return nil, errors.Wrap(err, "scan trace matrix")
		}
		matrices = append(matrices, m)
	}
	return matrices, rows.Err()
}

// Package commit drives commits across the artifact and trace-link stores of
// a project version and informs the layout and notification collaborators.
package commit

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

var tracer = otel.Tracer("trace-store.commit")

// Layout recomputes view positions after a commit.
type Layout interface {
	// UpdateLayout places the entities of one incremental commit.
	UpdateLayout(ctx context.Context, changes *models.CommittedChanges) error
	// RegenerateLayout lays out the whole project version from scratch.
	RegenerateLayout(ctx context.Context, pv models.ProjectVersion) error
}

// Notifier broadcasts committed changes to interested subscribers.
type Notifier interface {
	Notify(ctx context.Context, summary models.ChangeSummary)
}

// Options tune a single commit.
type Options struct {
	// RequireLatest rejects commits to any version but the project's latest.
	RequireLatest bool
}

// Coordinator commits entity changes to a project version. The zero value
// is not usable; use New.
type Coordinator struct {
	layout   Layout
	notifier Notifier
	logger   logrus.FieldLogger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLayout sets the layout collaborator.
func WithLayout(l Layout) Option {
	return func(c *Coordinator) { c.layout = l }
}

// WithNotifier sets the notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// New returns a Coordinator. Without a notifier, changes are logged.
func New(logger logrus.FieldLogger, opts ...Option) *Coordinator {
	c := &Coordinator{logger: logger.WithField("component", "commit")}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NewLogNotifier(logger)
	}
	return c
}

// Commit applies an incremental change set to pv in one transaction.
// Artifacts are written before the trace links that may reference them, and
// removed after the trace links that may reference them.
//
// Entities that cannot be committed are reported in the result's Errors and
// persisted with the version; the error return is reserved for failures
// that abort the whole commit.
func (c *Coordinator) Commit(ctx context.Context, ps *storage.ProjectStore, pv models.ProjectVersion, changes models.ProjectChanges, actor string, opts Options) (*models.CommittedChanges, error) {
	ctx, span := tracer.Start(ctx, "commit.Commit",
		trace.WithAttributes(
			attribute.String("project.id", ps.ProjectID()),
			attribute.String("version", pv.String()),
			attribute.Int("artifacts", len(changes.AddedArtifacts)+len(changes.ModifiedArtifacts)+len(changes.RemovedArtifacts)),
			attribute.Int("traces", len(changes.AddedTraces)+len(changes.ModifiedTraces)+len(changes.RemovedTraces)),
		),
	)
	defer span.End()

	if opts.RequireLatest {
		if err := requireLatest(ctx, ps, pv); err != nil {
			return nil, fail(span, err)
		}
	}

	out := &models.CommittedChanges{}
	err := ps.CommitTx(ctx, pv, func(tx *storage.Tx) error {
		out.Version = tx.Version

		upserts := append(append([]models.Artifact{}, changes.AddedArtifacts...), changes.ModifiedArtifacts...)
		arts, err := tx.Artifacts.CommitBatch(ctx, tx.Version, upserts, false, actor)
		if err != nil {
			return errors.Wrap(err, "commit artifacts")
		}
		collect(out, &out.Artifacts, arts)

		links := append(append([]models.TraceLink{}, changes.AddedTraces...), changes.ModifiedTraces...)
		traces, err := tx.Traces.CommitBatch(ctx, tx.Version, links, false, actor)
		if err != nil {
			return errors.Wrap(err, "commit traces")
		}
		collect(out, &out.Traces, traces)

		if len(changes.RemovedTraces) > 0 {
			removed, err := tx.Traces.CommitRemovals(ctx, tx.Version, changes.RemovedTraces, actor)
			if err != nil {
				return errors.Wrap(err, "remove traces")
			}
			collect(out, &out.Traces, removed)
		}
		if len(changes.RemovedArtifacts) > 0 {
			removed, err := tx.Artifacts.CommitRemovals(ctx, tx.Version, changes.RemovedArtifacts, actor)
			if err != nil {
				return errors.Wrap(err, "remove artifacts")
			}
			collect(out, &out.Artifacts, removed)
		}
		return tx.RecordCommitErrors(ctx, out.Errors)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	c.logCommit(ps, out, actor, false)
	span.SetAttributes(attribute.Int("records", len(out.Artifacts)+len(out.Traces)), attribute.Int("errors", len(out.Errors)))
	span.SetStatus(codes.Ok, "")

	if changes.UpdateDefaultLayout && c.layout != nil && !out.Empty() {
		if err := c.layout.UpdateLayout(ctx, out); err != nil {
			c.logger.WithError(err).WithField("version", out.Version.String()).Warn("layout update failed")
		}
	}
	c.notifier.Notify(ctx, out.Summarize())
	return out, nil
}

// SetEntitiesAsCompleteSet makes artifacts and traces the entire content of
// pv: every entity present at pv but missing from the sets is removed. The
// full layout is regenerated afterwards.
func (c *Coordinator) SetEntitiesAsCompleteSet(ctx context.Context, ps *storage.ProjectStore, pv models.ProjectVersion, artifacts []models.Artifact, traces []models.TraceLink, actor string) (*models.CommittedChanges, error) {
	ctx, span := tracer.Start(ctx, "commit.SetEntitiesAsCompleteSet",
		trace.WithAttributes(
			attribute.String("project.id", ps.ProjectID()),
			attribute.String("version", pv.String()),
			attribute.Int("artifacts", len(artifacts)),
			attribute.Int("traces", len(traces)),
		),
	)
	defer span.End()

	out := &models.CommittedChanges{}
	err := ps.CommitTx(ctx, pv, func(tx *storage.Tx) error {
		out.Version = tx.Version

		arts, err := tx.Artifacts.CommitBatch(ctx, tx.Version, artifacts, true, actor)
		if err != nil {
			return errors.Wrap(err, "commit artifact set")
		}
		collect(out, &out.Artifacts, arts)

		links, err := tx.Traces.CommitBatch(ctx, tx.Version, traces, true, actor)
		if err != nil {
			return errors.Wrap(err, "commit trace set")
		}
		collect(out, &out.Traces, links)
		return tx.RecordCommitErrors(ctx, out.Errors)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	c.logCommit(ps, out, actor, true)
	span.SetStatus(codes.Ok, "")

	if c.layout != nil {
		if err := c.layout.RegenerateLayout(ctx, out.Version); err != nil {
			c.logger.WithError(err).WithField("version", out.Version.String()).Warn("layout regeneration failed")
		}
	}
	c.notifier.Notify(ctx, out.Summarize())
	return out, nil
}

func requireLatest(ctx context.Context, ps *storage.ProjectStore, pv models.ProjectVersion) error {
	latest, err := ps.LatestVersion(ctx)
	if err != nil {
		return err
	}
	if !latest.SameTriple(pv) {
		return errors.Wrapf(storage.ErrVersionOrder, "commit to %s, latest version is %s", pv, latest)
	}
	return nil
}

// collect appends written records to dst and commit errors to out.Errors.
func collect[T any](out *models.CommittedChanges, dst *[]models.VersionRecord[T], results []models.CommitResult[T]) {
	for _, r := range results {
		if r.Record != nil {
			*dst = append(*dst, *r.Record)
		}
		if r.Err != nil {
			out.Errors = append(out.Errors, *r.Err)
		}
	}
}

func (c *Coordinator) logCommit(ps *storage.ProjectStore, out *models.CommittedChanges, actor string, completeSet bool) {
	c.logger.WithFields(logrus.Fields{
		"project_id":   ps.ProjectID(),
		"version":      out.Version.String(),
		"actor":        actor,
		"complete_set": completeSet,
		"artifacts":    len(out.Artifacts),
		"traces":       len(out.Traces),
		"errors":       len(out.Errors),
	}).Info("changes committed")
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

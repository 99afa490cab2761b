package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

const testProjectID = "project-under-test"

// setupProjectStore creates a fresh project DB in a temp directory and returns a ProjectStore.
func setupProjectStore(t *testing.T) *ProjectStore {
	t.Helper()
	dbPath := filepath.Join(tempDir(t), "test.db")
	require.NoError(t, initProjectDB(dbPath))
	ps, err := OpenProject(testProjectID, dbPath, nullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return ps
}

// createVersions appends n revisions starting at 1.1.1.
func createVersions(t *testing.T, ps *ProjectStore, n int) []models.ProjectVersion {
	t.Helper()
	versions := make([]models.ProjectVersion, n)
	for i := range versions {
		pv, err := ps.NextVersion(context.Background(), models.BumpRevision, "tester")
		require.NoError(t, err)
		versions[i] = pv
	}
	return versions
}

func commitArtifacts(t *testing.T, ps *ProjectStore, pv models.ProjectVersion, completeSet bool, artifacts ...models.Artifact) []models.CommitResult[models.Artifact] {
	t.Helper()
	ctx := context.Background()
	var results []models.CommitResult[models.Artifact]
	err := ps.CommitTx(ctx, pv, func(tx *Tx) error {
		var err error
		results, err = tx.Artifacts.CommitBatch(ctx, tx.Version, artifacts, completeSet, "tester")
		return err
	})
	require.NoError(t, err)
	return results
}

func commitTraces(t *testing.T, ps *ProjectStore, pv models.ProjectVersion, traces ...models.TraceLink) []models.CommitResult[models.TraceLink] {
	t.Helper()
	ctx := context.Background()
	var results []models.CommitResult[models.TraceLink]
	err := ps.CommitTx(ctx, pv, func(tx *Tx) error {
		var err error
		results, err = tx.Traces.CommitBatch(ctx, tx.Version, traces, false, "tester")
		return err
	})
	require.NoError(t, err)
	return results
}

func TestNextVersion(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)

	first, err := ps.NextVersion(ctx, models.BumpMinor, "tester")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1", first.String(), "first version ignores the bump")
	assert.Equal(t, testProjectID, first.ProjectID)

	for _, tc := range []struct {
		bump models.VersionBump
		want string
	}{
		{models.BumpRevision, "1.1.2"},
		{models.BumpMinor, "1.2.0"},
		{models.BumpMajor, "2.0.0"},
		{"", "2.0.1"},
	} {
		pv, err := ps.NextVersion(ctx, tc.bump, "tester")
		require.NoError(t, err)
		assert.Equal(t, tc.want, pv.String())
	}

	_, err = ps.NextVersion(ctx, "patch", "tester")
	assert.Error(t, err)

	versions, err := ps.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.Equal(t, "2.0.1", versions[4].String())
}

func TestCreateVersionRejectsPast(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)

	_, err := ps.CreateVersion(ctx, 2, 0, 0, "tester")
	require.NoError(t, err)

	for _, triple := range [][3]int{{2, 0, 0}, {1, 9, 9}} {
		_, err := ps.CreateVersion(ctx, triple[0], triple[1], triple[2], "tester")
		assert.ErrorIs(t, err, ErrVersionOrder, "version %v", triple)
	}
	_, err = ps.CreateVersion(ctx, -1, 0, 0, "tester")
	assert.Error(t, err)

	pv, err := ps.CreateVersion(ctx, 2, 0, 10, "tester")
	require.NoError(t, err)

	latest, err := ps.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, pv.ID, latest.ID)

	prev, err := ps.PreviousVersion(ctx, latest)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", prev.String())

	_, err = ps.PreviousVersion(ctx, prev)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveVersion(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	versions := createVersions(t, ps, 2)

	byTriple, err := ps.ResolveVersion(ctx, models.ProjectVersion{Major: 1, Minor: 1, Revision: 2})
	require.NoError(t, err)
	assert.Equal(t, versions[1].ID, byTriple.ID)

	byID, err := ps.ResolveVersion(ctx, models.ProjectVersion{ID: versions[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1", byID.String())

	_, err = ps.ResolveVersion(ctx, models.ProjectVersion{Major: 9, Minor: 9, Revision: 9})
	assert.ErrorIs(t, err, ErrNotFound)

	other := versions[0]
	other.ProjectID = "another-project"
	_, err = ps.ResolveVersion(ctx, other)
	assert.ErrorIs(t, err, models.ErrCrossProject)
}

func TestCommitTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	v1 := createVersions(t, ps, 1)[0]

	boom := errors.New("store unavailable")
	err := ps.CommitTx(ctx, v1, func(tx *Tx) error {
		res, err := tx.Artifacts.CommitBatch(ctx, tx.Version, []models.Artifact{
			{Name: "R1", Type: "requirement"},
		}, false, "tester")
		require.NoError(t, err)
		require.NotNil(t, res[0].Record)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := ps.Artifacts.CountInVersion(ctx, v1)
	require.NoError(t, err)
	assert.Zero(t, n, "records of a failed transaction must not survive")
}

func TestCommitTxUnknownVersion(t *testing.T) {
	ps := setupProjectStore(t)
	called := false
	err := ps.CommitTx(context.Background(), models.ProjectVersion{Major: 1, Minor: 1, Revision: 1}, func(*Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
}

func TestRecordAndListCommitErrors(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	versions := createVersions(t, ps, 2)

	err := ps.CommitTx(ctx, versions[1], func(tx *Tx) error {
		res, err := tx.Artifacts.CommitBatch(ctx, tx.Version, []models.Artifact{
			{Name: "no type"},
			{Name: "R1", Type: "requirement"},
		}, false, "tester")
		if err != nil {
			return err
		}
		var errs []models.CommitError
		for _, r := range res {
			if r.Err != nil {
				errs = append(errs, *r.Err)
			}
		}
		return tx.RecordCommitErrors(ctx, errs)
	})
	require.NoError(t, err)

	errs, err := ps.ListCommitErrors(ctx, versions[1])
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, models.KindArtifact, errs[0].Kind)
	assert.Equal(t, "no type", errs[0].EntityName)
	assert.Equal(t, versions[1].ID, errs[0].VersionID)

	errs, err = ps.ListCommitErrors(ctx, versions[0])
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	versions := createVersions(t, ps, 2)

	commitArtifacts(t, ps, versions[0], false,
		models.Artifact{Name: "A", Type: "requirement"},
		models.Artifact{Name: "B", Type: "design"},
	)
	commitTraces(t, ps, versions[0], models.TraceLink{
		SourceName: "B", TargetName: "A",
		TraceType: models.TraceManual, ApprovalStatus: models.ApprovalApproved, Score: 1, Visible: true,
	})
	commitArtifacts(t, ps, versions[1], false, models.Artifact{Name: "C", Type: "test"})

	snap, err := ps.Snapshot(ctx, models.ProjectVersion{Major: 1, Minor: 1, Revision: 1})
	require.NoError(t, err)
	assert.Equal(t, versions[0].ID, snap.Version.ID)
	require.Len(t, snap.Artifacts, 2)
	assert.Equal(t, "A", snap.Artifacts[0].Name)
	require.Len(t, snap.Traces, 1)
	assert.Equal(t, snap.Artifacts[1].ID, snap.Traces[0].SourceID)
	assert.Equal(t, snap.Artifacts[0].ID, snap.Traces[0].TargetID)

	snap, err = ps.Snapshot(ctx, versions[1])
	require.NoError(t, err)
	assert.Len(t, snap.Artifacts, 3)
	assert.Len(t, snap.Traces, 1)
}

func TestArtifactTypesAndTraceMatrices(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	v1 := createVersions(t, ps, 1)[0]

	commitArtifacts(t, ps, v1, false,
		models.Artifact{Name: "REQ-1", Type: "requirement"},
		models.Artifact{Name: "DES-1", Type: "design"},
		models.Artifact{Name: "DES-2", Type: "design"},
	)
	commitTraces(t, ps, v1,
		models.TraceLink{SourceName: "DES-1", TargetName: "REQ-1", TraceType: models.TraceManual, ApprovalStatus: models.ApprovalApproved, Visible: true},
		models.TraceLink{SourceName: "DES-2", TargetName: "REQ-1", TraceType: models.TraceGenerated, ApprovalStatus: models.ApprovalUnreviewed, Score: 0.4, Visible: true},
	)

	types, err := ps.ListArtifactTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "requirement"}, types)

	matrices, err := ps.ListTraceMatrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TraceMatrix{{SourceType: "design", TargetType: "requirement"}}, matrices)
}

func TestProjectDelta(t *testing.T) {
	ctx := context.Background()
	ps := setupProjectStore(t)
	versions := createVersions(t, ps, 2)

	commitArtifacts(t, ps, versions[0], false,
		models.Artifact{Name: "A", Type: "requirement"},
		models.Artifact{Name: "B", Type: "design"},
	)
	commitTraces(t, ps, versions[1], models.TraceLink{
		SourceName: "B", TargetName: "A",
		TraceType: models.TraceManual, ApprovalStatus: models.ApprovalApproved, Visible: true,
	})

	delta, err := ps.Delta(ctx, versions[0], versions[1])
	require.NoError(t, err)
	assert.True(t, delta.Artifacts.Empty())
	assert.Len(t, delta.Traces.Added, 1)
	assert.Equal(t, versions[1].ID, delta.Target.ID)
}

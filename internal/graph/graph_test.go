package graph

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

func artifact(id, typ string) models.Artifact {
	return models.Artifact{ID: id, Name: "name-" + id, Type: typ}
}

// edge makes child trace up to parent.
func edge(child, parent string) models.TraceLink {
	return models.TraceLink{
		SourceID:       child,
		TargetID:       parent,
		TraceType:      models.TraceManual,
		ApprovalStatus: models.ApprovalApproved,
		Visible:        true,
	}
}

func TestBuildParentChildClosure(t *testing.T) {
	g, err := Build(context.Background(),
		[]models.Artifact{artifact("A", "req"), artifact("B", "design"), artifact("C", "design")},
		[]models.TraceLink{edge("B", "A"), edge("C", "A")},
	)
	require.NoError(t, err)

	a, err := g.View("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, a.Subtree)
	assert.Equal(t, []string{"B", "C"}, a.Children)
	assert.Empty(t, a.Supertree)

	for _, id := range []string{"B", "C"} {
		v, err := g.View(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, v.Supertree, id)
		assert.Equal(t, []string{"A"}, v.Parents, id)
		assert.Empty(t, v.Subtree, id)
		assert.Equal(t, []string{"A"}, v.Neighbors, id)
	}
}

func TestBuildTransitiveChain(t *testing.T) {
	g, err := Build(context.Background(),
		[]models.Artifact{artifact("A", "req"), artifact("B", "design"), artifact("C", "code")},
		[]models.TraceLink{edge("B", "A"), edge("C", "B")},
	)
	require.NoError(t, err)

	views := g.Views()
	assert.Equal(t, []string{"B", "C"}, views["A"].Subtree)
	assert.Equal(t, []string{"A", "B"}, views["C"].Supertree)
	assert.Equal(t, []string{"A", "C"}, views["B"].Neighbors)
}

func TestVisibilityRule(t *testing.T) {
	hidden := edge("B", "A")
	hidden.Visible = false

	declined := edge("C", "A")
	declined.TraceType = models.TraceGenerated
	declined.ApprovalStatus = models.ApprovalDeclined

	manualDeclined := edge("D", "A")
	manualDeclined.ApprovalStatus = models.ApprovalDeclined

	unreviewed := edge("E", "A")
	unreviewed.TraceType = models.TraceGenerated
	unreviewed.ApprovalStatus = models.ApprovalUnreviewed

	assert.False(t, Visible(hidden))
	assert.False(t, Visible(declined))
	assert.True(t, Visible(manualDeclined), "manual links ignore approval")
	assert.True(t, Visible(unreviewed))

	g, err := Build(context.Background(),
		[]models.Artifact{artifact("A", "req"), artifact("B", "x"), artifact("C", "x"), artifact("D", "x"), artifact("E", "x")},
		[]models.TraceLink{hidden, declined, manualDeclined, unreviewed},
	)
	require.NoError(t, err)
	a, err := g.View("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "E"}, a.Children)
}

func TestBuildSkipsDanglingTraces(t *testing.T) {
	g, err := Build(context.Background(),
		[]models.Artifact{artifact("A", "req")},
		[]models.TraceLink{edge("gone", "A"), edge("A", "gone")},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	a, err := g.View("A")
	require.NoError(t, err)
	assert.Empty(t, a.Parents)
	assert.Empty(t, a.Children)
}

func TestCycleExcludesSelf(t *testing.T) {
	g, err := Build(context.Background(),
		[]models.Artifact{artifact("A", "x"), artifact("B", "x"), artifact("C", "x")},
		[]models.TraceLink{edge("A", "B"), edge("B", "C"), edge("C", "A")},
	)
	require.NoError(t, err)
	for id, v := range g.Views() {
		assert.NotContains(t, v.Subtree, id)
		assert.NotContains(t, v.Supertree, id)
		assert.Len(t, v.Subtree, 2, id)
		assert.Len(t, v.Supertree, 2, id)
	}
}

func TestNodeNotFound(t *testing.T) {
	g, err := Build(context.Background(), nil, nil)
	require.NoError(t, err)
	_, err = g.View("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = g.NeighborhoodWithTypes("missing", nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNeighborhoodWithTypes(t *testing.T) {
	// R1 <- D1 <- C1, R1 <- T1, D1 <- D2, C1 <- D3
	g, err := Build(context.Background(),
		[]models.Artifact{
			artifact("R1", "requirement"),
			artifact("D1", "design"),
			artifact("D2", "design"),
			artifact("D3", "design"),
			artifact("C1", "code"),
			artifact("T1", "test"),
		},
		[]models.TraceLink{edge("D1", "R1"), edge("C1", "D1"), edge("T1", "R1"), edge("D2", "D1"), edge("D3", "C1")},
	)
	require.NoError(t, err)

	got, err := g.NeighborhoodWithTypes("R1", []string{"design"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, got, "C1 blocks the way to D3")

	got, err = g.NeighborhoodWithTypes("R1", []string{"design", "code"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "D1", "D2", "D3"}, got)

	got, err = g.NeighborhoodWithTypes("D1", []string{"design"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, got, "the start node is never collected")

	got, err = g.NeighborhoodWithTypes("C1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func randomGraph(r *rand.Rand, n, m int) ([]models.Artifact, []models.TraceLink) {
	arts := make([]models.Artifact, n)
	for i := range arts {
		arts[i] = artifact(fmt.Sprintf("n%03d", i), "x")
	}
	traces := make([]models.TraceLink, m)
	for i := range traces {
		traces[i] = edge(arts[r.Intn(n)].ID, arts[r.Intn(n)].ID)
	}
	return arts, traces
}

func TestClosureDualityAndParallelAgreement(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		arts, traces := randomGraph(r, 40, 70)

		bfs, err := Build(context.Background(), arts, traces)
		require.NoError(t, err)
		par, err := Build(context.Background(), arts, traces, WithClosure(ParallelClosure{Workers: 4}))
		require.NoError(t, err)

		bfsViews, parViews := bfs.Views(), par.Views()
		assert.Equal(t, bfsViews, parViews, "round %d", round)

		for x, vx := range bfsViews {
			assert.NotContains(t, vx.Subtree, x)
			assert.NotContains(t, vx.Supertree, x)
			for _, y := range vx.Subtree {
				assert.Contains(t, bfsViews[y].Supertree, x, "%s in subtree(%s) but not dual", y, x)
			}
			for _, y := range vx.Supertree {
				assert.Contains(t, bfsViews[y].Subtree, x)
			}
		}
	}
}

func TestBuildHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, []models.Artifact{artifact("A", "x")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeReader struct {
	snap *storage.Snapshot
}

func (f fakeReader) Snapshot(context.Context, models.ProjectVersion) (*storage.Snapshot, error) {
	return f.snap, nil
}

func TestLoad(t *testing.T) {
	reader := fakeReader{snap: &storage.Snapshot{
		Artifacts: []models.Artifact{artifact("A", "req"), artifact("B", "design")},
		Traces:    []models.TraceLink{edge("B", "A")},
	}}
	g, err := Load(context.Background(), reader, models.ProjectVersion{Major: 1, Minor: 1, Revision: 1})
	require.NoError(t, err)
	b, err := g.View("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, b.Supertree)
	assert.Equal(t, "name-B", b.Name)
}

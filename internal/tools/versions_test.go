package tools

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

func openProject(t *testing.T) *storage.ProjectStore {
	t.Helper()
	logger, _ := test.NewNullLogger()
	meta, err := storage.OpenMeta(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	proj, err := meta.CreateProject(context.Background(), "versions", "")
	require.NoError(t, err)
	ps, err := meta.OpenProjectStore(proj)
	require.NoError(t, err)
	return ps
}

func TestResolveVersionWithoutVersions(t *testing.T) {
	ps := openProject(t)
	defer ps.Close()

	_, err := resolveVersion(context.Background(), ps, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Contains(t, err.Error(), "no version yet")
}

func TestResolveVersionReportsStoreFailures(t *testing.T) {
	ctx := context.Background()
	ps := openProject(t)
	_, err := ps.NextVersion(ctx, models.BumpRevision, "tester")
	require.NoError(t, err)

	pv, err := resolveVersion(ctx, ps, "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1", pv.String())

	require.NoError(t, ps.Close())
	_, err = resolveVersion(ctx, ps, "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
	assert.NotContains(t, err.Error(), "no version yet")
}

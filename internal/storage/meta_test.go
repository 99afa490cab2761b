package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "trace-store-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func setupMeta(t *testing.T) (*MetaStore, string) {
	t.Helper()
	dir := tempDir(t)
	meta, err := OpenMeta(dir, nullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return meta, dir
}

func TestOpenMeta(t *testing.T) {
	_, dir := setupMeta(t)

	for _, sub := range []string{"projects", "archive"} {
		_, err := os.Stat(filepath.Join(dir, sub))
		assert.NoError(t, err, "expected %s dir to exist", sub)
	}
	_, err := os.Stat(filepath.Join(dir, "_meta.db"))
	assert.NoError(t, err, "expected _meta.db to exist")
}

func TestCreateAndGetProject(t *testing.T) {
	ctx := context.Background()
	meta, dir := setupMeta(t)

	proj, err := meta.CreateProject(ctx, "test-project", "A test project")
	require.NoError(t, err)
	assert.Equal(t, "test-project", proj.Name)
	assert.Equal(t, "A test project", proj.Description)
	assert.Equal(t, "active", proj.Status)
	assert.NotEmpty(t, proj.ID)

	_, err = os.Stat(filepath.Join(dir, proj.DBPath))
	assert.NoError(t, err, "project db file should exist")

	got, err := meta.GetProjectByName(ctx, "test-project")
	require.NoError(t, err)
	assert.Equal(t, proj.ID, got.ID)

	got, err = meta.GetProjectByID(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, "test-project", got.Name)
}

func TestCreateDuplicateProject(t *testing.T) {
	ctx := context.Background()
	meta, _ := setupMeta(t)

	_, err := meta.CreateProject(ctx, "dup", "")
	require.NoError(t, err)
	_, err = meta.CreateProject(ctx, "dup", "")
	assert.Error(t, err, "duplicate project name")
}

func TestListProjects(t *testing.T) {
	ctx := context.Background()
	meta, _ := setupMeta(t)

	for _, name := range []string{"beta", "alpha"} {
		_, err := meta.CreateProject(ctx, name, "")
		require.NoError(t, err)
	}

	projects, err := meta.ListProjects(ctx, "active")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name, "projects are listed by name")

	projects, err = meta.ListProjects(ctx, "archived")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestArchiveAndRestoreProject(t *testing.T) {
	ctx := context.Background()
	meta, dir := setupMeta(t)

	_, err := meta.CreateProject(ctx, "archivable", "")
	require.NoError(t, err)

	archived, err := meta.ArchiveProject(ctx, "archivable")
	require.NoError(t, err)
	assert.Equal(t, "archived", archived.Status)
	_, err = os.Stat(filepath.Join(dir, archived.DBPath))
	assert.NoError(t, err, "archived db should exist")

	_, err = meta.OpenProjectStore(archived)
	assert.Error(t, err, "archived projects cannot be opened")

	_, err = meta.ArchiveProject(ctx, "archivable")
	assert.Error(t, err, "archiving twice")

	projects, err := meta.ListProjects(ctx, "archived")
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	restored, err := meta.RestoreProject(ctx, "archivable")
	require.NoError(t, err)
	assert.Equal(t, "active", restored.Status)
	_, err = os.Stat(filepath.Join(dir, restored.DBPath))
	assert.NoError(t, err, "restored db should exist")

	ps, err := meta.OpenProjectStore(restored)
	require.NoError(t, err)
	ps.Close()
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	meta, dir := setupMeta(t)

	proj, err := meta.CreateProject(ctx, "deletable", "")
	require.NoError(t, err)
	dbPath := filepath.Join(dir, proj.DBPath)

	require.NoError(t, meta.DeleteProject(ctx, "deletable"))

	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "db file should have been deleted")

	projects, err := meta.ListProjects(ctx, "all")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestGetNonExistentProject(t *testing.T) {
	meta, _ := setupMeta(t)

	_, err := meta.GetProjectByName(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

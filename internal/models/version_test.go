package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(major, minor, revision int) ProjectVersion {
	return ProjectVersion{ProjectID: "p1", Major: major, Minor: minor, Revision: revision}
}

func TestVersionOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b ProjectVersion
		want int
	}{
		{"equal", v(1, 1, 1), v(1, 1, 1), 0},
		{"revision", v(1, 1, 1), v(1, 1, 2), -1},
		{"minor beats revision", v(1, 2, 0), v(1, 1, 9), 1},
		{"major beats minor", v(2, 0, 0), v(1, 9, 9), 1},
		{"numeric not lexical", v(1, 10, 0), v(1, 9, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want < 0, tt.a.IsLessThan(tt.b))
			assert.Equal(t, tt.want <= 0, tt.a.IsLessThanOrEqualTo(tt.b))
			assert.Equal(t, tt.want > 0, tt.a.IsGreaterThan(tt.b))
		})
	}
}

func TestCompareVersionsAcrossProjects(t *testing.T) {
	other := v(1, 1, 1)
	other.ProjectID = "p2"
	_, err := CompareVersions(v(1, 1, 1), other)
	assert.True(t, errors.Is(err, ErrCrossProject))
}

func TestNextVersion(t *testing.T) {
	base := v(1, 2, 3)

	major, err := base.Next(BumpMajor)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", major.String())

	minor, err := base.Next(BumpMinor)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", minor.String())

	rev, err := base.Next(BumpRevision)
	require.NoError(t, err)
	assert.Equal(t, "1.2.4", rev.String())
	assert.Equal(t, "p1", rev.ProjectID)

	_, err = base.Next("patch")
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	got, err := ParseVersion("v2.0.13")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Major)
	assert.Equal(t, 0, got.Minor)
	assert.Equal(t, 13, got.Revision)

	for _, bad := range []string{"", "1.2", "1.x.3", "1.2.-1", "1.2.3.4"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, "ParseVersion(%q)", bad)
	}
}

func TestSummarize(t *testing.T) {
	c := CommittedChanges{
		Version: v(1, 1, 1),
		Artifacts: []VersionRecord[Artifact]{
			{BaseID: "a1", ModificationType: Added},
			{BaseID: "a2", ModificationType: Removed},
		},
		Traces: []VersionRecord[TraceLink]{{BaseID: "t1", ModificationType: Modified}},
	}
	s := c.Summarize()
	assert.Equal(t, "p1", s.ProjectID)
	assert.Equal(t, []string{"a1"}, s.Changes[KindArtifact][Added])
	assert.Equal(t, []string{"a2"}, s.Changes[KindArtifact][Removed])
	assert.Equal(t, []string{"t1"}, s.Changes[KindTraceLink][Modified])
}

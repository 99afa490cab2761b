package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

func TestTraceInputDefaults(t *testing.T) {
	manual := TraceInput{SourceName: "DD-1", TargetName: "RE-1"}.model()
	assert.Equal(t, models.TraceManual, manual.TraceType)
	assert.Equal(t, models.ApprovalApproved, manual.ApprovalStatus)
	assert.Equal(t, 1.0, manual.Score)
	assert.True(t, manual.Visible)

	hidden := false
	score := 0.4
	generated := TraceInput{
		SourceID:  "a",
		TargetID:  "b",
		TraceType: "generated",
		Score:     &score,
		Visible:   &hidden,
	}.model()
	assert.Equal(t, models.ApprovalUnreviewed, generated.ApprovalStatus)
	assert.Equal(t, 0.4, generated.Score)
	assert.False(t, generated.Visible)

	declined := TraceInput{TraceType: "generated", ApprovalStatus: "declined"}.model()
	assert.Equal(t, models.ApprovalDeclined, declined.ApprovalStatus)
	assert.Zero(t, declined.Score)
}

func TestArtifactModels(t *testing.T) {
	out := artifactModels([]ArtifactInput{
		{Name: "RE-1", Type: "requirement", Attributes: map[string]string{"priority": "high"}},
		{ID: "id-2", Name: "DD-1", Type: "design"},
	})
	assert.Len(t, out, 2)
	assert.Equal(t, "high", out[0].Attributes["priority"])
	assert.Equal(t, "id-2", out[1].ID)
	assert.Empty(t, artifactModels(nil))
}

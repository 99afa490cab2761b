package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/session"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

const defaultActor = "mcp"

// VersionTools holds references needed by project version tool handlers.
type VersionTools struct {
	Session *session.Session
}

// --- Input types ---

type CreateVersionInput struct {
	Bump    string `json:"bump,omitempty" jsonschema:"Component to increment from the latest version: major, minor or revision (default)"`
	Version string `json:"version,omitempty" jsonschema:"Explicit major.minor.revision; must come after the latest version. Overrides bump"`
	Actor   string `json:"actor,omitempty" jsonschema:"Who creates the version"`
}

// --- Handlers ---

func (t *VersionTools) CreateVersion(ctx context.Context, _ *mcp.CallToolRequest, input CreateVersionInput) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	actor := actorOr(input.Actor)

	var (
		pv  models.ProjectVersion
		err error
	)
	if input.Version != "" {
		want, perr := models.ParseVersion(input.Version)
		if perr != nil {
			return toolError("Invalid version: %v", perr), nil, nil
		}
		pv, err = ps.CreateVersion(ctx, want.Major, want.Minor, want.Revision, actor)
	} else {
		pv, err = ps.NextVersion(ctx, models.VersionBump(input.Bump), actor)
	}
	if err != nil {
		return toolError("Failed to create version: %v", err), nil, nil
	}
	return toolJSON(pv)
}

func (t *VersionTools) ListVersions(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	versions, err := ps.ListVersions(ctx)
	if err != nil {
		return toolError("Failed to list versions: %v", err), nil, nil
	}
	if versions == nil {
		versions = []models.ProjectVersion{}
	}
	return toolJSON(versions)
}

// --- Helpers ---

func requireProject(sess *session.Session) (*storage.ProjectStore, *mcp.CallToolResult) {
	ps, err := sess.Require()
	if err != nil {
		return nil, toolError("No active project. Use switch_project to select one.")
	}
	return ps, nil
}

// resolveVersion maps a "major.minor.revision" argument to a stored version;
// an empty argument means the latest one.
func resolveVersion(ctx context.Context, ps *storage.ProjectStore, s string) (models.ProjectVersion, error) {
	if s == "" {
		pv, err := ps.LatestVersion(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return pv, errors.Wrap(err, "project has no version yet, use create_version")
		}
		return pv, errors.Wrap(err, "read latest version")
	}
	pv, err := models.ParseVersion(s)
	if err != nil {
		return pv, err
	}
	return ps.ResolveVersion(ctx, pv)
}

func actorOr(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

// ErrNoProject is returned by Require when no project is active.
var ErrNoProject = errors.New("no active project")

// Session holds the current project context for an MCP session.
type Session struct {
	mu                 sync.Mutex
	currentProjectID   string
	currentProjectName string
	projectDB          *storage.ProjectStore
}

// New creates a new empty session with no active project.
func New() *Session {
	return &Session{}
}

// SwitchProject closes the current project (if any) and opens the given one.
func (s *Session) SwitchProject(ctx context.Context, meta *storage.MetaStore, name string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := meta.GetProjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	pdb, err := meta.OpenProjectStore(proj)
	if err != nil {
		return nil, errors.Wrap(err, "open project db")
	}

	if s.projectDB != nil {
		s.projectDB.Close()
	}
	s.currentProjectID = proj.ID
	s.currentProjectName = proj.Name
	s.projectDB = pdb
	return proj, nil
}

// GetCurrent returns info about the current project, or ok=false if none is active.
func (s *Session) GetCurrent() (id, name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectDB == nil {
		return "", "", false
	}
	return s.currentProjectID, s.currentProjectName, true
}

// ProjectStore returns the current project's storage, or nil if no project is active.
func (s *Session) ProjectStore() *storage.ProjectStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectDB
}

// Require returns the current project's storage or ErrNoProject.
func (s *Session) Require() (*storage.ProjectStore, error) {
	if ps := s.ProjectStore(); ps != nil {
		return ps, nil
	}
	return nil, ErrNoProject
}

// ClearIf closes the current project when it is the named one.
func (s *Session) ClearIf(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentProjectName == name {
		s.clear()
	}
}

// Clear closes the current project and resets session state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Session) clear() {
	if s.projectDB != nil {
		s.projectDB.Close()
		s.projectDB = nil
	}
	s.currentProjectID = ""
	s.currentProjectName = ""
}

// Close is an alias for Clear, used during server shutdown.
func (s *Session) Close() {
	s.Clear()
}

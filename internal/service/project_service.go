package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
)

// ProjectService stages uploaded archives and keeps project records.
type ProjectService struct {
	store *store.Store
	ws    *workspace.Manager
	log   zerolog.Logger
}

func NewProjectService(st *store.Store, ws *workspace.Manager, log zerolog.Logger) *ProjectService {
	return &ProjectService{store: st, ws: ws, log: log}
}

// Create registers a new project and writes its archive to disk.
func (s *ProjectService) Create(ctx context.Context, archiveFilename string, archive io.Reader) (*model.Project, error) {
	project := &model.Project{
		ID:              uuid.New().String(),
		ArchiveFilename: archiveFilename,
		CreatedAt:       time.Now(),
	}

	if err := s.ws.SaveArchive(project, archive); err != nil {
		return nil, err
	}
	if err := s.store.SaveProject(ctx, project); err != nil {
		return nil, err
	}

	s.log.Info().Str("projectId", project.ID).Str("archive", archiveFilename).Msg("project uploaded")
	return project, nil
}

// Get loads a project record; store.ErrNotFound covers both unknown and
// expired projects.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*model.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
)

// Executor admits and supervises render processes. Implemented by the
// render coordinator.
type Executor interface {
	Start(ctx context.Context, job *model.Job) error
	Cancel(ctx context.Context, job *model.Job) error
}

// JobService creates jobs and fronts the executor for the HTTP layer.
type JobService struct {
	store    *store.Store
	ws       *workspace.Manager
	executor Executor
	mediaURL string
	log      zerolog.Logger
}

func NewJobService(st *store.Store, ws *workspace.Manager, executor Executor, mediaURL string, log zerolog.Logger) *JobService {
	return &JobService{
		store:    st,
		ws:       ws,
		executor: executor,
		mediaURL: mediaURL,
		log:      log,
	}
}

// StartRender creates a PENDING job for the project and hands it to the
// executor. Admission failures (busy, missing artifacts) roll the fresh
// record back; preparation failures keep it, terminally FAILED, as the
// durable record of the outcome.
func (s *JobService) StartRender(ctx context.Context, projectID string, settings *model.RenderSettings) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Settings:  settings,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.executor.Start(ctx, job); err != nil {
		if job.Status == model.StatusPending {
			_ = s.store.DeleteJob(ctx, job.ID)
		}
		return nil, err
	}
	return job, nil
}

// Get returns the job record, progress included when present.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel kills the job's render process via the executor.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.executor.Cancel(ctx, job); err != nil {
		return nil, err
	}
	return &model.CancelResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	}, nil
}

// Results lists the files the job has produced so far.
func (s *JobService) Results(ctx context.Context, jobID string) ([]model.RenderResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.ws.ListResults(job.ProjectID, job.ID, s.mediaURL)
}

// LogPath resolves the job's log file after confirming the job exists.
func (s *JobService) LogPath(ctx context.Context, jobID string) (string, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return "", err
	}
	return s.ws.JobLogPath(jobID), nil
}

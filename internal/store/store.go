package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/renderdeck/api/internal/model"
)

const (
	jobKeyPrefix      = "job:"
	projectKeyPrefix  = "project:"
	progressKeyPrefix = "render_progress:"
)

// Store persists job and project records as JSON under prefixed keys with a
// uniform TTL. Every write resets the key's clock: a job nobody touches
// again disappears after the retention window, even mid-render. Callers
// must treat a missing record as expired, not as corruption.
type Store struct {
	kv  KV
	ttl time.Duration
}

func New(kv KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// TTL is the retention window applied to every write.
func (s *Store) TTL() time.Duration { return s.ttl }

func jobKey(id string) string      { return jobKeyPrefix + id }
func projectKey(id string) string  { return projectKeyPrefix + id }
func progressKey(id string) string { return progressKeyPrefix + id }

func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.kv.Set(ctx, jobKey(job.ID), data, s.ttl)
}

// GetJob loads a job and, when present, merges the separately written
// progress record into it.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.kv.Get(ctx, jobKey(jobID))
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	if progress, err := s.GetProgress(ctx, jobID); err == nil {
		job.Progress = progress
	}
	return &job, nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.kv.Del(ctx, jobKey(jobID)); err != nil {
		return err
	}
	return s.kv.Del(ctx, progressKey(jobID))
}

// RenderingJobs returns every stored job currently marked RENDERING. Used
// by the startup sweep that fails jobs orphaned by a service crash.
func (s *Store) RenderingJobs(ctx context.Context) ([]*model.Job, error) {
	keys, err := s.kv.Keys(ctx, jobKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var jobs []*model.Job
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // expired between scan and read
			}
			return nil, err
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if job.Status == model.StatusRendering {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}

func (s *Store) SaveProject(ctx context.Context, project *model.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	return s.kv.Set(ctx, projectKey(project.ID), data, s.ttl)
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	data, err := s.kv.Get(ctx, projectKey(projectID))
	if err != nil {
		return nil, err
	}
	var project model.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("unmarshal project %s: %w", projectID, err)
	}
	return &project, nil
}

func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	return s.kv.Del(ctx, projectKey(projectID))
}

func (s *Store) SaveProgress(ctx context.Context, jobID string, progress *model.RenderProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.kv.Set(ctx, progressKey(jobID), data, s.ttl)
}

func (s *Store) GetProgress(ctx context.Context, jobID string) (*model.RenderProgress, error) {
	data, err := s.kv.Get(ctx, progressKey(jobID))
	if err != nil {
		return nil, err
	}
	var progress model.RenderProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("unmarshal progress %s: %w", jobID, err)
	}
	return &progress, nil
}

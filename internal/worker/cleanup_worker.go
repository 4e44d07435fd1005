package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
)

// TaskTypeWorkspaceCleanup is the periodic maintenance task that purges
// project directories whose store records have expired.
const TaskTypeWorkspaceCleanup = "workspace:cleanup"

// QueueMaintenance is the asynq queue cleanup tasks run on.
const QueueMaintenance = "maintenance"

// ActiveReporter tells the worker which project, if any, currently has a
// render attached, so its directory is never swept mid-render.
type ActiveReporter interface {
	Active() (jobID, projectID string, ok bool)
}

// CleanupWorker reconciles the on-disk workspace with the record store.
// Store records expire by TTL on their own; their directories do not, so a
// periodic sweep removes trees whose project key is gone.
type CleanupWorker struct {
	store  *store.Store
	ws     *workspace.Manager
	active ActiveReporter
	log    zerolog.Logger
}

func NewCleanupWorker(st *store.Store, ws *workspace.Manager, active ActiveReporter, log zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		store:  st,
		ws:     ws,
		active: active,
		log:    log,
	}
}

// NewCleanupTask builds the task enqueued by the scheduler.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeWorkspaceCleanup, nil)
}

// ProcessTask sweeps the data directory.
func (w *CleanupWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	ids, err := w.ws.ProjectIDs()
	if err != nil {
		return err
	}

	activeProject := ""
	if _, projectID, ok := w.active.Active(); ok {
		activeProject = projectID
	}

	purged := 0
	for _, id := range ids {
		if id == activeProject {
			continue
		}
		_, err := w.store.GetProject(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := w.ws.PurgeProject(id); err != nil {
			w.log.Error().Err(err).Str("projectId", id).Msg("failed to purge expired project")
			continue
		}
		purged++
	}
	if purged > 0 {
		w.log.Info().Int("purged", purged).Msg("workspace cleanup removed expired projects")
	}
	return nil
}

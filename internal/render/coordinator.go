// Package render supervises the external renderer process and enforces the
// service-wide rule that at most one render runs at a time.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/client"
	"github.com/renderdeck/api/internal/config"
	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/service"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/workspace"
)

var (
	// ErrBusy means the single admission slot is already occupied.
	ErrBusy = errors.New("render service is busy")
	// ErrAlreadyRendering means a start was retried on a job that is running.
	ErrAlreadyRendering = errors.New("job is already rendering")
	// ErrNotRendering means a cancel arrived with no process attached.
	ErrNotRendering = errors.New("job is not rendering")
)

// processSlot is the single service-wide admission token. jobID is set when
// the slot is reserved; cmd only once the process has actually been spawned.
type processSlot struct {
	jobID     string
	projectID string
	cmd       *exec.Cmd
}

// Coordinator launches, tracks and kills the external render process. All
// slot handling goes through c.mu: reserve is an atomic check-and-set and
// release happens on every exit path of the reconciliation goroutine.
type Coordinator struct {
	store     *store.Store
	ws        *workspace.Manager
	lifecycle *service.Lifecycle
	cfg       *config.RenderConfig
	artifacts client.StorageClient
	log       zerolog.Logger

	mu     sync.Mutex
	active *processSlot
}

func NewCoordinator(
	st *store.Store,
	ws *workspace.Manager,
	lc *service.Lifecycle,
	cfg *config.RenderConfig,
	artifacts client.StorageClient,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		store:     st,
		ws:        ws,
		lifecycle: lc,
		cfg:       cfg,
		artifacts: artifacts,
		log:       log,
	}
}

// Start admits the job, transitions it to RENDERING, spawns the renderer and
// returns without waiting for it; a background goroutine reconciles the final
// status. Preparation and launch errors are returned synchronously and leave
// the job FAILED. Validation failures before the transition leave the job
// untouched.
func (c *Coordinator) Start(ctx context.Context, job *model.Job) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.active = &processSlot{jobID: job.ID, projectID: job.ProjectID}
	c.mu.Unlock()

	// The slot is reserved: every failure below must free it.
	project, err := c.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		c.releaseSlot()
		return err
	}
	if !c.ws.HasArchive(project) {
		c.releaseSlot()
		return workspace.ErrArchiveNotFound
	}
	if job.Status == model.StatusRendering {
		c.releaseSlot()
		return ErrAlreadyRendering
	}

	// Persist the transition before touching any resource, so a crash here
	// leaves a RENDERING record the startup sweep can recover.
	if err := c.lifecycle.Transition(ctx, job, model.StatusRendering); err != nil {
		c.releaseSlot()
		return err
	}

	cmd, logFile, outputDir, err := c.launch(job, project)
	if err != nil {
		if failErr := c.lifecycle.Fail(ctx, job, err.Error()); failErr != nil {
			c.log.Error().Err(failErr).Str("jobId", job.ID).Msg("failed to record launch failure")
		}
		c.releaseSlot()
		return err
	}

	job.PID = cmd.Process.Pid
	if err := c.store.SaveJob(ctx, job); err != nil {
		c.log.Error().Err(err).Str("jobId", job.ID).Msg("failed to persist process handle")
	}

	c.mu.Lock()
	c.active.cmd = cmd
	c.mu.Unlock()

	c.log.Info().Str("jobId", job.ID).Int("pid", cmd.Process.Pid).Msg("render process started")
	go c.awaitAndReconcile(job.ID, job.ProjectID, job.Settings.FrameSpec, cmd, logFile, outputDir)
	return nil
}

// launch prepares the working directory and spawns the renderer. Unpacking
// reuses an already populated extract directory from a previous attempt.
func (c *Coordinator) launch(job *model.Job, project *model.Project) (*exec.Cmd, *os.File, string, error) {
	if err := c.ws.Unpack(project); err != nil {
		return nil, nil, "", err
	}
	scenePath, err := c.ws.LocateSceneFile(project.ID)
	if err != nil {
		return nil, nil, "", err
	}
	outputDir, err := c.ws.EnsureOutputDir(project.ID, job.ID)
	if err != nil {
		return nil, nil, "", err
	}
	logFile, err := c.ws.OpenJobLog(job.ID)
	if err != nil {
		return nil, nil, "", err
	}

	cmd := exec.Command(c.cfg.BlenderBin, buildArgs(c.cfg.ScriptPath, job, scenePath, outputDir)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, nil, "", fmt.Errorf("spawn renderer: %w", err)
	}
	return cmd, logFile, outputDir, nil
}

// awaitAndReconcile blocks until the renderer exits, then settles the job's
// terminal status. The slot is freed on every path.
func (c *Coordinator) awaitAndReconcile(jobID, projectID string, spec model.FrameSpec, cmd *exec.Cmd, logFile *os.File, outputDir string) {
	defer c.releaseSlot()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go c.watchProgress(watchCtx, jobID, spec)

	timedOut, waitErr := c.wait(cmd)
	logFile.Close()

	if c.settle(jobID, timedOut, waitErr) {
		c.mirrorArtifacts(context.Background(), projectID, jobID, outputDir)
	}
}

// settle writes the job's terminal status after process exit and reports
// whether the render completed. It holds the slot mutex across the re-read
// and the write: Cancel runs under the same mutex, so a cancel that
// persisted CANCELLED is always observed here and never overwritten, and
// one arriving after us finds a terminal record and is rejected.
func (c *Coordinator) settle(jobID string, timedOut bool, waitErr error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		// The record can expire mid-render; there is nothing left to update.
		c.log.Warn().Err(err).Str("jobId", jobID).Msg("job record gone after process exit")
		return false
	}

	switch {
	case job.Status == model.StatusCancelled:
		c.log.Info().Str("jobId", jobID).Msg("render cancelled")
	case timedOut:
		c.failJob(ctx, job, "render timed out")
	case waitErr != nil:
		c.failJob(ctx, job, fmt.Sprintf("renderer exited: %v", waitErr))
	default:
		job.PID = 0
		if err := c.lifecycle.Transition(ctx, job, model.StatusCompleted); err != nil {
			c.log.Error().Err(err).Str("jobId", jobID).Msg("failed to complete job")
			return false
		}
		c.log.Info().Str("jobId", jobID).Msg("render completed")
		return true
	}
	return false
}

// wait blocks on process exit, enforcing the configured wall-clock timeout
// when one is set.
func (c *Coordinator) wait(cmd *exec.Cmd) (timedOut bool, waitErr error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := time.Duration(c.cfg.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		return false, <-done
	}
	select {
	case err := <-done:
		return false, err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return true, nil
	}
}

func (c *Coordinator) failJob(ctx context.Context, job *model.Job, reason string) {
	if err := c.lifecycle.Fail(ctx, job, reason); err != nil {
		c.log.Error().Err(err).Str("jobId", job.ID).Str("reason", reason).Msg("failed to record job failure")
		return
	}
	c.log.Warn().Str("jobId", job.ID).Str("reason", reason).Msg("render failed")
}

// Cancel hard-kills the attached process. It runs entirely under the slot
// mutex, with the job's status re-read inside it: settle is the only other
// terminal-status writer and takes the same mutex, so a cancel that returns
// success has persisted CANCELLED before any completion write can happen,
// and a cancel losing the race to a natural exit is rejected instead of
// overwriting the terminal record. The renderer offers no graceful
// cancellation hook.
func (c *Coordinator) Cancel(ctx context.Context, job *model.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.jobID != job.ID || c.active.cmd == nil {
		return ErrNotRendering
	}

	fresh, err := c.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.Status = fresh.Status
	if job.Status != model.StatusRendering {
		return ErrNotRendering
	}

	job.PID = 0
	if err := c.lifecycle.Transition(ctx, job, model.StatusCancelled); err != nil {
		return err
	}
	if err := c.active.cmd.Process.Kill(); err != nil {
		// Process may have exited between the status write and the kill.
		c.log.Debug().Err(err).Str("jobId", job.ID).Msg("kill after process exit")
	}
	return nil
}

// Active reports the job currently holding the slot, if any.
func (c *Coordinator) Active() (jobID, projectID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", "", false
	}
	return c.active.jobID, c.active.projectID, true
}

// Shutdown kills the attached process so the renderer does not outlive the
// service. The reconciliation goroutine records the resulting failure.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.cmd != nil {
		_ = c.active.cmd.Process.Kill()
	}
}

func (c *Coordinator) releaseSlot() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

// mirrorArtifacts uploads the produced frames to the configured object
// store. Mirroring is best effort: the job is already COMPLETED and local
// files remain the source of truth.
func (c *Coordinator) mirrorArtifacts(ctx context.Context, projectID, jobID, outputDir string) {
	if c.artifacts == nil {
		return
	}
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		c.log.Error().Err(err).Str("jobId", jobID).Msg("failed to read output dir for mirroring")
		return
	}
	mirrored := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file, err := os.Open(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			c.log.Error().Err(err).Str("file", entry.Name()).Msg("failed to open artifact")
			continue
		}
		key := fmt.Sprintf("%s/%s/rendered/%s", projectID, jobID, entry.Name())
		if _, err := c.artifacts.Upload(ctx, key, file, "application/octet-stream"); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("failed to mirror artifact")
		} else {
			mirrored++
		}
		file.Close()
	}
	c.log.Info().Str("jobId", jobID).Int("files", mirrored).Msg("artifacts mirrored")
}

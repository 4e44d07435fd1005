package render

import (
	"context"
	"regexp"
	"strconv"

	"github.com/renderdeck/api/internal/logtail"
	"github.com/renderdeck/api/internal/model"
)

// The renderer announces each written frame on its log stream.
var writeFrameRe = regexp.MustCompile(`Write Frame: (\d+)`)

// watchProgress tails the job log for the lifetime of the render process and
// overwrites the job's progress record whenever a frame lands. It exits when
// ctx is cancelled by the reconciliation step.
func (c *Coordinator) watchProgress(ctx context.Context, jobID string, spec model.FrameSpec) {
	total := spec.TotalFrames()
	last := spec.LastFrame()

	follower := logtail.New(c.ws.JobLogPath(jobID))
	follower.WaitForFile = true

	err := follower.Follow(ctx, func(line string) error {
		match := writeFrameRe.FindStringSubmatch(line)
		if match == nil {
			return nil
		}
		frame, err := strconv.Atoi(match[1])
		if err != nil {
			return nil
		}
		remaining := last - frame
		if remaining < 0 {
			remaining = 0
		}
		progress := &model.RenderProgress{
			CurrentFrame:    frame,
			TotalFrames:     total,
			RemainingFrames: remaining,
		}
		if err := c.store.SaveProgress(ctx, jobID, progress); err != nil {
			c.log.Error().Err(err).Str("jobId", jobID).Msg("failed to save render progress")
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		c.log.Debug().Err(err).Str("jobId", jobID).Msg("progress watcher stopped")
	}
}

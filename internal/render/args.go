package render

import (
	"strconv"

	"github.com/renderdeck/api/internal/model"
)

// buildArgs assembles the renderer invocation. Everything after "--" is the
// versioned argument contract the render script parses; changing flag names
// here breaks the integration boundary with the renderer.
func buildArgs(scriptPath string, job *model.Job, scenePath, outputDir string) []string {
	s := job.Settings
	return []string{
		"--background",
		"--python", scriptPath,
		"--",
		"--job-id", job.ID,
		"--blender-file-path", scenePath,
		"--resolution-x", strconv.Itoa(s.ResolutionX),
		"--resolution-y", strconv.Itoa(s.ResolutionY),
		"--engine", string(s.Engine),
		"--output-format", string(s.OutputFormat),
		"--frame-range", s.FrameSpec.Arg(),
		"--output-dir", outputDir,
	}
}

package model

import "time"

// Project is an uploaded source bundle that render jobs draw from. It stays
// on disk (and in the store, until its TTL lapses) independently of the jobs
// rendered against it.
type Project struct {
	ID              string    `json:"projectId"`
	ArchiveFilename string    `json:"archiveFilename"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Job is one render attempt against a project. It is created PENDING and
// mutated only through the lifecycle transition function. Records expire
// from the store after the retention window no matter their status, so a
// status query for an old job may legitimately come back not-found.
type Job struct {
	ID          string          `json:"jobId"`
	ProjectID   string          `json:"projectId"`
	Settings    *RenderSettings `json:"renderSettings,omitempty"`
	Status      Status          `json:"status"`
	Error       *string         `json:"error,omitempty"`
	PID         int             `json:"pid,omitempty"`
	Progress    *RenderProgress `json:"renderProgress,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// RenderProgress is a small, frequently overwritten record kept under its
// own store key and merged into the job on read.
type RenderProgress struct {
	CurrentFrame    int `json:"currentFrame"`
	TotalFrames     int `json:"totalFrames"`
	RemainingFrames int `json:"remainingFrames"`
}

// RenderResult describes one produced artifact file.
type RenderResult struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  Status `json:"status"`
}

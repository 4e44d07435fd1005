package model

// Status is the lifecycle state of a render job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRendering Status = "RENDERING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> next exists in the job
// lifecycle. PENDING may only move to RENDERING; RENDERING may finish as
// COMPLETED, CANCELLED or FAILED; terminal states have no outgoing edges.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRendering
	case StatusRendering:
		return next == StatusCompleted || next == StatusCancelled || next == StatusFailed
	}
	return false
}

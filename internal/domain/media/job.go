package media

import "time"

// JobStatus describes merge job state.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MergeJob is an asynchronous request to combine assets into one output asset.
type MergeJob struct {
	ID            string
	CreatorID     string
	InputAssetIDs []string
	RemoveSilence bool
	Status        JobStatus
	Progress      int
	OutputAssetID string
	Error         string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// CreatedBy reports whether the given user submitted the job.
func (j MergeJob) CreatedBy(userID string) bool {
	return userID != "" && j.CreatorID == userID
}

// References reports whether the job lists assetID among its inputs.
func (j MergeJob) References(assetID string) bool {
	for _, id := range j.InputAssetIDs {
		if id == assetID {
			return true
		}
	}
	return false
}

// ClampProgress bounds a percent value to [0,100].
func ClampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

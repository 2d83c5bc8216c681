package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// RunStats are the counters accumulated over one pipeline run. They are the
// operator's only aggregate success signal.
type RunStats struct {
	TotalSessions            int `json:"total_sessions"`
	SuccessfulSessions       int `json:"successful_sessions"`
	SkippedSessions          int `json:"skipped_sessions"`
	FailedSessions           int `json:"failed_sessions"`
	TotalDataTypes           int `json:"total_data_types"`
	FailedDataTypes          int `json:"failed_data_types"`
	SprintQualifyingSessions int `json:"sprint_qualifying_sessions"`
	Pre2018Warnings          int `json:"pre_2018_warnings"`
}

// SuccessRate is the share of attempted sessions that completed, in percent.
func (s RunStats) SuccessRate() float64 {
	if s.TotalSessions == 0 {
		return 0
	}
	return float64(s.SuccessfulSessions) / float64(s.TotalSessions) * 100
}

// PipelineRun is one invocation of the pipeline, persisted for audit.
type PipelineRun struct {
	ID          uuid.UUID  `json:"id"`
	Years       []int      `json:"years"`
	GrandPrix   string     `json:"grand_prix,omitempty"`
	Session     string     `json:"session,omitempty"`
	Status      RunStatus  `json:"status"`
	Stats       RunStats   `json:"stats"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

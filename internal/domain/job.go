package domain

import "time"

// JobStatus is the persisted status of one pipeline execution. Transitions
// are monotonic except failed → retrying → processing.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobAnalyzed   JobStatus = "analyzed"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

var jobStatusRank = map[JobStatus]int{
	JobPending:    0,
	JobProcessing: 1,
	JobAnalyzed:   2,
	JobCompleted:  3,
	JobFailed:     3,
	JobRetrying:   3,
}

var jobStatuses = []JobStatus{
	JobPending, JobProcessing, JobAnalyzed, JobCompleted, JobFailed, JobRetrying,
}

// CanTransition reports whether moving from one status to another respects
// the monotonic rule and the failed → retrying → processing loop.
func CanTransition(from, to JobStatus) bool {
	if from == JobFailed {
		return to == JobRetrying
	}
	if from == JobRetrying {
		return to == JobProcessing || to == JobFailed
	}
	if from == JobCompleted {
		return false
	}
	return jobStatusRank[to] >= jobStatusRank[from]
}

// TransitionSources lists the statuses from which a transition into the given
// status is legal, so stores can make the rule part of a conditional update.
func TransitionSources(to JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range jobStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Stage names one step of the processing state machine.
type Stage string

const (
	StageValidating         Stage = "validating"
	StageLoadingConfig      Stage = "loading_config"
	StageBuildingThread     Stage = "building_thread"
	StageAnalyzing          Stage = "analyzing"
	StageMappingAndCreating Stage = "mapping_and_creating"
	StageAcknowledging      Stage = "acknowledging"
)

// Stages lists the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{
		StageValidating,
		StageLoadingConfig,
		StageBuildingThread,
		StageAnalyzing,
		StageMappingAndCreating,
		StageAcknowledging,
	}
}

// StageOutcome records one stage's result on a job.
type StageOutcome struct {
	Stage      Stage     `json:"stage"`
	Success    bool      `json:"success"`
	Error      *string   `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// CreatedTaskRef points at a destination record created for a detected task.
type CreatedTaskRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Job is the persisted record of one pipeline execution.
type Job struct {
	ID                 int64            `json:"id"`
	ThreadID           string           `json:"thread_id"`
	TeamID             string           `json:"team_id"`
	Source             SourceType       `json:"source"`
	Status             JobStatus        `json:"status"`
	Attempt            int              `json:"attempt"`
	LastCompletedStage *Stage           `json:"last_completed_stage,omitempty"`
	FailedStage        *Stage           `json:"failed_stage,omitempty"`
	Error              *string          `json:"error,omitempty"`
	Stages             []StageOutcome   `json:"stages,omitempty"`
	CreatedTasks       []CreatedTaskRef `json:"created_tasks,omitempty"`
	IsMultiTask        bool             `json:"is_multi_task"`
	ProcessingTime     time.Duration    `json:"processing_time"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ProcessingResult is the in-process return value of one pipeline run.
type ProcessingResult struct {
	ThreadID string `json:"thread_id"`
	// Deferred marks a run halted after config loading because the team
	// disabled auto-processing; the job stays pending for a manual run.
	Deferred       bool             `json:"deferred,omitempty"`
	Analysis       *AnalysisResult  `json:"analysis,omitempty"`
	CreatedTasks   []CreatedTaskRef `json:"created_tasks"`
	TaskErrors     []string         `json:"task_errors,omitempty"`
	IsMultiTask    bool             `json:"is_multi_task"`
	ProcessingTime time.Duration    `json:"processing_time"`
}

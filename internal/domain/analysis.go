package domain

import "time"

// TaskPriority is the fixed priority vocabulary the model is constrained to.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// TaskKind classifies the nature of a detected work item.
type TaskKind string

const (
	TaskKindBug     TaskKind = "bug"
	TaskKindFeature TaskKind = "feature"
	TaskKindChore   TaskKind = "chore"
	TaskKindDesign  TaskKind = "design"
	TaskKindDocs    TaskKind = "docs"
)

// AISummary is the summary half of an analysis result.
type AISummary struct {
	Summary         string       `json:"summary"`
	KeyPoints       []string     `json:"key_points"`
	Sentiment       Opt[string]  `json:"sentiment"`
	Confidence      Opt[float64] `json:"confidence"`
	RoutingCategory Opt[string]  `json:"routing_category"`
}

// DetectedTask is one candidate work item. The four confidence-gated fields
// stay Unknown when the model declines to assert a value.
type DetectedTask struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	ActionItems     []string          `json:"action_items,omitempty"`
	Priority        Opt[TaskPriority] `json:"priority"`
	Kind            Opt[TaskKind]     `json:"type"`
	Assignee        Opt[string]       `json:"assignee"`
	RoutingCategory Opt[string]       `json:"routing_category"`
}

// TaskDetectionResult is the task-detection half of an analysis result.
type TaskDetectionResult struct {
	IsMultiTask bool           `json:"is_multi_task"`
	Tasks       []DetectedTask `json:"tasks"`
	Confidence  float64        `json:"confidence"`
}

// AnalysisResult bundles both model outputs for one thread.
type AnalysisResult struct {
	Summary        AISummary           `json:"summary"`
	TaskDetection  TaskDetectionResult `json:"task_detection"`
	ProcessingTime time.Duration       `json:"processing_time"`
	Cached         bool                `json:"cached"`
}

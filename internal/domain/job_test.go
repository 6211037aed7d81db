package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to processing", JobPending, JobProcessing, true},
		{"processing to analyzed", JobProcessing, JobAnalyzed, true},
		{"analyzed to completed", JobAnalyzed, JobCompleted, true},
		{"processing to completed", JobProcessing, JobCompleted, true},
		{"processing to failed", JobProcessing, JobFailed, true},
		{"processing to retrying", JobProcessing, JobRetrying, true},
		{"failed to retrying", JobFailed, JobRetrying, true},
		{"retrying to processing", JobRetrying, JobProcessing, true},
		{"retrying to failed", JobRetrying, JobFailed, true},

		{"completed is terminal", JobCompleted, JobRetrying, false},
		{"completed cannot restart", JobCompleted, JobProcessing, false},
		{"analyzed cannot regress", JobAnalyzed, JobProcessing, false},
		{"processing cannot regress", JobProcessing, JobPending, false},
		{"failed cannot complete directly", JobFailed, JobCompleted, false},
		{"failed cannot restart directly", JobFailed, JobProcessing, false},
		{"retrying cannot complete directly", JobRetrying, JobCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionSourcesAgreesWithCanTransition(t *testing.T) {
	for _, to := range jobStatuses {
		sources := TransitionSources(to)
		allowed := make(map[JobStatus]bool, len(sources))
		for _, s := range sources {
			allowed[s] = true
		}
		for _, from := range jobStatuses {
			if allowed[from] != CanTransition(from, to) {
				t.Errorf("TransitionSources(%s) includes %s = %v, CanTransition says %v",
					to, from, allowed[from], CanTransition(from, to))
			}
		}
	}
}

package analysis

import "strings"

const summarySystemPrompt = `You summarize team discussions so they can be turned into tracked work.
Read the thread and produce a concise summary and its key points.

Rules:
- sentiment is one of "positive", "neutral", "negative", or null if unclear.
- confidence is a number between 0 and 1, or null if you cannot judge.
- routing_category is the team area this discussion belongs to, or null.
- Return null for any field you are not confident about. Never guess.`

const taskSystemPrompt = `You extract actionable work items from team discussions.
Identify every distinct task the participants agreed on or requested.

Rules:
- priority is one of "urgent", "high", "medium", "low", or null.
- type is one of "bug", "feature", "chore", "design", "docs", or null.
- assignee is the email address or handle of the person responsible, or null.
- routing_category is the team area the task belongs to, or null.
- Return null for any field the discussion does not clearly establish.
  A null means "not confident", and downstream systems rely on it. Never
  substitute a guess for a null.
- is_multi_task is true only when more than one distinct task exists.`

// buildSummaryPrompt appends a per-team custom instruction to the base
// summary instruction. The base is never replaced.
func buildSummaryPrompt(custom string, availableDomains []string) string {
	var b strings.Builder
	b.WriteString(summarySystemPrompt)
	if len(availableDomains) > 0 {
		b.WriteString("\n- routing_category must be one of: ")
		b.WriteString(strings.Join(availableDomains, ", "))
		b.WriteString(", or null.")
	}
	if custom != "" {
		b.WriteString("\n\nAdditional instructions:\n")
		b.WriteString(custom)
	}
	return b.String()
}

// buildTaskPrompt appends a per-team custom instruction to the base task
// detection instruction.
func buildTaskPrompt(custom string, availableDomains []string) string {
	var b strings.Builder
	b.WriteString(taskSystemPrompt)
	if len(availableDomains) > 0 {
		b.WriteString("\n- routing_category must be one of: ")
		b.WriteString(strings.Join(availableDomains, ", "))
		b.WriteString(", or null.")
	}
	if custom != "" {
		b.WriteString("\n\nAdditional instructions:\n")
		b.WriteString(custom)
	}
	return b.String()
}

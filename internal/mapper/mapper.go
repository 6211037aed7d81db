// Package mapper proposes and applies field mappings between AI-extracted
// fields and a destination schema's properties. All operations are pure and
// side-effect-free; the same mapper serves interactive preview and
// processing-time application.
package mapper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"tasksync.app/tasksync/internal/domain"
)

// Similarity acceptance thresholds. Property names need a confident match;
// choice vocabularies are short and permissive so the bar is lower.
const (
	propertyThreshold = 0.5
	valueThreshold    = 0.3
)

// Property describes one destination schema property.
type Property struct {
	Name    string              `json:"name"`
	Type    domain.PropertyType `json:"type"`
	Options []string            `json:"options,omitempty"`
}

// AIFields lists the AI output fields eligible for mapping, in a fixed
// order so proposals are deterministic.
var AIFields = []string{"priority", "type", "assignee", "routing_category"}

// ProposeMapping scores every destination property against each AI field and
// keeps the best match per field when it clears the threshold. Fields with no
// confident match are left unmapped rather than guessed.
func ProposeMapping(schema []Property, aiFields []string) domain.FieldMapping {
	mapping := make(domain.FieldMapping)

	for _, field := range aiFields {
		best := -1
		bestScore := 0.0
		for i, prop := range schema {
			score := Similarity(field, prop.Name)
			if score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best < 0 || bestScore <= propertyThreshold {
			continue
		}

		prop := schema[best]
		pm := domain.PropertyMapping{
			Property:     prop.Name,
			PropertyType: prop.Type,
		}
		if prop.Type == domain.PropertySelect && len(prop.Options) > 0 {
			pm.ValueMap = ProposeValueMapping(enumValuesFor(field), prop.Options)
		}
		mapping[field] = pm
	}

	return mapping
}

// ProposeValueMapping maps AI enumeration values onto destination choice
// labels. Similarity scoring runs first; for priority-style vocabularies
// against P1/P2/... option sets, where string similarity carries no signal, a
// rank-based bucket assignment fills the gaps deterministically.
func ProposeValueMapping(aiValues, options []string) map[string]string {
	table := make(map[string]string, len(aiValues))

	for _, v := range aiValues {
		best := ""
		bestScore := 0.0
		for _, opt := range options {
			// Ties break toward the earlier destination option.
			if score := Similarity(v, opt); score > bestScore {
				best = opt
				bestScore = score
			}
		}
		if bestScore > valueThreshold {
			table[v] = best
		}
	}

	for _, v := range aiValues {
		if _, ok := table[v]; ok {
			continue
		}
		if opt, ok := priorityBucket(v, options); ok {
			table[v] = opt
		}
	}

	if len(table) == 0 {
		return nil
	}
	return table
}

// Similarity scores two labels: exact match after normalization is 1.0,
// substring containment 0.8, otherwise the shared-prefix ratio.
func Similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	prefix := 0
	for prefix < len(na) && prefix < len(nb) && na[prefix] == nb[prefix] {
		prefix++
	}
	longer := len(na)
	if len(nb) > longer {
		longer = len(nb)
	}
	return float64(prefix) / float64(longer)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// priorityRank orders the model's priority vocabulary from most to least
// urgent, for bucket assignment against Pn-style option sets.
var priorityRank = map[string]int{
	"urgent": 0,
	"high":   1,
	"medium": 2,
	"low":    3,
}

var pnOption = regexp.MustCompile(`^p(\d+)$`)

func priorityBucket(value string, options []string) (string, bool) {
	rank, ok := priorityRank[normalize(value)]
	if !ok {
		return "", false
	}

	// Only applies when every destination option is P1/P2/... shaped.
	for _, opt := range options {
		if !pnOption.MatchString(normalize(opt)) {
			return "", false
		}
	}
	if len(options) == 0 {
		return "", false
	}

	idx := rank
	if idx >= len(options) {
		idx = len(options) - 1
	}
	return options[idx], true
}

// enumValuesFor returns the known AI vocabulary for an enumerated field.
func enumValuesFor(field string) []string {
	switch field {
	case "priority":
		return []string{
			string(domain.PriorityUrgent),
			string(domain.PriorityHigh),
			string(domain.PriorityMedium),
			string(domain.PriorityLow),
		}
	case "type":
		return []string{
			string(domain.TaskKindBug),
			string(domain.TaskKindFeature),
			string(domain.TaskKindChore),
			string(domain.TaskKindDesign),
			string(domain.TaskKindDocs),
		}
	default:
		return nil
	}
}

// IdentityLookup resolves a source-specific user identifier to a destination
// user identifier. found=false means no mapping exists; that is not an error.
type IdentityLookup func(ctx context.Context, sourceUserID string) (destinationID string, found bool, err error)

// Value is one destination property value produced by Apply.
type Value struct {
	Type   domain.PropertyType `json:"type"`
	Text   string              `json:"text,omitempty"`
	Select string              `json:"select,omitempty"`
	People []string            `json:"people,omitempty"`
}

// Apply maps a detected task's confidence-gated fields onto destination
// properties. Unknown fields are omitted entirely, never defaulted. Person
// properties go through the identity lookup; an unresolvable identity is
// skipped with a warning, not a failure.
func Apply(ctx context.Context, task domain.DetectedTask, mapping domain.FieldMapping, lookup IdentityLookup) (map[string]Value, []string, error) {
	props := make(map[string]Value)
	var warnings []string

	for field, pm := range mapping {
		raw, known := fieldValue(task, field)
		if !known {
			continue
		}

		switch pm.PropertyType {
		case domain.PropertyPerson:
			if lookup == nil {
				warnings = append(warnings, fmt.Sprintf("no identity lookup configured, skipping %q", field))
				continue
			}
			destID, found, err := lookup(ctx, raw)
			if err != nil {
				return nil, warnings, fmt.Errorf("resolving identity for %q: %w", raw, err)
			}
			if !found {
				warnings = append(warnings, fmt.Sprintf("no identity mapping for %q, skipping %q", raw, field))
				continue
			}
			props[pm.Property] = Value{Type: pm.PropertyType, People: []string{destID}}

		case domain.PropertySelect:
			mapped := raw
			if pm.ValueMap != nil {
				m, ok := pm.ValueMap[raw]
				if !ok {
					warnings = append(warnings, fmt.Sprintf("value %q has no mapping for %q, skipping", raw, field))
					continue
				}
				mapped = m
			}
			props[pm.Property] = Value{Type: pm.PropertyType, Select: mapped}

		default:
			props[pm.Property] = Value{Type: pm.PropertyType, Text: raw}
		}
	}

	return props, warnings, nil
}

func fieldValue(task domain.DetectedTask, field string) (string, bool) {
	switch field {
	case "priority":
		if v, ok := task.Priority.Get(); ok {
			return string(v), true
		}
	case "type":
		if v, ok := task.Kind.Get(); ok {
			return string(v), true
		}
	case "assignee":
		return task.Assignee.Get()
	case "routing_category":
		return task.RoutingCategory.Get()
	}
	return "", false
}

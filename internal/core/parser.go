package core

import (
	"fmt"
	"strings"
)

// ParseParticipantSpec parses a participant specification string.
// Format: [id=]provider[/model]
//
// The model may itself contain slashes and colons, so only the first '/'
// separates provider from model. When id is omitted the model (or the
// provider, if there is no model) is used as the roster id.
//
// Examples:
//   - "mock" -> {ID: "mock", Provider: "mock"}
//   - "openrouter/qwen/qwq-32b:free" -> {ID: "qwen/qwq-32b:free", Provider: "openrouter", Model: "qwen/qwq-32b:free"}
//   - "qwq=openrouter/qwen/qwq-32b:free" -> {ID: "qwq", Provider: "openrouter", Model: "qwen/qwq-32b:free"}
func ParseParticipantSpec(spec string) (Participant, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Participant{}, fmt.Errorf("participant spec cannot be empty")
	}

	var p Participant
	rest := spec
	if id, after, ok := strings.Cut(spec, "="); ok {
		p.ID = strings.TrimSpace(id)
		rest = after
		if p.ID == "" {
			return Participant{}, fmt.Errorf("participant id cannot be empty in spec: %s", spec)
		}
	}

	providerName, model, _ := strings.Cut(rest, "/")
	p.Provider = strings.TrimSpace(providerName)
	p.Model = strings.TrimSpace(model)
	if p.Provider == "" {
		return Participant{}, fmt.Errorf("provider cannot be empty in spec: %s", spec)
	}

	if p.ID == "" {
		p.ID = p.Model
		if p.ID == "" {
			p.ID = p.Provider
		}
	}

	return p, nil
}

// ParseParticipantSpecs parses a comma-separated list of participant specifications.
func ParseParticipantSpecs(specsStr string) ([]Participant, error) {
	if strings.TrimSpace(specsStr) == "" {
		return nil, fmt.Errorf("participant specs cannot be empty")
	}

	specs := strings.Split(specsStr, ",")
	participants := make([]Participant, 0, len(specs))

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		p, err := ParseParticipantSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid participant spec '%s': %w", spec, err)
		}

		participants = append(participants, p)
	}

	if len(participants) == 0 {
		return nil, fmt.Errorf("no valid participant specs found")
	}

	return participants, nil
}

// RosterIDs returns the participant ids in roster order.
func RosterIDs(participants []Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	return ids
}

// ValidateRoster checks that a roster has at least two distinct, non-empty ids.
func ValidateRoster(ids []string) error {
	if len(ids) < 2 {
		return fmt.Errorf("roster needs at least 2 participants, got %d", len(ids))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("roster contains an empty participant id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate participant id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// DefaultParticipants is the roster used when nothing is configured.
var DefaultParticipants = []Participant{
	{ID: "deepseek/deepseek-r1:free", Provider: "openrouter", Model: "deepseek/deepseek-r1:free"},
	{ID: "qwen/qwq-32b:free", Provider: "openrouter", Model: "qwen/qwq-32b:free"},
	{ID: "google/gemini-2.0-flash-thinking-exp:free", Provider: "openrouter", Model: "google/gemini-2.0-flash-thinking-exp:free"},
}

// MockParticipants is the offline roster used by --mock.
var MockParticipants = []Participant{
	{ID: "alpha", Provider: "mock", Model: "mock-v1"},
	{ID: "beta", Provider: "mock", Model: "mock-v1"},
	{ID: "gamma", Provider: "mock", Model: "mock-v1"},
}

package executor

import (
	"encoding/json"
	"fmt"

	"github.com/kbarone/raidme/internal/store"
)

// Envelope is the single JSON object a model reply must decode into: a
// free-text summary plus the extracted knowledge atoms.
type Envelope struct {
	Summary string         `json:"summary"`
	Atoms   []EnvelopeAtom `json:"atoms"`
}

// EnvelopeAtom is one atom as it arrives over the wire, before it is
// attributed to a step and given an id.
type EnvelopeAtom struct {
	Category    store.Category `json:"category"`
	Subcategory string         `json:"subcategory"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Relevance   float64        `json:"relevance"`
}

var validCategories = map[store.Category]bool{
	store.CategoryOverview:   true,
	store.CategoryStructure:  true,
	store.CategoryComponent:  true,
	store.CategoryDataflow:   true,
	store.CategoryInterface:  true,
	store.CategoryDeployment: true,
	store.CategoryConvention: true,
	store.CategoryRisk:       true,
}

// ErrMalformedEnvelope signals a reply that did not decode into a
// valid Envelope, triggering the parse-repair path.
type ErrMalformedEnvelope struct {
	Reason string
}

func (e *ErrMalformedEnvelope) Error() string {
	return fmt.Sprintf("executor: malformed reply envelope: %s", e.Reason)
}

// ParseEnvelope decodes and validates a model reply's text into an
// Envelope, rejecting unknown categories and out-of-range relevance.
func ParseEnvelope(text string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, &ErrMalformedEnvelope{Reason: err.Error()}
	}

	for i, a := range env.Atoms {
		if !validCategories[a.Category] {
			return Envelope{}, &ErrMalformedEnvelope{Reason: fmt.Sprintf("atom %d: unknown category %q", i, a.Category)}
		}
		if a.Relevance < 0 || a.Relevance > 1 {
			return Envelope{}, &ErrMalformedEnvelope{Reason: fmt.Sprintf("atom %d: relevance %v out of range", i, a.Relevance)}
		}
		if a.Title == "" {
			return Envelope{}, &ErrMalformedEnvelope{Reason: fmt.Sprintf("atom %d: missing title", i)}
		}
	}

	return env, nil
}

// toAtoms converts a parsed Envelope's atoms into store.Atom rows
// attributed to sessionID, ready for StepComplete.
func (e Envelope) toAtoms(sessionID string) []store.Atom {
	out := make([]store.Atom, 0, len(e.Atoms))
	for _, a := range e.Atoms {
		out = append(out, store.Atom{
			SessionID:   sessionID,
			Category:    a.Category,
			Subcategory: a.Subcategory,
			Title:       a.Title,
			Content:     a.Content,
			Relevance:   a.Relevance,
		})
	}
	return out
}

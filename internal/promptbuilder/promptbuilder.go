// Package promptbuilder assembles per-step prompts from a fixed system
// preamble, a curated slice of the session's accumulated knowledge
// atoms, a step-kind instruction, and the step's raw input data.
//
// It is grounded on the original's LlmContext (original_source/src/llm.rs),
// generalized from a single numeric-priority ordering into the category
// ordering the knowledge atom model calls for, and deliberately dropping
// LlmContext's model-based summarization fallback: truncation here is
// always character-based, so assembling a prompt never costs a model
// call of its own.
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbarone/raidme/internal/store"
)

// BytesPerToken is the fixed character-to-token estimate used to convert
// a configured token ceiling into a character budget.
const BytesPerToken = 4

// categoryPriority is the fixed ordering context curation selects atoms
// by, before falling back to relevance and then creation order.
var categoryPriority = []store.Category{
	store.CategoryOverview,
	store.CategoryComponent,
	store.CategoryStructure,
	store.CategoryInterface,
	store.CategoryDataflow,
	store.CategoryConvention,
	store.CategoryRisk,
}

// categoryRank maps a category to its position in categoryPriority, used
// for stable sorting; categories not in the list sort last.
var categoryRank = func() map[store.Category]int {
	m := make(map[store.Category]int, len(categoryPriority))
	for i, c := range categoryPriority {
		m[c] = i
	}
	return m
}()

// Builder assembles prompts under a fixed character budget.
type Builder struct {
	tokenCeiling int
}

// New creates a Builder whose assembled prompt character count never
// exceeds tokenCeiling * BytesPerToken (Property 7).
func New(tokenCeiling int) *Builder {
	return &Builder{tokenCeiling: tokenCeiling}
}

// Prompt is the fully assembled input to a Model Gateway call, plus a
// record of exactly which atoms were selected — the record is folded
// into the step's input_data so the fingerprint is stable across retries.
type Prompt struct {
	Text           string
	SelectedAtomID []string
}

// Build assembles a prompt for one step: preamble, curated context,
// kind instruction, raw data — in that order.
func (b *Builder) Build(preamble, kindInstruction, rawData string, atoms []store.Atom) Prompt {
	budget := b.tokenCeiling * BytesPerToken

	fixed := preamble + "\n\n" + kindInstruction + "\n\n" + rawData
	remaining := budget - len(fixed)

	contextBlock, selected := curateContext(atoms, remaining)

	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")
	if contextBlock != "" {
		sb.WriteString(contextBlock)
		sb.WriteString("\n\n")
	}
	sb.WriteString(kindInstruction)
	sb.WriteString("\n\n")
	sb.WriteString(rawData)

	text := sb.String()
	if len(text) > budget {
		text = text[:budget]
	}

	return Prompt{Text: text, SelectedAtomID: selected}
}

// InputFingerprintPayload returns a stable JSON encoding of everything
// that determines a step's fingerprint: the raw data and the exact atom
// selection, so that re-planning the same step with the same store
// state reproduces the same input_fingerprint (Property 5).
func InputFingerprintPayload(rawData string, selectedAtomID []string) string {
	payload := struct {
		RawData        string   `json:"raw_data"`
		SelectedAtomID []string `json:"selected_atom_ids"`
	}{RawData: rawData, SelectedAtomID: selectedAtomID}

	b, err := json.Marshal(payload)
	if err != nil {
		// json.Marshal only fails on unsupported types (channels, funcs);
		// a struct of strings can never hit that path.
		return fmt.Sprintf("raw_data:%s", rawData)
	}
	return string(b)
}

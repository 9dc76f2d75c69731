package promptbuilder_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbarone/raidme/internal/promptbuilder"
	"github.com/kbarone/raidme/internal/store"
)

func atom(id string, cat store.Category, relevance float64, createdAt string) store.Atom {
	return store.Atom{
		ID:        id,
		Category:  cat,
		Title:     id,
		Content:   "content for " + id,
		Relevance: relevance,
		CreatedAt: createdAt,
	}
}

func TestBuild_StaysUnderCharacterBudget(t *testing.T) {
	var atoms []store.Atom
	for i := 0; i < 50; i++ {
		atoms = append(atoms, atom(
			"a"+string(rune('0'+i%10)),
			store.CategoryOverview,
			0.5,
			"2024-01-01T00:00:00Z",
		))
	}

	b := promptbuilder.New(100) // 100 tokens * 4 bytes/token = 400 char budget
	p := b.Build("preamble", "do the thing", "raw data here", atoms)

	require.LessOrEqual(t, len(p.Text), 100*promptbuilder.BytesPerToken)
}

func TestBuild_OrdersByCategoryThenRelevanceThenCreation(t *testing.T) {
	atoms := []store.Atom{
		atom("risk-atom", store.CategoryRisk, 0.9, "2024-01-01T00:00:00Z"),
		atom("overview-atom", store.CategoryOverview, 0.1, "2024-01-02T00:00:00Z"),
	}

	b := promptbuilder.New(10000)
	p := b.Build("preamble", "instruction", "raw", atoms)

	overviewIdx := strings.Index(p.Text, "overview-atom")
	riskIdx := strings.Index(p.Text, "risk-atom")
	require.NotEqual(t, -1, overviewIdx)
	require.NotEqual(t, -1, riskIdx)
	require.Less(t, overviewIdx, riskIdx)
}

func TestBuild_RelevanceBreaksTiesWithinCategory(t *testing.T) {
	atoms := []store.Atom{
		atom("low", store.CategoryOverview, 0.2, "2024-01-01T00:00:00Z"),
		atom("high", store.CategoryOverview, 0.8, "2024-01-02T00:00:00Z"),
	}

	b := promptbuilder.New(10000)
	p := b.Build("preamble", "instruction", "raw", atoms)

	require.Less(t, strings.Index(p.Text, "high"), strings.Index(p.Text, "low"))
}

func TestBuild_CreationBreaksTiesWithinRelevance(t *testing.T) {
	atoms := []store.Atom{
		atom("later", store.CategoryOverview, 0.5, "2024-01-02T00:00:00Z"),
		atom("earlier", store.CategoryOverview, 0.5, "2024-01-01T00:00:00Z"),
	}

	b := promptbuilder.New(10000)
	p := b.Build("preamble", "instruction", "raw", atoms)

	require.Less(t, strings.Index(p.Text, "earlier"), strings.Index(p.Text, "later"))
}

func TestBuild_RecordsSelectedAtomIDs(t *testing.T) {
	atoms := []store.Atom{
		atom("a1", store.CategoryOverview, 0.9, "2024-01-01T00:00:00Z"),
	}

	b := promptbuilder.New(10000)
	p := b.Build("preamble", "instruction", "raw", atoms)

	require.Equal(t, []string{"a1"}, p.SelectedAtomID)
}

func TestBuild_DropsAtomsThatExceedRemainingBudget(t *testing.T) {
	atoms := []store.Atom{
		atom("fits", store.CategoryOverview, 0.9, "2024-01-01T00:00:00Z"),
	}

	// Budget far too small to fit the preamble plus any atom content.
	b := promptbuilder.New(1)
	p := b.Build("a long fixed preamble that alone exceeds the budget", "instruction", "raw", atoms)

	require.Empty(t, p.SelectedAtomID)
}

func TestInputFingerprintPayload_StableForIdenticalInputs(t *testing.T) {
	p1 := promptbuilder.InputFingerprintPayload("raw", []string{"a1", "a2"})
	p2 := promptbuilder.InputFingerprintPayload("raw", []string{"a1", "a2"})
	require.Equal(t, p1, p2)
}

func TestInputFingerprintPayload_ChangesWithSelection(t *testing.T) {
	p1 := promptbuilder.InputFingerprintPayload("raw", []string{"a1"})
	p2 := promptbuilder.InputFingerprintPayload("raw", []string{"a1", "a2"})
	require.NotEqual(t, p1, p2)
}

func TestInputFingerprintPayload_ChangesWithRawData(t *testing.T) {
	p1 := promptbuilder.InputFingerprintPayload("raw-a", nil)
	p2 := promptbuilder.InputFingerprintPayload("raw-b", nil)
	require.NotEqual(t, p1, p2)
}

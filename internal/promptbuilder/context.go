package promptbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kbarone/raidme/internal/store"
)

// curateContext implements the deterministic selection rule: atoms
// ordered by category priority, then relevance descending, then
// created_at ascending, rendered and appended in that order; an atom
// whose rendered block no longer fits the remaining character budget
// is skipped and the next one is tried. It returns the rendered block and the ordered
// list of atom ids that made it in, for fingerprint recording.
func curateContext(atoms []store.Atom, budget int) (string, []string) {
	if budget <= 0 || len(atoms) == 0 {
		return "", nil
	}

	ordered := make([]store.Atom, len(atoms))
	copy(ordered, atoms)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := rank(ordered[i].Category), rank(ordered[j].Category)
		if ri != rj {
			return ri < rj
		}
		if ordered[i].Relevance != ordered[j].Relevance {
			return ordered[i].Relevance > ordered[j].Relevance
		}
		return ordered[i].CreatedAt < ordered[j].CreatedAt
	})

	var sb strings.Builder
	var selected []string
	remaining := budget

	for _, a := range ordered {
		block := renderAtom(a)
		if len(block) > remaining {
			continue
		}
		sb.WriteString(block)
		selected = append(selected, a.ID)
		remaining -= len(block)
		if remaining <= 0 {
			break
		}
	}

	return sb.String(), selected
}

func rank(c store.Category) int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(categoryPriority)
}

func renderAtom(a store.Atom) string {
	if a.Subcategory != "" {
		return fmt.Sprintf("### [%s/%s] %s\n%s\n\n", a.Category, a.Subcategory, a.Title, a.Content)
	}
	return fmt.Sprintf("### [%s] %s\n%s\n\n", a.Category, a.Title, a.Content)
}

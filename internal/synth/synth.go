// Package synth implements the Synthesizer: a pure projection from a
// session's knowledge atoms into the final markdown knowledge
// document. No model call is made here and no templating engine is
// used — every atom category maps to a fixed section, and content
// inside a section is ordered deterministically, so re-running
// synthesis against the same atom set always produces byte-identical
// output.
//
// internal/templates' template renderer survives only as a test file
// with no implementation behind it, so this package replaces it
// outright rather than trying to adapt a missing renderer: the
// document layout is treated as data, not code.
package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kbarone/raidme/internal/store"
)

// sectionOrder is the fixed category-to-section mapping, in the order
// sections appear in the rendered document. It follows Prompt Builder's
// context-curation priority order, except that Deployment sits after
// Data Flow here while context curation ranks it after every other
// category.
var sectionOrder = []struct {
	category store.Category
	heading  string
}{
	{store.CategoryOverview, "Overview"},
	{store.CategoryComponent, "Components"},
	{store.CategoryStructure, "Structure"},
	{store.CategoryInterface, "Interfaces"},
	{store.CategoryDataflow, "Data Flow"},
	{store.CategoryDeployment, "Deployment & Diagrams"},
	{store.CategoryConvention, "Conventions"},
	{store.CategoryRisk, "Risks"},
}

// Render projects sess and atoms into the knowledge document. Atoms
// outside the known category set are ignored rather than causing an
// error, since malformed categories are already rejected at parse time
// (internal/executor); this function only ever sees valid ones.
func Render(sess store.Session, atoms []store.Atom) string {
	byCategory := make(map[store.Category][]store.Atom)
	for _, a := range atoms {
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Knowledge Document\n\n")
	fmt.Fprintf(&sb, "**Repository:** %s\n", sess.RepoRoot)
	fmt.Fprintf(&sb, "**Revision:** %s\n\n", sess.Revision)

	for _, section := range sectionOrder {
		items := byCategory[section.category]
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Subcategory != items[j].Subcategory {
				return items[i].Subcategory < items[j].Subcategory
			}
			if items[i].Relevance != items[j].Relevance {
				return items[i].Relevance > items[j].Relevance
			}
			return items[i].CreatedAt < items[j].CreatedAt
		})

		fmt.Fprintf(&sb, "## %s\n\n", section.heading)
		for _, a := range items {
			if a.Subcategory != "" {
				fmt.Fprintf(&sb, "### %s (%s)\n\n", a.Title, a.Subcategory)
			} else {
				fmt.Fprintf(&sb, "### %s\n\n", a.Title)
			}
			sb.WriteString(a.Content)
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

package assembly

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantmaster/internal/domain"
)

func fixedAssembler() Assembler {
	return Assembler{Now: func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }}
}

func samplePackage() domain.GrantPackage {
	return domain.GrantPackage{
		Title:                 "Rapid Sepsis Detection",
		PrincipalInvestigator: "Dr. Ada Byron",
		Institution:           "Analytical Labs Inc.",
		FundingAgency:         "NIH/NIGMS",
		Sections: []domain.GrantSection{
			{ID: "research-strategy", Title: "Research Strategy", Content: "Significance and approach.", Order: 2},
			{ID: "specific-aims", Title: "Specific Aims", Content: "Aim 1. Build it.", Order: 1},
		},
	}
}

func TestAssembleCoverTOCAndSectionsInOrder(t *testing.T) {
	doc := fixedAssembler().Assemble(samplePackage(), Options{IncludeCoverPage: true, IncludeTableOfContents: true})

	markers := []string{
		"# Rapid Sepsis Detection",
		"**Principal Investigator:** Dr. Ada Byron",
		"**Institution:** Analytical Labs Inc.",
		"**Funding Agency:** NIH/NIGMS",
		"**Date:** March 14, 2026",
		PageBreak,
		"## Table of Contents",
		"1. Specific Aims",
		"2. Research Strategy",
		PageBreak,
		"## Specific Aims",
		"Aim 1. Build it.",
		PageBreak,
		"## Research Strategy",
		"Significance and approach.",
		PageBreak,
	}
	rest := doc.Markup
	for _, m := range markers {
		idx := strings.Index(rest, m)
		require.GreaterOrEqual(t, idx, 0, "marker %q missing or out of order", m)
		rest = rest[idx+len(m):]
	}
	assert.Equal(t, 4, strings.Count(doc.Markup, PageBreak))
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "specific-aims", doc.Sections[0].ID)
	assert.Equal(t, 4, doc.Sections[0].WordCount)
	assert.Equal(t, 7, doc.TotalWordCount)
	assert.Equal(t, 4, doc.EstimatedPages)
	assert.Empty(t, doc.Warnings)
}

func TestAssembleIsDeterministic(t *testing.T) {
	pkg := samplePackage()
	pkg.Sections = append(pkg.Sections,
		domain.GrantSection{ID: "a", Title: "Tie A", Content: "a", Order: 5},
		domain.GrantSection{ID: "b", Title: "Tie B", Content: "b", Order: 5},
	)
	opts := Options{IncludeCoverPage: true, IncludeTableOfContents: true}
	first := fixedAssembler().Assemble(pkg, opts)
	second := fixedAssembler().Assemble(pkg, opts)
	assert.Equal(t, first.Markup, second.Markup)
	assert.Less(t, strings.Index(first.Markup, "## Tie A"), strings.Index(first.Markup, "## Tie B"))
}

func TestWordCountEmpty(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 0, WordCount("  \n "))
	assert.Equal(t, 3, WordCount(" one two\tthree "))
}

func TestKnownLimitWarning(t *testing.T) {
	pkg := domain.GrantPackage{
		Title: "Over",
		Sections: []domain.GrantSection{
			{ID: "specific_aims", Title: "Specific Aims", Content: strings.Repeat("word ", 700), Order: 1},
			{ID: "budget", Title: "Budget Narrative", Content: strings.Repeat("word ", 5000), Order: 2},
		},
	}
	doc := fixedAssembler().Assemble(pkg, Options{})
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, "Specific Aims exceeds recommended page limit (2/1 pages)", doc.Warnings[0])
	assert.NotContains(t, doc.Markup, "Table of Contents")
}

func TestLimitFor(t *testing.T) {
	assert.Equal(t, 1, LimitFor("x", "Specific Aims"))
	assert.Equal(t, 12, LimitFor("research-strategy", ""))
	assert.Equal(t, 5, LimitFor("", "Biosketch"))
	assert.Equal(t, 0, LimitFor("facilities", "Facilities"))
}

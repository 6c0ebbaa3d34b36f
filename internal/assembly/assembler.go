// Package assembly turns a GrantPackage into one logical document: ordered
// sections, an optional cover page and table of contents, per-section word
// counts and page-limit warnings for the sections NIH caps by name.
package assembly

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"grantmaster/internal/compliance"
	"grantmaster/internal/domain"
)

// PageBreak separates blocks in the intermediate markup.
const PageBreak = "<!-- pagebreak -->"

// Options controls which front matter is emitted.
type Options struct {
	IncludeCoverPage       bool
	IncludeTableOfContents bool
}

// SectionStats describes one assembled section.
type SectionStats struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	WordCount      int    `json:"wordCount"`
	EstimatedPages int    `json:"estimatedPages"`
	PageLimit      int    `json:"pageLimit,omitempty"`
}

// Document is the assembled intermediate representation.
type Document struct {
	Title          string
	Markup         string
	Sections       []SectionStats
	TotalWordCount int
	EstimatedPages int
	Warnings       []string
}

// knownLimits are the NIH page caps checked at assembly time, keyed by
// normalized section id or title.
var knownLimits = map[string]int{
	"specific_aims":       1,
	"research_strategy":   12,
	"biosketch":           5,
	"biographical_sketch": 5,
}

// Assembler builds documents. Now stamps the cover page.
type Assembler struct {
	Now func() time.Time
}

func (a Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Assemble orders the package sections and renders the intermediate markup.
func (a Assembler) Assemble(pkg domain.GrantPackage, opts Options) Document {
	sections := append([]domain.GrantSection(nil), pkg.Sections...)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })

	doc := Document{Title: pkg.Title, Warnings: []string{}}
	var b strings.Builder
	if opts.IncludeCoverPage {
		writeCover(&b, pkg, a.now())
		doc.EstimatedPages++
	}
	if opts.IncludeTableOfContents {
		b.WriteString("## Table of Contents\n\n")
		for i, s := range sections {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		}
		b.WriteString("\n" + PageBreak + "\n\n")
		doc.EstimatedPages++
	}
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if content := strings.TrimSpace(s.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n\n")
		}
		b.WriteString(PageBreak + "\n\n")

		st := SectionStats{
			ID:             s.ID,
			Title:          s.Title,
			WordCount:      WordCount(s.Content),
			EstimatedPages: compliance.EstimatePageCount(s.Content),
			PageLimit:      LimitFor(s.ID, s.Title),
		}
		if st.PageLimit > 0 && st.EstimatedPages > st.PageLimit {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("%s exceeds recommended page limit (%d/%d pages)",
				s.Title, st.EstimatedPages, st.PageLimit))
		}
		doc.Sections = append(doc.Sections, st)
		doc.TotalWordCount += st.WordCount
		doc.EstimatedPages += st.EstimatedPages
	}
	doc.Markup = b.String()
	return doc
}

func writeCover(b *strings.Builder, pkg domain.GrantPackage, now time.Time) {
	fmt.Fprintf(b, "# %s\n\n", pkg.Title)
	coverLine(b, "Principal Investigator", pkg.PrincipalInvestigator)
	coverLine(b, "Institution", pkg.Institution)
	coverLine(b, "Funding Agency", pkg.FundingAgency)
	coverLine(b, "Date", now.Format("January 2, 2006"))
	b.WriteString(PageBreak + "\n\n")
}

func coverLine(b *strings.Builder, label, value string) {
	if value == "" {
		value = "N/A"
	}
	fmt.Fprintf(b, "**%s:** %s\n\n", label, value)
}

// WordCount counts whitespace-separated tokens; empty content counts 0.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// LimitFor returns the known page cap for a section, 0 when none applies.
func LimitFor(id, title string) int {
	for _, key := range []string{id, title} {
		if n, ok := knownLimits[normalizeKey(key)]; ok {
			return n
		}
	}
	return 0
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

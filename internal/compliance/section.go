// Package compliance checks drafted sections and whole applications against
// their mechanism template. Problems are reported as Issues; nothing here
// returns an error or touches storage.
package compliance

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// CharsPerPage approximates one 11pt page with 0.5in margins.
const CharsPerPage = 3000

// Issue kinds.
const (
	KindError   = "error"
	KindWarning = "warning"
)

// Issue is a single compliance finding.
type Issue struct {
	Kind      string `json:"kind" enum:"error,warning"`
	SectionID string `json:"sectionId,omitempty"`
	Message   string `json:"message"`
}

// SectionInput is what the section validator needs to know about a section.
type SectionInput struct {
	ID               string
	Title            string
	Content          string
	PageLimit        int
	RequiredHeadings []string
}

// EstimatePageCount is the page estimate used for every page-limit decision.
func EstimatePageCount(content string) int {
	n := utf8.RuneCountInString(content)
	return (n + CharsPerPage - 1) / CharsPerPage
}

// HasHeading reports whether heading occurs anywhere in content, ignoring case.
// It is a loose presence check: the text does not have to be a heading.
func HasHeading(content, heading string) bool {
	return strings.Contains(strings.ToLower(content), strings.ToLower(strings.TrimSpace(heading)))
}

// ValidateSection returns the issues for one section. Empty content yields a
// single warning and skips the other checks.
func ValidateSection(s SectionInput) []Issue {
	if strings.TrimSpace(s.Content) == "" {
		return []Issue{{Kind: KindWarning, SectionID: s.ID, Message: "Section is empty"}}
	}
	var issues []Issue
	if pages := EstimatePageCount(s.Content); pages > s.PageLimit {
		issues = append(issues, Issue{
			Kind:      KindError,
			SectionID: s.ID,
			Message:   fmt.Sprintf("%s exceeds page limit (%d/%d pages)", s.Title, pages, s.PageLimit),
		})
	}
	for _, h := range s.RequiredHeadings {
		if !HasHeading(s.Content, h) {
			issues = append(issues, Issue{
				Kind:      KindError,
				SectionID: s.ID,
				Message:   fmt.Sprintf("%s is missing required heading %q", s.Title, h),
			})
		}
	}
	return issues
}

// CanExport is true when issues holds no error-kind entries.
func CanExport(issues []Issue) bool {
	for _, i := range issues {
		if i.Kind == KindError {
			return false
		}
	}
	return true
}

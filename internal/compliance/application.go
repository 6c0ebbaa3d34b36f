package compliance

import (
	"fmt"

	"grantmaster/internal/domain"
	"grantmaster/internal/mechanism"
)

// MsgInvalidMechanism is reported when the mechanism code is not registered.
const MsgInvalidMechanism = "Invalid mechanism selected"

// Report is the aggregate outcome of validating an application.
type Report struct {
	Issues    []Issue `json:"issues"`
	IsValid   bool    `json:"isValid"`
	CanExport bool    `json:"canExport"`
}

// Errors returns the messages of error-kind issues.
func (r Report) Errors() []string { return r.messages(KindError) }

// Warnings returns the messages of warning-kind issues.
func (r Report) Warnings() []string { return r.messages(KindWarning) }

func (r Report) messages(kind string) []string {
	out := []string{}
	for _, i := range r.Issues {
		if i.Kind == kind {
			out = append(out, i.Message)
		}
	}
	return out
}

// ValidateApplication checks every section and the required attachments of
// the mechanism identified by code.
func ValidateApplication(reg *mechanism.Registry, code string, sections []domain.Section, attachments []domain.Attachment) Report {
	mech, ok := reg.Lookup(code)
	if !ok {
		return newReport([]Issue{{Kind: KindError, Message: MsgInvalidMechanism}})
	}
	var issues []Issue
	for _, s := range sections {
		issues = append(issues, ValidateSection(SectionInput{
			ID:               s.ID,
			Title:            s.Title,
			Content:          s.Content,
			PageLimit:        s.PageLimit,
			RequiredHeadings: s.RequiredHeadings,
		})...)
	}
	uploaded := map[string]bool{}
	for _, a := range attachments {
		if a.Status == domain.AttachmentUploaded {
			uploaded[a.Name] = true
		}
	}
	for _, req := range mech.RequiredAttachments() {
		if !uploaded[req.Name] {
			issues = append(issues, Issue{
				Kind:    KindError,
				Message: fmt.Sprintf("Required attachment %q has not been uploaded", req.Name),
			})
		}
	}
	return newReport(issues)
}

func newReport(issues []Issue) Report {
	if issues == nil {
		issues = []Issue{}
	}
	ok := CanExport(issues)
	return Report{Issues: issues, IsValid: ok, CanExport: ok}
}

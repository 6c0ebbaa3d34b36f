package server

import (
	"grantmaster/internal/assembly"
	"grantmaster/internal/compliance"
	"grantmaster/internal/domain"
	"grantmaster/internal/engine"
	"grantmaster/internal/export"
)

// Request payloads

type CreateApplicationRequest struct {
	Title                 string `json:"title" minLength:"1" example:"Rapid Sepsis Diagnostic"`
	Mechanism             string `json:"mechanism" minLength:"1" example:"R43"`
	PrincipalInvestigator string `json:"principalInvestigator,omitempty"`
	Institution           string `json:"institution,omitempty"`
}

type UpdateApplicationRequest struct {
	Title                 *string `json:"title,omitempty" minLength:"1"`
	Status                *string `json:"status,omitempty" enum:"draft,in_review,ready,submitted"`
	PrincipalInvestigator *string `json:"principalInvestigator,omitempty"`
	Institution           *string `json:"institution,omitempty"`
}

type SaveSectionRequest struct {
	Content string `json:"content"`
}

type ReviewSectionRequest struct {
	Kind string `json:"kind" enum:"score,risk,feasibility"`
}

type UpdateAttachmentRequest struct {
	Status  *string `json:"status,omitempty" enum:"pending,uploaded,rejected"`
	FileURL *string `json:"fileUrl,omitempty"`
}

type ExportRequest struct {
	Format  string         `json:"format" example:"pdf"`
	Content export.Content `json:"content"`
}

type PackageOptions struct {
	Format                 string `json:"format" example:"pdf"`
	IncludeTableOfContents bool   `json:"includeTableOfContents,omitempty"`
	IncludePageNumbers     bool   `json:"includePageNumbers,omitempty"`
	IncludeCoverPage       bool   `json:"includeCoverPage,omitempty"`
	FontFamily             string `json:"fontFamily,omitempty"`
	FontSize               int    `json:"fontSize,omitempty" minimum:"8" maximum:"16"`
}

func (o PackageOptions) engineOptions() engine.PackageExportOptions {
	return engine.PackageExportOptions{
		Format:                 o.Format,
		IncludeTableOfContents: o.IncludeTableOfContents,
		IncludePageNumbers:     o.IncludePageNumbers,
		IncludeCoverPage:       o.IncludeCoverPage,
		FontFamily:             o.FontFamily,
		FontSize:               o.FontSize,
	}
}

type PackageExportRequest struct {
	GrantPackage domain.GrantPackage `json:"grantPackage"`
	Options      PackageOptions      `json:"options"`
}

type DevTokenRequest struct {
	UserID string `json:"userId" minLength:"1"`
}

// Response payloads

type ApplicationList struct {
	Items      []domain.Application `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

type SaveSectionResponse struct {
	Section domain.Section     `json:"section"`
	Issues  []compliance.Issue `json:"issues"`
}

type ValidationResponse struct {
	ID        string   `json:"id"`
	IsValid   bool     `json:"isValid"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	CanExport bool     `json:"canExport"`
	CreatedAt string   `json:"createdAt" format:"date-time"`
}

func validationResponse(v domain.ValidationResult) ValidationResponse {
	return ValidationResponse{
		ID:        v.ID,
		IsValid:   v.IsValid,
		Errors:    nonNilSlice(v.Errors),
		Warnings:  nonNilSlice(v.Warnings),
		CanExport: v.CanExport,
		CreatedAt: v.CreatedAt,
	}
}

type PackageValidation struct {
	Warnings []string                `json:"warnings"`
	Sections []assembly.SectionStats `json:"sections"`
}

type PackageExportResponse struct {
	Success    bool                `json:"success"`
	Format     string              `json:"format"`
	MediaType  string              `json:"mediaType"`
	Content    string              `json:"content"`
	Filename   string              `json:"filename"`
	Stats      engine.PackageStats `json:"stats"`
	Validation PackageValidation   `json:"validation"`
}

func packageExportResponse(out engine.PackageExport) PackageExportResponse {
	sections := out.Sections
	if sections == nil {
		sections = []assembly.SectionStats{}
	}
	return PackageExportResponse{
		Success:   true,
		Format:    string(out.Format),
		MediaType: out.ContentType,
		Content:   out.Content,
		Filename:  out.Filename,
		Stats:     out.Stats,
		Validation: PackageValidation{
			Warnings: nonNilSlice(out.Warnings),
			Sections: sections,
		},
	}
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"grantmaster/internal/assembly"
	"grantmaster/internal/domain"
	"grantmaster/internal/events"
	"grantmaster/internal/export"
)

// FundingAgency is printed on the cover page of every package built from a
// stored application.
const FundingAgency = "National Institutes of Health (NIH)"

// BuildPackage projects a stored application into an export-time package.
// Section ids are section types so known NIH limits apply.
func (e Engine) BuildPackage(ctx context.Context, applicationID, actorID string) (domain.GrantPackage, error) {
	app, err := e.owned(ctx, applicationID, actorID)
	if err != nil {
		return domain.GrantPackage{}, err
	}
	sections, err := e.Repo.ListSections(ctx, app.ID)
	if err != nil {
		return domain.GrantPackage{}, err
	}
	pkg := domain.GrantPackage{
		Title:                 app.Title,
		PrincipalInvestigator: app.PrincipalInvestigator,
		Institution:           app.Institution,
		FundingAgency:         FundingAgency,
		Mechanism:             app.Mechanism,
		Sections:              make([]domain.GrantSection, 0, len(sections)),
	}
	for _, s := range sections {
		pkg.Sections = append(pkg.Sections, domain.GrantSection{
			ID:        s.Type,
			Title:     s.Title,
			Content:   s.Content,
			Order:     s.Order,
			WordCount: assembly.WordCount(s.Content),
		})
	}
	return pkg, nil
}

// PackageExportOptions mirror the grant-package export request options.
type PackageExportOptions struct {
	Format                 string
	IncludeTableOfContents bool
	IncludePageNumbers     bool
	IncludeCoverPage       bool
	FontFamily             string
	FontSize               int
}

type PackageStats struct {
	TotalWordCount int `json:"totalWordCount"`
	EstimatedPages int `json:"estimatedPages"`
	SectionCount   int `json:"sectionCount"`
}

// PackageExport is the assembled package rendered to HTML (for pdf and html)
// or Markdown (for docx and markdown).
type PackageExport struct {
	Format      export.Format
	ContentType string
	Content     string
	Filename    string
	Stats       PackageStats
	Sections    []assembly.SectionStats
	Warnings    []string
}

// ExportPackage assembles a package and renders its intermediate text form.
func (e Engine) ExportPackage(pkg domain.GrantPackage, opts PackageExportOptions) (PackageExport, error) {
	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return PackageExport{}, err
	}
	if strings.TrimSpace(pkg.Title) == "" {
		return PackageExport{}, inputErrorf("grant package title is required")
	}
	doc := assembly.Assembler{Now: e.now}.Assemble(pkg, assembly.Options{
		IncludeCoverPage:       opts.IncludeCoverPage,
		IncludeTableOfContents: opts.IncludeTableOfContents,
	})
	out := PackageExport{
		Format:   format,
		Filename: export.Filename(pkg.Title, format.Extension()),
		Stats: PackageStats{
			TotalWordCount: doc.TotalWordCount,
			EstimatedPages: doc.EstimatedPages,
			SectionCount:   len(doc.Sections),
		},
		Sections: doc.Sections,
		Warnings: doc.Warnings,
	}
	switch format {
	case export.FormatPDF, export.FormatHTML:
		html, err := export.HTML(doc.Markup, e.style(opts, pkg.Title))
		if err != nil {
			return PackageExport{}, err
		}
		out.Content = html
		out.ContentType = export.FormatHTML.ContentType()
	default:
		out.Content = export.Markdown(doc.Markup)
		out.ContentType = export.FormatMarkdown.ContentType()
	}
	return out, nil
}

func (e Engine) style(opts PackageExportOptions, title string) export.Style {
	st := e.Style
	if opts.FontFamily != "" {
		st.FontFamily = opts.FontFamily
	}
	if opts.FontSize > 0 {
		st.FontSize = opts.FontSize
	}
	st.PageNumbers = opts.IncludePageNumbers
	st.DocumentTitle = title
	return st
}

// ExportFile is a rendered binary or text document.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportDocument renders ad-hoc content directly to the requested format.
// Rendering failures return no data.
func (e Engine) ExportDocument(format string, c export.Content) (ExportFile, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return ExportFile{}, err
	}
	if strings.TrimSpace(c.Title) == "" {
		return ExportFile{}, inputErrorf("content title is required")
	}
	var data []byte
	switch f {
	case export.FormatPDF:
		data, err = export.RenderPDF(c)
	case export.FormatDOCX:
		data, err = export.RenderDOCX(c)
	case export.FormatHTML, export.FormatMarkdown:
		data, err = e.renderText(f, c)
	}
	if err != nil {
		e.logger().Error("render export failed", zap.String("format", string(f)), zap.Error(err))
		return ExportFile{}, err
	}
	return ExportFile{Filename: export.Filename(c.Title, f.Extension()), ContentType: f.ContentType(), Data: data}, nil
}

func (e Engine) renderText(f export.Format, c export.Content) ([]byte, error) {
	pkg := domain.GrantPackage{Title: c.Title}
	if c.Metadata != nil {
		pkg.PrincipalInvestigator = c.Metadata.Author
	}
	for i, s := range c.Sections {
		pkg.Sections = append(pkg.Sections, domain.GrantSection{ID: fmt.Sprintf("section-%d", i+1), Title: s.Heading, Content: s.Content, Order: i})
	}
	doc := assembly.Assembler{Now: e.now}.Assemble(pkg, assembly.Options{IncludeCoverPage: true})
	if f == export.FormatHTML {
		st := e.Style
		st.DocumentTitle = c.Title
		html, err := export.HTML(doc.Markup, st)
		return []byte(html), err
	}
	return []byte(export.Markdown(doc.Markup)), nil
}

// PrintPackage prints the package's HTML rendering to PDF bytes through the
// configured browser printer.
func (e Engine) PrintPackage(ctx context.Context, pkg domain.GrantPackage, opts PackageExportOptions) (ExportFile, error) {
	opts.Format = string(export.FormatHTML)
	out, err := e.ExportPackage(pkg, opts)
	if err != nil {
		return ExportFile{}, err
	}
	printer := e.Printer
	if printer == nil {
		printer = export.DisabledPrinter{}
	}
	data, err := printer.PrintPDF(ctx, out.Content)
	if err != nil {
		if !errors.Is(err, export.ErrPrinterDisabled) {
			e.logger().Error("browser print failed", zap.Error(err))
		}
		return ExportFile{}, err
	}
	return ExportFile{
		Filename:    export.Filename(pkg.Title, export.FormatPDF.Extension()),
		ContentType: export.FormatPDF.ContentType(),
		Data:        data,
	}, nil
}

// RecordExport appends a package.exported event for a stored application.
func (e Engine) RecordExport(ctx context.Context, applicationID, actorID string, f ExportFile) error {
	app, err := e.owned(ctx, applicationID, actorID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.PackageExported, app.ID, "application", app.ID, actorID,
		events.EventPayload{"filename": f.Filename, "contentType": f.ContentType, "bytes": len(f.Data)}); err != nil {
		return err
	}
	return tx.Commit()
}

package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grantmaster/internal/app"
	"grantmaster/internal/domain"
	"grantmaster/internal/engine"
	"grantmaster/internal/export"
)

var (
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func mechanismCmd() *cobra.Command {
	mech := &cobra.Command{Use: "mechanism", Short: "Browse grant mechanism templates"}
	mech.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List mechanisms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items := rt.Engine.Registry.All()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Sections", "Attachments"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, len(m.Sections), len(m.Attachments)})
				}
				tw.Render()
				return nil
			})
		},
	})
	mech.AddCommand(&cobra.Command{
		Use:   "show CODE",
		Short: "Show a mechanism's sections and attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				m, ok := rt.Engine.Registry.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown mechanism %q", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("%s  %s\n", m.ID, m.Name)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Section", "Title", "Page limit", "Required headings"})
				for _, s := range m.Sections {
					tw.AppendRow(table.Row{s.Type, s.Title, s.PageLimit, strings.Join(s.RequiredHeadings, ", ")})
				}
				tw.Render()
				at := table.NewWriter()
				at.SetOutputMirror(os.Stdout)
				at.AppendHeader(table.Row{"Attachment", "Required"})
				for _, a := range m.Attachments {
					at.AppendRow(table.Row{a.Name, a.Required})
				}
				at.Render()
				return nil
			})
		},
	})
	return mech
}

func appCmd() *cobra.Command {
	a := &cobra.Command{Use: "app", Short: "Manage grant applications"}
	a.AddCommand(appCreateCmd())
	a.AddCommand(appListCmd())
	a.AddCommand(appShowCmd())
	a.AddCommand(appUpdateCmd())
	a.AddCommand(appDeleteCmd())
	a.AddCommand(appLogCmd())
	return a
}

func appCreateCmd() *cobra.Command {
	var opts engine.CreateApplicationOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an application from a mechanism template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				opts.ActorID = userID()
				detail, err := rt.Engine.CreateApplication(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("created %s (%s, %d sections, %d attachments)\n", detail.ID, detail.Mechanism, len(detail.Sections), len(detail.Attachments))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "application title")
	cmd.Flags().StringVar(&opts.Mechanism, "mechanism", "", "mechanism code, e.g. R01")
	cmd.Flags().StringVar(&opts.PrincipalInvestigator, "pi", "", "principal investigator")
	cmd.Flags().StringVar(&opts.Institution, "institution", "", "institution")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("mechanism")
	return cmd
}

func appListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, _, err := rt.Engine.ListApplications(ctx, engine.ListApplicationsOptions{ActorID: userID(), Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Mechanism", "Status", "Updated"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Title, a.Mechanism, a.Status, a.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max applications")
	return cmd
}

func appShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show an application with its sections and attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				detail, err := rt.Engine.GetApplication(ctx, args[0], userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("%s  %s [%s, %s]\n", detail.ID, detail.Title, detail.Mechanism, detail.Status)
				printSections(detail.Sections)
				printAttachments(detail.Attachments)
				return nil
			})
		},
	}
}

func appUpdateCmd() *cobra.Command {
	var title, status, pi, institution string
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update title, status or cover metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateApplicationOptions{ID: args[0], ActorID: userID()}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("pi") {
				opts.PrincipalInvestigator = &pi
			}
			if cmd.Flags().Changed("institution") {
				opts.Institution = &institution
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.UpdateApplication(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&status, "status", "", "draft|in_review|ready|submitted")
	cmd.Flags().StringVar(&pi, "pi", "", "principal investigator")
	cmd.Flags().StringVar(&institution, "institution", "", "institution")
	return cmd
}

func appDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteApplication(ctx, args[0], userID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func appLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log ID",
		Short: "Show an application's audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListEvents(ctx, args[0], userID(), 0, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Time", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max events")
	return cmd
}

func sectionCmd() *cobra.Command {
	s := &cobra.Command{Use: "section", Short: "Edit application sections"}
	s.AddCommand(&cobra.Command{
		Use:   "list APP",
		Short: "List sections in template order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListSections(ctx, args[0], userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printSections(items)
				return nil
			})
		},
	})
	s.AddCommand(sectionSaveCmd())
	return s
}

func sectionSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save APP SECTION",
		Short: "Replace a section's content from --file (- for stdin)",
		Long:  "SECTION may be the section id or its type, e.g. specific_aims.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(file)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.SaveSection(ctx, engine.SaveSectionOptions{
					ApplicationID: args[0],
					SectionID:     args[1],
					Content:       content,
					ActorID:       userID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d/%d pages\n", res.Section.Title, res.Section.PageCount, res.Section.PageLimit)
				for _, i := range res.Issues {
					fmt.Println(issueLine(i.Kind, i.Message))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "content file")
	return cmd
}

func attachmentCmd() *cobra.Command {
	a := &cobra.Command{Use: "attachment", Short: "Manage supporting files"}
	a.AddCommand(&cobra.Command{
		Use:   "list APP",
		Short: "List attachment slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListAttachments(ctx, args[0], userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printAttachments(items)
				return nil
			})
		},
	})
	a.AddCommand(&cobra.Command{
		Use:   "upload APP ATTACHMENT FILE",
		Short: "Upload a file to blob storage and mark the attachment uploaded",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				att, err := rt.Engine.UploadAttachment(ctx, engine.UploadAttachmentOptions{
					ApplicationID: args[0],
					AttachmentID:  args[1],
					Filename:      filepath.Base(args[2]),
					ContentType:   mime.TypeByExtension(filepath.Ext(args[2])),
					Body:          f,
					ActorID:       userID(),
				})
				if err != nil {
					return err
				}
				return printJSON(att)
			})
		},
	})
	a.AddCommand(attachmentSetCmd())
	return a
}

func attachmentSetCmd() *cobra.Command {
	var status, url string
	cmd := &cobra.Command{
		Use:   "set APP ATTACHMENT",
		Short: "Set an attachment's status or file URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateAttachmentOptions{ApplicationID: args[0], AttachmentID: args[1], ActorID: userID()}
			opts.Status = optionalString(status)
			if cmd.Flags().Changed("url") {
				opts.FileURL = &url
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				att, err := rt.Engine.UpdateAttachment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(att)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending|uploaded|rejected")
	cmd.Flags().StringVar(&url, "url", "", "file URL (empty clears it)")
	return cmd
}

func validateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate APP",
		Short: "Run compliance validation for an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.ValidateApplication(ctx, args[0], userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					printValidation(res)
				}
				if strict && !res.CanExport {
					return fmt.Errorf("application %s cannot be exported", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when export is blocked")
	return cmd
}

func exportCmd() *cobra.Command {
	var opts engine.PackageExportOptions
	var out string
	var preview, printPDF bool
	cmd := &cobra.Command{
		Use:   "export APP",
		Short: "Export an application as pdf, docx, html or markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pkg, err := rt.Engine.BuildPackage(ctx, args[0], userID())
				if err != nil {
					return err
				}
				if preview {
					opts.Format = string(export.FormatMarkdown)
					res, err := rt.Engine.ExportPackage(pkg, opts)
					if err != nil {
						return err
					}
					return renderMarkdown(res.Content)
				}
				f, err := exportFile(ctx, rt.Engine, pkg, opts, printPDF)
				if err != nil {
					return err
				}
				if out == "" {
					out = f.Filename
				}
				if out == "-" {
					if _, err := os.Stdout.Write(f.Data); err != nil {
						return err
					}
				} else {
					if err := os.WriteFile(out, f.Data, 0o644); err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", out, len(f.Data))
				}
				return rt.Engine.RecordExport(ctx, args[0], userID(), f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Format, "format", "pdf", "pdf|docx|html|markdown")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default derived from title, - for stdout)")
	cmd.Flags().BoolVar(&opts.IncludeCoverPage, "cover", true, "include a cover page (html/markdown)")
	cmd.Flags().BoolVar(&opts.IncludeTableOfContents, "toc", false, "include a table of contents (html/markdown)")
	cmd.Flags().BoolVar(&opts.IncludePageNumbers, "page-numbers", false, "number printed pages (html)")
	cmd.Flags().StringVar(&opts.FontFamily, "font", "", "font family (html)")
	cmd.Flags().IntVar(&opts.FontSize, "font-size", 0, "font size in points (html)")
	cmd.Flags().BoolVar(&preview, "preview", false, "render the assembled package in the terminal")
	cmd.Flags().BoolVar(&printPDF, "print", false, "print the html rendering to pdf with a headless browser")
	return cmd
}

// exportFile renders pdf and docx directly and html/markdown through the
// package assembler.
func exportFile(ctx context.Context, e engine.Engine, pkg domain.GrantPackage, opts engine.PackageExportOptions, printPDF bool) (engine.ExportFile, error) {
	if printPDF {
		return e.PrintPackage(ctx, pkg, opts)
	}
	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return engine.ExportFile{}, err
	}
	switch format {
	case export.FormatPDF, export.FormatDOCX:
		meta := &export.Metadata{Author: pkg.PrincipalInvestigator, Type: pkg.Mechanism}
		return e.ExportDocument(string(format), export.ContentFromPackage(pkg, meta))
	}
	res, err := e.ExportPackage(pkg, opts)
	if err != nil {
		return engine.ExportFile{}, err
	}
	return engine.ExportFile{Filename: res.Filename, ContentType: res.ContentType, Data: []byte(res.Content)}, nil
}

func reviewCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "review APP SECTION",
		Short: "Ask the LLM advisor to score a section (advisory only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.ReviewSection(ctx, engine.ReviewSectionOptions{
					ApplicationID: args[0],
					SectionID:     args[1],
					Kind:          kind,
					ActorID:       userID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("%s %s\n", okStyle.Render(fmt.Sprintf("%s %d", r.Kind, r.Score)), mutedStyle.Render(fmt.Sprintf("(%d-%d)", r.Min, r.Max)))
				fmt.Println(r.Rationale)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "score", "score|risk|feasibility")
	return cmd
}

func printSections(items []domain.Section) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Title", "Pages", "Valid", "Complete", "Review"})
	for _, s := range items {
		review := ""
		if s.Review != nil {
			review = fmt.Sprintf("%s %d", s.Review.Kind, s.Review.Score)
		}
		tw.AppendRow(table.Row{s.Type, s.Title, fmt.Sprintf("%d/%d", s.PageCount, s.PageLimit), s.IsValid, s.IsComplete, review})
	}
	tw.Render()
}

func printAttachments(items []domain.Attachment) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Required", "Status", "URL"})
	for _, a := range items {
		url := ""
		if a.FileURL != nil {
			url = *a.FileURL
		}
		tw.AppendRow(table.Row{a.ID, a.Name, a.Required, a.Status, url})
	}
	tw.Render()
}

func printValidation(res domain.ValidationResult) {
	for _, msg := range res.Errors {
		fmt.Println(issueLine("error", msg))
	}
	for _, msg := range res.Warnings {
		fmt.Println(issueLine("warning", msg))
	}
	switch {
	case res.IsValid:
		fmt.Println(okStyle.Render("valid, ready to export"))
	case res.CanExport:
		fmt.Println(warnStyle.Render("exportable with warnings"))
	default:
		fmt.Println(errorStyle.Render(fmt.Sprintf("export blocked by %d error(s)", len(res.Errors))))
	}
}

func issueLine(kind, msg string) string {
	if kind == "error" {
		return errorStyle.Render("ERROR") + " " + msg
	}
	return warnStyle.Render("WARN ") + " " + msg
}

func renderMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func readInput(file string) (string, error) {
	if file == "" || file == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(file)
	return string(b), err
}

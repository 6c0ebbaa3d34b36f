// Package export renders assembled grant documents: printable HTML and
// Markdown from the intermediate markup, and true PDF and DOCX files for the
// ad-hoc single-document path.
package export

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"grantmaster/internal/domain"
)

// Format is an export target.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// ErrUnsupportedFormat is returned for an unknown format name.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a user supplied format name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	case "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension is the file extension for rendered bytes of this format.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// ContentType is the MIME type for rendered bytes of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Content is a single document for direct PDF/DOCX rendering.
type Content struct {
	Title    string           `json:"title" minLength:"1"`
	Sections []ContentSection `json:"sections"`
	Metadata *Metadata        `json:"metadata,omitempty"`
}

type ContentSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

type Metadata struct {
	Author string `json:"author,omitempty"`
	Date   string `json:"date,omitempty"`
	Type   string `json:"type,omitempty"`
}

func (m *Metadata) lines() []string {
	if m == nil {
		return nil
	}
	var out []string
	if m.Author != "" {
		out = append(out, "Author: "+m.Author)
	}
	if m.Date != "" {
		out = append(out, "Date: "+m.Date)
	}
	if m.Type != "" {
		out = append(out, "Type: "+m.Type)
	}
	return out
}

// ContentFromPackage flattens a grant package into renderable content,
// ordered the same way the assembler orders it.
func ContentFromPackage(pkg domain.GrantPackage, meta *Metadata) Content {
	sections := append([]domain.GrantSection(nil), pkg.Sections...)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	c := Content{Title: pkg.Title, Metadata: meta}
	for _, s := range sections {
		c.Sections = append(c.Sections, ContentSection{Heading: s.Title, Content: s.Content})
	}
	return c
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Filename builds "<sanitized title>.<ext>". Accents are folded and every
// character outside [A-Za-z0-9] becomes an underscore.
func Filename(title, ext string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if strings.Trim(name, "_") == "" {
		name = "document"
	}
	return name + "." + ext
}

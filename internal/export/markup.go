package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"grantmaster/internal/assembly"
)

// Style configures the printable HTML document.
type Style struct {
	FontFamily    string
	FontSize      int
	PageNumbers   bool
	DocumentTitle string
}

const (
	DefaultFontFamily = "Arial, Helvetica, sans-serif"
	DefaultFontSize   = 11
)

var (
	markdown = goldmark.New(goldmark.WithRendererOptions(gmhtml.WithUnsafe()))
	sanitize = bluemonday.UGCPolicy()
)

const pageBreakHTML = `<div class="page-break"></div>`

// HTML renders assembled markup as a standalone printable HTML document.
func HTML(markup string, st Style) (string, error) {
	if st.FontFamily == "" {
		st.FontFamily = DefaultFontFamily
	}
	if st.FontSize <= 0 {
		st.FontSize = DefaultFontSize
	}
	var body strings.Builder
	for i, block := range strings.Split(markup, assembly.PageBreak) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(block), &buf); err != nil {
			return "", fmt.Errorf("render block %d: %w", i, err)
		}
		body.WriteString(sanitize.Sanitize(buf.String()))
		body.WriteString("\n" + pageBreakHTML + "\n")
	}
	pageNumbers := ""
	if st.PageNumbers {
		pageNumbers = "\n    @bottom-center { content: counter(page); }"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
  @page {
    size: letter;
    margin: 1in;%s
  }
  body {
    font-family: %s;
    font-size: %dpt;
    line-height: 1.5;
    max-width: 8.5in;
    margin: 0 auto;
  }
  h1 { text-align: center; }
  .page-break { page-break-after: always; break-after: page; }
</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(st.DocumentTitle), pageNumbers, cssFontFamily(st.FontFamily), st.FontSize, body.String()), nil
}

// Markdown renders assembled markup as Markdown, page breaks become rules.
func Markdown(markup string) string {
	out := strings.ReplaceAll(markup, assembly.PageBreak, "---")
	return strings.TrimRight(out, "\n") + "\n"
}

// cssFontFamily drops characters that could end the declaration or the
// style element.
func cssFontFamily(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '{', '}', ';', '\\':
			return -1
		}
		return r
	}, s)
}

package export

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
)

// DejaVu covers Latin, Greek, Cyrillic and the math symbols common in
// biomedical text; the core PDF fonts are limited to cp1252.
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
)

const fontFamily = "DejaVu"

// US Letter in points, one inch margins.
const (
	pageWidthPt  = 612.0
	pageHeightPt = 792.0
	marginPt     = 72.0

	titleSize   = 18.0
	metaSize    = 10.0
	headingSize = 14.0
	bodySize    = 11.0
	lineFactor  = 1.4
)

// layout tracks the write cursor and decides page breaks. fpdf's automatic
// page breaking is off; every line goes through ensure.
type layout struct {
	pdf        *fpdf.Fpdf
	y          float64
	pageHeight float64
	margin     float64
	width      float64
}

func newLayout() *layout {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(marginPt, marginPt, marginPt)
	pdf.SetAutoPageBreak(false, marginPt)
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontRegular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", fontBold)
	l := &layout{
		pdf:        pdf,
		pageHeight: pageHeightPt,
		margin:     marginPt,
		width:      pageWidthPt - 2*marginPt,
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-marginPt / 2)
		pdf.SetFont(fontFamily, "", 9)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	l.newPage()
	return l
}

func (l *layout) newPage() {
	l.pdf.AddPage()
	l.y = l.margin
}

// ensure starts a new page when h more points would cross the bottom margin.
func (l *layout) ensure(h float64) {
	if l.y+h > l.pageHeight-l.margin {
		l.newPage()
	}
}

func (l *layout) space(h float64) {
	if l.y+h > l.pageHeight-l.margin {
		l.newPage()
		return
	}
	l.y += h
}

// text writes wrapped text in the given font and alignment.
func (l *layout) text(s, style string, size float64, align string) {
	l.pdf.SetFont(fontFamily, style, size)
	lh := size * lineFactor
	for _, line := range l.wrap(s) {
		l.ensure(lh)
		l.pdf.SetXY(l.margin, l.y)
		l.pdf.CellFormat(l.width, lh, line, "", 0, align, false, 0, "")
		l.y += lh
	}
}

// wrap breaks s into lines no wider than the printable width using the
// current font metrics. Words wider than a line are split by character.
func (l *layout) wrap(s string) []string {
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := ""
		for _, w := range words {
			for l.pdf.GetStringWidth(w) > l.width {
				head, tail := l.splitWord(w)
				if cur != "" {
					lines = append(lines, cur)
					cur = ""
				}
				lines = append(lines, head)
				w = tail
			}
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if l.pdf.GetStringWidth(candidate) <= l.width {
				cur = candidate
				continue
			}
			lines = append(lines, cur)
			cur = w
		}
		if cur != "" {
			lines = append(lines, cur)
		}
	}
	return lines
}

// splitWord cuts w at the last rune boundary that still fits the width.
func (l *layout) splitWord(w string) (string, string) {
	for i := len(w) - 1; i > 0; i-- {
		if !utf8.RuneStart(w[i]) {
			continue
		}
		if l.pdf.GetStringWidth(w[:i]) <= l.width {
			return w[:i], w[i:]
		}
	}
	_, n := utf8.DecodeRuneInString(w)
	return w[:n], w[n:]
}

// RenderPDF renders content to PDF bytes. Nothing is returned on failure.
func RenderPDF(c Content) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("render pdf: %v", r)
		}
	}()
	l := newLayout()
	if err := l.pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	l.pdf.SetTitle(c.Title, true)
	if c.Metadata != nil && c.Metadata.Author != "" {
		l.pdf.SetAuthor(c.Metadata.Author, true)
	}

	l.text(c.Title, "B", titleSize, "C")
	for _, line := range c.Metadata.lines() {
		l.text(line, "", metaSize, "C")
	}
	l.space(bodySize * lineFactor)

	for _, s := range c.Sections {
		// keep a heading together with at least one body line
		l.ensure(headingSize*lineFactor + bodySize*lineFactor)
		l.text(s.Heading, "B", headingSize, "L")
		l.space(bodySize * 0.4)
		for _, p := range paragraphs(plainText(s.Content)) {
			l.text(p, "", bodySize, "L")
			l.space(bodySize * 0.6)
		}
		l.space(bodySize * lineFactor)
	}

	var buf bytes.Buffer
	if err := l.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

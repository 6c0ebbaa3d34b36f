package export

import (
	"bytes"
	"fmt"

	docx "github.com/fumiama/go-docx"
)

// Run sizes are half-points.
const (
	docxTitleSize   = "36"
	docxHeadingSize = "28"
	docxMetaSize    = "20"
)

// RenderDOCX renders content to a DOCX package. Nothing is returned on failure.
func RenderDOCX(c Content) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("render docx: %v", r)
		}
	}()
	doc := docx.New().WithDefaultTheme()

	doc.AddParagraph().Justification("center").AddText(c.Title).Bold().Size(docxTitleSize)
	for _, line := range c.Metadata.lines() {
		doc.AddParagraph().Justification("center").AddText(line).Size(docxMetaSize)
	}
	for _, s := range c.Sections {
		doc.AddParagraph().AddText(s.Heading).Bold().Size(docxHeadingSize)
		for _, p := range paragraphs(plainText(s.Content)) {
			doc.AddParagraph().AddText(p)
		}
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render docx: %w", err)
	}
	return buf.Bytes(), nil
}

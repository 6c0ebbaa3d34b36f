package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"grantmaster/internal/engine"
)

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func attachmentFile(f engine.ExportFile) *fileOutput {
	return &fileOutput{
		ContentType:        f.ContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", f.Filename),
		Body:               f.Data,
	}
}

func (s server) registerExport(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:  "export-document",
		Method:       http.MethodPost,
		Path:         "/export",
		Summary:      "Render content to pdf, docx, html or markdown",
		MaxBodyBytes: maxUploadBytes,
		Errors:       []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ExportRequest `json:"body"`
	}) (*fileOutput, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f, err := s.engine.ExportDocument(input.Body.Format, input.Body.Content)
		if err != nil {
			return nil, s.handleError(err)
		}
		return attachmentFile(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "export-package",
		Method:       http.MethodPost,
		Path:         "/export/package",
		Summary:      "Assemble a grant package into HTML or Markdown",
		Description:  "pdf and html produce HTML, docx and markdown produce Markdown.",
		MaxBodyBytes: maxUploadBytes,
		Errors:       []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PackageExportRequest `json:"body"`
	}) (*struct {
		Body PackageExportResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		out, err := s.engine.ExportPackage(input.Body.GrantPackage, input.Body.Options.engineOptions())
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body PackageExportResponse `json:"body"`
		}{Body: packageExportResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "print-package",
		Method:       http.MethodPost,
		Path:         "/export/package/print",
		Summary:      "Print a grant package to PDF with a headless browser",
		MaxBodyBytes: maxUploadBytes,
		Errors:       []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body PackageExportRequest `json:"body"`
	}) (*fileOutput, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f, err := s.engine.PrintPackage(ctx, input.Body.GrantPackage, input.Body.Options.engineOptions())
		if err != nil {
			return nil, s.handleError(err)
		}
		return attachmentFile(f), nil
	})
}

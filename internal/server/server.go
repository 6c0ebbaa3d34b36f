package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"grantmaster/internal/advisor"
	"grantmaster/internal/domain"
	"grantmaster/internal/engine"
	"grantmaster/internal/engine/auth"
	"grantmaster/internal/export"
	"grantmaster/internal/mechanism"
	"grantmaster/internal/repo"
)

// maxUploadBytes bounds attachment uploads and export payloads.
const maxUploadBytes = 32 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	engine engine.Engine
	log    *zap.Logger
}

// New returns an HTTP handler exposing the Grant Master API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Engine.Log
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "too_large", "request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Grant Master API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := server{engine: cfg.Engine, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	s.registerMechanisms(group)
	s.registerApplications(group)
	s.registerSections(group)
	s.registerAttachments(group)
	s.registerValidation(group)
	s.registerEvents(group)
	s.registerExport(group)
	// dev tokens only in demo mode
	if cfg.Auth.AllowDemoUser {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func (s server) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"resource": fe.Resource})
	}
	switch {
	case errors.Is(err, auth.ErrNoActor):
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, export.ErrUnsupportedFormat):
		return newAPIError(http.StatusBadRequest, "unsupported_format", err.Error(), nil)
	case engine.IsInputError(err):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, advisor.ErrDisabled),
		errors.Is(err, export.ErrPrinterDisabled),
		errors.Is(err, engine.ErrNoBlobStore):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "request cancelled", nil)
	default:
		s.log.Error("request failed", zap.Error(err))
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := publicPaths(basePath)
	mechanisms := path.Join(basePath, "mechanisms")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] || strings.HasPrefix(route, mechanisms) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Grant Master API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (s server) registerMechanisms(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-mechanisms",
		Method:      http.MethodGet,
		Path:        "/mechanisms",
		Summary:     "List grant mechanisms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []mechanism.Mechanism `json:"body"`
	}, error) {
		items := []mechanism.Mechanism{}
		if s.engine.Registry != nil {
			items = append(items, s.engine.Registry.All()...)
		}
		return &struct {
			Body []mechanism.Mechanism `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mechanism",
		Method:      http.MethodGet,
		Path:        "/mechanisms/{code}",
		Summary:     "Get a grant mechanism template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code" example:"R01"`
	}) (*struct {
		Body mechanism.Mechanism `json:"body"`
	}, error) {
		if s.engine.Registry == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown mechanism", nil)
		}
		m, ok := s.engine.Registry.Lookup(input.Code)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown mechanism", map[string]any{"code": input.Code})
		}
		return &struct {
			Body mechanism.Mechanism `json:"body"`
		}{Body: m}, nil
	})
}

func (s server) registerApplications(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Create an application from a mechanism template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateApplicationRequest `json:"body"`
	}) (*struct {
		Body domain.ApplicationDetail `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := s.engine.CreateApplication(ctx, engine.CreateApplicationOptions{
			Title:                 input.Body.Title,
			Mechanism:             input.Body.Mechanism,
			PrincipalInvestigator: input.Body.PrincipalInvestigator,
			Institution:           input.Body.Institution,
			ActorID:               userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.ApplicationDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List the caller's applications",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"draft,in_review,ready,submitted"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body ApplicationList `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, next, err := s.engine.ListApplications(ctx, engine.ListApplicationsOptions{
			ActorID: userID,
			Status:  input.Status,
			Limit:   normalizeLimit(input.Limit),
			Cursor:  input.Cursor,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		if items == nil {
			items = []domain.Application{}
		}
		return &struct {
			Body ApplicationList `json:"body"`
		}{Body: ApplicationList{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get an application with its sections and attachments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ApplicationDetail `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := s.engine.GetApplication(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.ApplicationDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-application",
		Method:      http.MethodPatch,
		Path:        "/applications/{id}",
		Summary:     "Update application metadata or status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body UpdateApplicationRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := s.engine.UpdateApplication(ctx, engine.UpdateApplicationOptions{
			ID:                    input.ID,
			Title:                 input.Body.Title,
			Status:                input.Body.Status,
			PrincipalInvestigator: input.Body.PrincipalInvestigator,
			Institution:           input.Body.Institution,
			ActorID:               userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-application",
		Method:        http.MethodDelete,
		Path:          "/applications/{id}",
		Summary:       "Delete an application",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.engine.DeleteApplication(ctx, input.ID, userID); err != nil {
			return nil, s.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-package",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/package",
		Summary:     "Build the grant package for an application",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.GrantPackage `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pkg, err := s.engine.BuildPackage(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.GrantPackage `json:"body"`
		}{Body: pkg}, nil
	})
}

func (s server) registerSections(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sections",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/sections",
		Summary:     "List sections in template order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Section `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListSections(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		if items == nil {
			items = []domain.Section{}
		}
		return &struct {
			Body []domain.Section `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-section",
		Method:      http.MethodPut,
		Path:        "/applications/{id}/sections/{sectionId}",
		Summary:     "Save section content and recompute its compliance state",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID        string             `path:"id"`
		SectionID string             `path:"sectionId" doc:"Section id or section type"`
		Body      SaveSectionRequest `json:"body"`
	}) (*struct {
		Body SaveSectionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.engine.SaveSection(ctx, engine.SaveSectionOptions{
			ApplicationID: input.ID,
			SectionID:     input.SectionID,
			Content:       input.Body.Content,
			ActorID:       userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body SaveSectionResponse `json:"body"`
		}{Body: SaveSectionResponse{Section: res.Section, Issues: res.Issues}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-section",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/sections/{sectionId}/review",
		Summary:     "Ask the advisor to score a section",
		Description: "Advisory only. Scores never affect validation or export.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID        string               `path:"id"`
		SectionID string               `path:"sectionId"`
		Body      ReviewSectionRequest `json:"body"`
	}) (*struct {
		Body domain.Review `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		review, err := s.engine.ReviewSection(ctx, engine.ReviewSectionOptions{
			ApplicationID: input.ID,
			SectionID:     input.SectionID,
			Kind:          input.Body.Kind,
			ActorID:       userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Review `json:"body"`
		}{Body: review}, nil
	})
}

func (s server) registerAttachments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/attachments",
		Summary:     "List attachment slots",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Attachment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListAttachments(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		if items == nil {
			items = []domain.Attachment{}
		}
		return &struct {
			Body []domain.Attachment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-attachment",
		Method:      http.MethodPatch,
		Path:        "/applications/{id}/attachments/{attachmentId}",
		Summary:     "Set an attachment's status or file URL",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID           string                  `path:"id"`
		AttachmentID string                  `path:"attachmentId"`
		Body         UpdateAttachmentRequest `json:"body"`
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.UpdateAttachment(ctx, engine.UpdateAttachmentOptions{
			ApplicationID: input.ID,
			AttachmentID:  input.AttachmentID,
			Status:        input.Body.Status,
			FileURL:       input.Body.FileURL,
			ActorID:       userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "upload-attachment",
		Method:       http.MethodPut,
		Path:         "/applications/{id}/attachments/{attachmentId}/file",
		Summary:      "Upload an attachment file to blob storage",
		MaxBodyBytes: maxUploadBytes,
		Errors:       []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID           string `path:"id"`
		AttachmentID string `path:"attachmentId"`
		Filename     string `query:"filename"`
		ContentType  string `header:"Content-Type"`
		RawBody      []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file body required", nil)
		}
		a, err := s.engine.UploadAttachment(ctx, engine.UploadAttachmentOptions{
			ApplicationID: input.ID,
			AttachmentID:  input.AttachmentID,
			Filename:      input.Filename,
			ContentType:   input.ContentType,
			Body:          bytes.NewReader(input.RawBody),
			ActorID:       userID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})
}

func (s server) registerValidation(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/validate",
		Summary:     "Run whole-application compliance validation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ValidationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.engine.ValidateApplication(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body ValidationResponse `json:"body"`
		}{Body: validationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-validation",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/validations/latest",
		Summary:     "Most recent validation snapshot",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ValidationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.engine.LatestValidation(ctx, input.ID, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body ValidationResponse `json:"body"`
		}{Body: validationResponse(res)}, nil
	})
}

func (s server) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/events",
		Summary:     "List an application's audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := s.engine.ListEvents(ctx, input.ID, userID, cursorID, limit+1)
		if err != nil {
			return nil, s.handleError(err)
		}
		resp := EventList{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev/token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "jwt secret not configured", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, strings.TrimSpace(input.Body.UserID), 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

package grantmastersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Grant Master HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  30 * time.Second,
	}
}

// Section represents the API section model (partial).
type Section struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	PageLimit  int    `json:"pageLimit"`
	PageCount  int    `json:"pageCount"`
	IsValid    bool   `json:"isValid"`
	IsComplete bool   `json:"isComplete"`
	Order      int    `json:"order"`
}

// Attachment represents a supporting file slot.
type Attachment struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	FileURL  *string `json:"fileUrl,omitempty"`
	Required bool    `json:"required"`
	Status   string  `json:"status"`
}

// Application is an application with its sections and attachments.
type Application struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title"`
	Mechanism             string       `json:"mechanism"`
	Status                string       `json:"status"`
	OwnerID               string       `json:"ownerId"`
	PrincipalInvestigator string       `json:"principalInvestigator,omitempty"`
	Institution           string       `json:"institution,omitempty"`
	Sections              []Section    `json:"sections,omitempty"`
	Attachments           []Attachment `json:"attachments,omitempty"`
}

// Issue is a compliance finding returned when a section is saved.
type Issue struct {
	Kind      string `json:"kind"`
	SectionID string `json:"sectionId,omitempty"`
	Message   string `json:"message"`
}

// SaveSectionResult is the saved section plus its findings.
type SaveSectionResult struct {
	Section Section `json:"section"`
	Issues  []Issue `json:"issues"`
}

// Validation is a whole-application validation snapshot.
type Validation struct {
	ID        string   `json:"id"`
	IsValid   bool     `json:"isValid"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	CanExport bool     `json:"canExport"`
	CreatedAt string   `json:"createdAt"`
}

// GrantSection is one section of a grant package.
type GrantSection struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Order     int    `json:"order"`
	WordCount int    `json:"wordCount,omitempty"`
}

// GrantPackage is the export-time projection of an application.
type GrantPackage struct {
	Title                 string         `json:"title"`
	PrincipalInvestigator string         `json:"principalInvestigator,omitempty"`
	Institution           string         `json:"institution,omitempty"`
	FundingAgency         string         `json:"fundingAgency,omitempty"`
	Mechanism             string         `json:"mechanism,omitempty"`
	Sections              []GrantSection `json:"sections"`
}

// PackageOptions control package assembly.
type PackageOptions struct {
	Format                 string `json:"format"`
	IncludeTableOfContents bool   `json:"includeTableOfContents,omitempty"`
	IncludePageNumbers     bool   `json:"includePageNumbers,omitempty"`
	IncludeCoverPage       bool   `json:"includeCoverPage,omitempty"`
	FontFamily             string `json:"fontFamily,omitempty"`
	FontSize               int    `json:"fontSize,omitempty"`
}

// PackageExport is the assembled package text.
type PackageExport struct {
	Success  bool   `json:"success"`
	Format   string `json:"format"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Stats    struct {
		TotalWordCount int `json:"totalWordCount"`
		EstimatedPages int `json:"estimatedPages"`
		SectionCount   int `json:"sectionCount"`
	} `json:"stats"`
	Validation struct {
		Warnings []string `json:"warnings"`
	} `json:"validation"`
}

// Document is direct export content.
type Document struct {
	Title    string            `json:"title"`
	Sections []DocumentSection `json:"sections"`
	Metadata *DocumentMetadata `json:"metadata,omitempty"`
}

type DocumentSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

type DocumentMetadata struct {
	Author string `json:"author,omitempty"`
	Date   string `json:"date,omitempty"`
	Type   string `json:"type,omitempty"`
}

// File is a rendered document.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateApplication creates an application from a mechanism template.
func (c *Client) CreateApplication(ctx context.Context, title, mechanism string) (Application, error) {
	body := map[string]any{
		"title":     title,
		"mechanism": mechanism,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "applications", body, &resp)
	return resp, err
}

// GetApplication fetches an application with its sections and attachments.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, "applications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SaveSection replaces a section's content. sectionID may be the section
// type, e.g. "specific_aims".
func (c *Client) SaveSection(ctx context.Context, applicationID, sectionID, content string) (SaveSectionResult, error) {
	var resp SaveSectionResult
	endpoint := fmt.Sprintf("applications/%s/sections/%s", url.PathEscape(applicationID), url.PathEscape(sectionID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"content": content}, &resp)
	return resp, err
}

// Validate runs whole-application validation.
func (c *Client) Validate(ctx context.Context, applicationID string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("applications/%s/validate", url.PathEscape(applicationID)), nil, &resp)
	return resp, err
}

// Package builds the grant package for an application.
func (c *Client) Package(ctx context.Context, applicationID string) (GrantPackage, error) {
	var resp GrantPackage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("applications/%s/package", url.PathEscape(applicationID)), nil, &resp)
	return resp, err
}

// ExportPackage assembles pkg into HTML or Markdown.
func (c *Client) ExportPackage(ctx context.Context, pkg GrantPackage, opts PackageOptions) (PackageExport, error) {
	var resp PackageExport
	err := c.do(ctx, http.MethodPost, "export/package", map[string]any{
		"grantPackage": pkg,
		"options":      opts,
	}, &resp)
	return resp, err
}

// Export renders doc to pdf, docx, html or markdown bytes.
func (c *Client) Export(ctx context.Context, format string, doc Document) (File, error) {
	resp, err := c.send(ctx, http.MethodPost, "export", map[string]any{"format": format, "content": doc})
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, err
	}
	f := File{ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		f.Filename = params["filename"]
	}
	return f, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"grantmaster/internal/blob"
	"grantmaster/internal/db"
	"grantmaster/internal/domain"
	"grantmaster/internal/engine"
	"grantmaster/internal/mechanism"
	"grantmaster/internal/migrate"
)

func TestMain(m *testing.M) {
	// opencensus, pulled in by the genai client, starts a worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func demoAuth() AuthConfig {
	return AuthConfig{DemoUserID: "demo-user", AllowDemoUser: true}
}

func newTestServer(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, mechanism.Default())
	e.Blob = blob.LocalStore{Dir: t.TempDir(), BaseURL: "http://files.test"}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	transport := &http.Transport{DisableKeepAlives: true}
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Transport: transport},
		close: func() {
			transport.CloseIdleConnections()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return env.Error.Code
}

func createApp(t *testing.T, srv *testServer, headers map[string]string) domain.ApplicationDetail {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/applications", map[string]any{
		"title":                 "Rapid Sepsis Diagnostic",
		"mechanism":             "R43",
		"principalInvestigator": "Dr. Kim",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create application status %d: %s", res.StatusCode, string(data))
	}
	return decode[domain.ApplicationDetail](t, data)
}

func TestPublicRoutesWithoutPrincipal(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	for _, p := range []string{"/v1/health", "/v1/openapi.json", "/v1/mechanisms", "/v1/mechanisms/r01", "/docs"} {
		res, body := doJSON(t, client, http.MethodGet, srv.URL+p, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", p, res.StatusCode, string(body))
		}
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401 without principal, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/mechanisms/R99", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown mechanism, got %d: %s", res.StatusCode, string(body))
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	bodies := make([][]byte, 8)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				t.Errorf("get openapi: %v", err)
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if len(b) == 0 || !bytes.Equal(b, bodies[0]) {
			t.Fatalf("openapi body %d differs or is empty", i)
		}
	}
}

func TestApplicationLifecycle(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()
	app := createApp(t, srv, nil)
	if app.OwnerID != "demo-user" || len(app.Sections) != 5 || len(app.Attachments) != 4 {
		t.Fatalf("unexpected application: %+v", app)
	}
	base := srv.URL + "/v1/applications/" + app.ID

	res, body := doJSON(t, client, http.MethodPost, base+"/validate", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(body))
	}
	v := decode[ValidationResponse](t, body)
	if v.IsValid || v.CanExport || len(v.Errors) == 0 {
		t.Fatalf("empty template should not validate: %+v", v)
	}

	res, body = doJSON(t, client, http.MethodPut, base+"/sections/specific_aims", map[string]any{
		"content": strings.Repeat("a", 3500),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save section status %d: %s", res.StatusCode, string(body))
	}
	saved := decode[SaveSectionResponse](t, body)
	if saved.Section.IsValid || saved.Section.PageCount != 2 || len(saved.Issues) == 0 {
		t.Fatalf("over-limit section should be invalid: %+v", saved)
	}

	res, body = doJSON(t, client, http.MethodPatch, base, map[string]any{"status": "in_review"}, nil)
	if res.StatusCode != http.StatusOK || decode[domain.Application](t, body).Status != "in_review" {
		t.Fatalf("update status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/validations/latest", nil, nil)
	if res.StatusCode != http.StatusOK || decode[ValidationResponse](t, body).ID != v.ID {
		t.Fatalf("latest validation status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	page := decode[EventList](t, body)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
	res, body = doJSON(t, client, http.MethodGet, base+"/events?limit=50&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK || len(decode[EventList](t, body).Items) != 2 {
		t.Fatalf("second events page %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, base+"/package", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("package status %d: %s", res.StatusCode, string(body))
	}
	pkg := decode[domain.GrantPackage](t, body)
	if pkg.FundingAgency == "" || len(pkg.Sections) != 5 {
		t.Fatalf("unexpected package: %+v", pkg)
	}

	res, body = doJSON(t, client, http.MethodDelete, base, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestRequestValidationUsesEnvelope(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications", map[string]any{
		"title": "x", "mechanism": "R43", "budget": 10,
	}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Fatalf("unknown field should be 400, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications", map[string]any{
		"title": "x", "mechanism": "R99",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mechanism should be 400, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications?cursor=broken", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken cursor should be 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestJWTAuthAndOwnership(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/token", map[string]any{"userId": "alice"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("dev token must not be served without the demo user, got %d: %s", res.StatusCode, string(body))
	}
	aliceToken, err := SignToken(secret, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	alice := map[string]string{"Authorization": "Bearer " + aliceToken}
	bobToken, err := SignToken(secret, "bob", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	bob := map[string]string{"Authorization": "Bearer " + bobToken}

	app := createApp(t, srv, alice)
	if app.OwnerID != "alice" {
		t.Fatalf("expected alice to own the application, got %q", app.OwnerID)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications/"+app.ID, nil, bob)
	if res.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("expected 403 for other user, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications", nil, bob)
	if res.StatusCode != http.StatusOK || len(decode[ApplicationList](t, body).Items) != 0 {
		t.Fatalf("bob should see no applications: %d %s", res.StatusCode, string(body))
	}

	wrong, _ := SignToken("other-secret", "alice", time.Hour)
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications", nil, map[string]string{"Authorization": "Bearer " + wrong})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", res.StatusCode, string(body))
	}
}

func TestDevTokenWithDemoUser(t *testing.T) {
	cfg := demoAuth()
	cfg.JWTSecret = "test-secret"
	srv := newTestServer(t, cfg)
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/token", map[string]any{"userId": "carol"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev token status %d: %s", res.StatusCode, string(body))
	}
	carol := map[string]string{"Authorization": "Bearer " + decode[DevTokenResponse](t, body).Token}
	if app := createApp(t, srv, carol); app.OwnerID != "carol" {
		t.Fatalf("expected carol to own the application, got %q", app.OwnerID)
	}
}

func TestAttachmentUploadAndPatch(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()
	app := createApp(t, srv, nil)
	att := app.Attachments[0]
	url := srv.URL + "/v1/applications/" + app.ID + "/attachments/" + att.ID

	req, err := http.NewRequest(http.MethodPut, url+"/file?filename=biosketch.pdf", strings.NewReader("%PDF-1.4 fake"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(body))
	}
	uploaded := decode[domain.Attachment](t, body)
	if uploaded.Status != domain.AttachmentUploaded || uploaded.FileURL == nil || !strings.HasPrefix(*uploaded.FileURL, "http://files.test/") {
		t.Fatalf("unexpected uploaded attachment: %+v", uploaded)
	}

	res, body = doJSON(t, client, http.MethodPatch, url, map[string]any{"status": "rejected"}, nil)
	if res.StatusCode != http.StatusOK || decode[domain.Attachment](t, body).Status != domain.AttachmentRejected {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPatch, url, map[string]any{"status": "lost"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status should be 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestReviewWithoutAdvisorIsUnavailable(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()
	app := createApp(t, srv, nil)
	base := srv.URL + "/v1/applications/" + app.ID + "/sections/specific_aims"

	if res, body := doJSON(t, client, http.MethodPut, base, map[string]any{"content": "Aim 1: detect sepsis."}, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("save status %d: %s", res.StatusCode, string(body))
	}
	res, body := doJSON(t, client, http.MethodPost, base+"/review", map[string]any{"kind": "score"}, nil)
	if res.StatusCode != http.StatusServiceUnavailable || errorCode(t, body) != "unavailable" {
		t.Fatalf("expected 503 unavailable, got %d: %s", res.StatusCode, string(body))
	}
}

func TestExportDocument(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()
	content := map[string]any{
		"title":    "Rapid Sepsis Diagnostic",
		"sections": []map[string]any{{"heading": "Specific Aims", "content": "Aim 1.\n\nAim 2."}},
		"metadata": map[string]any{"author": "Dr. Kim"},
	}
	cases := []struct {
		format string
		prefix string
		ext    string
	}{
		{"pdf", "%PDF", ".pdf"},
		{"docx", "PK", ".docx"},
		{"html", "<!DOCTYPE html>", ".html"},
		{"markdown", "# Rapid Sepsis Diagnostic", ".md"},
	}
	for _, tc := range cases {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/export", map[string]any{"format": tc.format, "content": content}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s export status %d: %s", tc.format, res.StatusCode, string(body))
		}
		if !bytes.HasPrefix(body, []byte(tc.prefix)) {
			t.Fatalf("%s export has wrong prefix: %q", tc.format, string(body[:min(len(body), 20)]))
		}
		if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "Rapid_Sepsis_Diagnostic"+tc.ext) {
			t.Fatalf("%s content disposition %q", tc.format, cd)
		}
	}

	for _, format := range []string{"rtf", "xyz"} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/export", map[string]any{"format": format, "content": content}, nil)
		if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != "unsupported_format" {
			t.Fatalf("%s: expected unsupported_format, got %d: %s", format, res.StatusCode, string(body))
		}
	}
}

func TestExportPackage(t *testing.T) {
	srv := newTestServer(t, demoAuth())
	client := srv.Client()
	pkg := map[string]any{
		"title":     "Rapid Sepsis Diagnostic",
		"mechanism": "R43",
		"sections": []map[string]any{
			{"id": "specific_aims", "title": "Specific Aims", "content": "# Aims\n\nDetect sepsis early.", "order": 0},
			{"id": "research_strategy", "title": "Research Strategy", "content": "Significance. Innovation. Approach.", "order": 1},
		},
	}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/export/package", map[string]any{
		"grantPackage": pkg,
		"options":      map[string]any{"format": "markdown", "includeCoverPage": true, "includeTableOfContents": true},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("package export status %d: %s", res.StatusCode, string(body))
	}
	out := decode[PackageExportResponse](t, body)
	if !out.Success || out.Filename != "Rapid_Sepsis_Diagnostic.md" || out.Stats.SectionCount != 2 {
		t.Fatalf("unexpected package export: %+v", out)
	}
	if !strings.Contains(out.Content, "Table of Contents") || !strings.Contains(out.Content, "Detect sepsis early.") {
		t.Fatalf("package content missing parts:\n%s", out.Content)
	}
	if out.Validation.Warnings == nil || len(out.Validation.Sections) != 2 {
		t.Fatalf("unexpected validation block: %+v", out.Validation)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/export/package/print", map[string]any{
		"grantPackage": pkg,
		"options":      map[string]any{"format": "pdf"},
	}, nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("print without browser should be 503, got %d: %s", res.StatusCode, string(body))
	}
}

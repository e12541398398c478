package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"

	"github.com/qnetstudy/qnet-study-server/internal/testutil"
	"github.com/qnetstudy/qnet-study-server/pkg/cache"
	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
	"github.com/qnetstudy/qnet-study-server/pkg/planner"
	"github.com/qnetstudy/qnet-study-server/pkg/qnet"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// newTestServer builds a server around a mock upstream with a fast
// retry policy. Tests attach the AI services they exercise.
func newTestServer(t *testing.T) (*Server, *testutil.MockQNet) {
	t.Helper()

	mock := testutil.NewMockQNet()
	t.Cleanup(mock.Close)

	store, err := cache.NewMemoryStore(64, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache store: %v", err)
	}

	cfg := qnet.DefaultConfig("test-service-key", store)
	cfg.TestInfoBaseURL = mock.URL()
	cfg.QualificationBaseURL = mock.URL()
	cfg.Retry = qnet.RetryConfig{MaxAttempts: 1, BackoffStep: time.Millisecond}

	client, err := qnet.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create qnet client: %v", err)
	}

	return &Server{
		QNet:             client,
		TestInfoURL:      mock.URL(),
		QualificationURL: mock.URL(),
		Logger:           zerolog.Nop(),
	}, mock
}

// fakeDocs is an in-memory DocumentService. Uploads are staged under a
// per-test directory and provider files are numbered sequentially.
type fakeDocs struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	seq      int
	tracked  []*genai.File
	deleted  []string

	processErr error
	extractErr error
	deleteErr  error

	fullText   string
	preview    string
	structured map[string]any
	pages      []pdf.PageText
}

func newFakeDocs(t *testing.T) *fakeDocs {
	t.Helper()
	return &fakeDocs{
		dir:        t.TempDir(),
		maxBytes:   1 << 20,
		fullText:   "전기 회로의 기본 법칙 정리",
		preview:    "회로이론 핵심 요약",
		structured: map[string]any{"title": "회로이론"},
		pages:      []pdf.PageText{{Page: 1, Text: "1쪽 내용"}, {Page: 2, Text: "2쪽 내용"}},
	}
}

func (d *fakeDocs) SaveUpload(filename string, r io.Reader) (string, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "", fmt.Errorf("%w: %s", pdf.ErrNotPDF, filename)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if int64(len(data)) > d.maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", pdf.ErrFileTooLarge, d.maxBytes)
	}
	path := filepath.Join(d.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (d *fakeDocs) UploadAndProcess(_ context.Context, _, displayName string) (*genai.File, error) {
	if d.processErr != nil {
		return nil, d.processErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	file := &genai.File{
		Name:        fmt.Sprintf("files/fake-%d", d.seq),
		DisplayName: displayName,
		URI:         fmt.Sprintf("https://files.fake/%d", d.seq),
		MIMEType:    "application/pdf",
		State:       genai.FileStateActive,
	}
	d.tracked = append(d.tracked, file)
	return file, nil
}

func (d *fakeDocs) ExtractFullText(context.Context, *genai.File) (string, error) {
	if d.extractErr != nil {
		return "", d.extractErr
	}
	return d.fullText, nil
}

func (d *fakeDocs) ExtractPreview(context.Context, *genai.File) (string, error) {
	if d.extractErr != nil {
		return "", d.extractErr
	}
	return d.preview, nil
}

func (d *fakeDocs) ExtractStructured(context.Context, *genai.File) (map[string]any, error) {
	if d.extractErr != nil {
		return nil, d.extractErr
	}
	return d.structured, nil
}

func (d *fakeDocs) ExtractPages(context.Context, *genai.File) ([]pdf.PageText, error) {
	if d.extractErr != nil {
		return nil, d.extractErr
	}
	return d.pages, nil
}

func (d *fakeDocs) ListTracked() []pdf.FileInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos := make([]pdf.FileInfo, len(d.tracked))
	for i, f := range d.tracked {
		infos[i] = pdf.NewFileInfo(f)
	}
	return infos
}

func (d *fakeDocs) Find(_ context.Context, name string) (*genai.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range d.tracked {
		if f.Name == name || f.DisplayName == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", pdf.ErrFileNotFound, name)
}

func (d *fakeDocs) DeleteFile(_ context.Context, name string) error {
	if d.deleteErr != nil {
		return d.deleteErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.tracked {
		if f.Name == name {
			d.tracked = append(d.tracked[:i], d.tracked[i+1:]...)
			break
		}
	}
	d.deleted = append(d.deleted, name)
	return nil
}

func (d *fakeDocs) DeleteAllFiles(ctx context.Context) int {
	d.mu.Lock()
	names := make([]string, len(d.tracked))
	for i, f := range d.tracked {
		names[i] = f.Name
	}
	d.mu.Unlock()

	deleted := 0
	for _, name := range names {
		if err := d.DeleteFile(ctx, name); err != nil {
			continue
		}
		deleted++
	}
	return deleted
}

func (d *fakeDocs) MaxUploadBytes() int64 { return d.maxBytes }

// doJSON runs one JSON request against the handler tree.
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	decodeBody(t, rec, &payload)
	return payload.Error
}

// newUploadRequest builds a multipart request carrying one file plus
// extra form fields.
func newUploadRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write form field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	srv, mock := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var payload struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	decodeBody(t, rec, &payload)

	if payload.Status != "ok" {
		t.Errorf("Status = %q, want ok", payload.Status)
	}
	if payload.Services["testInfo"] != mock.URL() {
		t.Errorf("testInfo = %q, want %q", payload.Services["testInfo"], mock.URL())
	}
	if payload.Services["qualification"] != mock.URL() {
		t.Errorf("qualification = %q, want %q", payload.Services["qualification"], mock.URL())
	}
	if payload.Services["openai"] != "disabled" {
		t.Errorf("openai = %q, want disabled", payload.Services["openai"])
	}
	if payload.Services["gemini"] != "disabled" {
		t.Errorf("gemini = %q, want disabled", payload.Services["gemini"])
	}
}

func TestHealth_ServicesEnabled(t *testing.T) {
	srv, _ := newTestServer(t)

	p, err := planner.New(planner.Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create planner: %v", err)
	}
	srv.Planner = p
	srv.Docs = newFakeDocs(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	var payload struct {
		Services map[string]string `json:"services"`
	}
	decodeBody(t, rec, &payload)

	if payload.Services["openai"] != "enabled" {
		t.Errorf("openai = %q, want enabled", payload.Services["openai"])
	}
	if payload.Services["gemini"] != "enabled" {
		t.Errorf("gemini = %q, want enabled", payload.Services["gemini"])
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/rag/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("Allow-Methods = %q, want DELETE included", got)
	}
}

func TestCORSHeadersOnNormalResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestHandler_MissingQNetClient(t *testing.T) {
	srv := &Server{Logger: zerolog.Nop()}
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want 500", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/nope", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/health", nil)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Status = %d, want 405", rec.Code)
	}
}

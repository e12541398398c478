// Package pdf uploads PDF documents to the Gemini File API, tracks them
// through processing, and extracts their content with multimodal
// generation calls. Scanned and image-only documents work the same as
// text PDFs because extraction goes through the model rather than a
// local parser.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Prometheus metrics for Gemini operations.
var (
	geminiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_requests_total",
		Help: "Total Gemini API calls by operation and outcome",
	}, []string{"operation", "status"})

	geminiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_request_duration_seconds",
		Help:    "Gemini API call duration in seconds by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"operation"})

	geminiTrackedFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemini_tracked_files",
		Help: "Provider files uploaded and still tracked by this process",
	})
)

// Common errors returned by the loader.
var (
	// ErrNotPDF is returned when the candidate file does not carry a
	// .pdf extension.
	ErrNotPDF = errors.New("only PDF files are accepted")

	// ErrFileTooLarge is returned when an upload exceeds the configured
	// size cap.
	ErrFileTooLarge = errors.New("file exceeds the upload size limit")

	// ErrProcessingFailed is returned when the provider marks an
	// uploaded file as FAILED.
	ErrProcessingFailed = errors.New("file processing failed")

	// ErrProcessingTimeout is returned when a file does not reach the
	// ACTIVE state within the processing deadline.
	ErrProcessingTimeout = errors.New("file processing timed out")

	// ErrFileNotFound is returned when a named file is neither tracked
	// nor known to the provider.
	ErrFileNotFound = errors.New("file not found")

	// ErrEmptyResponse is returned when the model answers with no text
	// parts.
	ErrEmptyResponse = errors.New("model returned no text")
)

// Defaults for Config fields left at their zero value.
const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultUploadDir      = "uploads"
	DefaultMaxUploadBytes = 10 << 20
	DefaultPollInterval   = 2 * time.Second
	DefaultProcessTimeout = 5 * time.Minute
)

// fileStore is the slice of the Gemini File API the loader needs.
type fileStore interface {
	Upload(ctx context.Context, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	Get(ctx context.Context, name string) (*genai.File, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*genai.File, error)
}

// contentGenerator produces text from a sequence of prompt parts.
type contentGenerator interface {
	Generate(ctx context.Context, parts ...genai.Part) (string, error)
}

// geminiFileStore adapts *genai.Client to fileStore.
type geminiFileStore struct {
	client *genai.Client
}

func (s *geminiFileStore) Upload(ctx context.Context, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error) {
	return s.client.UploadFile(ctx, "", r, opts)
}

func (s *geminiFileStore) Get(ctx context.Context, name string) (*genai.File, error) {
	return s.client.GetFile(ctx, name)
}

func (s *geminiFileStore) Delete(ctx context.Context, name string) error {
	return s.client.DeleteFile(ctx, name)
}

func (s *geminiFileStore) List(ctx context.Context) ([]*genai.File, error) {
	var files []*genai.File
	it := s.client.ListFiles(ctx)
	for {
		f, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// geminiGenerator adapts a generative model to contentGenerator.
type geminiGenerator struct {
	model *genai.GenerativeModel
}

func (g *geminiGenerator) Generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// Config holds the loader configuration.
type Config struct {
	// APIKey is the Gemini credential (REQUIRED).
	APIKey string

	// Model overrides the default generation model.
	Model string

	// UploadDir is where incoming uploads are staged on disk.
	UploadDir string

	// MaxUploadBytes caps the size of a single upload.
	MaxUploadBytes int64

	// PollInterval is the delay between file state checks.
	PollInterval time.Duration

	// ProcessTimeout bounds the wait for a file to become ACTIVE.
	ProcessTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          DefaultModel,
		UploadDir:      DefaultUploadDir,
		MaxUploadBytes: DefaultMaxUploadBytes,
		PollInterval:   DefaultPollInterval,
		ProcessTimeout: DefaultProcessTimeout,
	}
}

// Loader owns the Gemini client and the set of files uploaded during
// this process lifetime.
type Loader struct {
	client *genai.Client
	files  fileStore
	gen    contentGenerator
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	tracked []*genai.File
}

// New creates a loader backed by the Gemini API.
func New(ctx context.Context, cfg Config) (*Loader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	applyDefaults(&cfg)

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Loader{
		client: client,
		files:  &geminiFileStore{client: client},
		gen:    &geminiGenerator{model: client.GenerativeModel(cfg.Model)},
		config: cfg,
		logger: log.With().Str("component", "pdf-loader").Logger(),
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
}

// Close releases the underlying API client.
func (l *Loader) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Upload pushes a local PDF to the File API and tracks it. The returned
// file is usually still PROCESSING; follow with WaitForProcessing before
// using it in a generation call.
func (l *Loader) Upload(ctx context.Context, path, displayName string) (*genai.File, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrNotPDF, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if displayName == "" {
		base := filepath.Base(path)
		displayName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	start := time.Now()
	uploaded, err := l.files.Upload(ctx, f, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    "application/pdf",
	})
	geminiRequestDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	if err != nil {
		geminiRequestsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}
	geminiRequestsTotal.WithLabelValues("upload", "success").Inc()

	l.logger.Info().
		Str("name", uploaded.Name).
		Str("display_name", uploaded.DisplayName).
		Str("uri", uploaded.URI).
		Msg("PDF uploaded")

	l.track(uploaded)
	return uploaded, nil
}

// WaitForProcessing polls the file state until it becomes ACTIVE,
// failing on FAILED, on the processing deadline, or when ctx ends.
func (l *Loader) WaitForProcessing(ctx context.Context, file *genai.File) (*genai.File, error) {
	deadline := time.Now().Add(l.config.ProcessTimeout)
	current := file

	for {
		switch current.State {
		case genai.FileStateActive:
			l.replaceTracked(current)
			l.logger.Info().Str("name", current.Name).Msg("file processing complete")
			return current, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("%w: %s", ErrProcessingFailed, current.DisplayName)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s: %s", ErrProcessingTimeout, l.config.ProcessTimeout, current.DisplayName)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.PollInterval):
		}

		refreshed, err := l.files.Get(ctx, current.Name)
		if err != nil {
			return nil, fmt.Errorf("checking state of %s: %w", current.Name, err)
		}
		current = refreshed
	}
}

// UploadAndProcess uploads a local PDF and blocks until it is ready for
// generation calls.
func (l *Loader) UploadAndProcess(ctx context.Context, path, displayName string) (*genai.File, error) {
	uploaded, err := l.Upload(ctx, path, displayName)
	if err != nil {
		return nil, err
	}
	return l.WaitForProcessing(ctx, uploaded)
}

// Generate runs one generation call against the configured model and
// returns the concatenated text answer.
func (l *Loader) Generate(ctx context.Context, parts ...genai.Part) (string, error) {
	start := time.Now()
	text, err := l.gen.Generate(ctx, parts...)
	geminiRequestDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		geminiRequestsTotal.WithLabelValues("generate", "error").Inc()
		return "", err
	}
	geminiRequestsTotal.WithLabelValues("generate", "success").Inc()
	return text, nil
}

// FileInfo is the JSON-friendly view of a provider file.
type FileInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URI         string `json:"uri"`
	MIMEType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	State       string `json:"state"`
	CreateTime  string `json:"create_time,omitempty"`
}

// NewFileInfo converts a provider file into its JSON view.
func NewFileInfo(f *genai.File) FileInfo {
	info := FileInfo{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MIMEType:    f.MIMEType,
		SizeBytes:   f.SizeBytes,
		State:       stateName(f.State),
	}
	if !f.CreateTime.IsZero() {
		info.CreateTime = f.CreateTime.Format(time.RFC3339)
	}
	return info
}

// stateName maps the provider state enum onto its wire spelling.
func stateName(s genai.FileState) string {
	switch s {
	case genai.FileStateProcessing:
		return "PROCESSING"
	case genai.FileStateActive:
		return "ACTIVE"
	case genai.FileStateFailed:
		return "FAILED"
	default:
		return "UNSPECIFIED"
	}
}

// ListTracked reports the files uploaded during this process lifetime.
func (l *Loader) ListTracked() []FileInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]FileInfo, len(l.tracked))
	for i, f := range l.tracked {
		infos[i] = NewFileInfo(f)
	}
	return infos
}

// ListRemote reports every file the provider currently holds for this
// API key, tracked here or not.
func (l *Loader) ListRemote(ctx context.Context) ([]FileInfo, error) {
	start := time.Now()
	files, err := l.files.List(ctx)
	geminiRequestDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		geminiRequestsTotal.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("listing files: %w", err)
	}
	geminiRequestsTotal.WithLabelValues("list", "success").Inc()

	infos := make([]FileInfo, len(files))
	for i, f := range files {
		infos[i] = NewFileInfo(f)
	}
	return infos, nil
}

// Find resolves a file by provider name or display name. Tracked files
// win; otherwise the provider is asked directly, which covers files
// uploaded before a restart.
func (l *Loader) Find(ctx context.Context, name string) (*genai.File, error) {
	l.mu.Lock()
	for _, f := range l.tracked {
		if f.Name == name || f.DisplayName == name {
			l.mu.Unlock()
			return f, nil
		}
	}
	l.mu.Unlock()

	file, err := l.files.Get(ctx, name)
	if err != nil {
		l.logger.Warn().Err(err).Str("name", name).Msg("file lookup failed")
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return file, nil
}

// DeleteFile removes a provider file and drops it from tracking.
func (l *Loader) DeleteFile(ctx context.Context, name string) error {
	start := time.Now()
	err := l.files.Delete(ctx, name)
	geminiRequestDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		geminiRequestsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	geminiRequestsTotal.WithLabelValues("delete", "success").Inc()

	l.untrack(name)
	l.logger.Info().Str("name", name).Msg("file deleted")
	return nil
}

// DeleteAllFiles removes every tracked file and reports how many were
// deleted. Individual failures are logged and skipped so one stuck file
// cannot strand the rest.
func (l *Loader) DeleteAllFiles(ctx context.Context) int {
	l.mu.Lock()
	names := make([]string, len(l.tracked))
	for i, f := range l.tracked {
		names[i] = f.Name
	}
	l.mu.Unlock()

	deleted := 0
	for _, name := range names {
		if err := l.DeleteFile(ctx, name); err != nil {
			l.logger.Warn().Err(err).Str("name", name).Msg("failed to delete file")
			continue
		}
		deleted++
	}
	return deleted
}

func (l *Loader) track(file *genai.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked = append(l.tracked, file)
	geminiTrackedFiles.Set(float64(len(l.tracked)))
}

// replaceTracked swaps the tracked entry for a refreshed provider copy.
func (l *Loader) replaceTracked(file *genai.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.tracked {
		if f.Name == file.Name {
			l.tracked[i] = file
			return
		}
	}
}

func (l *Loader) untrack(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.tracked {
		if f.Name == name {
			l.tracked = append(l.tracked[:i], l.tracked[i+1:]...)
			geminiTrackedFiles.Set(float64(len(l.tracked)))
			return
		}
	}
}

// Package api exposes the study-helper HTTP surface: the Q-Net
// passthrough proxy, OpenAI study planning, Gemini document extraction,
// quiz generation and the document question-answering service. Handlers
// translate wire requests into calls on the domain packages and map
// their errors onto HTTP statuses; no business logic lives here.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"

	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
	"github.com/qnetstudy/qnet-study-server/pkg/planner"
	"github.com/qnetstudy/qnet-study-server/pkg/qnet"
	"github.com/qnetstudy/qnet-study-server/pkg/quiz"
	"github.com/qnetstudy/qnet-study-server/pkg/rag"
)

// validate checks request payloads against their struct tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

// DocumentService is the slice of *pdf.Loader the document handlers
// depend on. Tests substitute a fake; production wires the loader.
type DocumentService interface {
	SaveUpload(filename string, r io.Reader) (string, error)
	UploadAndProcess(ctx context.Context, path, displayName string) (*genai.File, error)
	ExtractFullText(ctx context.Context, file *genai.File) (string, error)
	ExtractPreview(ctx context.Context, file *genai.File) (string, error)
	ExtractStructured(ctx context.Context, file *genai.File) (map[string]any, error)
	ExtractPages(ctx context.Context, file *genai.File) ([]pdf.PageText, error)
	ListTracked() []pdf.FileInfo
	Find(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
	DeleteAllFiles(ctx context.Context) int
	MaxUploadBytes() int64
}

// Server bundles the services behind the HTTP surface. QNet is
// required; the AI services are optional and their routes answer 503
// when the matching field is nil, mirroring an unset API key.
type Server struct {
	QNet    *qnet.Client
	Planner *planner.Planner
	Docs    DocumentService
	Quiz    *quiz.Generator
	RAG     *rag.Service

	// TestInfoURL and QualificationURL are reported by the health
	// endpoint so clients can see which upstreams are in play.
	TestInfoURL      string
	QualificationURL string

	Logger zerolog.Logger
}

// Handler constructs the route tree with CORS applied.
func (s *Server) Handler() http.Handler {
	if s.QNet == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusInternalServerError, "qnet client is not configured")
		})
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/qnet/pe-list", s.handleSchedule(s.QNet.ProfessionalEngineerSchedule))
	mux.HandleFunc("GET /api/qnet/mc-list", s.handleSchedule(s.QNet.MasterCraftsmanSchedule))
	mux.HandleFunc("GET /api/qnet/e-list", s.handleSchedule(s.QNet.EngineerSchedule))
	mux.HandleFunc("GET /api/qnet/c-list", s.handleSchedule(s.QNet.CraftsmanSchedule))
	mux.HandleFunc("GET /api/qnet/fee-list", s.handleQualification(s.QNet.ExamFees))
	mux.HandleFunc("GET /api/qnet/jm-list", s.handleQualification(s.QNet.SubjectInfo))
	mux.HandleFunc("GET /api/qnet/qualification-list", s.handleQualificationList)

	mux.HandleFunc("POST /api/openai/generate-study-plan", s.handleStudyPlan)
	mux.HandleFunc("POST /api/openai/chat", s.handlePlannerChat)

	mux.HandleFunc("POST /api/pdf/upload", s.handlePDFUpload)
	mux.HandleFunc("POST /api/pdf/extract-text", s.handleExtractText)
	mux.HandleFunc("POST /api/pdf/extract-preview", s.handleExtractPreview)
	mux.HandleFunc("POST /api/pdf/extract-structured", s.handleExtractStructured)
	mux.HandleFunc("POST /api/pdf/extract-by-pages", s.handleExtractByPages)
	mux.HandleFunc("GET /api/pdf/uploaded-files", s.handleUploadedFiles)
	mux.HandleFunc("DELETE /api/pdf/clear-files", s.handleClearFiles)
	mux.HandleFunc("DELETE /api/pdf/files/{name}", s.handleDeleteFile)

	mux.HandleFunc("POST /api/quiz/upload-and-generate", s.handleQuizUploadAndGenerate)
	mux.HandleFunc("POST /api/quiz/generate-from-uploaded", s.handleQuizFromUploaded)
	mux.HandleFunc("GET /api/quiz/health", s.handleQuizHealth)

	mux.HandleFunc("POST /api/rag/upload-and-index", s.handleRAGUpload)
	mux.HandleFunc("POST /api/rag/ask", s.handleRAGAsk)
	mux.HandleFunc("POST /api/rag/chat", s.handleRAGChat)
	mux.HandleFunc("GET /api/rag/conversation/{id}", s.handleRAGHistory)
	mux.HandleFunc("DELETE /api/rag/conversation/{id}", s.handleRAGClearHistory)
	mux.HandleFunc("POST /api/rag/generate-quiz", s.handleRAGQuiz)
	mux.HandleFunc("GET /api/rag/knowledge-bases", s.handleListKnowledgeBases)
	mux.HandleFunc("POST /api/rag/knowledge-bases", s.handleCreateKnowledgeBase)
	mux.HandleFunc("DELETE /api/rag/knowledge-bases/{name}", s.handleDeleteKnowledgeBase)

	return withCORS(mux)
}

// withCORS answers preflight requests and marks every response as
// cross-origin accessible. The deployment serves a browser frontend
// from a different origin, so the policy is allow-all.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports which upstream services this instance can reach.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"services": map[string]string{
			"testInfo":      s.TestInfoURL,
			"qualification": s.QualificationURL,
			"openai":        enabledWhen(s.Planner != nil),
			"gemini":        enabledWhen(s.Docs != nil),
		},
	})
}

func enabledWhen(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

type errorResponse struct {
	Error string `json:"error"`
}

// messageResponse is the success envelope shared by routes that answer
// with a status line or a single model message.
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the request body into dst and checks its validate
// tags. The returned error is safe to hand to the client.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// serviceUnavailable reports a route whose backing API key is not set.
func serviceUnavailable(w http.ResponseWriter, what, envVar string) {
	respondError(w, http.StatusServiceUnavailable,
		fmt.Sprintf("%s service is not available: %s is not set", what, envVar))
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
	"github.com/qnetstudy/qnet-study-server/pkg/quiz"
)

type quizResponse struct {
	Success        bool            `json:"success"`
	Questions      []quiz.Question `json:"questions"`
	FileName       string          `json:"file_name"`
	TotalQuestions int             `json:"total_questions"`
}

// handleQuizUploadAndGenerate builds a quiz from a freshly uploaded
// PDF in one round trip. The provider copy is deleted once the quiz is
// generated; one-shot uploads should not pile up remotely.
func (s *Server) handleQuizUploadAndGenerate(w http.ResponseWriter, r *http.Request) {
	if s.Quiz == nil || s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	opts := quiz.Options{
		Difficulty:   r.FormValue("difficulty"),
		QuestionType: r.FormValue("question_type"),
	}
	if v := r.FormValue("num_questions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid num_questions %q", v))
			return
		}
		opts.NumQuestions = n
	}

	path, filename, err := s.stageUpload(r)
	if err != nil {
		s.respondUploadError(w, err, msgPDFOnly)
		return
	}
	defer os.Remove(path)

	file, err := s.Docs.UploadAndProcess(r.Context(), path, filename)
	if err != nil {
		s.Logger.Error().Err(err).Str("file", filename).Msg("document processing failed")
		respondError(w, http.StatusInternalServerError, "퀴즈 생성 중 오류 발생: "+err.Error())
		return
	}

	questions, err := s.Quiz.Generate(r.Context(), file, opts)
	if err != nil {
		s.respondQuizError(w, err)
		return
	}

	if err := s.Docs.DeleteFile(r.Context(), file.Name); err != nil {
		s.Logger.Warn().Err(err).Str("name", file.Name).Msg("could not delete one-shot upload")
	}

	respondJSON(w, http.StatusOK, quizResponse{
		Success:        true,
		Questions:      questions,
		FileName:       filename,
		TotalQuestions: len(questions),
	})
}

type quizFromUploadedRequest struct {
	FileName     string `json:"file_name"`
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
	QuestionType string `json:"question_type"`
}

// handleQuizFromUploaded builds a quiz from a document that was
// registered earlier through the upload routes.
func (s *Server) handleQuizFromUploaded(w http.ResponseWriter, r *http.Request) {
	if s.Quiz == nil || s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	var req quizFromUploadedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FileName == "" {
		respondError(w, http.StatusBadRequest, "file_name이 필요합니다.")
		return
	}

	file, err := s.Docs.Find(r.Context(), req.FileName)
	if err != nil {
		if errors.Is(err, pdf.ErrFileNotFound) {
			respondError(w, http.StatusNotFound, "파일을 찾을 수 없습니다: "+req.FileName)
			return
		}
		s.Logger.Error().Err(err).Str("name", req.FileName).Msg("file lookup failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	questions, err := s.Quiz.Generate(r.Context(), file, quiz.Options{
		NumQuestions: req.NumQuestions,
		Difficulty:   req.Difficulty,
		QuestionType: req.QuestionType,
	})
	if err != nil {
		s.respondQuizError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, quizResponse{
		Success:        true,
		Questions:      questions,
		FileName:       file.DisplayName,
		TotalQuestions: len(questions),
	})
}

// respondQuizError separates bad quiz settings from generation
// failures.
func (s *Server) respondQuizError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrInvalidQuestionCount),
		errors.Is(err, quiz.ErrInvalidDifficulty),
		errors.Is(err, quiz.ErrInvalidQuestionType):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.Logger.Error().Err(err).Msg("quiz generation failed")
		respondError(w, http.StatusInternalServerError, "퀴즈 생성 중 오류 발생: "+err.Error())
	}
}

type quizHealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	GeminiConfigured bool   `json:"gemini_configured"`
}

func (s *Server) handleQuizHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, quizHealthResponse{
		Status:           "ok",
		Service:          "Quiz Generation with Gemini API",
		GeminiConfigured: s.Quiz != nil,
	})
}

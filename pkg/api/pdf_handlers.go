package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"

	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
)

// Upload rejection messages shown to the Korean-language frontend.
const (
	msgPDFOnly      = "PDF 파일만 업로드 가능합니다."
	msgFileTooLarge = "파일 크기가 너무 큽니다. 최대 %dMB까지 업로드 가능합니다."
)

var errMissingFile = errors.New("file field is required")

// stageUpload pulls the multipart file out of the request and stages it
// under the upload directory. The caller owns the staged path.
func (s *Server) stageUpload(r *http.Request) (path, filename string, err error) {
	f, header, err := r.FormFile("file")
	if err != nil {
		return "", "", errMissingFile
	}
	defer f.Close()

	path, err = s.Docs.SaveUpload(header.Filename, f)
	if err != nil {
		return "", "", err
	}
	return path, header.Filename, nil
}

// respondUploadError translates staging failures. notPDFMsg varies per
// route family to keep the original frontend strings intact.
func (s *Server) respondUploadError(w http.ResponseWriter, err error, notPDFMsg string) {
	switch {
	case errors.Is(err, errMissingFile):
		respondError(w, http.StatusBadRequest, errMissingFile.Error())
	case errors.Is(err, pdf.ErrNotPDF):
		respondError(w, http.StatusBadRequest, notPDFMsg)
	case errors.Is(err, pdf.ErrFileTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf(msgFileTooLarge, s.Docs.MaxUploadBytes()/(1<<20)))
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// runExtraction stages the uploaded PDF, registers it with the provider
// and applies extract to the processed file. The staged copy is always
// removed afterwards; the provider copy is kept so follow-up quiz or
// question routes can reference it.
func (s *Server) runExtraction(w http.ResponseWriter, r *http.Request, errPrefix string,
	extract func(ctx context.Context, file *genai.File, filename string) (any, error)) {
	if s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
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
		respondError(w, http.StatusInternalServerError, errPrefix+err.Error())
		return
	}

	payload, err := extract(r.Context(), file, filename)
	if err != nil {
		s.Logger.Error().Err(err).Str("file", filename).Msg("document extraction failed")
		respondError(w, http.StatusInternalServerError, errPrefix+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

type uploadResponse struct {
	Success  bool         `json:"success"`
	FileInfo pdf.FileInfo `json:"file_info"`
	Message  string       `json:"message"`
}

// handlePDFUpload registers a document with the provider for later
// extraction, quiz or question routes. The staged copy stays on disk
// until the janitor reaps it.
func (s *Server) handlePDFUpload(w http.ResponseWriter, r *http.Request) {
	if s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	path, filename, err := s.stageUpload(r)
	if err != nil {
		s.respondUploadError(w, err, msgPDFOnly)
		return
	}

	file, err := s.Docs.UploadAndProcess(r.Context(), path, filename)
	if err != nil {
		os.Remove(path)
		s.Logger.Error().Err(err).Str("file", filename).Msg("document processing failed")
		respondError(w, http.StatusInternalServerError, "파일 업로드 중 오류 발생: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		FileInfo: pdf.NewFileInfo(file),
		Message:  "PDF 파일 업로드 및 처리 완료",
	})
}

type extractTextResponse struct {
	Success    bool   `json:"success"`
	Text       string `json:"text"`
	FileName   string `json:"file_name"`
	TextLength int    `json:"text_length"`
}

func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	s.runExtraction(w, r, "텍스트 추출 중 오류 발생: ",
		func(ctx context.Context, file *genai.File, filename string) (any, error) {
			text, err := s.Docs.ExtractFullText(ctx, file)
			if err != nil {
				return nil, err
			}
			return extractTextResponse{
				Success:    true,
				Text:       text,
				FileName:   filename,
				TextLength: utf8.RuneCountInString(text),
			}, nil
		})
}

type extractPreviewResponse struct {
	Success  bool   `json:"success"`
	Preview  string `json:"preview"`
	FileName string `json:"file_name"`
}

func (s *Server) handleExtractPreview(w http.ResponseWriter, r *http.Request) {
	s.runExtraction(w, r, "미리보기 생성 중 오류 발생: ",
		func(ctx context.Context, file *genai.File, filename string) (any, error) {
			preview, err := s.Docs.ExtractPreview(ctx, file)
			if err != nil {
				return nil, err
			}
			return extractPreviewResponse{Success: true, Preview: preview, FileName: filename}, nil
		})
}

type extractStructuredResponse struct {
	Success  bool           `json:"success"`
	Content  map[string]any `json:"content"`
	FileName string         `json:"file_name"`
}

func (s *Server) handleExtractStructured(w http.ResponseWriter, r *http.Request) {
	s.runExtraction(w, r, "구조화된 콘텐츠 추출 중 오류 발생: ",
		func(ctx context.Context, file *genai.File, filename string) (any, error) {
			content, err := s.Docs.ExtractStructured(ctx, file)
			if err != nil {
				return nil, err
			}
			return extractStructuredResponse{Success: true, Content: content, FileName: filename}, nil
		})
}

type extractPagesResponse struct {
	Success    bool           `json:"success"`
	Pages      []pdf.PageText `json:"pages"`
	FileName   string         `json:"file_name"`
	TotalPages int            `json:"total_pages"`
}

func (s *Server) handleExtractByPages(w http.ResponseWriter, r *http.Request) {
	s.runExtraction(w, r, "페이지별 추출 중 오류 발생: ",
		func(ctx context.Context, file *genai.File, filename string) (any, error) {
			pages, err := s.Docs.ExtractPages(ctx, file)
			if err != nil {
				return nil, err
			}
			return extractPagesResponse{
				Success:    true,
				Pages:      pages,
				FileName:   filename,
				TotalPages: len(pages),
			}, nil
		})
}

type listFilesResponse struct {
	Success bool           `json:"success"`
	Files   []pdf.FileInfo `json:"files"`
	Count   int            `json:"count"`
}

// handleUploadedFiles lists the provider files registered during this
// process lifetime.
func (s *Server) handleUploadedFiles(w http.ResponseWriter, r *http.Request) {
	if s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	files := s.Docs.ListTracked()
	respondJSON(w, http.StatusOK, listFilesResponse{Success: true, Files: files, Count: len(files)})
}

// handleClearFiles deletes every tracked provider file.
func (s *Server) handleClearFiles(w http.ResponseWriter, r *http.Request) {
	if s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	deleted := s.Docs.DeleteAllFiles(r.Context())
	s.Logger.Info().Int("deleted", deleted).Msg("provider files cleared")
	respondJSON(w, http.StatusOK, messageResponse{Success: true, Message: "모든 파일이 삭제되었습니다."})
}

// handleDeleteFile removes one provider file. The path segment may be
// the bare id; the files/ prefix of provider names is filled in.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	name := r.PathValue("name")
	if !strings.HasPrefix(name, "files/") {
		name = "files/" + name
	}

	if err := s.Docs.DeleteFile(r.Context(), name); err != nil {
		s.Logger.Error().Err(err).Str("name", name).Msg("file deletion failed")
		respondError(w, http.StatusInternalServerError, "파일 삭제 중 오류 발생: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("파일 '%s' 삭제 완료", name),
	})
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/qnetstudy/qnet-study-server/pkg/pdf"
	"github.com/qnetstudy/qnet-study-server/pkg/rag"
)

const msgPDFOnlyRAG = "현재 PDF 파일만 지원합니다."

// defaultKnowledgeBase receives uploads that name no knowledge base.
const defaultKnowledgeBase = "default"

type ragUploadResponse struct {
	Success       bool   `json:"success"`
	FileURI       string `json:"file_uri"`
	DisplayName   string `json:"display_name"`
	KnowledgeBase string `json:"knowledge_base"`
	Message       string `json:"message"`
}

// handleRAGUpload registers a document with the provider and attaches
// it to a knowledge base, creating the base on first use.
func (s *Server) handleRAGUpload(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil || s.Docs == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	kbName := r.FormValue("knowledge_base_name")
	if kbName == "" {
		kbName = defaultKnowledgeBase
	}

	path, filename, err := s.stageUpload(r)
	if err != nil {
		s.respondUploadError(w, err, msgPDFOnlyRAG)
		return
	}
	defer os.Remove(path)

	file, err := s.Docs.UploadAndProcess(r.Context(), path, filename)
	if err != nil {
		s.Logger.Error().Err(err).Str("file", filename).Msg("document processing failed")
		respondError(w, http.StatusInternalServerError, "문서 업로드 실패: "+err.Error())
		return
	}

	if _, err := s.RAG.AddDocument(kbName, file); err != nil {
		s.Logger.Error().Err(err).Str("knowledge_base", kbName).Msg("document indexing failed")
		respondError(w, http.StatusInternalServerError, "문서 업로드 실패: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, ragUploadResponse{
		Success:       true,
		FileURI:       file.Name,
		DisplayName:   file.DisplayName,
		KnowledgeBase: kbName,
		Message:       "문서 업로드 및 인덱싱 완료",
	})
}

type ragAskRequest struct {
	Question       string   `json:"question" validate:"required"`
	FileURIs       []string `json:"file_uris"`
	KnowledgeBase  string   `json:"knowledge_base"`
	ConversationID string   `json:"conversation_id"`
}

type ragAskResponse struct {
	Success bool `json:"success"`
	*rag.Answer
}

// handleRAGAsk answers one question over the referenced documents.
func (s *Server) handleRAGAsk(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	var req ragAskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.RAG.Ask(r.Context(), rag.AskRequest{
		Question:       req.Question,
		Files:          req.FileURIs,
		KnowledgeBase:  req.KnowledgeBase,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.respondRAGError(w, err, "질문 답변 실패: ")
		return
	}

	respondJSON(w, http.StatusOK, ragAskResponse{Success: true, Answer: answer})
}

type ragChatRequest struct {
	Message        string   `json:"message" validate:"required"`
	FileURIs       []string `json:"file_uris"`
	KnowledgeBase  string   `json:"knowledge_base"`
	ConversationID string   `json:"conversation_id" validate:"required"`
}

type ragChatResponse struct {
	Success bool `json:"success"`
	*rag.ChatReply
}

// handleRAGChat runs one conversational turn over the referenced
// documents, carrying the stored history into the prompt.
func (s *Server) handleRAGChat(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	var req ragChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.RAG.Chat(r.Context(), rag.ChatRequest{
		Message:        req.Message,
		Files:          req.FileURIs,
		KnowledgeBase:  req.KnowledgeBase,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.respondRAGError(w, err, "채팅 실패: ")
		return
	}

	respondJSON(w, http.StatusOK, ragChatResponse{Success: true, ChatReply: reply})
}

// respondRAGError maps question-answering failures: requests the
// caller can fix are 400s, a missing knowledge base or document is a
// 404, anything else is reported with the route's Korean prefix.
func (s *Server) respondRAGError(w http.ResponseWriter, err error, errPrefix string) {
	switch {
	case errors.Is(err, rag.ErrNoValidFiles), errors.Is(err, rag.ErrConversationRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rag.ErrKnowledgeBaseNotFound), errors.Is(err, pdf.ErrFileNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		s.Logger.Error().Err(err).Msg("rag request failed")
		respondError(w, http.StatusInternalServerError, errPrefix+err.Error())
	}
}

type ragHistoryResponse struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversation_id"`
	History        []rag.Message `json:"history"`
	MessageCount   int           `json:"message_count"`
}

// handleRAGHistory returns the stored history of one conversation. An
// unknown id reads as an empty conversation, not an error.
func (s *Server) handleRAGHistory(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	id := r.PathValue("id")
	history := s.RAG.History(id)
	if history == nil {
		history = []rag.Message{}
	}

	respondJSON(w, http.StatusOK, ragHistoryResponse{
		Success:        true,
		ConversationID: id,
		History:        history,
		MessageCount:   len(history),
	})
}

// handleRAGClearHistory drops the stored history of one conversation.
func (s *Server) handleRAGClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	id := r.PathValue("id")
	s.RAG.ClearHistory(id)
	respondJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("대화 이력 '%s' 삭제 완료", id),
	})
}

type ragQuizRequest struct {
	FileURI      string `json:"file_uri" validate:"required"`
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

// handleRAGQuiz builds a titled quiz from one indexed document.
func (s *Server) handleRAGQuiz(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	var req ragQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.RAG.GenerateQuiz(r.Context(), req.FileURI, req.NumQuestions, req.Difficulty)
	if err != nil {
		s.respondRAGError(w, err, "퀴즈 생성 실패: ")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type ragKnowledgeBasesResponse struct {
	Success        bool                 `json:"success"`
	KnowledgeBases []*rag.KnowledgeBase `json:"knowledge_bases"`
	Count          int                  `json:"count"`
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, _ *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	bases := s.RAG.ListKnowledgeBases()
	respondJSON(w, http.StatusOK, ragKnowledgeBasesResponse{
		Success:        true,
		KnowledgeBases: bases,
		Count:          len(bases),
	})
}

type ragCreateKBResponse struct {
	Success bool `json:"success"`
	*rag.KnowledgeBase
}

// handleCreateKnowledgeBase creates an empty knowledge base. The name
// is the unique key later uploads and questions refer to.
func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	kb, err := s.RAG.CreateKnowledgeBase(name, r.FormValue("display_name"))
	if err != nil {
		if errors.Is(err, rag.ErrKnowledgeBaseExists) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "지식 베이스 생성 실패: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, ragCreateKBResponse{Success: true, KnowledgeBase: kb})
}

// handleDeleteKnowledgeBase removes a knowledge base and its document
// references. Provider files are left alone; other bases may still
// reference them.
func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	if s.RAG == nil {
		serviceUnavailable(w, "Gemini", "GEMINI_API_KEY")
		return
	}

	name := r.PathValue("name")
	if err := s.RAG.DeleteKnowledgeBase(name); err != nil {
		if errors.Is(err, rag.ErrKnowledgeBaseNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "지식 베이스 삭제 실패: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("지식 베이스 '%s' 삭제 완료", name),
	})
}

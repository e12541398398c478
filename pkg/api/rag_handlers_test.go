package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/qnetstudy/qnet-study-server/internal/testutil"
	"github.com/qnetstudy/qnet-study-server/pkg/rag"
)

const ragQuizAnswer = "```json\n" + `{
  "quiz_title": "회로이론 기초 퀴즈",
  "total_questions": 2,
  "difficulty": "easy",
  "questions": [
    {
      "question_number": 1,
      "question_text": "옴의 법칙에서 전압을 나타내는 식은?",
      "options": ["1) V = IR", "2) V = I/R", "3) V = R/I", "4) V = I + R"],
      "correct_answer": "1",
      "explanation": "전압은 전류와 저항의 곱입니다."
    },
    {
      "question_number": 2,
      "question_text": "저항의 단위는?",
      "options": ["1) 옴", "2) 볼트", "3) 암페어", "4) 와트"],
      "correct_answer": "1",
      "explanation": "저항의 단위는 옴입니다."
    }
  ]
}` + "\n```"

// attachRAG wires the question-answering service over the fake
// document store and scripted model answers.
func attachRAG(srv *Server, docs *fakeDocs, responses ...string) *testutil.FakeGenerator {
	gen := testutil.NewFakeGenerator(responses...)
	srv.Docs = docs
	srv.RAG = rag.New(gen, docs, rag.DefaultConfig())
	return gen
}

// doForm runs one form-encoded request against the handler tree.
func doForm(t *testing.T, h http.Handler, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// uploadRAGDoc registers 회로이론.pdf through the indexing route.
func uploadRAGDoc(t *testing.T, h http.Handler, kb string) {
	t.Helper()

	fields := map[string]string{}
	if kb != "" {
		fields["knowledge_base_name"] = kb
	}
	req := newUploadRequest(t, "/api/rag/upload-and-index", "회로이론.pdf", "%PDF-1.4", fields)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Indexing upload status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRAGUploadAndIndex(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	attachRAG(srv, docs)
	h := srv.Handler()

	req := newUploadRequest(t, "/api/rag/upload-and-index", "회로이론.pdf", "%PDF-1.4", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload ragUploadResponse
	decodeBody(t, rec, &payload)

	if !payload.Success {
		t.Error("Success = false, want true")
	}
	if payload.FileURI != "files/fake-1" {
		t.Errorf("FileURI = %q, want the provider name", payload.FileURI)
	}
	if payload.DisplayName != "회로이론.pdf" {
		t.Errorf("DisplayName = %q", payload.DisplayName)
	}
	if payload.KnowledgeBase != "default" {
		t.Errorf("KnowledgeBase = %q, want default", payload.KnowledgeBase)
	}
	if payload.Message != "문서 업로드 및 인덱싱 완료" {
		t.Errorf("Message = %q", payload.Message)
	}

	kb, err := srv.RAG.GetKnowledgeBase("default")
	if err != nil {
		t.Fatalf("Default base missing: %v", err)
	}
	if len(kb.Files) != 1 {
		t.Errorf("Base files = %d, want 1", len(kb.Files))
	}
}

func TestRAGUploadAndIndex_NamedBase(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))
	h := srv.Handler()

	uploadRAGDoc(t, h, "전기기사")

	if _, err := srv.RAG.GetKnowledgeBase("전기기사"); err != nil {
		t.Errorf("Named base missing: %v", err)
	}
	if _, err := srv.RAG.GetKnowledgeBase("default"); err == nil {
		t.Error("Default base exists, want only the named one")
	}
}

func TestRAGAsk(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	gen := attachRAG(srv, docs, "옴의 법칙은 V = IR 입니다.")
	h := srv.Handler()

	uploadRAGDoc(t, h, "")

	rec := doJSON(t, h, http.MethodPost, "/api/rag/ask", map[string]any{
		"question":  "옴의 법칙이 뭐야?",
		"file_uris": []string{"회로이론.pdf"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Success bool     `json:"success"`
		Query   string   `json:"query"`
		Answer  string   `json:"answer"`
		Sources []string `json:"sources"`
		Model   string   `json:"model"`
		Method  string   `json:"method"`
	}
	decodeBody(t, rec, &payload)

	if !payload.Success {
		t.Error("Success = false, want true")
	}
	if payload.Query != "옴의 법칙이 뭐야?" {
		t.Errorf("Query = %q, want the question echoed", payload.Query)
	}
	if payload.Answer != "옴의 법칙은 V = IR 입니다." {
		t.Errorf("Answer = %q, want the model answer", payload.Answer)
	}
	if len(payload.Sources) != 1 || payload.Sources[0] != "회로이론.pdf" {
		t.Errorf("Sources = %v, want the display name", payload.Sources)
	}
	if payload.Model != rag.DefaultModel {
		t.Errorf("Model = %q, want %q", payload.Model, rag.DefaultModel)
	}
	if payload.Method != "simple_rag" {
		t.Errorf("Method = %q, want simple_rag", payload.Method)
	}

	if !strings.Contains(gen.LastPrompt(), "옴의 법칙이 뭐야?") {
		t.Error("Prompt does not carry the question")
	}
}

func TestRAGAsk_MissingQuestion(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/ask", map[string]any{
		"file_uris": []string{"회로이론.pdf"},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRAGAsk_NoFiles(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/ask", map[string]any{
		"question": "옴의 법칙이 뭐야?",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "no valid document files") {
		t.Errorf("Error = %q, want the empty-context rejection", msg)
	}
}

func TestRAGAsk_UnknownKnowledgeBase(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/ask", map[string]any{
		"question":       "옴의 법칙이 뭐야?",
		"knowledge_base": "ghost",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "knowledge base not found") {
		t.Errorf("Error = %q, want the missing base", msg)
	}
}

func TestRAGChat(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	gen := attachRAG(srv, docs, "첫 번째 답변입니다.", "두 번째 답변입니다.")
	h := srv.Handler()

	uploadRAGDoc(t, h, "")

	rec := doJSON(t, h, http.MethodPost, "/api/rag/chat", map[string]any{
		"message":         "옴의 법칙이 뭐야?",
		"knowledge_base":  "default",
		"conversation_id": "sess-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Success        bool   `json:"success"`
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
		Answer         string `json:"answer"`
		HistoryLength  int    `json:"history_length"`
	}
	decodeBody(t, rec, &payload)

	if payload.ConversationID != "sess-1" {
		t.Errorf("ConversationID = %q, want sess-1", payload.ConversationID)
	}
	if payload.Answer != "첫 번째 답변입니다." {
		t.Errorf("Answer = %q, want the first scripted answer", payload.Answer)
	}
	if payload.HistoryLength != 2 {
		t.Errorf("HistoryLength = %d, want 2 after the first turn", payload.HistoryLength)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/rag/chat", map[string]any{
		"message":         "좀 더 자세히 설명해줘",
		"knowledge_base":  "default",
		"conversation_id": "sess-1",
	})
	decodeBody(t, rec, &payload)

	if payload.Answer != "두 번째 답변입니다." {
		t.Errorf("Answer = %q, want the second scripted answer", payload.Answer)
	}
	if payload.HistoryLength != 4 {
		t.Errorf("HistoryLength = %d, want 4 after two turns", payload.HistoryLength)
	}

	// The second prompt folds the first turn in.
	if !strings.Contains(gen.LastPrompt(), "사용자: 옴의 법칙이 뭐야?") {
		t.Error("Prompt does not carry the earlier turn")
	}
}

func TestRAGChat_MissingConversationID(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/chat", map[string]any{
		"message":        "옴의 법칙이 뭐야?",
		"knowledge_base": "default",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRAGHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	attachRAG(srv, docs, "답변입니다.")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/rag/conversation/sess-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload ragHistoryResponse
	decodeBody(t, rec, &payload)
	if payload.MessageCount != 0 || payload.History == nil {
		t.Errorf("Payload = %+v, want an empty history, not null", payload)
	}

	uploadRAGDoc(t, h, "")
	doJSON(t, h, http.MethodPost, "/api/rag/chat", map[string]any{
		"message":         "옴의 법칙이 뭐야?",
		"knowledge_base":  "default",
		"conversation_id": "sess-1",
	})

	rec = doJSON(t, h, http.MethodGet, "/api/rag/conversation/sess-1", nil)
	decodeBody(t, rec, &payload)

	if payload.MessageCount != 2 || len(payload.History) != 2 {
		t.Fatalf("MessageCount = %d with %d messages, want 2", payload.MessageCount, len(payload.History))
	}
	if payload.History[0].Role != "user" || payload.History[1].Role != "assistant" {
		t.Errorf("Roles = %q, %q, want user then assistant", payload.History[0].Role, payload.History[1].Role)
	}
}

func TestRAGClearHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	attachRAG(srv, docs, "답변입니다.")
	h := srv.Handler()

	uploadRAGDoc(t, h, "")
	doJSON(t, h, http.MethodPost, "/api/rag/chat", map[string]any{
		"message":         "옴의 법칙이 뭐야?",
		"knowledge_base":  "default",
		"conversation_id": "sess-1",
	})

	rec := doJSON(t, h, http.MethodDelete, "/api/rag/conversation/sess-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload messageResponse
	decodeBody(t, rec, &payload)
	if payload.Message != "대화 이력 'sess-1' 삭제 완료" {
		t.Errorf("Message = %q", payload.Message)
	}

	if got := len(srv.RAG.History("sess-1")); got != 0 {
		t.Errorf("History after clear = %d messages, want 0", got)
	}
}

func TestRAGGenerateQuiz(t *testing.T) {
	srv, _ := newTestServer(t)
	docs := newFakeDocs(t)
	attachRAG(srv, docs, ragQuizAnswer)
	h := srv.Handler()

	uploadRAGDoc(t, h, "")

	rec := doJSON(t, h, http.MethodPost, "/api/rag/generate-quiz", map[string]any{
		"file_uri":      "회로이론.pdf",
		"num_questions": 2,
		"difficulty":    "easy",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload rag.QuizResult
	decodeBody(t, rec, &payload)

	if payload.Quiz.Title != "회로이론 기초 퀴즈" {
		t.Errorf("Title = %q", payload.Quiz.Title)
	}
	if len(payload.Quiz.Questions) != 2 {
		t.Errorf("Questions = %d, want 2", len(payload.Quiz.Questions))
	}
	if payload.SourceFile != "회로이론.pdf" {
		t.Errorf("SourceFile = %q", payload.SourceFile)
	}
}

func TestRAGGenerateQuiz_MissingFileURI(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/generate-quiz", map[string]any{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRAGGenerateQuiz_FileNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t), ragQuizAnswer)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/generate-quiz", map[string]any{
		"file_uri": "ghost.pdf",
	})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestKnowledgeBases(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))
	h := srv.Handler()

	rec := doForm(t, h, http.MethodPost, "/api/rag/knowledge-bases", url.Values{
		"name":         {"전기기사"},
		"display_name": {"전기기사 기출"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Create status = %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Success     bool   `json:"success"`
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	decodeBody(t, rec, &created)
	if !created.Success || created.ID == "" {
		t.Errorf("Created = %+v, want an id", created)
	}
	if created.Name != "전기기사" || created.DisplayName != "전기기사 기출" {
		t.Errorf("Created = %+v, want name and display name", created)
	}

	// The name is the unique key.
	rec = doForm(t, h, http.MethodPost, "/api/rag/knowledge-bases", url.Values{"name": {"전기기사"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("Duplicate status = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/rag/knowledge-bases", nil)
	var listed ragKnowledgeBasesResponse
	decodeBody(t, rec, &listed)
	if listed.Count != 1 || len(listed.KnowledgeBases) != 1 {
		t.Fatalf("Count = %d with %d bases, want 1", listed.Count, len(listed.KnowledgeBases))
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/rag/knowledge-bases/전기기사", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Delete status = %d: %s", rec.Code, rec.Body.String())
	}
	var deleted messageResponse
	decodeBody(t, rec, &deleted)
	if deleted.Message != "지식 베이스 '전기기사' 삭제 완료" {
		t.Errorf("Message = %q", deleted.Message)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/rag/knowledge-bases/전기기사", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Second delete status = %d, want 404", rec.Code)
	}
}

func TestCreateKnowledgeBase_MissingName(t *testing.T) {
	srv, _ := newTestServer(t)
	attachRAG(srv, newFakeDocs(t))

	rec := doForm(t, srv.Handler(), http.MethodPost, "/api/rag/knowledge-bases", url.Values{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if msg := errorMessage(t, rec); msg != "name is required" {
		t.Errorf("Error = %q", msg)
	}
}

func TestRAGRoutes_GeminiDisabled(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/rag/ask", map[string]any{
		"question": "옴의 법칙이 뭐야?",
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "GEMINI_API_KEY") {
		t.Errorf("Error = %q, want the missing key named", msg)
	}
}

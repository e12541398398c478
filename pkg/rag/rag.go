// Package rag answers questions about uploaded documents by sending the
// document files to Gemini together with the user prompt. Knowledge bases
// group uploaded provider files under a name, and conversations keep a
// capped in-memory history so follow-up questions stay in context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Errors returned by the service.
var (
	// ErrKnowledgeBaseNotFound is returned when a named knowledge base
	// does not exist.
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

	// ErrKnowledgeBaseExists is returned by CreateKnowledgeBase when the
	// name is already taken.
	ErrKnowledgeBaseExists = errors.New("knowledge base already exists")

	// ErrNoValidFiles is returned when a request resolves to zero usable
	// document files.
	ErrNoValidFiles = errors.New("no valid document files")

	// ErrConversationRequired is returned by Chat when no conversation id
	// is given.
	ErrConversationRequired = errors.New("conversation id is required")
)

const (
	// DefaultModel is the model label reported in answers when the
	// config does not set one.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxHistory bounds the number of messages kept per
	// conversation. Two messages are stored per turn.
	DefaultMaxHistory = 50
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// methodSimpleRAG marks answers generated by passing the files
	// directly to the model, without a retrieval index.
	methodSimpleRAG = "simple_rag"
)

// askPromptFmt is the user prompt for single questions. The document
// files precede it in the request.
const askPromptFmt = `**질문:** %s

위 문서들을 참고하여 질문에 답변해주세요.
`

// chatSystemPrompt frames the model as a document assistant for chat
// turns.
const chatSystemPrompt = `당신은 업로드된 문서를 기반으로 답변하는 전문 AI 어시스턴트입니다.

**역할:**
- 문서의 내용을 정확하게 이해하고 답변합니다
- 이전 대화 맥락을 고려하여 일관된 답변을 제공합니다
- 문서에 없는 내용은 추측하지 않고 솔직히 말합니다
- 한국어로 친절하고 명확하게 답변합니다
`

// chatPromptFmt carries the rendered conversation history and the new
// message.
const chatPromptFmt = `**이전 대화:**
%s

**현재 질문:** %s

위 문서들과 대화 맥락을 참고하여 답변해주세요.
`

// firstTurnPlaceholder stands in for the history on the first turn of a
// conversation.
const firstTurnPlaceholder = "(첫 대화입니다)"

// Message is one turn in a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileRef identifies a provider file attached to a knowledge base.
type FileRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URI         string `json:"uri"`
	MIMEType    string `json:"mime_type"`
}

// KnowledgeBase groups uploaded provider files under one name.
type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Files       []FileRef `json:"files"`
}

func (kb *KnowledgeBase) clone() *KnowledgeBase {
	out := *kb
	out.Files = append([]FileRef(nil), kb.Files...)
	return &out
}

// contentGenerator produces text from a sequence of content parts.
// *pdf.Loader satisfies it.
type contentGenerator interface {
	Generate(ctx context.Context, parts ...genai.Part) (string, error)
}

// fileFinder resolves an uploaded provider file by name or display name.
// *pdf.Loader satisfies it.
type fileFinder interface {
	Find(ctx context.Context, name string) (*genai.File, error)
}

// Config holds the service settings.
type Config struct {
	// Model is the label reported in answers. It does not select the
	// generation model, which belongs to the generator.
	Model string

	// MaxHistory bounds the messages kept per conversation. Oldest
	// messages are dropped first.
	MaxHistory int
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Model:      DefaultModel,
		MaxHistory: DefaultMaxHistory,
	}
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
}

// Service answers document questions and manages knowledge bases and
// conversation histories. All state is held in memory.
type Service struct {
	gen    contentGenerator
	files  fileFinder
	config Config
	logger zerolog.Logger

	mu            sync.RWMutex
	bases         map[string]*KnowledgeBase
	conversations map[string][]Message
}

// New creates a Service on top of a content generator and a file
// resolver, typically both a *pdf.Loader.
func New(gen contentGenerator, files fileFinder, config Config) *Service {
	config.applyDefaults()
	return &Service{
		gen:           gen,
		files:         files,
		config:        config,
		logger:        log.With().Str("component", "rag").Logger(),
		bases:         make(map[string]*KnowledgeBase),
		conversations: make(map[string][]Message),
	}
}

// CreateKnowledgeBase registers a new named knowledge base. The display
// name defaults to the name.
func (s *Service) CreateKnowledgeBase(name, displayName string) (*KnowledgeBase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("knowledge base name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bases[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseExists, name)
	}
	return s.createLocked(name, displayName).clone(), nil
}

// EnsureKnowledgeBase returns the named knowledge base, creating it
// first when it does not exist yet.
func (s *Service) EnsureKnowledgeBase(name, displayName string) (*KnowledgeBase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("knowledge base name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if kb, ok := s.bases[name]; ok {
		return kb.clone(), nil
	}
	return s.createLocked(name, displayName).clone(), nil
}

// createLocked inserts a new knowledge base. Callers hold the write lock.
func (s *Service) createLocked(name, displayName string) *KnowledgeBase {
	if displayName == "" {
		displayName = name
	}
	kb := &KnowledgeBase{
		ID:          uuid.New().String(),
		Name:        name,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	s.bases[name] = kb
	s.logger.Info().Str("name", name).Str("id", kb.ID).Msg("knowledge base created")
	return kb
}

// ListKnowledgeBases returns all knowledge bases, oldest first.
func (s *Service) ListKnowledgeBases() []*KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*KnowledgeBase, 0, len(s.bases))
	for _, kb := range s.bases {
		out = append(out, kb.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetKnowledgeBase looks up a knowledge base by name.
func (s *Service) GetKnowledgeBase(name string) (*KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kb, ok := s.bases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, name)
	}
	return kb.clone(), nil
}

// DeleteKnowledgeBase removes the named knowledge base. The attached
// provider files are not deleted.
func (s *Service) DeleteKnowledgeBase(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bases[name]; !ok {
		return fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, name)
	}
	delete(s.bases, name)
	s.logger.Info().Str("name", name).Msg("knowledge base deleted")
	return nil
}

// AddDocument attaches an uploaded provider file to the named knowledge
// base, creating the base when missing. Re-attaching a file replaces its
// previous entry.
func (s *Service) AddDocument(name string, file *genai.File) (*KnowledgeBase, error) {
	if file == nil {
		return nil, fmt.Errorf("add document: file is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.bases[name]
	if !ok {
		kb = s.createLocked(name, name)
	}

	ref := FileRef{
		Name:        file.Name,
		DisplayName: file.DisplayName,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
	}
	for i, existing := range kb.Files {
		if existing.Name == ref.Name {
			kb.Files[i] = ref
			return kb.clone(), nil
		}
	}
	kb.Files = append(kb.Files, ref)
	s.logger.Info().
		Str("knowledge_base", name).
		Str("file", ref.Name).
		Str("display_name", ref.DisplayName).
		Msg("document attached")
	return kb.clone(), nil
}

// AskRequest describes a question over uploaded documents. Files may be
// named explicitly or supplied through a knowledge base; explicit names
// win when both are set.
type AskRequest struct {
	Question       string
	Files          []string
	KnowledgeBase  string
	ConversationID string
}

// Answer is the result of Ask.
type Answer struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Query          string   `json:"query"`
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources"`
	Model          string   `json:"model"`
	Method         string   `json:"method"`
}

// Ask answers a single question using the referenced documents as
// context. When a conversation id is given the turn is recorded, but
// earlier history does not influence the answer; use Chat for that.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	refs, err := s.resolveFiles(ctx, req.Files, req.KnowledgeBase)
	if err != nil {
		return nil, err
	}

	parts := make([]genai.Part, 0, len(refs)+1)
	for _, ref := range refs {
		parts = append(parts, genai.FileData{URI: ref.URI, MIMEType: ref.MIMEType})
	}
	parts = append(parts, genai.Text(fmt.Sprintf(askPromptFmt, req.Question)))

	answer, err := s.gen.Generate(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	if req.ConversationID != "" {
		s.appendHistory(req.ConversationID, req.Question, answer)
	}

	return &Answer{
		ConversationID: req.ConversationID,
		Query:          req.Question,
		Answer:         answer,
		Sources:        displayNames(refs),
		Model:          s.config.Model,
		Method:         methodSimpleRAG,
	}, nil
}

// ChatRequest describes one chat turn over uploaded documents.
type ChatRequest struct {
	Message        string
	Files          []string
	KnowledgeBase  string
	ConversationID string
}

// ChatReply is the result of Chat.
type ChatReply struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	Answer         string   `json:"answer"`
	Sources        []string `json:"sources"`
	Model          string   `json:"model"`
	HistoryLength  int      `json:"history_length"`
}

// Chat answers a message with the conversation history folded into the
// prompt, then records the turn.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if req.ConversationID == "" {
		return nil, ErrConversationRequired
	}

	refs, err := s.resolveFiles(ctx, req.Files, req.KnowledgeBase)
	if err != nil {
		return nil, err
	}

	history := s.History(req.ConversationID)

	parts := make([]genai.Part, 0, len(refs)+2)
	for _, ref := range refs {
		parts = append(parts, genai.FileData{URI: ref.URI, MIMEType: ref.MIMEType})
	}
	parts = append(parts,
		genai.Text(chatSystemPrompt),
		genai.Text(fmt.Sprintf(chatPromptFmt, conversationText(history), req.Message)),
	)

	answer, err := s.gen.Generate(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	length := s.appendHistory(req.ConversationID, req.Message, answer)
	s.logger.Info().
		Str("conversation", req.ConversationID).
		Int("messages", length).
		Msg("chat turn recorded")

	return &ChatReply{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Answer:         answer,
		Sources:        displayNames(refs),
		Model:          s.config.Model,
		HistoryLength:  length,
	}, nil
}

// History returns a copy of the conversation history, oldest first.
func (s *Service) History(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationID]
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// ClearHistory deletes a conversation and reports whether it existed.
func (s *Service) ClearHistory(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return false
	}
	delete(s.conversations, conversationID)
	s.logger.Info().Str("conversation", conversationID).Msg("conversation history cleared")
	return true
}

// resolveFiles builds the document list for a generation call. Explicit
// names are resolved through the file finder and unresolvable names are
// skipped with a warning, matching lenient client behavior after
// provider files expire.
func (s *Service) resolveFiles(ctx context.Context, names []string, base string) ([]FileRef, error) {
	var refs []FileRef
	switch {
	case len(names) > 0:
		for _, name := range names {
			file, err := s.files.Find(ctx, name)
			if err != nil {
				s.logger.Warn().Str("file", name).Err(err).Msg("skipping unresolved file")
				continue
			}
			refs = append(refs, FileRef{
				Name:        file.Name,
				DisplayName: file.DisplayName,
				URI:         file.URI,
				MIMEType:    file.MIMEType,
			})
		}
	case base != "":
		kb, err := s.GetKnowledgeBase(base)
		if err != nil {
			return nil, err
		}
		refs = kb.Files
	}

	if len(refs) == 0 {
		return nil, ErrNoValidFiles
	}
	return refs, nil
}

// appendHistory records a user turn and the model answer, trimming the
// oldest messages beyond the cap. Returns the new history length.
func (s *Service) appendHistory(conversationID, question, answer string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.conversations[conversationID],
		Message{Role: roleUser, Content: question},
		Message{Role: roleAssistant, Content: answer},
	)
	if n := len(history) - s.config.MaxHistory; n > 0 {
		history = history[n:]
	}
	s.conversations[conversationID] = history
	return len(history)
}

// conversationText renders a history as alternating speaker lines for
// the chat prompt.
func conversationText(history []Message) string {
	if len(history) == 0 {
		return firstTurnPlaceholder
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := "AI"
		if msg.Role == roleUser {
			speaker = "사용자"
		}
		lines = append(lines, speaker+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

func displayNames(refs []FileRef) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.DisplayName
	}
	return names
}

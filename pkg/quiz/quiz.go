// Package quiz turns an uploaded document into study questions through
// a single Gemini generation call. The model is asked for a bare JSON
// array, but answers wrapped in markdown fences or prose are recovered
// rather than rejected.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Question types.
const (
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
	TypeFillBlank      = "fill_blank"
)

// Bounds for Options.NumQuestions.
const (
	DefaultNumQuestions = 5
	MinQuestions        = 1
	MaxQuestions        = 20
)

// Common errors returned by the generator.
var (
	// ErrInvalidQuestionCount is returned when the requested count is
	// outside [MinQuestions, MaxQuestions].
	ErrInvalidQuestionCount = errors.New("question count out of range")

	// ErrInvalidDifficulty is returned for an unknown difficulty level.
	ErrInvalidDifficulty = errors.New("unknown difficulty")

	// ErrInvalidQuestionType is returned for an unknown question type.
	ErrInvalidQuestionType = errors.New("unknown question type")

	// ErrNotJSON is returned when no JSON can be recovered from the
	// model answer.
	ErrNotJSON = errors.New("model answer is not valid JSON")
)

// difficultyDescriptions phrases each level for the prompt.
var difficultyDescriptions = map[string]string{
	DifficultyEasy:   "기본적인 개념 이해를 확인하는 쉬운 수준",
	DifficultyMedium: "개념 적용과 이해를 요구하는 중간 수준",
	DifficultyHard:   "깊은 이해와 응용력을 요구하는 어려운 수준",
}

// formatInstructions gives the model the JSON shape per question type.
var formatInstructions = map[string]string{
	TypeMultipleChoice: `각 문제는 다음 JSON 형식으로 작성해주세요:
{
    "question": "문제 내용",
    "options": ["선택지1", "선택지2", "선택지3", "선택지4"],
    "answer": "정답",
    "explanation": "해설"
}`,
	TypeTrueFalse: `각 문제는 다음 JSON 형식으로 작성해주세요:
{
    "question": "문제 내용 (참/거짓 판단)",
    "answer": "참" 또는 "거짓",
    "explanation": "해설"
}`,
	TypeFillBlank: `각 문제는 다음 JSON 형식으로 작성해주세요:
{
    "question": "빈칸이 포함된 문제 내용 (_____를 사용)",
    "answer": "정답",
    "explanation": "해설"
}`,
}

// Options selects the size, difficulty and type of a generated quiz.
// Zero values fall back to five medium multiple-choice questions.
type Options struct {
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
	QuestionType string `json:"question_type"`
}

// normalize fills in defaults for zero-valued fields.
func (o *Options) normalize() {
	if o.NumQuestions == 0 {
		o.NumQuestions = DefaultNumQuestions
	}
	if o.Difficulty == "" {
		o.Difficulty = DifficultyMedium
	}
	if o.QuestionType == "" {
		o.QuestionType = TypeMultipleChoice
	}
}

// validate rejects out-of-range or unknown settings.
func (o Options) validate() error {
	if o.NumQuestions < MinQuestions || o.NumQuestions > MaxQuestions {
		return fmt.Errorf("%w: %d", ErrInvalidQuestionCount, o.NumQuestions)
	}
	if _, ok := difficultyDescriptions[o.Difficulty]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidDifficulty, o.Difficulty)
	}
	if _, ok := formatInstructions[o.QuestionType]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidQuestionType, o.QuestionType)
	}
	return nil
}

// Question is one generated study question. Options is only set for
// multiple choice.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// contentGenerator produces text from prompt parts. *pdf.Loader
// satisfies it.
type contentGenerator interface {
	Generate(ctx context.Context, parts ...genai.Part) (string, error)
}

// Generator builds quiz prompts and parses model answers.
type Generator struct {
	gen    contentGenerator
	logger zerolog.Logger
}

// New creates a generator on top of a content generator.
func New(gen contentGenerator) *Generator {
	return &Generator{
		gen:    gen,
		logger: log.With().Str("component", "quiz").Logger(),
	}
}

// Generate produces questions for a processed provider file. The model
// may return more questions than asked for; the surplus is cut.
func (g *Generator) Generate(ctx context.Context, file *genai.File, opts Options) ([]Question, error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	g.logger.Info().
		Int("num_questions", opts.NumQuestions).
		Str("difficulty", opts.Difficulty).
		Str("question_type", opts.QuestionType).
		Str("file", file.Name).
		Msg("generating quiz")

	text, err := g.gen.Generate(ctx,
		genai.FileData{URI: file.URI, MIMEType: file.MIMEType},
		genai.Text(buildPrompt(opts)),
	)
	if err != nil {
		return nil, fmt.Errorf("quiz generation: %w", err)
	}

	questions, err := parseQuestions(text)
	if err != nil {
		g.logger.Error().Err(err).Str("preview", preview(text, 500)).Msg("could not parse quiz answer")
		return nil, err
	}

	if len(questions) > opts.NumQuestions {
		questions = questions[:opts.NumQuestions]
	}
	return questions, nil
}

// buildPrompt assembles the Korean generation prompt.
func buildPrompt(opts Options) string {
	return fmt.Sprintf(`당신은 전문적인 시험 문제 출제자입니다. 제공된 문서를 분석하여 고품질의 학습 문제를 생성해주세요.

**문제 생성 요구사항:**
- 문제 수: %d개
- 난이도: %s (%s)
- 문제 유형: %s

**문제 생성 가이드라인:**
1. 문서의 핵심 내용을 정확히 반영하는 문제를 만들어주세요
2. 문맥과 논리를 고려하여 의미 있는 문제를 생성해주세요
3. 객관식의 경우, 오답 선택지는 그럴듯하지만 명확히 틀린 것으로 만들어주세요
4. 모든 문제에 대해 자세한 해설을 포함해주세요
5. 문제는 서로 독립적이고 중복되지 않아야 합니다
6. 난이도에 맞는 문제를 출제해주세요

%s

**중요: 반드시 JSON 배열 형식으로만 응답해주세요. 다른 텍스트는 포함하지 마세요.**
응답 예시: [{"question": "...", "options": [...], "answer": "...", "explanation": "..."}, ...]`,
		opts.NumQuestions,
		opts.Difficulty, difficultyDescriptions[opts.Difficulty],
		opts.QuestionType,
		formatInstructions[opts.QuestionType],
	)
}

// Patterns for recovering JSON from a chatty model answer.
var (
	codeBlockRe  = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	jsonArrayRe  = regexp.MustCompile(`\[\s*\{[\s\S]*\}\s*\]`)
	jsonObjectRe = regexp.MustCompile(`\{\s*"[\s\S]*\}\s*`)
)

// extractJSON recovers the JSON payload from a model answer that may be
// wrapped in markdown fences or surrounded by prose. First any fenced
// block is unwrapped, then the widest array, then the widest object;
// with no match the trimmed answer is returned as-is.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	if m := jsonArrayRe.FindString(text); m != "" {
		return m
	}
	if m := jsonObjectRe.FindString(text); m != "" {
		return m
	}
	return text
}

// parseQuestions unmarshals the recovered JSON. Besides the requested
// bare array, two stray shapes the model likes are accepted: an object
// holding a "questions" array, and a single bare question object.
func parseQuestions(text string) ([]Question, error) {
	payload := []byte(extractJSON(text))

	var questions []Question
	arrErr := json.Unmarshal(payload, &questions)
	if arrErr == nil {
		return questions, nil
	}

	var wrapper struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Questions) > 0 {
		return wrapper.Questions, nil
	}

	var single Question
	if err := json.Unmarshal(payload, &single); err == nil && single.Question != "" {
		return []Question{single}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotJSON, arrErr)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

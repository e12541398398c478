package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// ErrQuizNotJSON is returned when the model response for a quiz cannot
// be parsed as the expected JSON document.
var ErrQuizNotJSON = errors.New("quiz response is not valid JSON")

// DefaultQuizQuestions is the question count used when the request does
// not set one.
const DefaultQuizQuestions = 5

// difficultyNames maps difficulty levels to the Korean labels used in
// the prompt. Unknown levels fall back to 보통.
var difficultyNames = map[string]string{
	"easy":   "쉬움",
	"medium": "보통",
	"hard":   "어려움",
}

// quizPromptFmt takes the question count, the Korean difficulty label,
// the question count again and the raw difficulty level.
const quizPromptFmt = `이 문서의 내용을 기반으로 **%d개의 객관식 문제**를 생성해주세요.

**요구사항:**
- 난이도: %s
- 각 문제는 4개의 선택지를 가져야 합니다
- 정답과 해설을 포함해주세요
- 문서의 핵심 내용을 다루는 문제여야 합니다

**출력 형식 (JSON):**
` + "```json" + `
{
    "quiz_title": "퀴즈 제목",
    "total_questions": %d,
    "difficulty": "%s",
    "questions": [
        {
            "question_number": 1,
            "question_text": "문제 내용",
            "options": [
                "1) 선택지 1",
                "2) 선택지 2",
                "3) 선택지 3",
                "4) 선택지 4"
            ],
            "correct_answer": "정답 번호 (1~4)",
            "explanation": "해설 내용"
        }
    ]
}
` + "```" + `

JSON 형식으로만 응답해주세요.
`

// Quiz is a generated multiple choice quiz document.
type Quiz struct {
	Title          string         `json:"quiz_title"`
	TotalQuestions int            `json:"total_questions"`
	Difficulty     string         `json:"difficulty"`
	Questions      []QuizQuestion `json:"questions"`
}

// QuizQuestion is one question of a Quiz.
type QuizQuestion struct {
	Number      int      `json:"question_number"`
	Text        string   `json:"question_text"`
	Options     []string `json:"options"`
	Answer      string   `json:"correct_answer"`
	Explanation string   `json:"explanation"`
}

// QuizResult pairs a generated quiz with the document it came from.
type QuizResult struct {
	Quiz       Quiz   `json:"quiz"`
	SourceFile string `json:"source_file"`
}

// GenerateQuiz builds a multiple choice quiz from a single uploaded
// document. Each question carries four options, the answer number and an
// explanation.
func (s *Service) GenerateQuiz(ctx context.Context, fileName string, numQuestions int, difficulty string) (*QuizResult, error) {
	if numQuestions <= 0 {
		numQuestions = DefaultQuizQuestions
	}
	if difficulty == "" {
		difficulty = "medium"
	}

	file, err := s.files.Find(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", fileName, err)
	}

	label, ok := difficultyNames[difficulty]
	if !ok {
		label = difficultyNames["medium"]
	}
	prompt := fmt.Sprintf(quizPromptFmt, numQuestions, label, numQuestions, difficulty)

	text, err := s.gen.Generate(ctx,
		genai.FileData{URI: file.URI, MIMEType: file.MIMEType},
		genai.Text(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}

	var quiz Quiz
	if err := json.Unmarshal([]byte(stripFence(text)), &quiz); err != nil {
		s.logger.Error().Err(err).Str("response", preview(text, 500)).Msg("unparsable quiz response")
		return nil, fmt.Errorf("%w: %v", ErrQuizNotJSON, err)
	}

	s.logger.Info().
		Str("source", file.DisplayName).
		Int("questions", len(quiz.Questions)).
		Str("difficulty", difficulty).
		Msg("quiz generated")

	return &QuizResult{Quiz: quiz, SourceFile: file.DisplayName}, nil
}

// stripFence unwraps a markdown code fence around a model response.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	inner := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(inner)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

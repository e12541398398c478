// Package planner generates personalized study plans and tutoring chat
// for national technical qualification exams via the OpenAI chat
// completions API.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Prometheus metrics for OpenAI operations.
var (
	openaiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openai_requests_total",
		Help: "Total OpenAI API calls by operation and outcome",
	}, []string{"operation", "status"})

	openaiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openai_request_duration_seconds",
		Help:    "OpenAI API call duration in seconds by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"operation"})
)

// Common errors returned by the planner.
var (
	// ErrSubjectRequired is returned when a plan is requested without a
	// qualification subject.
	ErrSubjectRequired = errors.New("subject is required")

	// ErrMessagesRequired is returned when a chat turn carries no
	// messages.
	ErrMessagesRequired = errors.New("messages are required")

	// ErrEmptyCompletion is returned when the model answers with no
	// choices.
	ErrEmptyCompletion = errors.New("model returned no completion choices")
)

// Generation parameters. Plans get a long, even-tempered completion;
// chat turns are shorter and a little warmer.
const (
	planTemperature = 0.7
	planMaxTokens   = 2500

	chatTemperature = 0.8
	chatMaxTokens   = 1000
)

// planPersona primes the model as a qualification-exam study consultant.
const planPersona = "당신은 국가기술자격 시험 전문 학습 컨설턴트입니다. 수험생들이 효율적으로 시험을 준비할 수 있도록 구체적이고 실용적인 조언을 제공합니다. 주어진 학습 기간에 맞춰 현실적이고 실천 가능한 일정을 제시합니다."

// chatPersona primes the model as a friendly study companion.
const chatPersona = `당신은 친절하고 전문적인 학습 도우미 AI입니다.

주요 역할:
- 국가기술자격 시험 준비에 대한 조언 제공
- 학습 계획 수립 도움
- 시험 준비 방법 안내
- 학습 동기 부여 및 격려
- 학습 관련 질문에 대한 친절한 답변

답변 스타일:
- 친근하고 이해하기 쉬운 언어 사용
- 구체적이고 실용적인 조언 제공
- 긍정적이고 격려하는 태도 유지
- 필요시 단계별로 설명
- 이모지를 적절히 활용하여 친근감 표현

한국어로 답변해주세요.`

// ExamSchedule carries the schedule row the Q-Net API returned for the
// chosen qualification. All dates are yyyymmdd; empty fields are simply
// left out of the prompt.
type ExamSchedule struct {
	DocRegStartDt   string `json:"docRegStartDt,omitempty"`
	DocRegEndDt     string `json:"docRegEndDt,omitempty"`
	DocExamDt       string `json:"docExamDt,omitempty"`
	DocPassDt       string `json:"docPassDt,omitempty"`
	PracRegStartDt  string `json:"pracRegStartDt,omitempty"`
	PracRegEndDt    string `json:"pracRegEndDt,omitempty"`
	PracExamStartDt string `json:"pracExamStartDt,omitempty"`
	PracExamEndDt   string `json:"pracExamEndDt,omitempty"`
	PracPassDt      string `json:"pracPassDt,omitempty"`
}

// StudyPlan is a generated plan with the inputs echoed back.
type StudyPlan struct {
	Subject      string        `json:"subject"`
	StudyPlan    string        `json:"study_plan"`
	ExamSchedule *ExamSchedule `json:"exam_schedule,omitempty"`
	StartDate    string        `json:"start_date,omitempty"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Config holds the planner configuration.
type Config struct {
	// APIKey is the OpenAI credential (REQUIRED).
	APIKey string

	// Model overrides the default gpt-3.5-turbo.
	Model string

	// BaseURL overrides the OpenAI endpoint, mainly for tests.
	BaseURL string
}

// Planner talks to the OpenAI chat completions API.
type Planner struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// New creates a new planner.
func New(cfg Config) (*Planner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Planner{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: log.With().Str("component", "planner").Logger(),
	}, nil
}

// formatDate renders a yyyymmdd date as Korean text, e.g.
// "20250301" -> "2025년 03월 01일". Malformed input passes through.
func formatDate(date string) string {
	if len(date) != 8 {
		return date
	}
	return date[0:4] + "년 " + date[4:6] + "월 " + date[6:8] + "일"
}

// scheduleInfo renders the schedule rows the way the prompt expects.
func scheduleInfo(s *ExamSchedule) string {
	if s == nil {
		return ""
	}

	var b strings.Builder
	if s.DocRegStartDt != "" {
		fmt.Fprintf(&b, "필기시험 원서접수: %s ~ %s\n", formatDate(s.DocRegStartDt), formatDate(s.DocRegEndDt))
	}
	if s.DocExamDt != "" {
		fmt.Fprintf(&b, "필기시험 일자: %s\n", formatDate(s.DocExamDt))
	}
	if s.DocPassDt != "" {
		fmt.Fprintf(&b, "필기시험 합격자 발표: %s\n", formatDate(s.DocPassDt))
	}
	if s.PracRegStartDt != "" {
		fmt.Fprintf(&b, "실기시험 원서접수: %s ~ %s\n", formatDate(s.PracRegStartDt), formatDate(s.PracRegEndDt))
	}
	if s.PracExamStartDt != "" {
		fmt.Fprintf(&b, "실기시험 기간: %s ~ %s\n", formatDate(s.PracExamStartDt), formatDate(s.PracExamEndDt))
	}
	if s.PracPassDt != "" {
		fmt.Fprintf(&b, "최종 합격자 발표: %s\n", formatDate(s.PracPassDt))
	}
	return b.String()
}

// studyPeriodInfo renders the start date and the D-day counts to the
// written and practical exams. Unparseable dates drop the section
// rather than failing the plan.
func studyPeriodInfo(s *ExamSchedule, startDate string, logger zerolog.Logger) string {
	if startDate == "" {
		return ""
	}

	startDt, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		logger.Warn().Err(err).Str("start_date", startDate).Msg("Unparseable start date, omitting study period")
		return ""
	}

	var b strings.Builder
	if s != nil && s.DocExamDt != "" {
		if docExamDt, err := time.Parse("20060102", s.DocExamDt); err == nil {
			daysToDoc := int(docExamDt.Sub(startDt).Hours() / 24)
			fmt.Fprintf(&b, "\n공부 시작일: %s\n", startDt.Format("2006년 01월 02일"))
			fmt.Fprintf(&b, "필기시험까지 남은 기간: %d일\n", daysToDoc)
		}
	}
	if s != nil && s.PracExamStartDt != "" {
		if pracExamDt, err := time.Parse("20060102", s.PracExamStartDt); err == nil {
			daysToPrac := int(pracExamDt.Sub(startDt).Hours() / 24)
			fmt.Fprintf(&b, "실기시험까지 남은 기간: %d일\n", daysToPrac)
		}
	}
	return b.String()
}

// buildPlanPrompt assembles the user prompt for a study plan request.
func buildPlanPrompt(subject string, schedule *ExamSchedule, startDate string, logger zerolog.Logger) string {
	info := scheduleInfo(schedule)
	if info == "" {
		info = "일정 정보가 제공되지 않았습니다."
	}

	return fmt.Sprintf(`당신은 국가기술자격 시험 전문 학습 컨설턴트입니다.

시험 종목: %s

시험 일정:
%s
%s
위 정보를 바탕으로 수험생을 위한 맞춤형 학습 계획을 작성해주세요.

다음 내용을 반드시 포함해주세요:

1. **시험 개요 및 난이도 분석**
   - 이 자격증의 특징과 난이도
   - 합격률 및 준비 기간

2. **필기시험 준비 전략**
   - 주요 과목 및 출제 경향
   - 과목별 학습 방법
   - 추천 교재 및 학습 자료

3. **실기시험 준비 전략**
   - 실기 과제 유형 및 준비 방법
   - 실습 연습 방법
   - 주의사항 및 팁

4. **주차별 상세 학습 계획**
   - 공부 시작일부터 시험일까지 주차별로 구체적인 학습 목표 제시
   - 각 주차별 학습할 내용과 목표
   - 필기시험 D-7, D-3, D-1 등 중요 시점별 학습 전략
   - 실기시험 준비 일정

5. **최종 마무리 전략**
   - 시험 직전 준비사항
   - 시험장 준비물
   - 시험 당일 유의사항

학습 기간을 고려하여 현실적이고 실천 가능한 계획을 제시해주세요.
한국어로 친절하고 구체적으로 작성해주세요.`, subject, info, studyPeriodInfo(schedule, startDate, logger))
}

// GenerateStudyPlan builds a plan prompt from the exam schedule and the
// requested start date, and asks the model for a full study plan.
func (p *Planner) GenerateStudyPlan(ctx context.Context, subject string, schedule *ExamSchedule, startDate string) (*StudyPlan, error) {
	if subject == "" {
		return nil, ErrSubjectRequired
	}

	startTime := time.Now()
	defer func() {
		openaiRequestDuration.WithLabelValues("study_plan").Observe(time.Since(startTime).Seconds())
	}()

	prompt := buildPlanPrompt(subject, schedule, startDate, p.logger)

	p.logger.Info().
		Str("subject", subject).
		Str("start_date", startDate).
		Msg("Generating study plan")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: planPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: planTemperature,
		MaxTokens:   planMaxTokens,
	})
	if err != nil {
		openaiRequestsTotal.WithLabelValues("study_plan", "error").Inc()
		return nil, fmt.Errorf("generate study plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		openaiRequestsTotal.WithLabelValues("study_plan", "error").Inc()
		return nil, ErrEmptyCompletion
	}

	openaiRequestsTotal.WithLabelValues("study_plan", "ok").Inc()

	return &StudyPlan{
		Subject:      subject,
		StudyPlan:    resp.Choices[0].Message.Content,
		ExamSchedule: schedule,
		StartDate:    startDate,
	}, nil
}

// Chat runs one tutoring chat turn. The caller supplies the running
// conversation; the study-companion persona is prepended here.
func (p *Planner) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrMessagesRequired
	}

	startTime := time.Now()
	defer func() {
		openaiRequestDuration.WithLabelValues("chat").Observe(time.Since(startTime).Seconds())
	}()

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	chatMessages = append(chatMessages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: chatPersona,
	})
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    chatMessages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		openaiRequestsTotal.WithLabelValues("chat", "error").Inc()
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		openaiRequestsTotal.WithLabelValues("chat", "error").Inc()
		return "", ErrEmptyCompletion
	}

	openaiRequestsTotal.WithLabelValues("chat", "ok").Inc()

	return resp.Choices[0].Message.Content, nil
}

package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// fullTextPrompt asks for a verbatim transcript, OCR included.
const fullTextPrompt = `이 PDF 문서의 모든 텍스트를 빠짐없이 추출해주세요.

**중요 지침:**
1. 문서의 모든 텍스트를 순서대로 추출하세요
2. 이미지나 스캔된 부분이 있다면 OCR로 텍스트를 인식하세요
3. 표나 목록은 구조를 유지하면서 텍스트로 변환하세요
4. 페이지 번호나 헤더/푸터도 포함하세요
5. 요약하지 말고 원문 그대로 추출하세요
6. 수식이나 특수 문자도 가능한 한 정확히 표현하세요

추출한 텍스트만 출력하고, 다른 설명은 추가하지 마세요.`

// pagesPrompt asks for a page-keyed JSON transcript.
const pagesPrompt = `이 PDF 문서의 텍스트를 페이지별로 추출해주세요.

**출력 형식 (JSON):**
` + "```json" + `
{
    "pages": [
        {"page": 1, "text": "1페이지의 모든 텍스트..."},
        {"page": 2, "text": "2페이지의 모든 텍스트..."},
        ...
    ]
}
` + "```" + `

**지침:**
- 각 페이지의 모든 텍스트를 빠짐없이 추출
- 이미지/스캔 부분은 OCR 적용
- 표와 목록의 구조 유지
- JSON 형식으로만 응답`

// previewPrompt asks for a short Korean overview of the document.
const previewPrompt = `이 PDF 문서의 내용을 요약해주세요.
다음 정보를 포함해주세요:
1. 문서의 주요 주제
2. 목차 구조 (있는 경우)
3. 주요 내용 개요
4. 문서의 총 페이지 수 (추정)
5. 문서 유형 (텍스트 기반 / 이미지/스캔 기반)

한국어로 답변해주세요.`

// structuredPrompt asks the model to classify the document as an exam
// workbook or a textbook and emit the matching JSON shape.
const structuredPrompt = `이 문서를 분석하여 다음 형식의 JSON으로 변환해주세요.

**문서가 자격증 시험 문제집인 경우:**
` + "```json" + `
{
    "document_type": "exam",
    "title": "문서 제목",
    "questions": [
        {
            "question_number": 1,
            "question_text": "문제 내용",
            "options": ["1번 선택지", "2번 선택지", "3번 선택지", "4번 선택지"],
            "answer": "정답 번호 또는 텍스트",
            "explanation": "해설 (있는 경우)"
        }
    ]
}
` + "```" + `

**문서가 개념서/교재인 경우:**
` + "```json" + `
{
    "document_type": "textbook",
    "title": "문서 제목",
    "chapters": [
        {
            "chapter_number": 1,
            "chapter_title": "챕터 제목",
            "sections": [
                {
                    "section_title": "섹션 제목",
                    "content": "본문 내용"
                }
            ]
        }
    ]
}
` + "```" + `

문서 유형을 판단하고 적절한 형식으로 추출하세요.
JSON 형식으로만 응답하세요.`

// fileData builds the generation part referencing an uploaded file.
func fileData(file *genai.File) genai.FileData {
	return genai.FileData{URI: file.URI, MIMEType: file.MIMEType}
}

// ExtractFullText returns a verbatim transcript of the whole document.
func (l *Loader) ExtractFullText(ctx context.Context, file *genai.File) (string, error) {
	return l.Generate(ctx, fileData(file), genai.Text(fullTextPrompt))
}

// PageText is the transcript of a single page.
type PageText struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// ExtractPages returns the document text split per page. When the model
// answer cannot be parsed as JSON the whole transcript is returned as a
// single page instead of failing the request.
func (l *Loader) ExtractPages(ctx context.Context, file *genai.File) ([]PageText, error) {
	text, err := l.Generate(ctx, fileData(file), genai.Text(pagesPrompt))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Pages []PageText `json:"pages"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &payload); err != nil {
		l.logger.Warn().Err(err).Str("file", file.Name).Msg("per-page answer was not JSON, falling back to full text")
		full, ferr := l.ExtractFullText(ctx, file)
		if ferr != nil {
			return nil, ferr
		}
		return []PageText{{Page: 1, Text: full}}, nil
	}
	return payload.Pages, nil
}

// ExtractPreview returns a Korean summary of the document.
func (l *Loader) ExtractPreview(ctx context.Context, file *genai.File) (string, error) {
	return l.Generate(ctx, fileData(file), genai.Text(previewPrompt))
}

// ExtractStructured returns the document as a typed outline, either an
// exam question list or a textbook chapter tree depending on what the
// model recognizes. A non-JSON answer degrades to an error payload with
// document_type "unknown".
func (l *Loader) ExtractStructured(ctx context.Context, file *genai.File) (map[string]any, error) {
	text, err := l.Generate(ctx, fileData(file), genai.Text(structuredPrompt))
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(stripFence(text)), &doc); err != nil {
		l.logger.Warn().Err(err).Str("file", file.Name).Msg("structured answer was not JSON")
		return map[string]any{
			"error":         fmt.Sprintf("구조화 추출 실패: %s", err),
			"document_type": "unknown",
		}, nil
	}
	return doc, nil
}

// stripFence peels a markdown code fence off a model answer. Answers
// without a fence pass through untouched.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	inner := strings.SplitN(s, "```", 3)[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

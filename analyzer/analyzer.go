// Package analyzer turns a news article into card news copy using Gemini.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultModel       = "gemini-2.0-flash-lite"
	defaultBaseURL     = "https://generativelanguage.googleapis.com"
	defaultTemperature = 0.7
)

// ErrInvalidJSON is returned when the model output holds no parsable JSON object.
var ErrInvalidJSON = errors.New("model output is not valid JSON")

// MissingFieldError reports a required key absent from the model output.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Analysis is the card news copy generated for one article.
type Analysis struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Hashtag string `json:"hashtag"`
}

// Analyzer generates card news copy using the Gemini API.
type Analyzer struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	httpClient  *http.Client
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModel sets the Gemini model to use.
func WithModel(model string) Option {
	return func(a *Analyzer) {
		a.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Analyzer) {
		a.temperature = t
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(a *Analyzer) {
		a.baseURL = url
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.httpClient.Timeout = d
	}
}

// NewAnalyzer creates a new Gemini-based analyzer.
func NewAnalyzer(apiKey string, opts ...Option) *Analyzer {
	a := &Analyzer{
		apiKey:      apiKey,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		temperature: defaultTemperature,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze writes a card title, body and hashtags for the given article.
func (a *Analyzer) Analyze(ctx context.Context, title, content string) (*Analysis, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: buildPrompt(title, content)}}},
		},
		GenerationConfig: &generationConfig{Temperature: a.temperature},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, a.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text, err := responseText(&geminiResp)
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(text)
}

func buildPrompt(title, content string) string {
	return fmt.Sprintf(`너는 마케팅에 뛰어난 세계적인 주식 전문 기자야.
현재 인스타그램용 카드뉴스를 제작하고 있어.
뉴스 제목과 본문을 확인하여 카드뉴스를 만들어 줘

<뉴스 제목>
%s
</뉴스 제목>

<뉴스 본문>
%s
</뉴스 본문>

1. 카드 뉴스 제목은 독자들의 주목을 한눈에 끌수 있게 자극적으로 만들어 줘.
2. 반드시 카드 뉴스 제목은 **15자 이내**로 만들어 줘.
3. 카드 뉴스 내용은 주어진 본문 내용에 핵심만 요약해서 **130자 이내**로 만들어 줘.
4. 카드 뉴스 내용과 어울리는 hashtag를 3개 만들어 줘.
5. hashtag 하나당 글자수는 7자 이내로 만들어 줘.
6. "친절"하고 "재미"있으며 "전문적인" 톤과 매너의 대화체를 사용해줘
7. 이모지는 사용하지 않고 기자가 뉴스를 전달하는 말투를 사용해줘.
8. 카드 뉴스 제목과 본문의 생동감 있는 표현과 강조된 문장으로 느낌을 살려 줘.
9. 최종 결과는 출력형식에 맞게 JSON 형태로 만들어 줘.
10. 카드 뉴스 제목,내용,hastag는 한국어로 해줘.
11. 뉴스 기사를 확인하라는 말은 넣지마. 가능한 카드 뉴스 내용에 요약해서 넣어줘.

다음과 같은 JSON 형식으로 출력해줘:

{
    "title": "여기에 15자 이내의 제목",
    "content": "여기에 130자 이내의 내용 요약",
    "hashtag": "#태그1 #태그2 #태그3"
}`, title, content)
}

func responseText(resp *geminiResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no parts in candidate")
	}
	return candidate.Content.Parts[0].Text, nil
}

// ParseAnalysis extracts the card copy from raw model output. The output
// may be fenced in Markdown or surrounded by prose.
func ParseAnalysis(text string) (*Analysis, error) {
	text = extractJSONObject(stripMarkdownCodeBlock(text))

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	fields := make(map[string]string, 3)
	for _, name := range []string{"title", "content", "hashtag"} {
		value, ok := raw[name]
		if !ok {
			return nil, &MissingFieldError{Field: name}
		}
		s, err := decodeText(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidJSON, name, err)
		}
		fields[name] = s
	}

	return &Analysis{
		Title:   fields["title"],
		Content: fields["content"],
		Hashtag: fields["hashtag"],
	}, nil
}

// decodeText accepts a JSON string or an array of strings. Models
// sometimes return hashtags as a list.
func decodeText(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var list []string
	if err := json.Unmarshal(value, &list); err != nil {
		return "", err
	}
	return strings.Join(list, " "), nil
}

var codeBlockRegex = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.+?)\\s*```\\s*$")

func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if matches := codeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return s
}

// extractJSONObject cuts s down to the span between the first '{' and the
// last '}'.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndex(s, "}"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return s
}

// Gemini API types

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

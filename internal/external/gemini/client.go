// Package gemini wraps the Google AI generateContent API with a model
// fallback chain and tolerant JSON extraction.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/httputil"
	"github.com/wonny/kairos/pkg/logger"
)

// Client talks to Google AI. A missing API key makes the client
// unavailable; callers degrade instead of failing.
type Client struct {
	cfg        config.GeminiConfig
	httpClient *httputil.Client
	logger     *logger.Logger
}

// NewClient creates a Gemini client.
func NewClient(cfg config.GeminiConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log.WithComponent("gemini"),
	}
}

// Available reports whether LLM calls can be made at all.
func (c *Client) Available() bool {
	return c.cfg.APIKey != "" && len(c.cfg.Models) > 0
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateJSON asks for a JSON answer, trying each model in the fallback
// list until one produces extractable JSON. Only when every model is
// exhausted does the call fail.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("gemini unavailable: no API key configured")
	}

	var lastErr error
	for _, model := range c.cfg.Models {
		raw, err := c.generate(ctx, model, prompt)
		if err != nil {
			c.logger.WithError(err).WithField("model", model).Warn("Model call failed, trying next")
			lastErr = err
			continue
		}

		extracted, err := ExtractJSON(raw)
		if err != nil {
			c.logger.WithError(err).WithField("model", model).Warn("JSON extraction failed, trying next")
			lastErr = err
			continue
		}
		return extracted, nil
	}
	return "", fmt.Errorf("all models exhausted: %w", lastErr)
}

func (c *Client) generate(ctx context.Context, model, prompt string) (string, error) {
	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, model, c.cfg.APIKey)

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}

	resp, err := c.httpClient.PostJSON(ctx, u, req)
	if err != nil {
		return "", fmt.Errorf("generateContent %s: %w", model, err)
	}

	var gr generateResponse
	if err := httputil.ReadJSON(resp, &gr); err != nil {
		return "", fmt.Errorf("generateContent %s: %w", model, err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("generateContent %s: API error %d: %s", model, gr.Error.Code, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generateContent %s: empty answer", model)
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// ExtractJSON pulls a JSON document out of an LLM answer: markdown fences
// are stripped, and the document is taken from the first opening bracket
// to the last matching closing bracket. When the tail is garbled, the
// document is retried with trailing content truncated to the last brace.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// 마크다운 코드펜스 제거
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	start := objStart
	open, close := byte('{'), byte('}')
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start = arrStart
		open, close = '[', ']'
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON document in answer")
	}

	end := strings.LastIndexByte(s, close)
	if end <= start {
		return "", fmt.Errorf("unterminated JSON document")
	}

	doc := s[start : end+1]
	if balanced(doc, open, close) {
		return doc, nil
	}

	// 꼬리가 잘린 답변: 마지막 닫는 괄호까지 당겨가며 재시도
	for end > start {
		end = strings.LastIndexByte(s[:end], close)
		if end <= start {
			break
		}
		doc = s[start : end+1]
		if balanced(doc, open, close) {
			return doc, nil
		}
	}
	return "", fmt.Errorf("unbalanced JSON document")
}

// balanced checks bracket balance outside string literals.
func balanced(s string, open, close byte) bool {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inString
}

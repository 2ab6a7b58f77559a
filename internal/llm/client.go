// Package llm wraps the generative backend that turns incident context plus
// retrieved knowledge into a structured remediation plan.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrBackend indicates the generative backend failed after the retry budget
// was exhausted.
var ErrBackend = errors.New("generative backend unavailable")

const systemPrompt = `당신은 Redis 전문 SRE 엔지니어입니다.
Redis 장애 상황을 분석하고 트러블슈팅 가이드를 제공합니다.

분석 시 다음 원칙을 따르세요:
1. 에러 로그와 메트릭을 기반으로 정확한 원인을 파악합니다.
2. 제공된 유사 사례와 지식을 참고하여 검증된 해결책을 제시합니다.
3. 즉시 조치 사항과 상세 해결 단계를 명확히 구분합니다.
4. Redis 공식 문서와 베스트 프랙티스를 기반으로 답변합니다.
5. 재발 방지를 위한 예방 조치도 반드시 포함합니다.
6. 확실하지 않은 부분은 confidence_score에 반영합니다.

항상 JSON 형식으로 응답하세요.`

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewClient constructs a generative backend client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// AnalyzeIncident sends the incident prompt with retrieved context and
// returns the raw completion text. The caller parses the JSON shape; a
// well-formed HTTP response with garbage content is the caller's problem,
// not a retry trigger.
func (c *Client) AnalyzeIncident(ctx context.Context, incidentPrompt string, contextDocs []string) (string, error) {
	contextText := "관련 사례 없음"
	if len(contextDocs) > 0 {
		contextText = strings.Join(contextDocs, "\n\n---\n\n")
	}

	user := fmt.Sprintf(`다음 Redis 장애 상황을 분석해주세요.

## 참고할 유사 사례 및 지식:
%s

---

%s

## 응답 형식
다음 JSON 형식으로 응답해주세요:
{
    "severity": "critical|high|medium|low",
    "category": "memory|connection|replication|cluster|performance|persistence|security",
    "summary": "장애 요약 (1-2문장)",
    "root_cause_analysis": "근본 원인 분석 (상세)",
    "immediate_actions": ["즉시 조치 1", "즉시 조치 2"],
    "detailed_steps": [
        {"step": 1, "action": "조치 내용", "command": "실행 명령어(있는 경우)", "expected_result": "예상 결과"}
    ],
    "prevention_tips": ["예방 조치 1", "예방 조치 2"],
    "confidence_score": 0.0
}
`, contextText, incidentPrompt)

	return c.complete(ctx, systemPrompt, user, true)
}

// Chat performs a free-form completion without forcing JSON output.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	if system == "" {
		system = systemPrompt
	}
	return c.complete(ctx, system, user, false)
}

func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.3,
	}
	if jsonMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrBackend, ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		text, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrBackend, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", isTransportError(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			fmt.Errorf("completions endpoint returned %s", resp.Status)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", false, fmt.Errorf("decode completion response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", false, fmt.Errorf("completion response contained no choices")
	}
	return response.Choices[0].Message.Content, false, nil
}

func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBody — предел размера ответа задачи (10MB).
	maxResponseBody = 10 << 20

	// maxCauseBody — сколько байт не-JSON тела ошибки попадает в причину.
	maxCauseBody = 4096
)

// HTTPExecutor — executor задачи, реализованной HTTP-сервисом.
//
// Вход задачи отправляется телом запроса в JSON.
//
// Ответ:
//   - 2xx: тело (JSON) становится результатом задачи; пустое тело — null,
//     не-JSON тело — строка целиком
//   - тело больше MaxResponseBytes — ошибка запроса
//   - >= 400: Failure. Если тело — объект с полем "error" (строка),
//     оно задаёт вид ошибки, а "cause" — причину. Иначе вид ExecutorFailure
//     и причина {"status_code", "body"}. Тело сохраняется структурированным,
//     не-JSON тело обрезается до 4KB.
type HTTPExecutor struct {
	// URL — адрес задачи.
	URL string

	// Method — HTTP-метод. Default: POST
	Method string

	// Headers — дополнительные заголовки запроса.
	Headers map[string]string

	// Client — HTTP-клиент. Default: клиент с таймаутом 30s.
	Client *http.Client

	// MaxResponseBytes — предел размера тела ответа. Default: 10MB
	MaxResponseBytes int64
}

// NewHTTPExecutor создаёт HTTPExecutor с методом POST.
func NewHTTPExecutor(url string) *HTTPExecutor {
	return &HTTPExecutor{
		URL:    url,
		Method: http.MethodPost,
		Client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, input any) (any, error) {
	if e.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	method := e.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal input: %v", ErrHTTPRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, val := range e.Headers {
		req.Header.Set(key, val)
	}

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	limit := e.MaxResponseBytes
	if limit <= 0 {
		limit = maxResponseBody
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}
	if int64(len(respBody)) > limit {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrHTTPRequest, limit)
	}

	parsed, isJSON := parseBody(respBody)

	// HTTP >= 400 — ошибка задачи с сохранением структурированного тела
	if resp.StatusCode >= 400 {
		if s, ok := parsed.(string); ok && !isJSON {
			parsed = truncate(s, maxCauseBody)
		}
		return nil, failureFromResponse(resp.StatusCode, parsed)
	}

	return parsed, nil
}

// parseBody парсит тело ответа: JSON, иначе строка целиком; пустое тело — nil.
func parseBody(body []byte) (any, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true
	}
	parsed, err := document.Decode(body)
	if err != nil {
		return string(body), false
	}
	return parsed, true
}

// failureFromResponse строит Failure по ответу с ошибкой.
func failureFromResponse(status int, body any) *domain.Failure {
	if obj, ok := body.(map[string]any); ok {
		if kind, ok := obj["error"].(string); ok && kind != "" {
			cause, hasCause := obj["cause"]
			if !hasCause {
				cause = obj
			}
			return domain.NewFailure(kind, cause)
		}
	}
	return domain.NewFailure(domain.ErrorExecutorFailure, map[string]any{
		"status_code": float64(status),
		"body":        body,
	})
}

// truncate обрезает строку до maxLen байт по границе руны.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

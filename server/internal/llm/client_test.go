package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pocket-companion/server/internal/config"
)

// TestOpenAIClientComplete 验证 OpenAI 兼容接口的请求格式与响应解析。
func TestOpenAIClientComplete(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer dummy" {
			t.Errorf("missing bearer header")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"messages\":[]}"}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL + "/", APIKey: "dummy", Model: "deepseek-v3", Temperature: 0.8})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Complete(ctx, []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}, &JSONSchema{Name: "reply"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res != `{"messages":[]}` {
		t.Fatalf("unexpected response: %s", res)
	}
	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", got["response_format"])
	}
	if got["model"] != "deepseek-v3" {
		t.Fatalf("unexpected model %v", got["model"])
	}
}

// TestOpenAIClientAPIError 验证非 200 响应返回 APIError 并带状态码。
func TestOpenAIClientAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "u"}}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

// TestAnthropicClientSplitsSystem 验证 Anthropic 请求把 system 单独放置。
func TestAnthropicClientSplitsSystem(t *testing.T) {
	var got struct {
		System   string              `json:"system"`
		Messages []map[string]string `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Write([]byte(`{"content":[{"type":"text","text":"好的"}]}`))
	}))
	defer ts.Close()

	client := NewAnthropicClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "k", Model: "claude"})
	res, err := client.Complete(context.Background(), []Message{{Role: "system", Content: "你是保镖"}, {Role: "user", Content: "在吗"}}, nil)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res != "好的" {
		t.Fatalf("unexpected response %q", res)
	}
	if got.System != "你是保镖" || len(got.Messages) != 1 || got.Messages[0]["role"] != "user" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

type flakyClient struct {
	calls int32
	fails int32
	code  int
}

func (f *flakyClient) Complete(_ context.Context, _ []Message, _ *JSONSchema) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.fails {
		return "", &APIError{Status: f.code}
	}
	return "ok", nil
}

// TestLimitedClientRetriesRateLimit 验证 429 会被重试。
func TestLimitedClientRetriesRateLimit(t *testing.T) {
	inner := &flakyClient{fails: 1, code: http.StatusTooManyRequests}
	client := NewLimitedClient(inner, 100, 1)
	client.backoff = time.Millisecond
	client.logger = log.New(io.Discard, "", 0)

	res, err := client.Complete(context.Background(), nil, nil)
	if err != nil || res != "ok" {
		t.Fatalf("expected ok after retry, got %q %v", res, err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

// TestLimitedClientDoesNotRetryClientError 验证 4xx（非 429）不重试。
func TestLimitedClientDoesNotRetryClientError(t *testing.T) {
	inner := &flakyClient{fails: 5, code: http.StatusBadRequest}
	client := NewLimitedClient(inner, 100, 1)
	client.backoff = time.Millisecond

	if _, err := client.Complete(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single call, got %d", inner.calls)
	}
}

// TestNewClientWrapsLimiter 验证配置了限速时返回 LimitedClient。
func TestNewClientWrapsLimiter(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.LLM.RateLimit = 2

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, ok := client.(*LimitedClient); !ok {
		t.Fatalf("expected *LimitedClient, got %T", client)
	}

	cfg.LLM.Provider = "unknown"
	if _, err := NewClient(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

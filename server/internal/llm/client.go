package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pocket-companion/server/internal/config"
)

// Client LLM 客户端接口
type Client interface {
	// Complete 完成文本生成任务
	Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error)
}

// Message 消息结构
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// JSONSchema JSON Schema 定义（用于结构化输出）。
// Schema 为空时只要求模型输出 JSON 对象。
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// APIError 是上游返回的非 200 响应，携带状态码供限流重试判断。
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

func (e *APIError) StatusCode() int { return e.Status }

// NewClient 创建 LLM 客户端，配置了限速时包一层 LimitedClient。
func NewClient(cfg *config.Config) (Client, error) {
	var client Client
	switch cfg.LLM.Provider {
	case "openai":
		client = NewOpenAIClient(cfg.LLM.OpenAI)
	case "anthropic":
		client = NewAnthropicClient(cfg.LLM.Anthropic)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
	if cfg.LLM.RateLimit > 0 {
		client = NewLimitedClient(client, cfg.LLM.RateLimit, cfg.LLM.RateBurst)
	}
	return client, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// OpenAIClient OpenAI 兼容接口客户端（DashScope/DeepSeek 等也走这里）
type OpenAIClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg config.LLMProviderConfig) *OpenAIClient {
	return &OpenAIClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// Complete 完成文本生成（OpenAI）
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	reqBody := map[string]any{
		"model":       c.config.Model,
		"messages":    messages,
		"temperature": c.config.Temperature,
	}
	if c.config.MaxTokens > 0 {
		reqBody["max_tokens"] = c.config.MaxTokens
	}

	// 兼容接口大多只支持 json_object，带 schema 时才用 json_schema。
	if schema != nil {
		if schema.Schema != nil {
			reqBody["response_format"] = map[string]any{
				"type":        "json_schema",
				"json_schema": schema,
			}
		} else {
			reqBody["response_format"] = map[string]any{"type": "json_object"}
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.APIURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	respBody, err := doRequest(c.httpClient, req)
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := result.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty content in response: %s", string(respBody))
	}

	return content, nil
}

// AnthropicClient Anthropic 客户端
type AnthropicClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

// NewAnthropicClient 创建 Anthropic 客户端
func NewAnthropicClient(cfg config.LLMProviderConfig) *AnthropicClient {
	return &AnthropicClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg.Timeout),
	}
}

// Complete 完成文本生成（Anthropic）。schema 仅通过提示词约束，接口本身不支持。
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	// Anthropic 需要分离 system message
	var systemMsg string
	var userMessages []map[string]string

	for _, msg := range messages {
		if msg.Role == "system" {
			if systemMsg != "" {
				systemMsg += "\n\n"
			}
			systemMsg += msg.Content
		} else {
			userMessages = append(userMessages, map[string]string{
				"role":    msg.Role,
				"content": msg.Content,
			})
		}
	}
	if schema != nil {
		systemMsg += "\n\n只输出 JSON，不要输出其他内容。"
	}

	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := map[string]any{
		"model":       c.config.Model,
		"messages":    userMessages,
		"max_tokens":  maxTokens,
		"temperature": c.config.Temperature,
	}

	if systemMsg != "" {
		reqBody["system"] = strings.TrimSpace(systemMsg)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.APIURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	respBody, err := doRequest(c.httpClient, req)
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
			Type string `json:"type"`
		} `json:"content"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	for _, part := range result.Content {
		if part.Type == "text" || part.Type == "" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("no content in response")
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

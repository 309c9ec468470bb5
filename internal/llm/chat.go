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

	"go.uber.org/zap"

	"queryagent/internal/metrics"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize = 512 * 1024      // 512KB per message content
)

func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (resp *ChatResponse, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if parentCtx.Err() != nil || isDeadline(err) {
				outcome = "timeout"
			}
		}
		metrics.UpstreamRequestsTotal.WithLabelValues("llm", outcome).Inc()
		metrics.UpstreamSeconds.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	}()

	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"llmclient: message[%d] content too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize,
			)
		}
	}

	pReq := providerChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if pReq.Model == "" {
		pReq.Model = c.cfg.Model
	}
	if pReq.Temperature == 0 {
		pReq.Temperature = c.cfg.Temperature
	}
	if pReq.MaxTokens == 0 {
		pReq.MaxTokens = c.cfg.MaxTokens
	}

	c.logger.Debug("llm request starting",
		zap.String("model", pReq.Model),
		zap.Int("message_count", len(pReq.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"llmclient: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize,
		)
	}

	url := c.cfg.BaseURL + "/chat/completions"

	// a fresh *http.Request per attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
		}
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	httpResp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))

		var perr providerErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("llm provider error",
				zap.Int("status", httpResp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, &StatusError{
				StatusCode: httpResp.StatusCode,
				Message:    fmt.Sprintf("%s (%s)", perr.Error.Message, perr.Error.Type),
			}
		}

		c.logger.Error("llm upstream error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Message: truncate(string(body), 200)}
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("llmclient: decode upstream response: %w", err)
	}
	if len(pResp.Choices) == 0 {
		c.logger.Error("llm provider returned no choices",
			zap.String("model", pReq.Model),
		)
		return nil, fmt.Errorf("llmclient: provider returned no choices")
	}

	choice := pResp.Choices[0]
	out := &ChatResponse{
		ID:           pResp.ID,
		Created:      time.Unix(pResp.Created, 0),
		Model:        pResp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if pResp.Usage != nil {
		out.Usage = Usage(*pResp.Usage)
	}

	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func (c *client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := &ChatRequest{}
	if system != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, ChatMessage{Role: RoleUser, Content: prompt})

	resp, err := c.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("llmclient: empty completion")
	}
	return text, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPCaller speaks the OpenAI-compatible chat/embeddings wire format that
// both configured providers expose.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller builds the default caller.
func NewHTTPCaller() *HTTPCaller {
	return &HTTPCaller{client: &http.Client{Timeout: 120 * time.Second}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func buildChatRequest(model string, req Request, stream bool) chatRequest {
	cr := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.System != "" {
		cr.Messages = append(cr.Messages, chatMessage{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONMode {
		cr.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}
	return cr
}

// Complete performs a blocking chat completion.
func (c *HTTPCaller) Complete(ctx context.Context, baseURL, model, apiKey string, req Request) (string, error) {
	body, err := c.post(ctx, baseURL+"/chat/completions", model, apiKey, buildChatRequest(model, req, false))
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", &CallError{Kind: KindRetryable, Model: model, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &CallError{Kind: KindRetryable, Model: model, Err: fmt.Errorf("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream performs a streamed chat completion, emitting deltas as they
// arrive. The channel closes when the stream ends or ctx is canceled.
func (c *HTTPCaller) Stream(ctx context.Context, baseURL, model, apiKey string, req Request) (<-chan StreamChunk, error) {
	body, err := c.post(ctx, baseURL+"/chat/completions", model, apiKey, buildChatRequest(model, req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			var resp chatResponse
			if json.Unmarshal([]byte(payload), &resp) != nil || len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- StreamChunk{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: &CallError{Kind: KindRetryable, Model: model, Err: err}}
		}
	}()
	return out, nil
}

// Embed returns the embedding vector for one text.
func (c *HTTPCaller) Embed(ctx context.Context, baseURL, model, apiKey, text string) ([]float64, error) {
	payload := map[string]any{"model": model, "input": text}
	body, err := c.post(ctx, baseURL+"/embeddings", model, apiKey, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &CallError{Kind: KindRetryable, Model: model, Err: fmt.Errorf("failed to decode embedding: %w", err)}
	}
	if len(resp.Data) == 0 {
		return nil, &CallError{Kind: KindRetryable, Model: model, Err: fmt.Errorf("embedding response is empty")}
	}
	return resp.Data[0].Embedding, nil
}

func (c *HTTPCaller) post(ctx context.Context, url, model, apiKey string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Kind: KindPermanent, Model: model, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &CallError{Kind: KindPermanent, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &CallError{Kind: KindRetryable, Model: model, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		ce := &CallError{
			Kind:  ClassifyStatus(resp.StatusCode),
			Model: model,
			Err:   fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)),
		}
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				ce.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, ce
	}
	return resp.Body, nil
}

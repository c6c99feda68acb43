// Package provider talks to the OpenAI-compatible image generation API
// in streaming mode.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/t59688/btx/internal/config"
)

// ErrStreamDecode marks an undecodable event payload; the pipeline
// treats it as fatal for the current run.
var ErrStreamDecode = errors.New("stream decode error")

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// GenerateRequest describes one styled-image generation. The source
// image is required; the reference image is optional and, when present,
// is placed between the prompt text and the source image.
type GenerateRequest struct {
	Prompt            string
	SourceImageURL    string
	ReferenceImageURL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.AITimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Client{
		apiKey:  cfg.AIAPIKey,
		baseURL: strings.TrimRight(cfg.AIBaseURL, "/"),
		model:   cfg.AIImageModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamGenerate posts a streaming chat-completions request and invokes
// fn once per text delta, in arrival order. It returns when the stream
// signals [DONE], the connection closes, or fn returns an error (which
// is propagated unchanged so the caller can stop the stream early).
func (c *Client) StreamGenerate(ctx context.Context, req GenerateRequest, fn func(delta string) error) error {
	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	if req.ReferenceImageURL != "" {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: req.ReferenceImageURL}})
	}
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: req.SourceImageURL}})

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
		"stream": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rawBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("generation api error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%w: %s", ErrStreamDecode, truncateBody([]byte(data)))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := fn(content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	// A stream that closes without [DONE] is not an error by itself;
	// the caller decides based on what the parser saw.
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

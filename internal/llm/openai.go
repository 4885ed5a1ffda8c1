package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"neuroai/internal/logging"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against the stateless chat-completions
// endpoint. The full history is sent on every call.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	health  *Monitor
	logger  *logging.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model string, logger *logging.Logger) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	p := &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: openaiBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
	p.health = NewMonitor(p.probe, DefaultProbeInterval, logger)
	return p
}

// probe checks API reachability with a cheap authenticated request
func (p *OpenAIProvider) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("openai: models returned status %d", resp.StatusCode)
	}
	return nil
}

// Send generates a complete response for the prompt
func (p *OpenAIProvider) Send(ctx context.Context, prompt string, history []Message) (string, error) {
	if err := p.health.checkLive(); err != nil {
		return "", err
	}

	resp, err := p.completions(ctx, prompt, history, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("openai: failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// Stream generates a response as a lazy fragment sequence
func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, history []Message) (*Stream, error) {
	if err := p.health.checkLive(); err != nil {
		return nil, err
	}

	logger := p.logger.WithFields(map[string]interface{}{
		"provider":      "openai",
		"model":         p.model,
		"message_count": len(history),
	})
	logger.Debug("starting chat stream request")

	resp, err := p.completions(ctx, prompt, history, true)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	next := func() (string, error) {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return "", io.EOF
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return chunk.Choices[0].Delta.Content, nil
			}
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("openai: failed to read stream: %w", err)
		}
		return "", io.EOF
	}

	return NewStream(ctx, resp.Body, next), nil
}

// completions issues a chat-completions request with the prompt appended to
// the passed history
func (p *OpenAIProvider) completions(ctx context.Context, prompt string, history []Message, stream bool) (*http.Response, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	reqBody := map[string]interface{}{
		"model":    p.model,
		"messages": messages,
		"stream":   stream,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		p.health.MarkDisconnected()
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai: returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Health returns the provider's connection monitor
func (p *OpenAIProvider) Health() *Monitor {
	return p.health
}

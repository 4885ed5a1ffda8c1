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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider against the generateContent endpoint.
// The endpoint holds no server-side conversation state, so the full passed
// history is rebuilt on the wire for every call and the provider context
// always reflects exactly that history with no duplication or gaps.
type GeminiProvider struct {
	apiKey string
	model  string
	client *http.Client
	health *Monitor
	logger *logging.Logger
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, model string, logger *logging.Logger) *GeminiProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	p := &GeminiProvider{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
	p.health = NewMonitor(p.probe, DefaultProbeInterval, logger)
	return p
}

// probe checks API reachability with a model metadata request
func (p *GeminiProvider) probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", geminiBaseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gemini: model lookup returned status %d", resp.StatusCode)
	}
	return nil
}

// geminiContent is the wire shape of one conversation turn
type geminiContent struct {
	Role  string `json:"role"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func newGeminiContent(role, text string) geminiContent {
	c := geminiContent{Role: role}
	c.Parts = append(c.Parts, struct {
		Text string `json:"text"`
	}{Text: text})
	return c
}

// contents builds the wire contents for one more user turn from the passed
// history. Pure function of its input; system messages are local notices and
// never reach the model.
func (p *GeminiProvider) contents(prompt string, history []Message) []geminiContent {
	out := make([]geminiContent, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case "user":
			out = append(out, newGeminiContent("user", m.Content))
		case "assistant":
			out = append(out, newGeminiContent("model", m.Content))
		}
	}
	return append(out, newGeminiContent("user", prompt))
}

// Send generates a complete response for the prompt
func (p *GeminiProvider) Send(ctx context.Context, prompt string, history []Message) (string, error) {
	if err := p.health.checkLive(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, p.model, p.apiKey)
	resp, err := p.generate(ctx, url, prompt, history)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("gemini: failed to decode response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: returned no candidates")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Stream generates a response as a lazy fragment sequence
func (p *GeminiProvider) Stream(ctx context.Context, prompt string, history []Message) (*Stream, error) {
	if err := p.health.checkLive(); err != nil {
		return nil, err
	}

	logger := p.logger.WithFields(map[string]interface{}{
		"provider":      "gemini",
		"model":         p.model,
		"message_count": len(history),
	})
	logger.Debug("starting chat stream request")

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", geminiBaseURL, p.model, p.apiKey)
	resp, err := p.generate(ctx, url, prompt, history)
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

			var chunk struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}

			var sb strings.Builder
			for _, part := range chunk.Candidates[0].Content.Parts {
				sb.WriteString(part.Text)
			}
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("gemini: failed to read stream: %w", err)
		}
		return "", io.EOF
	}

	return NewStream(ctx, resp.Body, next), nil
}

// generate issues a generateContent request carrying the full conversation
func (p *GeminiProvider) generate(ctx context.Context, url, prompt string, history []Message) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"contents": p.contents(prompt, history),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		p.health.MarkDisconnected()
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("gemini: returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Health returns the provider's connection monitor
func (p *GeminiProvider) Health() *Monitor {
	return p.health
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"neuroai/internal/logging"
)

// HTTPRepository talks to a REST document-store service. Session documents
// live under /v1/users/{uid}/chats/{id}; the stats document under
// /v1/users/{uid}/stats. Change notifications arrive over a websocket feed.
type HTTPRepository struct {
	baseURL string
	apiKey  string
	userID  string
	client  *http.Client
	logger  *logging.Logger
}

// NewHTTPRepository creates a repository client scoped to one user
func NewHTTPRepository(baseURL, apiKey, userID string, logger *logging.Logger) *HTTPRepository {
	return &HTTPRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		userID:  userID,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (r *HTTPRepository) chatURL(id string) string {
	return fmt.Sprintf("%s/v1/users/%s/chats/%s", r.baseURL, url.PathEscape(r.userID), url.PathEscape(id))
}

// Put writes the whole session document for the given key
func (r *HTTPRepository) Put(ctx context.Context, doc SessionDoc) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("remote: failed to marshal session %s: %w", doc.ID, err)
	}
	return r.do(ctx, "PUT", r.chatURL(doc.ID), body, nil)
}

// Get reads the session document for the given key
func (r *HTTPRepository) Get(ctx context.Context, id string) (*SessionDoc, error) {
	var doc SessionDoc
	if err := r.do(ctx, "GET", r.chatURL(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns all session documents ordered by updatedAt descending
func (r *HTTPRepository) List(ctx context.Context) ([]SessionDoc, error) {
	u := fmt.Sprintf("%s/v1/users/%s/chats?order=updatedAt&dir=desc", r.baseURL, url.PathEscape(r.userID))
	var docs []SessionDoc
	if err := r.do(ctx, "GET", u, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Delete removes the session document for the given key
func (r *HTTPRepository) Delete(ctx context.Context, id string) error {
	return r.do(ctx, "DELETE", r.chatURL(id), nil, nil)
}

// PutStats merges the user statistics document
func (r *HTTPRepository) PutStats(ctx context.Context, stats UserStats) error {
	body, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("remote: failed to marshal stats: %w", err)
	}
	u := fmt.Sprintf("%s/v1/users/%s/stats", r.baseURL, url.PathEscape(r.userID))
	return r.do(ctx, "PATCH", u, body, nil)
}

// GetStats reads the user statistics document
func (r *HTTPRepository) GetStats(ctx context.Context) (*UserStats, error) {
	u := fmt.Sprintf("%s/v1/users/%s/stats", r.baseURL, url.PathEscape(r.userID))
	var stats UserStats
	if err := r.do(ctx, "GET", u, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Subscribe opens the websocket change feed over the ordered session list
func (r *HTTPRepository) Subscribe(ctx context.Context) (<-chan []SessionDoc, error) {
	wsURL := strings.Replace(r.baseURL, "http", "ws", 1)
	feed := fmt.Sprintf("%s/v1/users/%s/chats/feed", wsURL, url.PathEscape(r.userID))

	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", "Bearer "+r.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, feed, header)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to open change feed: %w", err)
	}

	ch := make(chan []SessionDoc, 1)
	go func() {
		defer close(ch)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("change feed closed: %v", err)
				}
				return
			}
			var docs []SessionDoc
			if err := json.Unmarshal(data, &docs); err != nil {
				r.logger.Warn("change feed sent malformed payload: %v", err)
				continue
			}
			select {
			case ch <- docs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// do issues one request and decodes the response into out when non-nil
func (r *HTTPRepository) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("remote: failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote: %s %s returned status %d: %s", method, url, resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote: failed to decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carebook/clinic-scheduler/pkg/logging"
)

const sendAttempts = 3

// Client talks to the messaging provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL, apiKey string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Gateway = (*Client)(nil)

// SendMessage posts an outbound message, retrying transient failures with
// jittered backoff before giving up with ErrSendFailed.
func (c *Client) SendMessage(ctx context.Context, conversationRef, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("gateway: body required")
	}
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal send payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, url.PathEscape(conversationRef))
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("gateway: build send request: %w", err)
		}
		c.authorize(req)

		messageRef, retryable, err := c.doSend(req)
		if err == nil {
			return messageRef, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		if attempt < sendAttempts {
			backoff := time.Duration(jitteredSeconds(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	c.logger.Warn("gateway: send exhausted retries", "conversation", conversationRef, "error", lastErr)
	return "", fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

func (c *Client) doSend(req *http.Request) (messageRef string, retryable bool, err error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", true, err
		}
		return out.ID, false, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	// 4xx is not going to improve on retry.
	return "", resp.StatusCode < 400 || resp.StatusCode >= 500, err
}

// ListRecentMessages fetches the newest messages of a conversation.
func (c *Client) ListRecentMessages(ctx context.Context, conversationRef string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	endpoint := fmt.Sprintf("%s/conversations/%s/messages?limit=%s&order=desc",
		c.baseURL, url.PathEscape(conversationRef), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build list request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: list messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: list messages: status %d", resp.StatusCode)
	}

	var out struct {
		Messages []ConversationMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway: decode messages: %w", err)
	}
	return out.Messages, nil
}

// ResolveMessage links an outbound proposal message to the inbound reply
// that settled it.
func (c *Client) ResolveMessage(ctx context.Context, conversationRef, messageRef, resolvedByRef string) error {
	payload, err := json.Marshal(map[string]string{"resolvedBy": resolvedByRef})
	if err != nil {
		return fmt.Errorf("gateway: marshal resolve payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/conversations/%s/messages/%s/resolve",
		c.baseURL, url.PathEscape(conversationRef), url.PathEscape(messageRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build resolve request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: resolve message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gateway: resolve message: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// jitteredSeconds spreads retries so concurrent workers do not hammer the
// provider in lockstep.
func jitteredSeconds(attempt int) int {
	return attempt + rand.Intn(attempt+1)
}

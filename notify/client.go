// Package notify delivers push notifications to vendor devices through an
// HTTP push gateway. Delivery is best-effort.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"repairflow/logger"

	"golang.org/x/time/rate"
)

// ErrNoToken is returned for messages with neither a device token nor a topic.
var ErrNoToken = errors.New("notify: empty device token")

// Message is one push notification.
type Message struct {
	Token    string            `json:"token,omitempty"`
	Topic    string            `json:"topic,omitempty"`
	Platform string            `json:"platform,omitempty"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewClient returns a gateway client. With an empty URL every message is
// logged and dropped, which is what local development wants.
func NewClient(baseURL, token string, perSecond float64, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	if perSecond <= 0 {
		perSecond = 20
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log,
	}
}

// Notify sends msg to the gateway, waiting for the rate limiter first.
func (c *Client) Notify(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Token) == "" && strings.TrimSpace(msg.Topic) == "" {
		return ErrNoToken
	}
	if c.baseURL == "" {
		c.log.WithContext(ctx).Info("push gateway not configured, notification dropped", "title", msg.Title, "platform", msg.Platform)
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: rate limit wait: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: gateway request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

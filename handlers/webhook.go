package handlers

import (
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

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

var (
	// ErrMissingConfig is returned when an action lacks a required config key
	ErrMissingConfig = errors.New("missing action config")

	// ErrWebhookStatus is wrapped by webhook failures caused by a non-2xx response
	ErrWebhookStatus = errors.New("webhook returned non-2xx status")
)

// maxErrorBody caps how much of a failed response is quoted in the error
const maxErrorBody = 512

// WebhookConfig configures the call_webhook handler
type WebhookConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// Webhook performs call_webhook actions.
//
// Config keys: url (required), method (default POST), headers (string map),
// body (optional map; defaults to the event envelope). String values in url,
// headers and body are rendered against the event.
type Webhook struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewWebhook creates a webhook handler with its own HTTP client
func NewWebhook(cfg WebhookConfig) *Webhook {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Webhook{
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		log:       logger.Component("handlers.webhook"),
	}
}

// Execute implements rules.ActionHandler.
func (h *Webhook) Execute(ctx context.Context, action rules.Action, ev rules.Event) (any, error) {
	url, err := requiredString(action, "url", ev)
	if err != nil {
		return nil, err
	}
	method, err := stringConfig(action, "method", ev)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)

	payload := map[string]any{
		"event":       ev.Type,
		"entity_type": ev.EntityType,
		"entity_id":   ev.EntityID,
		"data":        ev.Data,
	}
	if raw, ok := action.Config["body"]; ok && raw != nil {
		body, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config \"body\" must be an object, got %T", raw)
		}
		payload = renderValue(body, ev).(map[string]any)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if raw, ok := action.Config["headers"]; ok && raw != nil {
		headers, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config \"headers\" must be an object, got %T", raw)
		}
		for k, v := range headers {
			req.Header.Set(k, Render(fmt.Sprint(v), ev))
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	h.log.Debug("Webhook called",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return map[string]any{"status_code": resp.StatusCode},
			fmt.Errorf("%w: %d %s", ErrWebhookStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return map[string]any{"status_code": resp.StatusCode}, nil
}

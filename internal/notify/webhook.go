package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/signalboard/internal/crypto"
	"github.com/alanyoungcy/signalboard/internal/domain"
)

// WebhookSender posts signals to an arbitrary HTTP endpoint using the same
// {type, data} envelope as the websocket channel. Bodies are signed when a
// secret is configured.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty secret disables
// signing.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	if secret != "" {
		w.signer = &crypto.WebhookSigner{Secret: secret}
	}
	return w
}

var _ SignalSender = (*WebhookSender)(nil)

// SendSignal posts a new_signal envelope.
func (w *WebhookSender) SendSignal(ctx context.Context, sig domain.Signal) error {
	env, err := domain.NewEnvelope(domain.MessageNewSignal, sig)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	return postJSON(ctx, w.client, "webhook", w.url, env, w.signer)
}

// Send posts a plain {title, message} body.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, w.client, "webhook", w.url, map[string]string{
		"title":   title,
		"message": message,
	}, w.signer)
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}

// postJSON marshals payload, posts it and treats any non-2xx status as an
// error carrying a prefix of the response body.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any, signer *crypto.WebhookSigner) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		for k, v := range signer.Headers(body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}

package publisher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the exact body bytes.
const SignatureHeader = "X-Crawler-Signature"

// CallbackSender delivers finished job results to a caller-supplied
// URL. Delivery failures are the caller's to record; they never fail
// the job itself.
type CallbackSender struct {
	client *http.Client
}

// NewCallbackSender creates a sender with the given per-delivery timeout.
func NewCallbackSender(timeout time.Duration) *CallbackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CallbackSender{client: &http.Client{Timeout: timeout}}
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send POSTs body to url, signing it when a secret is configured.
func (s *CallbackSender) Send(ctx context.Context, url, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}
	return nil
}

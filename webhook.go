package netfield

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Webhook Types
// ============================================================================

const (
	// WebhookSource identifies payloads produced by WebhookForwarder.
	WebhookSource = "netfield"
	// WebhookEventPublished is the event name of a forwarded publication.
	WebhookEventPublished = "message.published"
	// WebhookSignatureHeader carries the HMAC-SHA256 signature of the body.
	WebhookSignatureHeader = "X-Netfield-Signature"

	defaultWebhookTimeout = 10 * time.Second
)

// WebhookPayload is the JSON document POSTed for every forwarded publication.
type WebhookPayload struct {
	Source    string          `json:"source"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	ClientID  string          `json:"clientId"`
	DeviceID  string          `json:"deviceId"`
	Topic     string          `json:"topic"`
	Path      string          `json:"path,omitempty"`
	Message   json.RawMessage `json:"message"`
}

// NewWebhookPayload wraps a publication received by s.
func NewWebhookPayload(s *Session, p Publication, at time.Time) *WebhookPayload {
	target := s.Target()
	msg := p.Message
	if len(msg) == 0 {
		msg = json.RawMessage("null")
	}
	return &WebhookPayload{
		Source:    WebhookSource,
		Event:     WebhookEventPublished,
		Timestamp: at.UnixMilli(),
		ClientID:  s.ClientID(),
		DeviceID:  target.DeviceID,
		Topic:     target.Topic,
		Path:      p.Path,
		Message:   msg,
	}
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) error

// ============================================================================
// Standalone Functions
// ============================================================================

// SignWebhookPayload returns the "sha256=<hex>" signature of body.
func SignWebhookPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature verifies a webhook signature using HMAC-SHA256.
// The "sha256=" prefix is optional. Uses constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	expected := strings.TrimPrefix(SignWebhookPayload([]byte(body), secret), "sha256=")
	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != WebhookSource {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if payload.DeviceID == "" || payload.ClientID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload (deviceId, clientId)")
	}

	return &payload, nil
}

// ============================================================================
// WebhookForwarder
// ============================================================================

// WebhookForwarder POSTs publications to an HTTP endpoint.
type WebhookForwarder struct {
	url        string
	secret     string
	httpClient *http.Client
}

// WebhookOption customizes a WebhookForwarder.
type WebhookOption func(*WebhookForwarder)

// WithWebhookHTTPClient replaces the HTTP client.
func WithWebhookHTTPClient(client *http.Client) WebhookOption {
	return func(f *WebhookForwarder) { f.httpClient = client }
}

// WithWebhookTimeout sets the per-request timeout of the default client.
func WithWebhookTimeout(timeout time.Duration) WebhookOption {
	return func(f *WebhookForwarder) { f.httpClient.Timeout = timeout }
}

// NewWebhookForwarder creates a forwarder. secret may be empty, in which case
// requests are not signed.
func NewWebhookForwarder(url, secret string, opts ...WebhookOption) (*WebhookForwarder, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	f := &WebhookForwarder{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Forward delivers one payload. Non-2xx responses are errors.
func (f *WebhookForwarder) Forward(ctx context.Context, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.secret != "" {
		req.Header.Set(WebhookSignatureHeader, SignWebhookPayload(body, f.secret))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Webhook receiver
// ============================================================================

// Webhook handles verification, parsing and dispatch of forwarded payloads
// on the receiving side.
type Webhook struct {
	secret    string
	onMessage WebhookHandlerFunc
}

// NewWebhook creates a new webhook handler.
func NewWebhook(secret string, onMessage WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Webhook{
		secret:    secret,
		onMessage: onMessage,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.onMessage(payload); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := netfield.NewWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(WebhookSignatureHeader))
		writeJSON(rw, statusCode, data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *Webhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

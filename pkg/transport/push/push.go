// Package push implements the HTTP transport for the push-notification
// channel. The gateway exposes one HTTPS endpoint per access key and takes
// a form-encoded title plus body.
package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/dispatcher"
	"github.com/kart-io/codeforward/pkg/prefs"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failure response is kept for the error.
const maxErrorBody = 512

// Transport sends verification codes to a push gateway.
type Transport struct {
	config channel.PushConfig
	client *http.Client
}

// Option configures the transport.
type Option func(*Transport)

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// New creates a push transport for the given config.
func New(config channel.PushConfig, opts ...Option) *Transport {
	t := &Transport{
		config: config,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind returns the push channel kind.
func (t *Transport) Kind() channel.Kind { return channel.KindPush }

// Protocols returns the gateway's single wire mode. The dispatcher turns
// this into two attempts on the same protocol.
func (t *Transport) Protocols() []prefs.SubProtocol {
	return []prefs.SubProtocol{prefs.ProtoHTTPS}
}

// Attempt POSTs one notification to the gateway. Any non-2xx status is a
// failure carrying the response body as detail.
func (t *Transport) Attempt(ctx context.Context, _ prefs.SubProtocol, payload dispatcher.Payload) error {
	endpoint := fmt.Sprintf("%s/%s.send", t.config.GatewayEndpoint(), t.config.AccessKey)

	form := url.Values{}
	form.Set("title", fmt.Sprintf("SMS Verification Code: %s", payload.Code))
	form.Set("desp", t.buildBody(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// buildBody renders the markdown body the gateway displays under the title.
func (t *Transport) buildBody(payload dispatcher.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Verification Code:** %s\n\n", payload.Code)
	if payload.Sender != "" {
		fmt.Fprintf(&b, "**Sender:** %s\n\n", payload.Sender)
	}
	fmt.Fprintf(&b, "**Received:** %s\n\n", payload.ReceivedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Message:** %s\n", payload.Content)
	return b.String()
}

// Package httpstub posts the sandbox's webhooks and provides a recording
// double for tests.
package httpstub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// EmptyTwiML is the default response of the mock client
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// WebhookClient defines the interface for making webhook HTTP calls
type WebhookClient interface {
	POST(ctx context.Context, url string, form url.Values) (status int, body []byte, headers http.Header, err error)
}

// DefaultWebhookClient is the default implementation using http.Client
type DefaultWebhookClient struct {
	client *http.Client
}

// NewDefaultWebhookClient creates a new default webhook client
func NewDefaultWebhookClient(timeout time.Duration) *DefaultWebhookClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DefaultWebhookClient{
		client: &http.Client{Timeout: timeout},
	}
}

// POST makes an HTTP POST request with form data
func (c *DefaultWebhookClient) POST(ctx context.Context, targetURL string, form url.Values) (status int, body []byte, headers http.Header, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "TwilioProxy/1.1 (agentbridge sandbox)")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, resp.Header, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, resp.Header, nil
}

// MockWebhookClient is a test double for capturing webhook calls
type MockWebhookClient struct {
	mu    sync.Mutex
	calls []MockCall
	// ResponseFunc allows tests to control responses
	ResponseFunc func(url string, form url.Values) (status int, body []byte, headers http.Header, err error)
}

// MockCall records a webhook call
type MockCall struct {
	URL  string
	Form url.Values
	Time time.Time
}

// NewMockWebhookClient creates a new mock client that answers every request
// with an empty TwiML document
func NewMockWebhookClient() *MockWebhookClient {
	return &MockWebhookClient{}
}

// POST records the call and returns the configured response
func (m *MockWebhookClient) POST(ctx context.Context, targetURL string, form url.Values) (status int, body []byte, headers http.Header, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		URL:  targetURL,
		Form: form,
		Time: time.Now(),
	})
	respond := m.ResponseFunc
	m.mu.Unlock()

	if respond != nil {
		return respond(targetURL, form)
	}
	return http.StatusOK, []byte(EmptyTwiML), make(http.Header), nil
}

// Calls returns a copy of the recorded calls
func (m *MockWebhookClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Reset clears all recorded calls
func (m *MockWebhookClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// GetCallsTo returns all calls whose URL starts with prefix
func (m *MockWebhookClient) GetCallsTo(prefix string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockCall
	for _, call := range m.calls {
		if strings.HasPrefix(call.URL, prefix) {
			result = append(result, call)
		}
	}
	return result
}

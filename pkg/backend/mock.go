package backend

import (
	"context"
	"fmt"
	"sync"
)

// MockClient returns deterministic responses for local runs and tests.
type MockClient struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	errs            []error
	calls           []string
}

// NewMockClient creates a mock client with a default response.
func NewMockClient() *MockClient {
	return &MockClient{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockClientWithResponses creates a mock client with predefined
// per-prompt responses.
func NewMockClientWithResponses(responses map[string]string, defaultResponse string) *MockClient {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockClient{responses: responses, defaultResponse: defaultResponse}
}

// FailWith queues errors returned by subsequent Complete calls, in order,
// before normal responses resume.
func (c *MockClient) FailWith(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
}

// Calls returns the prompts seen so far.
func (c *MockClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return "mock"
}

// Complete returns the queued error or the configured response.
func (c *MockClient) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, prompt)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return "", err
	}
	if response, ok := c.responses[prompt]; ok {
		return response, nil
	}
	return fmt.Sprintf("%s\n%s", c.defaultResponse, prompt), nil
}

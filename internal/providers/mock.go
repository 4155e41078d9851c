package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

const MockClientName = "mock"

// MockResponse is one scripted answer.
type MockResponse struct {
	Content string
	Err     error
}

// MockClient is an LLMClient for testing.
//
// Answers are chosen by attempt: attempt n of a row gets the n-th scripted
// response, and the last response repeats once the script runs out. Rows in
// ByRow use their own script, others use Responses. Handler, when set,
// overrides both. Because the choice depends only on the request, results
// are the same under any concurrency.
type MockClient struct {
	Latency   time.Duration
	Responses []MockResponse
	ByRow     map[int][]MockResponse
	Handler   func(req *prompts.Request) MockResponse
	ModelName string

	mu           sync.Mutex
	requests     []prompts.Request
	requestCount atomic.Int64
}

// NewMockClient creates a mock client that always answers with content.
func NewMockClient(content ...string) *MockClient {
	m := &MockClient{ModelName: "mock-model"}
	for _, c := range content {
		m.Responses = append(m.Responses, MockResponse{Content: c})
	}
	return m
}

// Name returns the client identifier.
func (c *MockClient) Name() string { return MockClientName }

// Model returns the mock model name.
func (c *MockClient) Model() string { return c.ModelName }

// Invoke returns the scripted response for the request.
func (c *MockClient) Invoke(ctx context.Context, req *prompts.Request) (*Result, error) {
	c.requestCount.Add(1)
	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, transportError(MockClientName, 0, ctx.Err())
		case <-time.After(c.Latency):
		}
	}

	resp := c.pick(req)
	if resp.Err != nil {
		if IsTransport(resp.Err) {
			return nil, resp.Err
		}
		return nil, transportError(MockClientName, 0, resp.Err)
	}
	return &Result{
		Content:   resp.Content,
		Provider:  MockClientName,
		ModelUsed: c.ModelName,
	}, nil
}

func (c *MockClient) pick(req *prompts.Request) MockResponse {
	if c.Handler != nil {
		return c.Handler(req)
	}
	script := c.Responses
	if s, ok := c.ByRow[req.RowIndex]; ok {
		script = s
	}
	if len(script) == 0 {
		return MockResponse{Content: "{}"}
	}
	i := req.Attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i]
}

// RequestCount returns the number of Invoke calls.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received, in arrival order.
func (c *MockClient) Requests() []prompts.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]prompts.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// RequestsForRow returns the requests received for one row.
func (c *MockClient) RequestsForRow(row int) []prompts.Request {
	var out []prompts.Request
	for _, r := range c.Requests() {
		if r.RowIndex == row {
			out = append(out, r)
		}
	}
	return out
}

// HealthCheck always succeeds.
func (c *MockClient) HealthCheck(ctx context.Context) error { return nil }

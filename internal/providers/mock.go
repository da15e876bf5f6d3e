package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	Latency      time.Duration
	ResponseText string
	FailTimes    int   // Fail the first N requests with Err
	Err          error // Defaults to a generic error when FailTimes > 0

	// Handler, when set, produces the response instead of ResponseText.
	Handler func(req *ChatRequest) (string, error)

	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []*ChatRequest
}

// NewMockClient creates a mock client that answers text.
func NewMockClient(text string) *MockClient {
	return &MockClient{ResponseText: text}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat records the request and returns the configured response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	count := c.requestCount.Add(1)
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if err := sleepCtx(ctx, c.Latency); err != nil {
		return nil, err
	}
	if int(count) <= c.FailTimes {
		if c.Err != nil {
			return nil, c.Err
		}
		return nil, fmt.Errorf("mock failure %d", count)
	}

	text := c.ResponseText
	if c.Handler != nil {
		var err error
		if text, err = c.Handler(req); err != nil {
			return nil, err
		}
	}
	return &ChatResult{
		Content:   text,
		Provider:  MockClientName,
		ModelUsed: req.Model,
		RequestID: fmt.Sprintf("mock-%d", count),
	}, nil
}

// RequestCount returns the number of Chat calls.
func (c *MockClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Requests returns the recorded requests.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// MockOCR is an OCRProvider for testing.
type MockOCR struct {
	Latency   time.Duration
	Fragments []string
	FailTimes int
	Err       error

	// Handler, when set, produces the fragments instead of Fragments.
	Handler func(image []byte) ([]string, error)

	requestCount atomic.Int64
}

// Name returns the provider identifier.
func (m *MockOCR) Name() string {
	return "mock-ocr"
}

// Recognize returns the configured fragments.
func (m *MockOCR) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	count := m.requestCount.Add(1)
	if err := sleepCtx(ctx, m.Latency); err != nil {
		return nil, err
	}
	if int(count) <= m.FailTimes {
		if m.Err != nil {
			return nil, m.Err
		}
		return nil, fmt.Errorf("mock ocr failure %d", count)
	}
	fragments := m.Fragments
	if m.Handler != nil {
		var err error
		if fragments, err = m.Handler(image); err != nil {
			return nil, err
		}
	}
	return &OCRResult{
		Text:      JoinFragments(fragments),
		Fragments: fragments,
		Provider:  m.Name(),
	}, nil
}

// RequestCount returns the number of Recognize calls.
func (m *MockOCR) RequestCount() int {
	return int(m.requestCount.Load())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ LLMClient   = (*MockClient)(nil)
	_ OCRProvider = (*MockOCR)(nil)
)

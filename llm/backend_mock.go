package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockBackend returns canned responses for local testing.
//
// Register responses with SetResponse or SetResponses, or a failure with
// SetError. Unmatched calls return a default echo response.
type MockBackend struct {
	mu        sync.Mutex
	responses []*InvokeResponse
	err       error
	callLog   []*Invocation
}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// SetResponse sets a single canned response returned for every call.
func (b *MockBackend) SetResponse(resp *InvokeResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = []*InvokeResponse{resp}
}

// SetResponses sets a sequence of responses consumed in order; the last one repeats.
func (b *MockBackend) SetResponses(responses []*InvokeResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = make([]*InvokeResponse, len(responses))
	copy(b.responses, responses)
}

// SetError makes every subsequent call fail with err.
func (b *MockBackend) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Calls returns all invocations received, for test assertions.
func (b *MockBackend) Calls() []*Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Invocation, len(b.callLog))
	copy(out, b.callLog)
	return out
}

func (b *MockBackend) Invoke(_ context.Context, inv *Invocation) (*InvokeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.callLog = append(b.callLog, inv)

	if b.err != nil {
		return nil, b.err
	}

	if len(b.responses) > 0 {
		if len(b.responses) > 1 {
			resp := b.responses[0]
			b.responses = b.responses[1:]
			return resp, nil
		}
		return b.responses[0], nil
	}

	// Default: echo the last user prompt.
	promptText := ""
	var msgs []Message
	if inv.Request != nil {
		msgs = inv.Request.Messages
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			for _, block := range msgs[i].Content {
				if block.Type == "text" && block.Text != "" {
					promptText = block.Text
					break
				}
			}
			break
		}
	}

	return &InvokeResponse{
		Content:    []ResponseContent{{Type: "text", Text: fmt.Sprintf("[mock] %s", promptText)}},
		Model:      inv.Model.ModelID,
		StopReason: "end_turn",
	}, nil
}

// InvokeStream replays the Invoke result one word at a time.
func (b *MockBackend) InvokeStream(ctx context.Context, inv *Invocation, fn StreamHandler) (*InvokeResponse, error) {
	resp, err := b.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return resp, nil
	}
	for _, word := range strings.SplitAfter(resp.Text(), " ") {
		if word == "" {
			continue
		}
		if err := fn(StreamChunk{Text: word}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (b *MockBackend) ListModels(_ context.Context) (*ListModelsResponse, error) {
	return &ListModelsResponse{Models: modelInfos(DefaultCatalog().Entries(), "mock")}, nil
}

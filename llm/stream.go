package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StreamChunk is one incremental piece of generated text.
type StreamChunk struct {
	Text string `json:"text"`
}

// StreamHandler receives chunks in arrival order. Returning an error stops
// the stream and is returned from InvokeStream.
type StreamHandler func(StreamChunk) error

// StreamingBackend is a Backend that can deliver a response incrementally.
// The returned response holds the full text and the final usage.
type StreamingBackend interface {
	Backend
	InvokeStream(ctx context.Context, inv *Invocation, fn StreamHandler) (*InvokeResponse, error)
}

// chunkDecoder reads one provider stream payload, updating resp with model,
// usage and stop reason, and returns any text it carries.
type chunkDecoder interface {
	decodeChunk(payload []byte, resp *InvokeResponse) (string, error)
}

// invocationMetrics is appended by Bedrock to the last chunk of every
// provider's stream.
type invocationMetrics struct {
	Metrics *struct {
		InputTokenCount  int64 `json:"inputTokenCount"`
		OutputTokenCount int64 `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
}

// StreamDecoder turns the raw chunk payloads of a streamed invocation into
// text deltas and an aggregated response.
type StreamDecoder struct {
	entry ModelCatalogEntry
	dec   chunkDecoder
	resp  InvokeResponse
	text  strings.Builder
}

// NewStreamDecoder returns a decoder for entry's provider.
func NewStreamDecoder(entry ModelCatalogEntry) (*StreamDecoder, error) {
	c, err := codecFor(entry.Provider)
	if err != nil {
		return nil, err
	}
	dec, ok := c.(chunkDecoder)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support streaming", entry.Provider)
	}
	return &StreamDecoder{entry: entry, dec: dec}, nil
}

// Decode consumes one chunk payload and returns its text delta, which may
// be empty for metadata-only chunks.
func (d *StreamDecoder) Decode(payload []byte) (string, error) {
	text, err := d.dec.decodeChunk(payload, &d.resp)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s stream chunk: %w", d.entry.Provider, err)
	}
	var m invocationMetrics
	if json.Unmarshal(payload, &m) == nil && m.Metrics != nil {
		if d.resp.Usage.InputTokens == 0 {
			d.resp.Usage.InputTokens = m.Metrics.InputTokenCount
		}
		if d.resp.Usage.OutputTokens == 0 {
			d.resp.Usage.OutputTokens = m.Metrics.OutputTokenCount
		}
	}
	d.text.WriteString(text)
	return text, nil
}

// Response returns the response accumulated so far.
func (d *StreamDecoder) Response() *InvokeResponse {
	resp := d.resp
	resp.Content = []ResponseContent{{Type: "text", Text: d.text.String()}}
	if resp.Model == "" {
		resp.Model = d.entry.ModelID
	}
	return &resp
}

// --- Claude ---

type claudeStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string            `json:"model"`
		Usage claudeStreamUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *claudeStreamUsage `json:"usage"`
}

type claudeStreamUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func (claudeCodec) decodeChunk(payload []byte, resp *InvokeResponse) (string, error) {
	var ev claudeStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			resp.Model = ev.Message.Model
			resp.Usage.InputTokens = ev.Message.Usage.InputTokens
			resp.Usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
			resp.Usage.CacheWriteTokens = ev.Message.Usage.CacheCreationInputTokens
		}
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, nil
		}
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			resp.StopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			resp.Usage.OutputTokens = ev.Usage.OutputTokens
		}
	}
	return "", nil
}

// --- Titan ---

type titanStreamChunk struct {
	OutputText                string  `json:"outputText"`
	InputTextTokenCount       int64   `json:"inputTextTokenCount"`
	TotalOutputTextTokenCount int64   `json:"totalOutputTextTokenCount"`
	CompletionReason          *string `json:"completionReason"`
}

func (titanCodec) decodeChunk(payload []byte, resp *InvokeResponse) (string, error) {
	var c titanStreamChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", err
	}
	if c.InputTextTokenCount > 0 {
		resp.Usage.InputTokens = c.InputTextTokenCount
	}
	if c.TotalOutputTextTokenCount > 0 {
		resp.Usage.OutputTokens = c.TotalOutputTextTokenCount
	}
	if c.CompletionReason != nil {
		resp.StopReason = *c.CompletionReason
	}
	return c.OutputText, nil
}

// --- Nova ---

type novaStreamEvent struct {
	ContentBlockDelta *struct {
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"contentBlockDelta"`
	MessageStop *struct {
		StopReason string `json:"stopReason"`
	} `json:"messageStop"`
	Metadata *struct {
		Usage struct {
			InputTokens               int64 `json:"inputTokens"`
			OutputTokens              int64 `json:"outputTokens"`
			CacheReadInputTokenCount  int64 `json:"cacheReadInputTokenCount"`
			CacheWriteInputTokenCount int64 `json:"cacheWriteInputTokenCount"`
		} `json:"usage"`
	} `json:"metadata"`
}

func (novaCodec) decodeChunk(payload []byte, resp *InvokeResponse) (string, error) {
	var ev novaStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	if ev.MessageStop != nil {
		resp.StopReason = ev.MessageStop.StopReason
	}
	if ev.Metadata != nil {
		u := ev.Metadata.Usage
		resp.Usage = UsageInfo{
			InputTokens:      u.InputTokens,
			OutputTokens:     u.OutputTokens,
			CacheReadTokens:  u.CacheReadInputTokenCount,
			CacheWriteTokens: u.CacheWriteInputTokenCount,
		}
	}
	if ev.ContentBlockDelta != nil {
		return ev.ContentBlockDelta.Delta.Text, nil
	}
	return "", nil
}

// --- Llama ---

type llamaStreamChunk struct {
	Generation           string  `json:"generation"`
	PromptTokenCount     *int64  `json:"prompt_token_count"`
	GenerationTokenCount int64   `json:"generation_token_count"`
	StopReason           *string `json:"stop_reason"`
}

func (llamaCodec) decodeChunk(payload []byte, resp *InvokeResponse) (string, error) {
	var c llamaStreamChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", err
	}
	if c.PromptTokenCount != nil {
		resp.Usage.InputTokens = *c.PromptTokenCount
	}
	// generation_token_count is cumulative.
	if c.GenerationTokenCount > resp.Usage.OutputTokens {
		resp.Usage.OutputTokens = c.GenerationTokenCount
	}
	if c.StopReason != nil {
		resp.StopReason = *c.StopReason
	}
	return c.Generation, nil
}

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamReader struct {
	events chan types.ResponseStream
	err    error
	closed bool
}

func newFakeStream(err error, payloads ...string) *fakeStreamReader {
	ch := make(chan types.ResponseStream, len(payloads)+1)
	for _, p := range payloads {
		ch <- &types.ResponseStreamMemberChunk{Value: types.PayloadPart{Bytes: []byte(p)}}
	}
	close(ch)
	return &fakeStreamReader{events: ch, err: err}
}

func (f *fakeStreamReader) Events() <-chan types.ResponseStream { return f.events }
func (f *fakeStreamReader) Close() error                        { f.closed = true; return nil }
func (f *fakeStreamReader) Err() error                          { return f.err }

type fakeStreams struct {
	inputs []*bedrockruntime.InvokeModelWithResponseStreamInput
	stream *fakeStreamReader
	err    error
}

func (f *fakeStreams) OpenResponseStream(_ context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput) (bedrockruntime.ResponseStreamReader, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

// streamingRuntime serves both runtime operations; only streaming fails.
type streamingRuntime struct {
	fakeRuntime
	streamErr error
}

func (f *streamingRuntime) InvokeModelWithResponseStream(_ context.Context, _ *bedrockruntime.InvokeModelWithResponseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, f.streamErr
}

// collect returns a handler appending chunk text to out.
func collect(out *[]string) StreamHandler {
	return func(c StreamChunk) error {
		*out = append(*out, c.Text)
		return nil
	}
}

func TestStreamDecoder(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		chunks     []string
		wantText   string
		wantStop   string
		wantUsage  UsageInfo
		wantModel  string
		wantDeltas int
	}{
		{
			name:  "claude",
			model: "Claude 3.5 Haiku",
			chunks: []string{
				`{"type":"message_start","message":{"model":"claude-3-5-haiku-20241022","usage":{"input_tokens":12,"output_tokens":1,"cache_read_input_tokens":8}}}`,
				`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
				`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
				`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
				`{"type":"content_block_stop","index":0}`,
				`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
				`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":12,"outputTokenCount":5}}`,
			},
			wantText:   "Hello world",
			wantStop:   "end_turn",
			wantUsage:  UsageInfo{InputTokens: 12, OutputTokens: 5, CacheReadTokens: 8},
			wantModel:  "claude-3-5-haiku-20241022",
			wantDeltas: 2,
		},
		{
			name:  "titan",
			model: "Titan Text Express",
			chunks: []string{
				`{"outputText":"Cells ","index":0,"totalOutputTextTokenCount":2,"completionReason":null,"inputTextTokenCount":7}`,
				`{"outputText":"divide.","index":0,"totalOutputTextTokenCount":4,"completionReason":"FINISH"}`,
			},
			wantText:   "Cells divide.",
			wantStop:   "FINISH",
			wantUsage:  UsageInfo{InputTokens: 7, OutputTokens: 4},
			wantModel:  ModelTitanTextExpress,
			wantDeltas: 2,
		},
		{
			name:  "nova",
			model: "Nova Lite",
			chunks: []string{
				`{"messageStart":{"role":"assistant"}}`,
				`{"contentBlockDelta":{"delta":{"text":"Two"},"contentBlockIndex":0}}`,
				`{"contentBlockDelta":{"delta":{"text":" parts"},"contentBlockIndex":0}}`,
				`{"contentBlockStop":{"contentBlockIndex":0}}`,
				`{"messageStop":{"stopReason":"end_turn"}}`,
				`{"metadata":{"usage":{"inputTokens":9,"outputTokens":2,"cacheReadInputTokenCount":4}}}`,
			},
			wantText:   "Two parts",
			wantStop:   "end_turn",
			wantUsage:  UsageInfo{InputTokens: 9, OutputTokens: 2, CacheReadTokens: 4},
			wantModel:  ModelNovaLite,
			wantDeltas: 2,
		},
		{
			name:  "llama",
			model: "Llama 3.2 1B",
			chunks: []string{
				`{"generation":"Yes","prompt_token_count":15,"generation_token_count":1,"stop_reason":null}`,
				`{"generation":".","prompt_token_count":null,"generation_token_count":2,"stop_reason":"stop"}`,
			},
			wantText:   "Yes.",
			wantStop:   "stop",
			wantUsage:  UsageInfo{InputTokens: 15, OutputTokens: 2},
			wantModel:  ModelLlama32_1B,
			wantDeltas: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewStreamDecoder(mustEntry(t, tt.model))
			require.NoError(t, err)

			var deltas []string
			for _, c := range tt.chunks {
				text, err := dec.Decode([]byte(c))
				require.NoError(t, err)
				if text != "" {
					deltas = append(deltas, text)
				}
			}
			assert.Len(t, deltas, tt.wantDeltas)

			resp := dec.Response()
			assert.Equal(t, tt.wantText, resp.Text())
			assert.Equal(t, tt.wantStop, resp.StopReason)
			assert.Equal(t, tt.wantUsage, resp.Usage)
			assert.Equal(t, tt.wantModel, resp.Model)
		})
	}
}

func TestStreamDecoder_InvocationMetricsFillUsage(t *testing.T) {
	dec, err := NewStreamDecoder(mustEntry(t, "Titan Text Lite"))
	require.NoError(t, err)

	_, err = dec.Decode([]byte(`{"outputText":"ok","completionReason":"FINISH",
		"amazon-bedrock-invocationMetrics":{"inputTokenCount":3,"outputTokenCount":1}}`))
	require.NoError(t, err)
	assert.Equal(t, UsageInfo{InputTokens: 3, OutputTokens: 1}, dec.Response().Usage)
}

func TestStreamDecoder_Errors(t *testing.T) {
	_, err := NewStreamDecoder(ModelCatalogEntry{ModelID: "x", Provider: Provider(99)})
	assert.Error(t, err)

	dec, err := NewStreamDecoder(mustEntry(t, "Nova Micro"))
	require.NoError(t, err)
	_, err = dec.Decode([]byte(`not json`))
	assert.ErrorContains(t, err, "nova stream chunk")
}

func TestBedrockBackend_InvokeStream(t *testing.T) {
	streams := &fakeStreams{stream: newFakeStream(nil,
		`{"type":"message_start","message":{"model":"claude","usage":{"input_tokens":3}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"po"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ng"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
	)}
	b := NewBedrockBackend(testCredentials(), WithBedrockStreams(streams))

	inv := bedrockInvocation(t, "Claude 3.5 Haiku")
	var chunks []string
	resp, err := b.InvokeStream(context.Background(), inv, collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{"po", "ng"}, chunks)
	assert.Equal(t, "pong", resp.Text())
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, UsageInfo{InputTokens: 3, OutputTokens: 1}, resp.Usage)
	assert.True(t, streams.stream.closed)

	require.Len(t, streams.inputs, 1)
	in := streams.inputs[0]
	assert.Equal(t, ModelClaude35Haiku, aws.ToString(in.ModelId))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, inv.Body, in.Body)
}

func TestBedrockBackend_InvokeStreamErrors(t *testing.T) {
	t.Run("open rejected", func(t *testing.T) {
		streams := &fakeStreams{err: &types.ThrottlingException{Message: aws.String("rate exceeded")}}
		b := NewBedrockBackend(testCredentials(), WithBedrockStreams(streams))

		_, err := b.InvokeStream(context.Background(), bedrockInvocation(t, "Claude 3.5 Haiku"), nil)
		assert.ErrorIs(t, err, ErrThrottled)
	})

	t.Run("mid-stream failure", func(t *testing.T) {
		streamErr := &types.ModelStreamErrorException{Message: aws.String("model crashed")}
		streams := &fakeStreams{stream: newFakeStream(streamErr, `{"generation":"par","stop_reason":null}`)}
		b := NewBedrockBackend(testCredentials(), WithBedrockStreams(streams))

		var chunks []string
		_, err := b.InvokeStream(context.Background(), bedrockInvocation(t, "Llama 3.2 1B"), collect(&chunks))
		require.Error(t, err)
		assert.ErrorIs(t, err, streamErr)
		assert.Equal(t, []string{"par"}, chunks)
	})

	t.Run("handler stops stream", func(t *testing.T) {
		stop := errors.New("enough")
		streams := &fakeStreams{stream: newFakeStream(nil,
			`{"outputText":"a"}`, `{"outputText":"b"}`, `{"outputText":"c"}`)}
		b := NewBedrockBackend(testCredentials(), WithBedrockStreams(streams))

		var seen []string
		_, err := b.InvokeStream(context.Background(), bedrockInvocation(t, "Titan Text Express"), func(c StreamChunk) error {
			seen = append(seen, c.Text)
			if len(seen) == 2 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, []string{"a", "b"}, seen)
		assert.True(t, streams.stream.closed)
	})

	t.Run("canceled context", func(t *testing.T) {
		blocked := &fakeStreamReader{events: make(chan types.ResponseStream)}
		b := NewBedrockBackend(testCredentials(), WithBedrockStreams(&fakeStreams{stream: blocked}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.InvokeStream(ctx, bedrockInvocation(t, "Claude 3.5 Haiku"), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("client without streaming", func(t *testing.T) {
		b := NewBedrockBackend(testCredentials(), WithBedrockClient(&fakeRuntime{}))
		_, err := b.InvokeStream(context.Background(), bedrockInvocation(t, "Claude 3.5 Haiku"), nil)
		assert.ErrorContains(t, err, "does not support response streaming")
	})

	t.Run("runtime client error is mapped", func(t *testing.T) {
		rt := &streamingRuntime{streamErr: &types.AccessDeniedException{Message: aws.String("no access")}}
		b := NewBedrockBackend(testCredentials(), WithBedrockClient(rt))
		_, err := b.InvokeStream(context.Background(), bedrockInvocation(t, "Claude 3.5 Haiku"), nil)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestMockBackend_InvokeStream(t *testing.T) {
	b := NewMockBackend()
	var chunks []string
	resp, err := b.InvokeStream(context.Background(), mockInvocation("split me up"), collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{"[mock] ", "split ", "me ", "up"}, chunks)
	assert.Equal(t, strings.Join(chunks, ""), resp.Text())
}

func TestClient_InvokeStream(t *testing.T) {
	mock := NewMockBackend()
	c := NewClient(WithBackend(mock), WithRegion("eu-west-1"))

	var chunks []string
	text, err := c.AskStream(context.Background(), "Claude 3.5 Sonnet", "Be brief.", "stream this", "", collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, "[mock] stream this", text)
	assert.Len(t, chunks, 3)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "eu.anthropic.claude-3-5-sonnet-20241022-v2:0", calls[0].Model.ModelID)
	assert.Equal(t, "Be brief.", calls[0].Request.System)
	assert.Equal(t, 1, countKey(t, calls[0].Body, "cache_control"))
}

// plainBackend hides MockBackend's streaming support.
type plainBackend struct {
	Backend
}

func TestClient_InvokeStreamFallsBackToInvoke(t *testing.T) {
	mock := NewMockBackend()
	c := NewClient(WithBackend(plainBackend{mock}))

	var chunks []string
	resp, err := c.InvokeStream(context.Background(), &InvokeRequest{
		Model:    "Nova Micro",
		Messages: []Message{UserMessage(TextBlock("one shot"))},
	}, collect(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{"[mock] one shot"}, chunks)
	assert.Equal(t, "[mock] one shot", resp.Text())
}

func TestClient_InvokeStreamUnknownModel(t *testing.T) {
	mock := NewMockBackend()
	c := NewClient(WithBackend(mock))

	_, err := c.InvokeStream(context.Background(), &InvokeRequest{Model: "GPT-7"}, nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Empty(t, mock.Calls())
}

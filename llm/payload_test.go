package llm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countKey counts occurrences of key anywhere in a JSON document.
func countKey(t *testing.T, body []byte, key string) int {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal(body, &doc))
	var walk func(v any) int
	walk = func(v any) int {
		n := 0
		switch x := v.(type) {
		case map[string]any:
			for k, child := range x {
				if k == key {
					n++
				}
				n += walk(child)
			}
		case []any:
			for _, child := range x {
				n += walk(child)
			}
		}
		return n
	}
	return walk(doc)
}

func mustEntry(t *testing.T, name string) ModelCatalogEntry {
	t.Helper()
	e, err := DefaultCatalog().Resolve(name)
	require.NoError(t, err)
	return e
}

func conversation() *InvokeRequest {
	return &InvokeRequest{
		System: "You are a careful analyst.",
		Messages: []Message{
			UserMessage(TextBlock("First question")),
			AssistantMessage(TextBlock("First answer")),
			UserMessage(TextBlock("Second question")),
		},
	}
}

func TestEncodeRequest_ClaudeCachesSystemOnly(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Claude 3.5 Haiku"), DefaultRequestConfig(), conversation())
	require.NoError(t, err)

	assert.Equal(t, 1, countKey(t, body, "cache_control"))

	var req struct {
		AnthropicVersion string `json:"anthropic_version"`
		MaxTokens        int    `json:"max_tokens"`
		System           []struct {
			Type         string            `json:"type"`
			Text         string            `json:"text"`
			CacheControl map[string]string `json:"cache_control"`
		} `json:"system"`
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req.AnthropicVersion)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	require.Len(t, req.System, 1)
	assert.Equal(t, "You are a careful analyst.", req.System[0].Text)
	assert.Equal(t, map[string]string{"type": "ephemeral"}, req.System[0].CacheControl)
	assert.Len(t, req.Messages, 3)
}

func TestEncodeRequest_ClaudeCachingDisabled(t *testing.T) {
	cfg, err := NewRequestConfig(0.3, 1000, false)
	require.NoError(t, err)

	body, err := EncodeRequest(mustEntry(t, "Claude 3 Haiku"), cfg, conversation())
	require.NoError(t, err)
	assert.Zero(t, countKey(t, body, "cache_control"))
	assert.Equal(t, 1, countKey(t, body, "system"))
}

func TestEncodeRequest_ClaudeNoSystem(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Claude 3 Haiku"), DefaultRequestConfig(), &InvokeRequest{
		Messages: []Message{UserMessage(TextBlock("hi"))},
	})
	require.NoError(t, err)
	assert.Zero(t, countKey(t, body, "cache_control"))
	assert.Zero(t, countKey(t, body, "system"))
}

func TestEncodeRequest_ZeroConfigUsesDefault(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Claude 3 Haiku"), RequestConfig{}, conversation())
	require.NoError(t, err)

	var req claudeRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, 1, countKey(t, body, "cache_control"))
}

func TestEncodeRequest_Titan(t *testing.T) {
	cfg, err := NewRequestConfig(0.1, 300, true)
	require.NoError(t, err)

	body, err := EncodeRequest(mustEntry(t, "Titan Text Express"), cfg, conversation())
	require.NoError(t, err)
	assert.Zero(t, countKey(t, body, "cache_control"))

	var req titanRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, 300, req.TextGenerationConfig.MaxTokenCount)
	assert.Equal(t, 0.1, req.TextGenerationConfig.Temperature)
	assert.Equal(t,
		"You are a careful analyst.\n\nUser: First question\nBot: First answer\nUser: Second question\nBot:",
		req.InputText)
}

func TestEncodeRequest_TitanSinglePrompt(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Titan Text Lite"), DefaultRequestConfig(), &InvokeRequest{
		Messages: []Message{UserMessage(TextBlock("Write a haiku"))},
	})
	require.NoError(t, err)

	var req titanRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "Write a haiku", req.InputText)
}

func TestEncodeRequest_NovaCachePoint(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Nova Pro"), DefaultRequestConfig(), conversation())
	require.NoError(t, err)

	var req struct {
		SchemaVersion string           `json:"schemaVersion"`
		System        []map[string]any `json:"system"`
		Messages      []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
		InferenceConfig novaInferenceConfig `json:"inferenceConfig"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "messages-v1", req.SchemaVersion)
	require.Len(t, req.System, 2)
	assert.Equal(t, "You are a careful analyst.", req.System[0]["text"])
	assert.Contains(t, req.System[1], "cachePoint")
	assert.Equal(t, 1, countKey(t, body, "cachePoint"))
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "Second question", req.Messages[2].Content[0]["text"])
	assert.Equal(t, DefaultMaxTokens, req.InferenceConfig.MaxTokens)
}

func TestEncodeRequest_NovaCachingDisabled(t *testing.T) {
	cfg, err := NewRequestConfig(0, 50, false)
	require.NoError(t, err)

	body, err := EncodeRequest(mustEntry(t, "Nova Micro"), cfg, conversation())
	require.NoError(t, err)
	assert.Zero(t, countKey(t, body, "cachePoint"))
}

func TestEncodeRequest_NovaDocument(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Nova Lite"), DefaultRequestConfig(), &InvokeRequest{
		Messages: []Message{UserMessage(DocumentBlock("", "pdf", "cGRm"))},
	})
	require.NoError(t, err)

	var req novaRequest
	require.NoError(t, json.Unmarshal(body, &req))
	doc := req.Messages[0].Content[0]["document"].(map[string]any)
	assert.Equal(t, "document", doc["name"])
	assert.Equal(t, "pdf", doc["format"])
}

func TestEncodeRequest_NovaDocumentName(t *testing.T) {
	tests := map[string]string{
		"my_data.v2":         "my-data-v2",
		"Q3 report (final)":  "Q3 report (final)",
		"two   spaces":       "two spaces",
		"[draft] notes-2024": "[draft] notes-2024",
		"___":                "---",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			body, err := EncodeRequest(mustEntry(t, "Nova Lite"), DefaultRequestConfig(), &InvokeRequest{
				Messages: []Message{UserMessage(DocumentBlock(name, "csv", "YSxiCjEsMg=="))},
			})
			require.NoError(t, err)

			var req novaRequest
			require.NoError(t, json.Unmarshal(body, &req))
			doc := req.Messages[0].Content[0]["document"].(map[string]any)
			assert.Equal(t, want, doc["name"])
			assert.Equal(t, "csv", doc["format"])
		})
	}
}

func TestEncodeRequest_NovaJSONDocumentInlined(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Nova Lite"), DefaultRequestConfig(), &InvokeRequest{
		Messages: []Message{UserMessage(DocumentBlock("data", "json", "eyJhIjoxfQ=="))},
	})
	require.NoError(t, err)

	var req novaRequest
	require.NoError(t, json.Unmarshal(body, &req))
	block := req.Messages[0].Content[0]
	assert.NotContains(t, block, "document")
	assert.Equal(t, "[data]\n{\"a\":1}", block["text"])
}

func TestEncodeRequest_ClaudeTextFileInlined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,value\n1,42\n"), 0o644))

	for _, model := range []string{"Claude 3.5 Haiku", "Claude 3 Haiku"} {
		t.Run(model, func(t *testing.T) {
			body, err := EncodeRequest(mustEntry(t, model), DefaultRequestConfig(), &InvokeRequest{
				Messages: []Message{UserMessage(TextBlock("Summarize"), FileBlock(path))},
			})
			require.NoError(t, err)

			var req claudeRequest
			require.NoError(t, json.Unmarshal(body, &req))
			blocks := req.Messages[0]["content"].([]any)
			require.Len(t, blocks, 2)
			file := blocks[1].(map[string]any)
			assert.Equal(t, "text", file["type"])
			assert.Equal(t, "[samples]\nid,value\n1,42\n", file["text"])
			assert.NotContains(t, string(body), "text/csv")
		})
	}
}

func TestEncodeRequest_ClaudeDocumentMediaTypes(t *testing.T) {
	tests := []struct {
		format   string
		wantType string
	}{
		{"pdf", "document"},
		{"txt", "text"},
		{"md", "text"},
		{"html", "text"},
		{"json", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			block := convertContentBlock(DocumentBlock("doc", tt.format, "aGVsbG8="))
			assert.Equal(t, tt.wantType, block["type"])
			if tt.wantType == "text" {
				assert.Equal(t, "[doc]\nhello", block["text"])
			}
		})
	}
}

func TestEncodeRequest_Llama(t *testing.T) {
	body, err := EncodeRequest(mustEntry(t, "Llama 3.2 3B"), DefaultRequestConfig(), conversation())
	require.NoError(t, err)
	assert.Zero(t, countKey(t, body, "cache_control"))

	var req llamaRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, DefaultMaxTokens, req.MaxGenLen)
	assert.Equal(t, "<|begin_of_text|>"+
		"<|start_header_id|>system<|end_header_id|>\n\nYou are a careful analyst.<|eot_id|>"+
		"<|start_header_id|>user<|end_header_id|>\n\nFirst question<|eot_id|>"+
		"<|start_header_id|>assistant<|end_header_id|>\n\nFirst answer<|eot_id|>"+
		"<|start_header_id|>user<|end_header_id|>\n\nSecond question<|eot_id|>"+
		"<|start_header_id|>assistant<|end_header_id|>\n\n", req.Prompt)
}

func TestEncodeRequest_UnknownProvider(t *testing.T) {
	_, err := EncodeRequest(ModelCatalogEntry{ModelID: "x", Provider: Provider(99)}, DefaultRequestConfig(), conversation())
	assert.Error(t, err)
}

func TestBlockText_BinaryDocument(t *testing.T) {
	assert.Equal(t, "[Unsupported content block: document]", blockText(DocumentBlock("scan", "pdf", "cGRm")))
	assert.Equal(t, "[Unsupported content block: image]", blockText(ImageBlock("png", "aW1n")))
	assert.Equal(t, "[doc]\nhello", blockText(DocumentBlock("doc", "txt", "aGVsbG8=")))
	assert.Equal(t, "[cfg]\n{}", blockText(DocumentBlock("cfg", "json", "e30=")))
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		body      string
		wantText  string
		wantStop  string
		wantUsage UsageInfo
		wantModel string
	}{
		{
			name:  "claude",
			model: "Claude 3.5 Haiku",
			body: `{"content":[{"type":"text","text":"Hi there"}],"model":"claude-3-5-haiku","stop_reason":"end_turn",
				"usage":{"input_tokens":10,"output_tokens":3,"cache_read_input_tokens":7,"cache_creation_input_tokens":2}}`,
			wantText:  "Hi there",
			wantStop:  "end_turn",
			wantUsage: UsageInfo{InputTokens: 10, OutputTokens: 3, CacheReadTokens: 7, CacheWriteTokens: 2},
			wantModel: "claude-3-5-haiku",
		},
		{
			name:      "titan",
			model:     "Titan Text Express",
			body:      `{"inputTextTokenCount":5,"results":[{"tokenCount":4,"outputText":"Hello","completionReason":"FINISH"}]}`,
			wantText:  "Hello",
			wantStop:  "FINISH",
			wantUsage: UsageInfo{InputTokens: 5, OutputTokens: 4},
			wantModel: ModelTitanTextExpress,
		},
		{
			name:  "nova",
			model: "Nova Pro",
			body: `{"output":{"message":{"role":"assistant","content":[{"text":"Bonjour"}]}},"stopReason":"end_turn",
				"usage":{"inputTokens":8,"outputTokens":2,"cacheReadInputTokenCount":6}}`,
			wantText:  "Bonjour",
			wantStop:  "end_turn",
			wantUsage: UsageInfo{InputTokens: 8, OutputTokens: 2, CacheReadTokens: 6},
			wantModel: ModelNovaPro,
		},
		{
			name:      "llama",
			model:     "Llama 3.2 1B",
			body:      `{"generation":"Howdy","prompt_token_count":12,"generation_token_count":1,"stop_reason":"stop"}`,
			wantText:  "Howdy",
			wantStop:  "stop",
			wantUsage: UsageInfo{InputTokens: 12, OutputTokens: 1},
			wantModel: ModelLlama32_1B,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(mustEntry(t, tt.model), []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text())
			assert.Equal(t, tt.wantStop, resp.StopReason)
			assert.Equal(t, tt.wantUsage, resp.Usage)
			assert.Equal(t, tt.wantModel, resp.Model)
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	_, err := DecodeResponse(mustEntry(t, "Nova Pro"), []byte("not json"))
	assert.Error(t, err)
}

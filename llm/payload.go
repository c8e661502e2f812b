package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// docMediaTypes maps file extensions to MIME types.
var docMediaTypes = map[string]string{
	"pdf":  "application/pdf",
	"csv":  "text/csv",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"html": "text/html",
	"json": "application/json",
}

func docMediaType(ext string) string {
	if mt, ok := docMediaTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// documentMediaType returns the block's media type, derived from its format
// when unset.
func documentMediaType(block ContentBlock) string {
	if block.MediaType != "" {
		return block.MediaType
	}
	return docMediaType(block.Format)
}

func isTextMediaType(mt string) bool {
	return strings.HasPrefix(mt, "text/") || mt == "application/json"
}

// codec shapes requests and responses for one model family.
type codec interface {
	encode(req *InvokeRequest, cfg RequestConfig) ([]byte, error)
	decode(body []byte) (*InvokeResponse, error)
}

func codecFor(p Provider) (codec, error) {
	switch p {
	case ProviderTitan:
		return titanCodec{}, nil
	case ProviderClaude:
		return claudeCodec{}, nil
	case ProviderNova:
		return novaCodec{}, nil
	case ProviderLlama:
		return llamaCodec{}, nil
	}
	return nil, fmt.Errorf("no request codec for provider %s", p)
}

// EncodeRequest builds the InvokeModel body for entry's provider. When
// caching is enabled and the provider supports it, only the system content
// is marked cacheable.
func EncodeRequest(entry ModelCatalogEntry, cfg RequestConfig, req *InvokeRequest) ([]byte, error) {
	c, err := codecFor(entry.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.IsZero() {
		cfg = DefaultRequestConfig()
	}
	body, err := c.encode(req, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", entry.Provider, err)
	}
	return body, nil
}

// DecodeResponse normalizes an InvokeModel response body.
func DecodeResponse(entry ModelCatalogEntry, body []byte) (*InvokeResponse, error) {
	c, err := codecFor(entry.Provider)
	if err != nil {
		return nil, err
	}
	resp, err := c.decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", entry.Provider, err)
	}
	if resp.Model == "" {
		resp.Model = entry.ModelID
	}
	return resp, nil
}

// --- Claude (Anthropic Messages on Bedrock) ---

type cacheControl struct {
	Type string `json:"type"`
}

var ephemeralCache = &cacheControl{Type: "ephemeral"}

type claudeSystemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type claudeRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	Temperature      float64                  `json:"temperature"`
	System           []claudeSystemBlock      `json:"system,omitempty"`
	Messages         []map[string]interface{} `json:"messages"`
}

type claudeResponse struct {
	Content    []claudeContentBlock `json:"content"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Usage      struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeCodec struct{}

func (claudeCodec) encode(req *InvokeRequest, cfg RequestConfig) ([]byte, error) {
	apiReq := claudeRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        cfg.MaxTokens(),
		Temperature:      cfg.Temperature(),
		Messages:         convertMessages(req.Messages),
	}
	if req.System != "" {
		block := claudeSystemBlock{Type: "text", Text: req.System}
		if cfg.EnableCaching() {
			block.CacheControl = ephemeralCache
		}
		apiReq.System = []claudeSystemBlock{block}
	}
	return json.Marshal(apiReq)
}

func (claudeCodec) decode(body []byte) (*InvokeResponse, error) {
	var apiResp claudeResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, err
	}
	content := make([]ResponseContent, 0, len(apiResp.Content))
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content = append(content, ResponseContent{Type: "text", Text: block.Text})
		}
	}
	return &InvokeResponse{
		Content: content,
		Model:   apiResp.Model,
		Usage: UsageInfo{
			InputTokens:      apiResp.Usage.InputTokens,
			OutputTokens:     apiResp.Usage.OutputTokens,
			CacheReadTokens:  apiResp.Usage.CacheReadInputTokens,
			CacheWriteTokens: apiResp.Usage.CacheCreationInputTokens,
		},
		StopReason: apiResp.StopReason,
	}, nil
}

// convertMessages converts SDK messages to Anthropic Messages format.
func convertMessages(messages []Message) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]interface{}, 0, len(msg.Content))
		for _, block := range msg.Content {
			blocks = append(blocks, convertContentBlock(block))
		}
		result = append(result, map[string]interface{}{
			"role":    msg.Role,
			"content": blocks,
		})
	}
	return result
}

func convertContentBlock(block ContentBlock) map[string]interface{} {
	switch block.Type {
	case "text":
		return map[string]interface{}{
			"type": "text",
			"text": block.Text,
		}
	case "image":
		mediaType := block.MediaType
		if mediaType == "" && block.Format != "" {
			mediaType = "image/" + block.Format
		}
		return map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": mediaType,
				"data":       block.Data,
			},
		}
	case "document":
		// Base64 document sources accept PDF only; text formats are inlined.
		mediaType := documentMediaType(block)
		if mediaType != "application/pdf" {
			return map[string]interface{}{
				"type": "text",
				"text": blockText(block),
			}
		}
		return map[string]interface{}{
			"type": "document",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": mediaType,
				"data":       block.Data,
			},
		}
	case "file":
		doc, ok := readFileBlock(block)
		if !ok {
			return map[string]interface{}{
				"type": "text",
				"text": fileUnavailable(block.Path),
			}
		}
		return convertContentBlock(doc)
	default:
		return map[string]interface{}{
			"type": "text",
			"text": unsupportedBlock(block),
		}
	}
}

// readFileBlock loads a "file" block into an inline "document" block.
func readFileBlock(block ContentBlock) (ContentBlock, bool) {
	if block.Path == "" {
		return ContentBlock{}, false
	}
	data, err := os.ReadFile(block.Path)
	if err != nil {
		return ContentBlock{}, false
	}
	ext := block.Format
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(block.Path), ".")
	}
	return ContentBlock{
		Type:      "document",
		Name:      strings.TrimSuffix(filepath.Base(block.Path), filepath.Ext(block.Path)),
		Format:    ext,
		MediaType: docMediaType(ext),
		Data:      base64.StdEncoding.EncodeToString(data),
	}, true
}

func fileUnavailable(path string) string {
	if path == "" {
		return "[File not available locally: empty path]"
	}
	return fmt.Sprintf("[File not available locally: %s]", path)
}

func unsupportedBlock(block ContentBlock) string {
	return fmt.Sprintf("[Unsupported content block: %s]", block.Type)
}

// blockText renders a block for text-only model families. Text documents
// are inlined; binary content becomes a placeholder.
func blockText(block ContentBlock) string {
	switch block.Type {
	case "text":
		return block.Text
	case "file":
		doc, ok := readFileBlock(block)
		if !ok {
			return fileUnavailable(block.Path)
		}
		return blockText(doc)
	case "document":
		if !isTextMediaType(documentMediaType(block)) {
			return unsupportedBlock(block)
		}
		data, err := base64.StdEncoding.DecodeString(block.Data)
		if err != nil {
			return unsupportedBlock(block)
		}
		if block.Name != "" {
			return fmt.Sprintf("[%s]\n%s", block.Name, data)
		}
		return string(data)
	default:
		return unsupportedBlock(block)
	}
}

func messageText(msg Message) string {
	parts := make([]string, 0, len(msg.Content))
	for _, block := range msg.Content {
		parts = append(parts, blockText(block))
	}
	return strings.Join(parts, "\n")
}

// --- Titan text generation ---

type titanRequest struct {
	InputText            string               `json:"inputText"`
	TextGenerationConfig titanGenerationConfig `json:"textGenerationConfig"`
}

type titanGenerationConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
}

type titanResponse struct {
	InputTextTokenCount int64 `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int64  `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

type titanCodec struct{}

func (titanCodec) encode(req *InvokeRequest, cfg RequestConfig) ([]byte, error) {
	return json.Marshal(titanRequest{
		InputText: titanPrompt(req),
		TextGenerationConfig: titanGenerationConfig{
			MaxTokenCount: cfg.MaxTokens(),
			Temperature:   cfg.Temperature(),
		},
	})
}

// titanPrompt flattens the conversation. A lone user turn is sent verbatim.
func titanPrompt(req *InvokeRequest) string {
	if req.System == "" && len(req.Messages) == 1 && req.Messages[0].Role == "user" {
		return messageText(req.Messages[0])
	}
	var sb strings.Builder
	if req.System != "" {
		sb.WriteString(req.System)
		sb.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		if msg.Role == "assistant" {
			sb.WriteString("Bot: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(messageText(msg))
		sb.WriteString("\n")
	}
	sb.WriteString("Bot:")
	return sb.String()
}

func (titanCodec) decode(body []byte) (*InvokeResponse, error) {
	var apiResp titanResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, err
	}
	resp := &InvokeResponse{Usage: UsageInfo{InputTokens: apiResp.InputTextTokenCount}}
	for _, r := range apiResp.Results {
		resp.Content = append(resp.Content, ResponseContent{Type: "text", Text: r.OutputText})
		resp.Usage.OutputTokens += r.TokenCount
		resp.StopReason = r.CompletionReason
	}
	return resp, nil
}

// --- Nova (messages-v1) ---

type novaRequest struct {
	SchemaVersion   string                   `json:"schemaVersion"`
	System          []map[string]interface{} `json:"system,omitempty"`
	Messages        []novaMessage            `json:"messages"`
	InferenceConfig novaInferenceConfig      `json:"inferenceConfig"`
}

type novaMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type novaInferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type novaResponse struct {
	Output struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens               int64 `json:"inputTokens"`
		OutputTokens              int64 `json:"outputTokens"`
		CacheReadInputTokenCount  int64 `json:"cacheReadInputTokenCount"`
		CacheWriteInputTokenCount int64 `json:"cacheWriteInputTokenCount"`
	} `json:"usage"`
}

type novaCodec struct{}

func (novaCodec) encode(req *InvokeRequest, cfg RequestConfig) ([]byte, error) {
	apiReq := novaRequest{
		SchemaVersion: "messages-v1",
		Messages:      make([]novaMessage, 0, len(req.Messages)),
		InferenceConfig: novaInferenceConfig{
			MaxTokens:   cfg.MaxTokens(),
			Temperature: cfg.Temperature(),
		},
	}
	if req.System != "" {
		apiReq.System = []map[string]interface{}{{"text": req.System}}
		if cfg.EnableCaching() {
			// A cache point covers everything before it, i.e. the system text.
			apiReq.System = append(apiReq.System, map[string]interface{}{
				"cachePoint": map[string]interface{}{"type": "default"},
			})
		}
	}
	for _, msg := range req.Messages {
		blocks := make([]map[string]interface{}, 0, len(msg.Content))
		for _, block := range msg.Content {
			blocks = append(blocks, novaContentBlock(block))
		}
		apiReq.Messages = append(apiReq.Messages, novaMessage{Role: msg.Role, Content: blocks})
	}
	return json.Marshal(apiReq)
}

func novaContentBlock(block ContentBlock) map[string]interface{} {
	switch block.Type {
	case "image":
		return map[string]interface{}{
			"image": map[string]interface{}{
				"format": block.Format,
				"source": map[string]interface{}{"bytes": block.Data},
			},
		}
	case "document":
		format := strings.ToLower(block.Format)
		if !novaDocFormats[format] {
			return map[string]interface{}{"text": blockText(block)}
		}
		return map[string]interface{}{
			"document": map[string]interface{}{
				"format": format,
				"name":   novaDocumentName(block.Name),
				"source": map[string]interface{}{"bytes": block.Data},
			},
		}
	case "file":
		doc, ok := readFileBlock(block)
		if !ok {
			return map[string]interface{}{"text": fileUnavailable(block.Path)}
		}
		return novaContentBlock(doc)
	default:
		return map[string]interface{}{"text": blockText(block)}
	}
}

// novaDocFormats are the document formats Nova accepts inline.
var novaDocFormats = map[string]bool{
	"pdf": true, "csv": true, "doc": true, "docx": true, "xls": true,
	"xlsx": true, "html": true, "txt": true, "md": true,
}

// novaDocumentName keeps only the characters Nova allows in a document
// name: letters, digits, single spaces, hyphens, parentheses and brackets.
func novaDocumentName(name string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-()[]", r):
			sb.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				sb.WriteRune(' ')
			}
			space = true
		default:
			sb.WriteRune('-')
			space = false
		}
	}
	if sb.Len() == 0 {
		return "document"
	}
	return sb.String()
}

func (novaCodec) decode(body []byte) (*InvokeResponse, error) {
	var apiResp novaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, err
	}
	resp := &InvokeResponse{
		StopReason: apiResp.StopReason,
		Usage: UsageInfo{
			InputTokens:      apiResp.Usage.InputTokens,
			OutputTokens:     apiResp.Usage.OutputTokens,
			CacheReadTokens:  apiResp.Usage.CacheReadInputTokenCount,
			CacheWriteTokens: apiResp.Usage.CacheWriteInputTokenCount,
		},
	}
	for _, c := range apiResp.Output.Message.Content {
		if c.Text != "" {
			resp.Content = append(resp.Content, ResponseContent{Type: "text", Text: c.Text})
		}
	}
	return resp, nil
}

// --- Llama 3 ---

type llamaRequest struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int64  `json:"prompt_token_count"`
	GenerationTokenCount int64  `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

type llamaCodec struct{}

func (llamaCodec) encode(req *InvokeRequest, cfg RequestConfig) ([]byte, error) {
	return json.Marshal(llamaRequest{
		Prompt:      llamaPrompt(req),
		MaxGenLen:   cfg.MaxTokens(),
		Temperature: cfg.Temperature(),
	})
}

// llamaPrompt renders the Llama 3 chat template.
func llamaPrompt(req *InvokeRequest) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	turn := func(role, text string) {
		sb.WriteString("<|start_header_id|>")
		sb.WriteString(role)
		sb.WriteString("<|end_header_id|>\n\n")
		sb.WriteString(text)
		sb.WriteString("<|eot_id|>")
	}
	if req.System != "" {
		turn("system", req.System)
	}
	for _, msg := range req.Messages {
		turn(msg.Role, messageText(msg))
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

func (llamaCodec) decode(body []byte) (*InvokeResponse, error) {
	var apiResp llamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, err
	}
	return &InvokeResponse{
		Content:    []ResponseContent{{Type: "text", Text: apiResp.Generation}},
		StopReason: apiResp.StopReason,
		Usage: UsageInfo{
			InputTokens:  apiResp.PromptTokenCount,
			OutputTokens: apiResp.GenerationTokenCount,
		},
	}, nil
}

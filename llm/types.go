package llm

// InvokeRequest is the request payload for a model invocation.
type InvokeRequest struct {
	// Model is a friendly name, alias or Bedrock model ID.
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	// System holds the stable prompt content. It is the only part of the
	// payload marked cacheable.
	System string `json:"system,omitempty"`

	// Config overrides the client's default request configuration.
	Config *RequestConfig `json:"config,omitempty"`

	RunID string `json:"runId,omitempty"`
}

// Message represents a conversation message with one or more content blocks.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock represents a single content block within a message.
type ContentBlock struct {
	// Type is the block type: "text", "file", "image", or "document".
	Type string `json:"type"`

	// Text content (for type "text").
	Text string `json:"text,omitempty"`

	// Local file path (for type "file"), read when the payload is built.
	Path string `json:"path,omitempty"`

	// Format hint (for type "file", "image", "document").
	Format string `json:"format,omitempty"`

	// Base64-encoded data (for type "image" or "document").
	Data string `json:"data,omitempty"`

	// Media type (for type "image" or "document").
	MediaType string `json:"mediaType,omitempty"`

	// Document name (for type "document").
	Name string `json:"name,omitempty"`
}

// Invocation is a fully resolved call handed to a Backend.
type Invocation struct {
	Model   ModelCatalogEntry
	Config  RequestConfig
	Request *InvokeRequest

	// Body is the provider-shaped JSON payload.
	Body []byte

	RunID string
}

// InvokeResponse is the response from a successful invocation.
type InvokeResponse struct {
	Content    []ResponseContent `json:"content"`
	Model      string            `json:"model"`
	Usage      UsageInfo         `json:"usage"`
	StopReason string            `json:"stopReason,omitempty"`
}

// ResponseContent represents a content block in the model's response.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UsageInfo holds token usage information.
type UsageInfo struct {
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheReadTokens  int64 `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int64 `json:"cacheWriteTokens,omitempty"`
}

// ModelInfo represents a model in the list-models response.
type ModelInfo struct {
	FriendlyName             string `json:"friendlyName"`
	ModelID                  string `json:"modelId"`
	Provider                 string `json:"provider"`
	RequiresInferenceProfile bool   `json:"requiresInferenceProfile"`
	Status                   string `json:"status"`
}

// ListModelsResponse is the response from a list-models action.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ErrorResponse is returned by the invocation proxy on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// Text returns the concatenated text content from the response.
func (r *InvokeResponse) Text() string {
	var text string
	for _, c := range r.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text
}

func modelInfos(entries []ModelCatalogEntry, status string) []ModelInfo {
	out := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ModelInfo{
			FriendlyName:             e.FriendlyName,
			ModelID:                  e.ModelID,
			Provider:                 e.Provider.String(),
			RequiresInferenceProfile: e.RequiresInferenceProfile,
			Status:                   status,
		})
	}
	return out
}

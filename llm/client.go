package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Client resolves friendly model names, shapes requests for the model
// family and dispatches them to a Backend.
type Client struct {
	functionName string
	runID        string
	region       string
	credentials  *Credentials
	lambdaClient LambdaAPI
	bedrockOpts  []BedrockOption
	catalog      *Catalog
	config       RequestConfig
	logger       *slog.Logger
	backend      Backend
}

// ClientOption configures a Client instance.
type ClientOption func(*Client)

// WithFunctionName routes invocations through a proxy Lambda function.
// By default, it is read from the LLM_PROXY_FUNCTION env var.
func WithFunctionName(name string) ClientOption {
	return func(c *Client) {
		c.functionName = name
	}
}

// WithRunID sets a default run ID for all requests.
// Can be overridden per-request via InvokeRequest.RunID.
func WithRunID(id string) ClientOption {
	return func(c *Client) {
		c.runID = id
	}
}

// WithCredentials passes resolved credentials to the backend explicitly.
func WithCredentials(creds *Credentials) ClientOption {
	return func(c *Client) {
		c.credentials = creds
	}
}

// WithRegion sets the region used to pick inference-profile prefixes.
// Defaults to the credentials' region.
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		c.region = region
	}
}

// WithLambdaClient provides a custom Lambda client (useful for testing).
func WithLambdaClient(client LambdaAPI) ClientOption {
	return func(c *Client) {
		c.lambdaClient = client
	}
}

// WithBedrockOptions configures the Bedrock backend when it is selected.
func WithBedrockOptions(opts ...BedrockOption) ClientOption {
	return func(c *Client) {
		c.bedrockOpts = append(c.bedrockOpts, opts...)
	}
}

// WithCatalog replaces the default model catalog.
func WithCatalog(catalog *Catalog) ClientOption {
	return func(c *Client) {
		c.catalog = catalog
	}
}

// WithRequestConfig sets the default request configuration.
func WithRequestConfig(cfg RequestConfig) ClientOption {
	return func(c *Client) {
		c.config = cfg
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBackend provides an explicit backend, overriding automatic selection.
func WithBackend(b Backend) ClientOption {
	return func(c *Client) {
		c.backend = b
	}
}

// NewClient creates a new Client.
//
// Backend is selected automatically:
//   - If a backend is provided via WithBackend, it is used directly.
//   - If LLM_PROXY_FUNCTION is set (or WithFunctionName is used), a LambdaBackend is used.
//   - If credentials are provided via WithCredentials, a BedrockBackend is used.
//   - Otherwise, a MockBackend is used for testing.
//
// AWS clients are created lazily on first use if not provided.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		functionName: os.Getenv("LLM_PROXY_FUNCTION"),
		runID:        os.Getenv("EXECUTION_RUN_ID"),
		catalog:      DefaultCatalog(),
		config:       DefaultRequestConfig(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	if c.region == "" && c.credentials != nil {
		c.region = c.credentials.Region
	}

	if c.backend == nil {
		switch {
		case c.functionName != "":
			c.backend = NewLambdaBackend(c.functionName, c.lambdaClient, c.credentials)
		case c.credentials != nil:
			bedrockOpts := append([]BedrockOption{WithBedrockCatalog(c.catalog)}, c.bedrockOpts...)
			c.backend = NewBedrockBackend(c.credentials, bedrockOpts...)
		default:
			c.backend = NewMockBackend()
		}
	}

	return c
}

// Available returns true if the client is configured with a real backend
// (Lambda or Bedrock). Returns false for the mock backend.
func (c *Client) Available() bool {
	_, isMock := c.backend.(*MockBackend)
	return !isMock
}

// Backend returns the active backend instance.
func (c *Client) Backend() Backend {
	return c.backend
}

// Catalog returns the model catalog in use.
func (c *Client) Catalog() *Catalog {
	return c.catalog
}

// RunID returns the default run ID attached to requests.
func (c *Client) RunID() string {
	return c.runID
}

// Resolve maps a friendly name, alias or model ID to a catalog entry for the
// client's region.
func (c *Client) Resolve(name string) (ModelCatalogEntry, error) {
	return c.catalog.ResolveForRegion(name, c.region)
}

// prepare resolves the model and builds the provider payload for req.
func (c *Client) prepare(req *InvokeRequest) (*Invocation, *slog.Logger, error) {
	entry, err := c.Resolve(req.Model)
	if err != nil {
		return nil, nil, err
	}

	cfg := c.config
	if req.Config != nil {
		cfg = *req.Config
	}
	body, err := EncodeRequest(entry, cfg, req)
	if err != nil {
		return nil, nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = c.runID
	}

	log := c.logger.With(
		"model", entry.FriendlyName,
		"modelId", entry.ModelID,
		"provider", entry.Provider.String(),
		"runId", runID,
	)
	log.Debug("invoking model",
		"caching", cfg.EnableCaching() && entry.Provider.SupportsCaching(),
		"maxTokens", cfg.MaxTokens())

	return &Invocation{
		Model:   entry,
		Config:  cfg,
		Request: req,
		Body:    body,
		RunID:   runID,
	}, log, nil
}

func logUsage(log *slog.Logger, resp *InvokeResponse) {
	log.Debug("model invocation complete",
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"cacheReadTokens", resp.Usage.CacheReadTokens)
}

// Invoke sends messages to a model and returns the response.
func (c *Client) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	inv, log, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.backend.Invoke(ctx, inv)
	if err != nil {
		log.Warn("model invocation failed", "error", err)
		return nil, err
	}
	logUsage(log, resp)
	return resp, nil
}

// InvokeStream is like Invoke but hands text to fn as it is generated. A
// backend without streaming support delivers the whole text as one chunk.
// The returned response holds the complete text and usage.
func (c *Client) InvokeStream(ctx context.Context, req *InvokeRequest, fn StreamHandler) (*InvokeResponse, error) {
	inv, log, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	var resp *InvokeResponse
	if sb, ok := c.backend.(StreamingBackend); ok {
		resp, err = sb.InvokeStream(ctx, inv, fn)
	} else {
		log.Debug("backend does not stream, delivering one chunk")
		resp, err = c.backend.Invoke(ctx, inv)
		if err == nil && fn != nil {
			err = fn(StreamChunk{Text: resp.Text()})
		}
	}
	if err != nil {
		log.Warn("model stream failed", "error", err)
		return nil, err
	}
	logUsage(log, resp)
	return resp, nil
}

// Ask is a convenience method for simple text-in, text-out interactions.
func (c *Client) Ask(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.Invoke(ctx, &InvokeRequest{
		Model:    model,
		Messages: []Message{UserMessage(TextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// AskWithSystem is like Ask but includes a system prompt, which is the
// cacheable part of the request.
func (c *Client) AskWithSystem(ctx context.Context, model, system, prompt string) (string, error) {
	resp, err := c.Invoke(ctx, &InvokeRequest{
		Model:    model,
		System:   system,
		Messages: []Message{UserMessage(TextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// AskAboutFile sends a text prompt along with a local file to the model.
func (c *Client) AskAboutFile(ctx context.Context, model, prompt, filePath string) (string, error) {
	resp, err := c.Invoke(ctx, &InvokeRequest{
		Model: model,
		Messages: []Message{
			UserMessage(TextBlock(prompt), FileBlock(filePath)),
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// AskStream streams the answer to a prompt, with an optional system prompt
// and local file, and returns the complete text.
func (c *Client) AskStream(ctx context.Context, model, system, prompt, filePath string, fn StreamHandler) (string, error) {
	blocks := []ContentBlock{TextBlock(prompt)}
	if filePath != "" {
		blocks = append(blocks, FileBlock(filePath))
	}
	resp, err := c.InvokeStream(ctx, &InvokeRequest{
		Model:    model,
		System:   system,
		Messages: []Message{UserMessage(blocks...)},
	}, fn)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ListModels returns the available models and their status.
func (c *Client) ListModels(ctx context.Context) (*ListModelsResponse, error) {
	return c.backend.ListModels(ctx)
}

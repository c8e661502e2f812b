package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// InvokeModelStreamAPI is the streaming subset of the Bedrock runtime client.
type InvokeModelStreamAPI interface {
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// ResponseStreamAPI opens a response event stream. The SDK output cannot be
// constructed with a stream outside the SDK, so tests substitute this layer.
type ResponseStreamAPI interface {
	OpenResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput) (bedrockruntime.ResponseStreamReader, error)
}

type runtimeStreams struct {
	client InvokeModelStreamAPI
}

func (r runtimeStreams) OpenResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput) (bedrockruntime.ResponseStreamReader, error) {
	out, err := r.client.InvokeModelWithResponseStream(ctx, params)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// BedrockBackend invokes foundation models directly through Bedrock runtime.
type BedrockBackend struct {
	credentials *Credentials
	catalog     *Catalog
	limiter     *rate.Limiter

	mu      sync.Mutex
	client  InvokeModelAPI
	streams ResponseStreamAPI
}

// BedrockOption configures a BedrockBackend.
type BedrockOption func(*BedrockBackend)

// WithBedrockClient provides a custom runtime client (useful for testing).
func WithBedrockClient(client InvokeModelAPI) BedrockOption {
	return func(b *BedrockBackend) {
		b.client = client
	}
}

// WithBedrockStreams provides a custom response stream source (useful for
// testing). By default streams come from the runtime client.
func WithBedrockStreams(streams ResponseStreamAPI) BedrockOption {
	return func(b *BedrockBackend) {
		b.streams = streams
	}
}

// WithBedrockCatalog sets the catalog reported by ListModels.
func WithBedrockCatalog(c *Catalog) BedrockOption {
	return func(b *BedrockBackend) {
		b.catalog = c
	}
}

// WithRateLimit caps invocations per second on the client side.
func WithRateLimit(perSecond float64, burst int) BedrockOption {
	return func(b *BedrockBackend) {
		if perSecond <= 0 {
			b.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewBedrockBackend creates a Bedrock backend. With nil credentials the AWS
// default credential chain is used.
func NewBedrockBackend(creds *Credentials, opts ...BedrockOption) *BedrockBackend {
	b := &BedrockBackend{
		credentials: creds,
		catalog:     DefaultCatalog(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BedrockBackend) ensureClient(ctx context.Context) (InvokeModelAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadClientLocked(ctx); err != nil {
		return nil, err
	}
	return b.client, nil
}

func (b *BedrockBackend) ensureStreams(ctx context.Context) (ResponseStreamAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams != nil {
		return b.streams, nil
	}
	if err := b.loadClientLocked(ctx); err != nil {
		return nil, err
	}
	sc, ok := b.client.(InvokeModelStreamAPI)
	if !ok {
		return nil, errors.New("bedrock client does not support response streaming")
	}
	b.streams = runtimeStreams{client: sc}
	return b.streams, nil
}

func (b *BedrockBackend) loadClientLocked(ctx context.Context) error {
	if b.client != nil {
		return nil
	}

	var cfg aws.Config
	var err error
	if b.credentials != nil {
		cfg, err = b.credentials.AWSConfig(ctx)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	b.client = bedrockruntime.NewFromConfig(cfg)
	return nil
}

func (b *BedrockBackend) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (b *BedrockBackend) Invoke(ctx context.Context, inv *Invocation) (*InvokeResponse, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	output, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(inv.Model.ModelID),
		Body:        inv.Body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, mapBedrockError(inv.Model.ModelID, err)
	}
	return DecodeResponse(inv.Model, output.Body)
}

// InvokeStream invokes the model with a streamed response, handing each text
// delta to fn as it arrives.
func (b *BedrockBackend) InvokeStream(ctx context.Context, inv *Invocation, fn StreamHandler) (*InvokeResponse, error) {
	dec, err := NewStreamDecoder(inv.Model)
	if err != nil {
		return nil, err
	}
	streams, err := b.ensureStreams(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	stream, err := streams.OpenResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(inv.Model.ModelID),
		Body:        inv.Body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, mapBedrockError(inv.Model.ModelID, err)
	}
	defer stream.Close()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, mapBedrockError(inv.Model.ModelID, err)
				}
				return dec.Response(), nil
			}
			chunk, isChunk := ev.(*types.ResponseStreamMemberChunk)
			if !isChunk {
				continue
			}
			text, err := dec.Decode(chunk.Value.Bytes)
			if err != nil {
				return nil, err
			}
			if text == "" || fn == nil {
				continue
			}
			if err := fn(StreamChunk{Text: text}); err != nil {
				return nil, err
			}
		}
	}
}

func (b *BedrockBackend) ListModels(_ context.Context) (*ListModelsResponse, error) {
	return &ListModelsResponse{Models: modelInfos(b.catalog.Entries(), "available")}, nil
}

// isOnDemandRejection matches the validation error Bedrock returns when a
// bare model ID is invoked for a family that needs an inference profile.
func isOnDemandRejection(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "on-demand throughput") || strings.Contains(msg, "inference profile")
}

func mapBedrockError(modelID string, err error) error {
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		if isOnDemandRejection(validation.ErrorMessage()) {
			return &Error{
				Code:  CodeUnsupportedInvocationMode,
				Msg:   fmt.Sprintf("%s requires an inference profile for on-demand invocation", modelID),
				Model: modelID,
				Err:   err,
			}
		}
		return fmt.Errorf("bedrock rejected request for %s: %w", modelID, err)
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &Error{Code: CodeUnknownModel, Msg: notFound.ErrorMessage(), Model: modelID, Err: err}
	}

	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return &Error{Code: CodeThrottled, Msg: throttled.ErrorMessage(), Model: modelID, Err: err}
	}

	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return &Error{Code: CodeAccessDenied, Msg: denied.ErrorMessage(), Model: modelID, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("bedrock %s invoking %s: %w", apiErr.ErrorCode(), modelID, err)
	}
	return fmt.Errorf("failed to invoke %s: %w", modelID, err)
}

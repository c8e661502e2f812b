package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// LambdaAPI is the subset of the Lambda client used by LambdaBackend.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaBackend hands encoded invocations to a proxy Lambda function that
// holds the Bedrock permissions. The proxy returns the model's raw response
// body, or an ErrorResponse.
type LambdaBackend struct {
	functionName string
	credentials  *Credentials

	mu           sync.Mutex
	lambdaClient LambdaAPI
}

// proxyRequest is the payload sent to the proxy function.
type proxyRequest struct {
	Action   string          `json:"action"`
	ModelID  string          `json:"modelId,omitempty"`
	Provider string          `json:"provider,omitempty"`
	RunID    string          `json:"runId,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// NewLambdaBackend creates a new Lambda backend. A nil client is created
// lazily from creds, or from the default credential chain when creds is nil.
func NewLambdaBackend(functionName string, lambdaClient LambdaAPI, creds *Credentials) *LambdaBackend {
	return &LambdaBackend{
		functionName: functionName,
		lambdaClient: lambdaClient,
		credentials:  creds,
	}
}

func (b *LambdaBackend) ensureClient(ctx context.Context) (LambdaAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lambdaClient != nil {
		return b.lambdaClient, nil
	}
	var cfg aws.Config
	var err error
	if b.credentials != nil {
		cfg, err = b.credentials.AWSConfig(ctx)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	b.lambdaClient = lambda.NewFromConfig(cfg)
	return b.lambdaClient, nil
}

func (b *LambdaBackend) call(ctx context.Context, payload *proxyRequest) ([]byte, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(b.functionName),
		Payload:      payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke proxy: %w", err)
	}

	if output.FunctionError != nil {
		return nil, fmt.Errorf("proxy function error: %s", *output.FunctionError)
	}

	// Try to detect a proxy error response.
	var errResp ErrorResponse
	if err := json.Unmarshal(output.Payload, &errResp); err == nil && errResp.Error != "" {
		return nil, &Error{
			Code:  errResp.Error,
			Msg:   errResp.Message,
			Model: errResp.Model,
		}
	}

	return output.Payload, nil
}

func (b *LambdaBackend) Invoke(ctx context.Context, inv *Invocation) (*InvokeResponse, error) {
	body, err := b.call(ctx, &proxyRequest{
		Action:   "invoke",
		ModelID:  inv.Model.ModelID,
		Provider: inv.Model.Provider.String(),
		RunID:    inv.RunID,
		Body:     inv.Body,
	})
	if err != nil {
		return nil, err
	}
	return DecodeResponse(inv.Model, body)
}

func (b *LambdaBackend) ListModels(ctx context.Context) (*ListModelsResponse, error) {
	body, err := b.call(ctx, &proxyRequest{Action: "list-models"})
	if err != nil {
		return nil, err
	}
	var resp ListModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

package llm

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultMaxTokens is the completion limit used by DefaultRequestConfig.
const DefaultMaxTokens = 4096

// RequestConfig holds per-invocation sampling settings. It is immutable once
// built; use NewRequestConfig or DefaultRequestConfig.
type RequestConfig struct {
	temperature   float64
	maxTokens     int
	enableCaching bool
}

// NewRequestConfig validates and builds a RequestConfig. Temperature must be
// in [0, 1] and maxTokens positive. NaN is rejected.
func NewRequestConfig(temperature float64, maxTokens int, enableCaching bool) (RequestConfig, error) {
	if math.IsNaN(temperature) || temperature < 0 || temperature > 1 {
		return RequestConfig{}, newError(CodeInvalidRequestConfig,
			fmt.Sprintf("temperature %v out of range [0, 1]", temperature), nil)
	}
	if maxTokens <= 0 {
		return RequestConfig{}, newError(CodeInvalidRequestConfig,
			fmt.Sprintf("maxTokens must be positive, got %d", maxTokens), nil)
	}
	return RequestConfig{
		temperature:   temperature,
		maxTokens:     maxTokens,
		enableCaching: enableCaching,
	}, nil
}

// DefaultRequestConfig returns temperature 0, DefaultMaxTokens and caching on.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{maxTokens: DefaultMaxTokens, enableCaching: true}
}

func (c RequestConfig) Temperature() float64 { return c.temperature }
func (c RequestConfig) MaxTokens() int        { return c.maxTokens }
func (c RequestConfig) EnableCaching() bool   { return c.enableCaching }

// IsZero reports whether c was never built.
func (c RequestConfig) IsZero() bool {
	return c.maxTokens == 0
}

type requestConfigJSON struct {
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"maxTokens"`
	EnableCaching bool    `json:"enableCaching"`
}

func (c RequestConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestConfigJSON{
		Temperature:   c.temperature,
		MaxTokens:     c.maxTokens,
		EnableCaching: c.enableCaching,
	})
}

// UnmarshalJSON applies the same validation as NewRequestConfig. A missing
// enableCaching field defaults to true.
func (c *RequestConfig) UnmarshalJSON(data []byte) error {
	raw := requestConfigJSON{MaxTokens: DefaultMaxTokens, EnableCaching: true}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewRequestConfig(raw.Temperature, raw.MaxTokens, raw.EnableCaching)
	if err != nil {
		return err
	}
	*c = built
	return nil
}

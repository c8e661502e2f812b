package llm

import (
	"fmt"
	"strings"
)

// Provider tags the model family. The request and response body shapes are
// selected from it, so every Provider must have a codec in payload.go.
type Provider int

const (
	ProviderTitan Provider = iota + 1
	ProviderClaude
	ProviderNova
	ProviderLlama
)

var providerNames = map[Provider]string{
	ProviderTitan:  "titan",
	ProviderClaude: "claude",
	ProviderNova:   "nova",
	ProviderLlama:  "llama",
}

func (p Provider) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider converts a provider tag such as "claude" into a Provider.
func ParseProvider(s string) (Provider, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for p, name := range providerNames {
		if name == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown provider %q", s)
}

func (p Provider) MarshalText() ([]byte, error) {
	if _, ok := providerNames[p]; !ok {
		return nil, fmt.Errorf("unknown provider %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(text []byte) error {
	parsed, err := ParseProvider(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// SupportsCaching reports whether the family accepts a prompt-cache marker.
func (p Provider) SupportsCaching() bool {
	return p == ProviderClaude || p == ProviderNova
}

// Well-known Bedrock model identifiers.
// Inference profile IDs use the "us." prefix for US on-demand cross-region inference.
const (
	ModelTitanTextExpress = "amazon.titan-text-express-v1"
	ModelTitanTextLite    = "amazon.titan-text-lite-v1"

	ModelClaude3Haiku     = "anthropic.claude-3-haiku-20240307-v1:0"
	ModelClaude3Sonnet    = "anthropic.claude-3-sonnet-20240229-v1:0"
	ModelClaude3Opus      = "us.anthropic.claude-3-opus-20240229-v1:0"
	ModelClaude35Haiku    = "us.anthropic.claude-3-5-haiku-20241022-v1:0"
	ModelClaude35Sonnet   = "us.anthropic.claude-3-5-sonnet-20241022-v2:0"
	ModelClaude35HaikuEU  = "eu.anthropic.claude-3-5-haiku-20241022-v1:0"
	ModelClaude35SonnetEU = "eu.anthropic.claude-3-5-sonnet-20241022-v2:0"

	ModelNovaPro   = "amazon.nova-pro-v1:0"
	ModelNovaLite  = "amazon.nova-lite-v1:0"
	ModelNovaMicro = "amazon.nova-micro-v1:0"

	ModelLlama32_90B = "us.meta.llama3-2-90b-instruct-v1:0"
	ModelLlama32_11B = "us.meta.llama3-2-11b-instruct-v1:0"
	ModelLlama32_3B  = "us.meta.llama3-2-3b-instruct-v1:0"
	ModelLlama32_1B  = "us.meta.llama3-2-1b-instruct-v1:0"
)

// ModelCatalogEntry maps a friendly name to a Bedrock model identifier.
type ModelCatalogEntry struct {
	FriendlyName string   `yaml:"friendly_name" json:"friendlyName"`
	ModelID      string   `yaml:"model_id" json:"modelId"`
	Provider     Provider `yaml:"provider" json:"provider"`

	// RequiresInferenceProfile is set for families that reject on-demand
	// invocation of the bare identifier. ModelID then carries a region prefix.
	RequiresInferenceProfile bool `yaml:"requires_inference_profile" json:"requiresInferenceProfile"`

	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// defaultEntries returns the built-in catalog. Which Claude 3 models need an
// inference profile varies by account and region; override with a catalog
// file rather than editing this list.
func defaultEntries() []ModelCatalogEntry {
	return []ModelCatalogEntry{
		{FriendlyName: "Titan Text Express", ModelID: ModelTitanTextExpress, Provider: ProviderTitan,
			Aliases: []string{"Titan Text G1 - Express", "titan-text-express"}},
		{FriendlyName: "Titan Text Lite", ModelID: ModelTitanTextLite, Provider: ProviderTitan,
			Aliases: []string{"Titan Text G1 - Lite", "titan-text-lite"}},

		{FriendlyName: "Claude 3 Haiku", ModelID: ModelClaude3Haiku, Provider: ProviderClaude,
			Aliases: []string{"claude-3-haiku"}},
		{FriendlyName: "Claude 3 Sonnet", ModelID: ModelClaude3Sonnet, Provider: ProviderClaude,
			Aliases: []string{"claude-3-sonnet"}},
		{FriendlyName: "Claude 3 Opus", ModelID: ModelClaude3Opus, Provider: ProviderClaude,
			RequiresInferenceProfile: true, Aliases: []string{"claude-3-opus"}},
		{FriendlyName: "Claude 3.5 Haiku", ModelID: ModelClaude35Haiku, Provider: ProviderClaude,
			RequiresInferenceProfile: true, Aliases: []string{"claude-3-5-haiku"}},
		{FriendlyName: "Claude 3.5 Sonnet", ModelID: ModelClaude35Sonnet, Provider: ProviderClaude,
			RequiresInferenceProfile: true, Aliases: []string{"claude-3-5-sonnet"}},
		{FriendlyName: "Claude 3.5 Haiku (EU)", ModelID: ModelClaude35HaikuEU, Provider: ProviderClaude,
			RequiresInferenceProfile: true},
		{FriendlyName: "Claude 3.5 Sonnet (EU)", ModelID: ModelClaude35SonnetEU, Provider: ProviderClaude,
			RequiresInferenceProfile: true},

		{FriendlyName: "Nova Pro", ModelID: ModelNovaPro, Provider: ProviderNova,
			Aliases: []string{"nova-pro"}},
		{FriendlyName: "Nova Lite", ModelID: ModelNovaLite, Provider: ProviderNova,
			Aliases: []string{"nova-lite"}},
		{FriendlyName: "Nova Micro", ModelID: ModelNovaMicro, Provider: ProviderNova,
			Aliases: []string{"nova-micro"}},

		{FriendlyName: "Llama 3.2 90B", ModelID: ModelLlama32_90B, Provider: ProviderLlama,
			RequiresInferenceProfile: true, Aliases: []string{"llama-3-2-90b"}},
		{FriendlyName: "Llama 3.2 11B", ModelID: ModelLlama32_11B, Provider: ProviderLlama,
			RequiresInferenceProfile: true, Aliases: []string{"llama-3-2-11b"}},
		{FriendlyName: "Llama 3.2 3B", ModelID: ModelLlama32_3B, Provider: ProviderLlama,
			RequiresInferenceProfile: true, Aliases: []string{"llama-3-2-3b"}},
		{FriendlyName: "Llama 3.2 1B", ModelID: ModelLlama32_1B, Provider: ProviderLlama,
			RequiresInferenceProfile: true, Aliases: []string{"llama-3-2-1b"}},
	}
}

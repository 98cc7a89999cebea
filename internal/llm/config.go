// Package llm is the code producer: it turns prompts into Manim scene source
// through a text-generation model.
package llm

// ModelTier represents the capability level of a model.
type ModelTier string

const (
	// TierLite is for quick drafts.
	TierLite ModelTier = "lite"
	// TierStandard generates scenes from prompts.
	TierStandard ModelTier = "standard"
	// TierAdvanced is for repairs, which need to reason about an error.
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider.
type Provider string

// ProviderGemini is the Google Gemini provider.
const ProviderGemini Provider = "gemini"

// Config holds model selection and sampling settings.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string

	// GenerateTemperature is used for fresh scenes, FixTemperature for repairs.
	GenerateTemperature float32
	FixTemperature      float32
	MaxOutputTokens     int32
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration.
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		GenerateTemperature: 0.2,
		FixTemperature:      0.15,
		MaxOutputTokens:     4096,
	}
}

// GetModel returns the model name for a tier, falling back to standard and
// then lite.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a copy of c with model assigned to tier.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := *c
	next.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return &next
}

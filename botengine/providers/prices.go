package providers

// modelPricing guarda precios en USD por 1M de tokens.
type modelPricing struct {
	InputPerMToken  float64
	OutputPerMToken float64
}

// Modelos por defecto de cada proveedor.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultGeminiModel    = "gemini-2.0-flash"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

var openAIPrices = map[string]modelPricing{
	"gpt-4o":      {InputPerMToken: 2.50, OutputPerMToken: 10.00},
	"gpt-4o-mini": {InputPerMToken: 0.15, OutputPerMToken: 0.60},
	"gpt-4.1":     {InputPerMToken: 2.00, OutputPerMToken: 8.00},
	"gpt-4.1-mini": {InputPerMToken: 0.40, OutputPerMToken: 1.60},
}

var geminiPrices = map[string]modelPricing{
	"gemini-2.0-flash":      {InputPerMToken: 0.10, OutputPerMToken: 0.40},
	"gemini-2.0-flash-lite": {InputPerMToken: 0.075, OutputPerMToken: 0.30},
	"gemini-2.5-flash":      {InputPerMToken: 0.30, OutputPerMToken: 2.50},
	"gemini-2.5-pro":        {InputPerMToken: 1.25, OutputPerMToken: 10.00},
}

var anthropicPrices = map[string]modelPricing{
	"claude-sonnet-4-20250514": {InputPerMToken: 3.00, OutputPerMToken: 15.00},
	"claude-haiku-3-5-20241022": {InputPerMToken: 0.80, OutputPerMToken: 4.00},
}

// Precio por 1M de tokens de embedding.
var embeddingPrices = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
}

func costOf(prices map[string]modelPricing, model, fallback string, input, output int) float64 {
	p, ok := prices[model]
	if !ok {
		p = prices[fallback]
	}
	return float64(input)*p.InputPerMToken/1_000_000 + float64(output)*p.OutputPerMToken/1_000_000
}

package domain

import "context"

// ChatProvider abstrae un modelo conversacional con function calling. Las
// implementaciones viven en botengine/providers, una por SDK.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Embedder convierte textos en vectores para la búsqueda semántica de la
// base de conocimiento. Devuelve un vector por texto y el costo estimado
// en USD de la llamada.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, float64, error)
}

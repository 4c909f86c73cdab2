package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	"github.com/sirupsen/logrus"
)

const (
	defaultTopK     = 3
	defaultMinScore = 0.30
)

// Searcher resuelve consultas del agente contra los fragmentos indexados y
// deja registro de cada consulta en rag_usage.
type Searcher struct {
	repo     domain.IKnowledgeRepository
	embedder domain.Embedder
	topK     int
	minScore float64
}

func NewSearcher(repo domain.IKnowledgeRepository, embedder domain.Embedder) *Searcher {
	return &Searcher{
		repo:     repo,
		embedder: embedder,
		topK:     defaultTopK,
		minScore: defaultMinScore,
	}
}

type scoredChunk struct {
	chunk domain.KnowledgeChunk
	score float64
}

// Search embede la consulta, rankea por similitud coseno y arma la respuesta
// con los mejores fragmentos. Siempre registra el uso, haya o no resultado.
func (s *Searcher) Search(ctx context.Context, conversationID, query, category string) (domain.SearchResult, error) {
	vectors, cost, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return domain.SearchResult{}, err
	}
	if len(vectors) == 0 {
		return domain.SearchResult{}, nil
	}
	queryVec := vectors[0]

	chunks, err := s.repo.ListByCategory(ctx, category)
	if err != nil {
		return domain.SearchResult{}, err
	}

	var scored []scoredChunk
	for _, c := range chunks {
		score := cosineSimilarity(queryVec, c.Embedding)
		if score >= s.minScore {
			scored = append(scored, scoredChunk{chunk: c, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > s.topK {
		scored = scored[:s.topK]
	}

	result := domain.SearchResult{CostUSD: cost}
	if len(scored) > 0 {
		parts := make([]string, len(scored))
		for i, sc := range scored {
			parts[i] = sc.chunk.Content
		}
		result.Found = true
		result.Answer = strings.Join(parts, "\n\n")
		result.ChunksUsed = len(scored)
	}

	usage := &domain.RagUsage{
		ConversationID: conversationID,
		Query:          query,
		Category:       category,
		ChunksUsed:     result.ChunksUsed,
		CostUSD:        result.CostUSD,
		Found:          result.Found,
	}
	if err := s.repo.RecordUsage(ctx, usage); err != nil {
		logrus.WithError(err).Warn("[KB] Could not record rag usage")
	}

	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

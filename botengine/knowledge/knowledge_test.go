package knowledge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeEmbedder proyecta cada texto a un eje por tema para que la similitud
// coseno sea predecible en los tests.
type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, float64, error) {
	e.calls++
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		low := strings.ToLower(t)
		v := []float32{0, 0, 0, 0}
		switch {
		case strings.Contains(low, "envío") || strings.Contains(low, "envio"):
			v[0] = 1
		case strings.Contains(low, "precio"):
			v[1] = 1
		case strings.Contains(low, "garantía") || strings.Contains(low, "garantia"):
			v[2] = 1
		default:
			v[3] = 1
		}
		vecs[i] = v
	}
	return vecs, 0.000004, nil
}

func newKnowledgeRepo(t *testing.T) *repository.KnowledgeGormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := repository.NewKnowledgeGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

const sampleDoc = `# Guía comercial

## Envíos

Hacemos envío a todo el Perú. En Lima metropolitana el envío llega el mismo día
si el pedido entra antes de las 14:00. A provincia despachamos por agencia.

## Precios

El precio mayorista aplica desde 12 unidades por marca. Los precios al detalle
figuran en el catálogo vigente y se actualizan cada lunes.

## Garantía

Toda compra tiene garantía de 30 días por defectos de fábrica. La garantía no
cubre daños por mal uso del producto.
`

func TestIndexMarkdownSplitsByHeading(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ix := NewIndexer(repo, &fakeEmbedder{})

	count, err := ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(sampleDoc))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	chunks, err := repo.ListByCategory(context.Background(), "comercial")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, "guia.md", c.Source)
		assert.NotEmpty(t, c.Embedding)
	}

	// Reindexar reemplaza, no duplica
	count, err = ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(sampleDoc))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	chunks, err = repo.ListByCategory(context.Background(), "comercial")
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestIndexMarkdownEmptyDocClearsSource(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ix := NewIndexer(repo, &fakeEmbedder{})

	_, err := ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(sampleDoc))
	require.NoError(t, err)

	count, err := ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(""))
	require.NoError(t, err)
	assert.Zero(t, count)

	chunks, err := repo.ListByCategory(context.Background(), "comercial")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSearchRanksBySimilarityAndRecordsUsage(t *testing.T) {
	repo := newKnowledgeRepo(t)
	embedder := &fakeEmbedder{}
	ix := NewIndexer(repo, embedder)
	_, err := ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(sampleDoc))
	require.NoError(t, err)

	s := NewSearcher(repo, embedder)
	res, err := s.Search(context.Background(), "conv-1", "¿cuánto cuesta el envío a provincia?", "comercial")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Contains(t, res.Answer, "envío")
	assert.NotContains(t, res.Answer, "garantía")
	assert.Equal(t, 1, res.ChunksUsed)
	assert.Greater(t, res.CostUSD, 0.0)

	usage, err := repo.ListUsage(context.Background(), time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "conv-1", usage[0].ConversationID)
	assert.True(t, usage[0].Found)
	assert.Equal(t, 1, usage[0].ChunksUsed)
}

func TestSearchNoMatchStillRecordsUsage(t *testing.T) {
	repo := newKnowledgeRepo(t)
	embedder := &fakeEmbedder{}
	ix := NewIndexer(repo, embedder)
	_, err := ix.IndexMarkdown(context.Background(), "guia.md", "comercial", []byte(sampleDoc))
	require.NoError(t, err)

	s := NewSearcher(repo, embedder)
	res, err := s.Search(context.Background(), "conv-2", "quiero adoptar un gato", "comercial")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Answer)

	usage, err := repo.ListUsage(context.Background(), time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.False(t, usage[0].Found)
}

func TestChunkTextSplitsLongSections(t *testing.T) {
	long := strings.Repeat("La política de cambios aplica en tienda y por agencia. ", 60)
	chunks := chunkText(long, maxChunkRunes)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), maxChunkRunes)
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosineSimilarity(nil, nil))
}

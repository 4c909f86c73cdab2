package knowledge

import (
	"bytes"
	"context"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Los documentos se parten por secciones de encabezado y luego en fragmentos
// de tamaño acotado para que cada embedding cubra un tema puntual.
const (
	maxChunkRunes = 1200
	minChunkRunes = 40
)

// Indexer convierte documentos markdown de la base de conocimiento en
// fragmentos con embedding listos para la búsqueda semántica.
type Indexer struct {
	repo     domain.IKnowledgeRepository
	embedder domain.Embedder
	md       goldmark.Markdown
}

func NewIndexer(repo domain.IKnowledgeRepository, embedder domain.Embedder) *Indexer {
	return &Indexer{
		repo:     repo,
		embedder: embedder,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// IndexMarkdown reindexa un documento fuente completo y devuelve cuántos
// fragmentos quedaron almacenados.
func (ix *Indexer) IndexMarkdown(ctx context.Context, source, category string, markdown []byte) (int, error) {
	var buf bytes.Buffer
	if err := ix.md.Convert(markdown, &buf); err != nil {
		return 0, err
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return 0, err
	}

	var texts []string
	for _, section := range splitSections(doc) {
		texts = append(texts, chunkText(section, maxChunkRunes)...)
	}
	if len(texts) == 0 {
		// Documento vacío: se limpia lo que hubiera de versiones previas
		return 0, ix.repo.DeleteSource(ctx, source)
	}

	vectors, cost, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]domain.KnowledgeChunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.KnowledgeChunk{
			Source:    source,
			Category:  category,
			Content:   text,
			Embedding: vectors[i],
		}
	}
	if err := ix.repo.ReplaceSource(ctx, source, chunks); err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"source":   source,
		"category": category,
		"chunks":   len(chunks),
		"cost_usd": cost,
	}).Info("[KB] Source indexed")

	return len(chunks), nil
}

// splitSections agrupa el texto del documento por encabezado h1-h3. El texto
// que precede al primer encabezado forma su propia sección.
func splitSections(doc *goquery.Document) []string {
	var sections []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if len([]rune(text)) >= minChunkRunes {
			sections = append(sections, text)
		}
		current.Reset()
	}

	doc.Find("body").Children().Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		switch tag {
		case "h1", "h2", "h3":
			flush()
			current.WriteString(strings.TrimSpace(sel.Text()))
			current.WriteString("\n")
		default:
			text := strings.TrimSpace(sel.Text())
			if text != "" {
				current.WriteString(text)
				current.WriteString("\n")
			}
		}
	})
	flush()

	return sections
}

// chunkText parte una sección larga por párrafos respetando el máximo de
// runas por fragmento. Un párrafo que por sí solo excede el máximo se corta
// duro en el límite.
func chunkText(section string, max int) []string {
	if len([]rune(section)) <= max {
		return []string{section}
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(section, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for len([]rune(para)) > max {
			runes := []rune(para)
			chunks = append(chunks, string(runes[:max]))
			para = string(runes[max:])
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para))+1 > max {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(para)
		current.WriteString("\n")
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// Package vision es el adaptador de OCR sobre los modelos de visión de
// Gemini. El agente lo invoca con extract_text_ocr; los detalles del modelo
// quedan detrás de la interfaz Adapter.
package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	defaultModel    = "gemini-2.0-flash"
	downloadTimeout = 20 * time.Second
	maxImageBytes   = 8 * 1024 * 1024
)

// Result es el texto extraído más el contexto que el modelo infiere del
// documento (tipo, campos relevantes).
type Result struct {
	Text    string `json:"text"`
	Context string `json:"context"`
}

// Adapter extrae texto de una imagen accesible por URL.
type Adapter interface {
	ExtractText(ctx context.Context, imageURL, documentType, purpose string) (Result, error)
}

// Client implementa Adapter con genai. Extract descarga la imagen y la envía
// inline al modelo de visión.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client

	// generate es reemplazable en tests para no llamar a la API real.
	generate func(ctx context.Context, mimeType string, data []byte, prompt string) (string, error)
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
	c.generate = c.generateWithGenai
	return c
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ExtractText descarga la imagen, la pasa por el modelo de visión y separa el
// texto literal del contexto inferido.
func (c *Client) ExtractText(ctx context.Context, imageURL, documentType, purpose string) (Result, error) {
	if !c.Configured() {
		return Result{}, pkgError.ConfigError("vision adapter has no API key")
	}

	data, mimeType, err := c.download(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}

	prompt := fmt.Sprintf(
		"Extrae el texto de esta imagen de tipo %q. Primero el texto literal línea por línea, "+
			"luego una línea que empiece con CONTEXTO: describiendo qué documento es y sus datos clave.",
		documentType)
	if purpose != "" {
		prompt += " Propósito de la extracción: " + purpose
	}

	raw, err := c.generate(ctx, mimeType, data, prompt)
	if err != nil {
		logrus.WithError(err).Error("[OCR] vision model failed")
		return Result{}, pkgError.UpstreamError{Service: "vision", Status: 502, Body: err.Error()}
	}

	return splitResult(raw), nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", pkgError.ValidationError("malformed image url")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", pkgError.UpstreamError{Service: "media", Status: resp.StatusCode, Body: "image download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", pkgError.NetworkError(err.Error())
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

func (c *Client) generateWithGenai(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: prompt},
		},
	}}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("vision model returned no candidates")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// splitResult separa el texto literal del marcador CONTEXTO: si el modelo lo
// emitió; sin marcador, todo es texto.
func splitResult(raw string) Result {
	idx := strings.Index(raw, "CONTEXTO:")
	if idx == -1 {
		return Result{Text: strings.TrimSpace(raw)}
	}
	return Result{
		Text:    strings.TrimSpace(raw[:idx]),
		Context: strings.TrimSpace(strings.TrimPrefix(raw[idx:], "CONTEXTO:")),
	}
}

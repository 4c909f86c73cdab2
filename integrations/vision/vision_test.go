package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextSplitsContext(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer imgSrv.Close()

	client := NewClient("test-key", "")
	client.generate = func(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
		assert.Equal(t, "image/png", mimeType)
		assert.NotEmpty(t, data)
		return "RUC: 20123456789\nRAZON SOCIAL: ACME SAC\nCONTEXTO: ficha RUC de una empresa activa", nil
	}

	res, err := client.ExtractText(context.Background(), imgSrv.URL+"/doc.png", "ruc", "validar cliente")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "20123456789")
	assert.Equal(t, "ficha RUC de una empresa activa", res.Context)
}

func TestExtractTextWithoutContextMarker(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))
	defer imgSrv.Close()

	client := NewClient("test-key", "")
	client.generate = func(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
		return "texto suelto sin marcador", nil
	}

	res, err := client.ExtractText(context.Background(), imgSrv.URL, "dni", "")
	require.NoError(t, err)
	assert.Equal(t, "texto suelto sin marcador", res.Text)
	assert.Empty(t, res.Context)
}

func TestExtractTextRequiresAPIKey(t *testing.T) {
	client := NewClient("", "")
	_, err := client.ExtractText(context.Background(), "https://example.com/a.jpg", "dni", "")
	require.Error(t, err)
}

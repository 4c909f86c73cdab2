package whatsapp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextPayloadDisablesPreview(t *testing.T) {
	p := TextPayload("+51 999 000 001", "Hola")
	assert.Equal(t, "51999000001", p["to"])
	text := p["text"].(map[string]interface{})
	assert.Equal(t, "Hola", text["body"])
	assert.Equal(t, false, text["preview_url"])
}

func TestInteractivePayloadUpToThreeButtons(t *testing.T) {
	opts := []OutboundOption{{ID: "1", Label: "Ventas"}, {ID: "2", Label: "Soporte"}}
	p := InteractivePayload("+51999000001", "Elige", opts)

	interactive := p["interactive"].(map[string]interface{})
	assert.Equal(t, "button", interactive["type"])
	buttons := interactive["action"].(map[string]interface{})["buttons"].([]map[string]interface{})
	require.Len(t, buttons, 2)
	assert.Equal(t, "Ventas", buttons[0]["reply"].(map[string]interface{})["title"])
}

func TestInteractivePayloadOverflowBecomesList(t *testing.T) {
	opts := []OutboundOption{
		{ID: "1", Label: "A"}, {ID: "2", Label: "B"}, {ID: "3", Label: "C"}, {ID: "4", Label: "D"},
	}
	p := InteractivePayload("+51999000001", "Elige", opts)

	interactive := p["interactive"].(map[string]interface{})
	assert.Equal(t, "list", interactive["type"])
	sections := interactive["action"].(map[string]interface{})["sections"].([]map[string]interface{})
	rows := sections[0]["rows"].([]map[string]interface{})
	assert.Len(t, rows, 4)
}

func TestListPayloadCapsRowsAtChannelLimit(t *testing.T) {
	opts := make([]OutboundOption, 0, MaxListRows+3)
	for i := 0; i < MaxListRows+3; i++ {
		opts = append(opts, OutboundOption{ID: string(rune('a' + i)), Label: "Opción"})
	}
	p := InteractivePayload("+51999000001", "Elige", opts)

	sections := p["interactive"].(map[string]interface{})["action"].(map[string]interface{})["sections"].([]map[string]interface{})
	rows := sections[0]["rows"].([]map[string]interface{})
	assert.Len(t, rows, MaxListRows)
}

func TestButtonTitlesTruncatedToChannelLimit(t *testing.T) {
	long := strings.Repeat("x", 40)
	opts := []OutboundOption{{ID: "1", Label: long}}
	p := InteractivePayload("+51999000001", "Elige", opts)

	buttons := p["interactive"].(map[string]interface{})["action"].(map[string]interface{})["buttons"].([]map[string]interface{})
	title := buttons[0]["reply"].(map[string]interface{})["title"].(string)
	assert.LessOrEqual(t, len([]rune(title)), MaxButtonTitleLen)
}

func TestMediaPayloadLinkVsID(t *testing.T) {
	byLink := MediaPayload("+51999000001", "image", "https://cdn.example.com/a.jpg", "pie de foto", "")
	img := byLink["image"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/a.jpg", img["link"])
	assert.Equal(t, "pie de foto", img["caption"])

	byID := MediaPayload("+51999000001", "audio", "MEDIA-99", "ignorado", "")
	aud := byID["audio"].(map[string]interface{})
	assert.Equal(t, "MEDIA-99", aud["id"])
	// audio no admite caption
	_, hasCaption := aud["caption"]
	assert.False(t, hasCaption)
}

func TestTemplatePayload(t *testing.T) {
	p := TemplatePayload("+51999000001", "reengagement_v1", "es_PE", []string{"Maria"})
	tmpl := p["template"].(map[string]interface{})
	assert.Equal(t, "reengagement_v1", tmpl["name"])
	assert.Equal(t, "es_PE", tmpl["language"].(map[string]interface{})["code"])
	comps := tmpl["components"].([]map[string]interface{})
	require.Len(t, comps, 1)
}

package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test: los estados solo avanzan pending → sent → delivered → read
func TestMessageStatus_ForwardOnly(t *testing.T) {
	cases := []struct {
		name string
		from MessageStatus
		to   MessageStatus
		ok   bool
	}{
		{"pending a sent", StatusPending, StatusSent, true},
		{"pending a delivered (salto)", StatusPending, StatusDelivered, true},
		{"sent a delivered", StatusSent, StatusDelivered, true},
		{"delivered a read", StatusDelivered, StatusRead, true},
		{"sent a read (salto)", StatusSent, StatusRead, true},
		{"delivered a sent (regresión)", StatusDelivered, StatusSent, false},
		{"read a delivered (regresión)", StatusRead, StatusDelivered, false},
		{"sent a sent (duplicado)", StatusSent, StatusSent, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanAdvanceTo(tc.to))
		})
	}
}

// Test: failed reemplaza cualquier paso pendiente y es terminal
func TestMessageStatus_FailedIsTerminal(t *testing.T) {
	assert.True(t, StatusPending.CanAdvanceTo(StatusFailed))
	assert.True(t, StatusSent.CanAdvanceTo(StatusFailed))
	assert.True(t, StatusDelivered.CanAdvanceTo(StatusFailed))

	// Terminal: nada sale de failed ni de read
	assert.False(t, StatusFailed.CanAdvanceTo(StatusSent))
	assert.False(t, StatusFailed.CanAdvanceTo(StatusRead))
	assert.False(t, StatusRead.CanAdvanceTo(StatusFailed))
}

func TestMessagePreview(t *testing.T) {
	m := Message{Type: MessageText, Text: "Hola, quisiera información sobre sus productos"}
	assert.Equal(t, "Hola, quisiera información sobre sus productos", m.Preview())

	long := Message{Type: MessageText, Text: strings.Repeat("a", 200)}
	assert.LessOrEqual(t, len([]rune(long.Preview())), 80)

	media := Message{Type: MessageMedia}
	assert.Equal(t, "📎 Archivo adjunto", media.Preview())

	mediaCaption := Message{Type: MessageMedia, Text: "factura de marzo"}
	assert.Equal(t, "📎 factura de marzo", mediaCaption.Preview())
}

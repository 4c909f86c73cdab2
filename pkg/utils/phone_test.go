package utils

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	// Formatos típicos de números peruanos y E.164 sucios
	assert.Equal(t, "+51999000001", NormalizePhone("51 999 000 001"))
	assert.Equal(t, "+51999000001", NormalizePhone("+51-999-000-001"))
	assert.Equal(t, "+51999000001", NormalizePhone("(51) 999000001"))
	assert.Equal(t, "+51999000001", NormalizePhone("0051999000001"))
	assert.Equal(t, "", NormalizePhone("sin dígitos"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "51999000001", DigitsOnly("+51 999 000 001"))
	assert.Equal(t, "51999000001", DigitsOnly("0051999000001"))
}

// La normalización debe ser idempotente para cualquier entrada.
func TestNormalizePhoneIdempotente(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalize(normalize(n)) == normalize(n)", prop.ForAll(
		func(raw string) bool {
			once := NormalizePhone(raw)
			return NormalizePhone(once) == once
		},
		gen.RegexMatch(`[0-9 ()+-]{0,20}`),
	))

	properties.Property("el resultado es + seguido de dígitos", prop.ForAll(
		func(raw string) bool {
			n := NormalizePhone(raw)
			if n == "" {
				return true
			}
			if n[0] != '+' {
				return false
			}
			for _, r := range n[1:] {
				if r < '0' || r > '9' {
					return false
				}
			}
			return true
		},
		gen.RegexMatch(`[0-9 ()+-]{0,20}`),
	))

	properties.TestingRun(t)
}

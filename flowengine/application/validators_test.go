package application

import (
	"testing"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestEvaluateValidationKeywords(t *testing.T) {
	cases := []struct {
		name  string
		data  domain.ValidationData
		input string
		want  bool
	}{
		{
			name: "contains acierta plegando mayúsculas",
			data: domain.ValidationData{Mode: "keywords", Keywords: []domain.KeywordGroup{
				{Mode: "contains", Terms: []string{"precio", "costo"}},
			}},
			input: "¿me pasas el PRECIO?",
			want:  true,
		},
		{
			name: "exact no acepta subcadenas",
			data: domain.ValidationData{Mode: "keywords", Keywords: []domain.KeywordGroup{
				{Mode: "exact", Terms: []string{"si"}},
			}},
			input: "si quiero",
			want:  false,
		},
		{
			name: "combine and exige todos los grupos",
			data: domain.ValidationData{Mode: "keywords", Combine: "and", Keywords: []domain.KeywordGroup{
				{Mode: "contains", Terms: []string{"delivery"}},
				{Mode: "contains", Terms: []string{"lima"}},
			}},
			input: "¿hacen delivery en Lima?",
			want:  true,
		},
		{
			name: "combine and falla con un grupo sin acierto",
			data: domain.ValidationData{Mode: "keywords", Combine: "and", Keywords: []domain.KeywordGroup{
				{Mode: "contains", Terms: []string{"delivery"}},
				{Mode: "contains", Terms: []string{"lima"}},
			}},
			input: "¿hacen delivery?",
			want:  false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateValidation(&tc.data, tc.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateValidationFormats(t *testing.T) {
	cases := []struct {
		format string
		input  string
		want   bool
	}{
		{"email", "ana@example.com", true},
		{"email", "ana@example", false},
		{"email", "no es un correo", false},
		{"phone", "+51 999 888 777", true},
		{"phone", "123", false},
		{"dni", "12345678", true},
		{"dni", "1234567", false},
		{"dni", "12345678a", false},
		{"ruc", "20123456789", true},
		{"ruc", "123", false},
	}
	for _, tc := range cases {
		t.Run(tc.format+"/"+tc.input, func(t *testing.T) {
			got, err := EvaluateValidation(&domain.ValidationData{Mode: "format", Format: tc.format}, tc.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateValidationRange(t *testing.T) {
	d := domain.ValidationData{Mode: "range", Min: f64(1), Max: f64(10)}

	got, err := EvaluateValidation(&d, "5", nil)
	require.NoError(t, err)
	assert.True(t, got)

	// Coma decimal de entrada latina
	got, err = EvaluateValidation(&d, "7,5", nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateValidation(&d, "11", nil)
	require.NoError(t, err)
	assert.False(t, got)

	// No numérico no es error de configuración, solo no calza
	got, err = EvaluateValidation(&d, "muchos", nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateValidationLengthCountsRunes(t *testing.T) {
	d := domain.ValidationData{Mode: "length", MinLength: 3, MaxLength: 5}

	got, err := EvaluateValidation(&d, "ñañá", nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateValidation(&d, "ab", nil)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvaluateValidation(&d, "abcdef", nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateValidationVariable(t *testing.T) {
	d := domain.ValidationData{Mode: "variable", Variable: "codigo"}
	vars := map[string]string{"codigo": "ABC123"}

	got, err := EvaluateValidation(&d, "abc123", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateValidation(&d, "otra cosa", vars)
	require.NoError(t, err)
	assert.False(t, got)

	// Variable inexistente nunca calza
	got, err = EvaluateValidation(&d, "abc123", nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateValidationRegexAndOptions(t *testing.T) {
	got, err := EvaluateValidation(&domain.ValidationData{Mode: "regex", Regex: `^PED-\d{4}$`}, "PED-0042", nil)
	require.NoError(t, err)
	assert.True(t, got)

	// Regex rota es error de configuración, no un no_match
	_, err = EvaluateValidation(&domain.ValidationData{Mode: "regex", Regex: "("}, "lo que sea", nil)
	require.Error(t, err)

	got, err = EvaluateValidation(&domain.ValidationData{Mode: "options_list", Options: []string{"Lima", "Arequipa"}}, "  lima ", nil)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = EvaluateValidation(&domain.ValidationData{Mode: "telepatia"}, "hola", nil)
	require.Error(t, err)
}

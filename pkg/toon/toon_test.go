package toon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKVYSeccion(t *testing.T) {
	out := NewBuilder().
		Section("daily_report").
		KV("date", "2026-08-24").
		KV("conversations_total", 42).
		End().
		String()

	assert.Equal(t, "daily_report:\n  date:2026-08-24\n  conversations_total:42\n", out)
}

func TestTabla(t *testing.T) {
	out := NewBuilder().
		Section("daily_report").
		Table("queues", []string{"name", "waiting", "attending"}, [][]string{
			{"ventas", "3", "7"},
			{"soporte", "1", "2"},
		}).
		End().
		String()

	want := "daily_report:\n" +
		"  queues[2]{name,waiting,attending}:\n" +
		"    ventas,3,7\n" +
		"    soporte,1,2\n"
	assert.Equal(t, want, out)
}

func TestCeldasSaneadas(t *testing.T) {
	// Una coma dentro de una celda rompería el parseo mecánico
	out := NewBuilder().
		Table("problems", []string{"detail"}, [][]string{{"timeout, luego 500"}}).
		String()

	assert.Contains(t, out, "timeout; luego 500")
	assert.Contains(t, out, "problems[1]{detail}:")
}

func TestTablaVacia(t *testing.T) {
	out := NewBuilder().Table("alerts", []string{"kind", "age"}, nil).String()
	assert.Equal(t, "alerts[0]{kind,age}:\n", out)
}

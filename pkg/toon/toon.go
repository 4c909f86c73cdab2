// Package toon implementa el formato de reporte TOON: texto orientado a
// líneas con pares clave:valor y tablas `nombre[n]{col1,col2}:` seguidas de n
// filas indentadas separadas por comas. Los consumidores lo parsean
// mecánicamente, así que el encoder es estricto con la forma.
package toon

import (
	"fmt"
	"strings"
)

const indent = "  "

type Builder struct {
	sb    strings.Builder
	depth int
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Section abre una sección `nombre:` y aumenta la indentación de lo que sigue.
func (b *Builder) Section(name string) *Builder {
	b.line(sanitizeKey(name) + ":")
	b.depth++
	return b
}

// End cierra la sección actual.
func (b *Builder) End() *Builder {
	if b.depth > 0 {
		b.depth--
	}
	return b
}

// KV emite `clave:valor` en la indentación actual.
func (b *Builder) KV(key string, value interface{}) *Builder {
	b.line(fmt.Sprintf("%s:%s", sanitizeKey(key), sanitizeCell(fmt.Sprint(value))))
	return b
}

// Table emite `nombre[n]{cols}:` y n filas indentadas de celdas separadas por
// comas. Las celdas se sanean: una coma dentro de una celda rompería el parseo.
func (b *Builder) Table(name string, cols []string, rows [][]string) *Builder {
	b.line(fmt.Sprintf("%s[%d]{%s}:", sanitizeKey(name), len(rows), strings.Join(cols, ",")))
	b.depth++
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = sanitizeCell(c)
		}
		b.line(strings.Join(cells, ","))
	}
	b.depth--
	return b
}

func (b *Builder) String() string {
	return b.sb.String()
}

func (b *Builder) line(s string) {
	b.sb.WriteString(strings.Repeat(indent, b.depth))
	b.sb.WriteString(s)
	b.sb.WriteString("\n")
}

func sanitizeKey(k string) string {
	k = strings.TrimSpace(k)
	k = strings.ReplaceAll(k, ":", "_")
	k = strings.ReplaceAll(k, "\n", " ")
	return k
}

func sanitizeCell(c string) string {
	c = strings.ReplaceAll(c, "\n", " ")
	c = strings.ReplaceAll(c, ",", ";")
	return strings.TrimSpace(c)
}

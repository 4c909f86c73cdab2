package utils

import "strings"

// NormalizePhone deja el número en forma canónica "+<dígitos>". Quita
// espacios, guiones y paréntesis; un prefijo 00 se trata como +. La función
// es idempotente: NormalizePhone(NormalizePhone(n)) == NormalizePhone(n).
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	d = strings.TrimPrefix(d, "00")
	if d == "" {
		return ""
	}
	return "+" + d
}

// DigitsOnly devuelve solo los dígitos del número, sin prefijo +. Es la forma
// que espera el Cloud API en el campo "to".
func DigitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return strings.TrimPrefix(b.String(), "00")
}

package application

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
)

// Patrones de los formatos predefinidos. DNI y RUC siguen los documentos
// peruanos: 8 y 11 dígitos.
var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	dniPattern   = regexp.MustCompile(`^\d{8}$`)
	rucPattern   = regexp.MustCompile(`^\d{11}$`)
)

// EvaluateValidation ejecuta el predicado del modo activo sobre la entrada.
// Devuelve error solo ante configuración rota (regex inválida, modo
// desconocido); ese error rutea por out:error, no por out:no_match.
func EvaluateValidation(d *domain.ValidationData, input string, vars map[string]string) (bool, error) {
	input = strings.TrimSpace(input)

	switch d.Mode {
	case "keywords":
		return matchKeywords(d, input), nil

	case "format":
		return matchFormat(d.Format, input)

	case "variable":
		want, ok := vars[d.Variable]
		if !ok {
			return false, nil
		}
		return strings.EqualFold(input, want), nil

	case "range":
		n, err := strconv.ParseFloat(strings.ReplaceAll(input, ",", "."), 64)
		if err != nil {
			return false, nil
		}
		if d.Min != nil && n < *d.Min {
			return false, nil
		}
		if d.Max != nil && n > *d.Max {
			return false, nil
		}
		return true, nil

	case "length":
		length := len([]rune(input))
		if d.MinLength > 0 && length < d.MinLength {
			return false, nil
		}
		if d.MaxLength > 0 && length > d.MaxLength {
			return false, nil
		}
		return true, nil

	case "regex":
		re, err := regexp.Compile(d.Regex)
		if err != nil {
			return false, fmt.Errorf("bad validation regex: %w", err)
		}
		return re.MatchString(input), nil

	case "options_list":
		for _, opt := range d.Options {
			if strings.EqualFold(input, strings.TrimSpace(opt)) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown validation mode %q", d.Mode)
	}
}

// matchKeywords combina grupos con and/or; cada grupo acierta si alguno de sus
// términos calza según su modo. La comparación pliega mayúsculas Unicode.
func matchKeywords(d *domain.ValidationData, input string) bool {
	combine := d.Combine
	if combine == "" {
		combine = "or"
	}
	folded := strings.ToLower(input)

	for _, group := range d.Keywords {
		hit := false
		for _, term := range group.Terms {
			t := strings.ToLower(strings.TrimSpace(term))
			if t == "" {
				continue
			}
			if group.Mode == "exact" {
				hit = strings.EqualFold(strings.TrimSpace(input), term)
			} else {
				hit = strings.Contains(folded, t)
			}
			if hit {
				break
			}
		}
		if combine == "and" && !hit {
			return false
		}
		if combine == "or" && hit {
			return true
		}
	}
	return combine == "and"
}

func matchFormat(format, input string) (bool, error) {
	switch format {
	case "email":
		return emailPattern.MatchString(input), nil
	case "phone":
		digits := utils.DigitsOnly(input)
		return len(digits) >= 8 && len(digits) <= 15, nil
	case "dni":
		return dniPattern.MatchString(input), nil
	case "ruc":
		return rucPattern.MatchString(input), nil
	default:
		return false, fmt.Errorf("unknown validation format %q", format)
	}
}

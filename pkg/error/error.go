package error

import "errors"

// GenericError es el contrato que cumplen todos los errores tipados de la
// plataforma. El middleware de recovery lo usa para mapear panics a respuestas
// HTTP con código y estado correctos.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

// RetryableError lo implementan los errores transitorios que admiten reintento.
type RetryableError interface {
	GenericError
	Retryable() bool
}

// IsRetryable indica si un error admite reintento con backoff (§ clasificación
// de envíos al proveedor: 5xx, 429, red y 408).
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// RetryAfterOf devuelve los segundos de espera sugeridos por el proveedor, o 0.
func RetryAfterOf(err error) int {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfterSeconds
	}
	return 0
}

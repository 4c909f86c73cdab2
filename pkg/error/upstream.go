package error

import (
	"fmt"
	"net/http"
)

// UpstreamError: respuesta no-2xx del proveedor o del CRM. Conserva el estado
// y el cuerpo para diagnóstico; solo 5xx y 408 admiten reintento.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (err UpstreamError) Error() string {
	return fmt.Sprintf("%s respondió %d: %s", err.Service, err.Status, err.Body)
}

func (err UpstreamError) ErrCode() string { return "UPSTREAM_ERROR" }

func (err UpstreamError) StatusCode() int { return http.StatusBadGateway }

func (err UpstreamError) Retryable() bool {
	return err.Status >= 500 || err.Status == http.StatusRequestTimeout
}

// RateLimitedError: 429 del upstream. RetryAfterSeconds viene del header
// Retry-After cuando el proveedor lo envía.
type RateLimitedError struct {
	Service           string
	RetryAfterSeconds int
}

func (err RateLimitedError) Error() string {
	if err.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s limitó la tasa, reintentar en %ds", err.Service, err.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s limitó la tasa", err.Service)
}

func (err RateLimitedError) ErrCode() string { return "RATE_LIMITED" }

func (err RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

func (err RateLimitedError) Retryable() bool { return true }

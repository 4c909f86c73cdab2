package error

import "net/http"

// ConfigError: entorno incompleto o inválido detectado en el arranque.
type ConfigError string

func (err ConfigError) Error() string   { return string(err) }
func (err ConfigError) ErrCode() string { return "CONFIG_ERROR" }
func (err ConfigError) StatusCode() int { return http.StatusInternalServerError }

// AuthError: token de proveedor/CRM inválido o credenciales de operador malas.
type AuthError string

func (err AuthError) Error() string   { return string(err) }
func (err AuthError) ErrCode() string { return "AUTH_ERROR" }
func (err AuthError) StatusCode() int { return http.StatusUnauthorized }

// ValidationError: payload de request mal formado.
type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError: lock optimista perdido o duplicado (ej. CAS de asignación).
type ConflictError string

func (err ConflictError) Error() string   { return string(err) }
func (err ConflictError) ErrCode() string { return "CONFLICT_ERROR" }
func (err ConflictError) StatusCode() int { return http.StatusConflict }

// InternalError: bug nuestro. Nunca se reintenta.
type InternalError string

func (err InternalError) Error() string   { return string(err) }
func (err InternalError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err InternalError) StatusCode() int { return http.StatusInternalServerError }

// ShutdownError: el servidor está drenando; el cliente debe reintentar luego.
type ShutdownError string

func (err ShutdownError) Error() string   { return string(err) }
func (err ShutdownError) ErrCode() string { return "SHUTDOWN" }
func (err ShutdownError) StatusCode() int { return http.StatusServiceUnavailable }

// NetworkError: timeout, DNS o reset hablando con un upstream. Transitorio.
type NetworkError string

func (err NetworkError) Error() string   { return string(err) }
func (err NetworkError) ErrCode() string { return "NETWORK_ERROR" }
func (err NetworkError) StatusCode() int { return http.StatusBadGateway }
func (err NetworkError) Retryable() bool { return true }

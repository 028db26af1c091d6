package kalshi

import (
	"errors"
	"fmt"
)

// ErrClass clasifica los fallos de la API por comportamiento, no por tipo:
// la política de retry se decide por clase.
type ErrClass string

const (
	ClassNetwork   ErrClass = "network"    // transporte: retriable
	ClassAuth      ErrClass = "auth"       // 401/403: fatal, sin retry
	ClassRateLimit ErrClass = "rate_limit" // 429 o bucket agotado: espera + 1 retry
	ClassClient    ErrClass = "client"     // 4xx restantes: sin retry
	ClassServer    ErrClass = "server"     // 5xx: retriable
)

// APIError es el error que emite el cliente firmado.
type APIError struct {
	Class  ErrClass
	Op     string // "kalshi.ListMarkets", etc.
	Status int    // HTTP status, 0 en errores de red
	Msg    string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Class, e.Status, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Class, e.Msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// ClassOf extrae la clase de un error del cliente; network si no es APIError.
func ClassOf(err error) ErrClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassNetwork
}

// IsAuth indica si el error es de autenticación (fatal para el loop).
func IsAuth(err error) bool {
	return ClassOf(err) == ClassAuth
}

// classify mapea un status HTTP a su clase de error.
func classify(status int) ErrClass {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 429:
		return ClassRateLimit
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	}
	return ClassNetwork
}

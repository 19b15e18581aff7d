// Package errors provides error handling utilities for the download facade.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes different types of errors for handling.
type ErrorType int

const (
	// ErrorTypeAuth represents token lifecycle and identity errors.
	ErrorTypeAuth ErrorType = iota
	// ErrorTypeUpstream represents catalog or package service errors.
	ErrorTypeUpstream
	// ErrorTypeCache represents cache storage errors.
	ErrorTypeCache
	// ErrorTypeConfig represents configuration errors.
	ErrorTypeConfig
	// ErrorTypeInput represents caller input errors.
	ErrorTypeInput
)

// Sentinel errors for the terminal token lifecycle outcomes and input failures.
var (
	// ErrNoCredentials indicates no token bundle has ever been persisted.
	// The caller must complete the initial authorization flow.
	ErrNoCredentials = errors.New("authentication required: no credentials stored")

	// ErrReauthRequired indicates the stored bundle cannot be refreshed
	// (expired access token and no refresh token).
	ErrReauthRequired = errors.New("re-authentication required: no refresh token")

	// ErrNotFound indicates the catalog or package service reported the
	// requested item does not exist.
	ErrNotFound = errors.New("item not found upstream")

	// ErrInvalidIdentifier indicates the supplied identifier matches neither
	// the content id nor the product id pattern.
	ErrInvalidIdentifier = errors.New("invalid identifier format")
)

// AuthStage identifies which identity call failed.
type AuthStage string

const (
	StageExchangeCode AuthStage = "code_exchange"
	StageRefresh      AuthStage = "token_refresh"
	StageUserAuth     AuthStage = "user_authenticate"
	StageXSTSAuth     AuthStage = "xsts_authorize"
)

// UpstreamAuthError is returned when one of the identity service calls
// returns a non-success status. It carries the stage and the upstream
// response so the caller can decide whether to restart the authorization flow.
type UpstreamAuthError struct {
	Stage  AuthStage
	Status int
	Body   string
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("identity call %s failed: status %d: %s", e.Stage, e.Status, e.Body)
}

// NewUpstreamAuthError creates an UpstreamAuthError for the given stage.
func NewUpstreamAuthError(stage AuthStage, status int, body string) *UpstreamAuthError {
	return &UpstreamAuthError{Stage: stage, Status: status, Body: body}
}

// FacadeError wraps errors with operation context.
type FacadeError struct {
	Type ErrorType
	Op   string // operation that failed
	Err  error  // underlying error
}

func (e *FacadeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FacadeError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new authentication error.
func NewAuthError(op string, err error) *FacadeError {
	return &FacadeError{Type: ErrorTypeAuth, Op: op, Err: err}
}

// NewUpstreamError creates a new upstream service error.
func NewUpstreamError(op string, err error) *FacadeError {
	return &FacadeError{Type: ErrorTypeUpstream, Op: op, Err: err}
}

// NewCacheError creates a new cache storage error. Callers are expected to
// log these and degrade to a cache miss, never to fail the request.
func NewCacheError(op string, err error) *FacadeError {
	return &FacadeError{Type: ErrorTypeCache, Op: op, Err: err}
}

// NewConfigError creates a new configuration error.
func NewConfigError(op string, err error) *FacadeError {
	return &FacadeError{Type: ErrorTypeConfig, Op: op, Err: err}
}

// IsType reports whether err is a FacadeError of the given type.
func IsType(err error, t ErrorType) bool {
	var fe *FacadeError
	if errors.As(err, &fe) {
		return fe.Type == t
	}
	return false
}

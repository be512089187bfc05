package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/arcana/api/internal/models"
)

// ErrorKind tells the orchestrator how a backend failed
type ErrorKind string

const (
	Transient ErrorKind = "transient"
	Permanent ErrorKind = "permanent"
)

// Error is the typed failure every backend returns
type Error struct {
	Backend    string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: %s failure (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %s failure: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Backend generates one reading. Implementations must honor ctx cancellation.
type Backend interface {
	ID() string
	Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedArtifact, error)
}

// KindOf returns the failure kind of err; untyped errors are transient
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Transient
}

func transient(backend string, err error) *Error {
	return &Error{Backend: backend, Kind: Transient, Err: err}
}

func permanent(backend string, err error) *Error {
	return &Error{Backend: backend, Kind: Permanent, Err: err}
}

// fromStatus classifies an HTTP failure: throttling, timeouts and server errors are transient
func fromStatus(backend string, status int, err error) *Error {
	kind := Permanent
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		kind = Transient
	}
	return &Error{Backend: backend, Kind: kind, StatusCode: status, Err: err}
}

// fromTransport classifies errors raised before a status code was seen
func fromTransport(ctx context.Context, backend string, err error) *Error {
	if ctx.Err() != nil {
		return transient(backend, fmt.Errorf("%w: %v", ctx.Err(), err))
	}
	return transient(backend, err)
}

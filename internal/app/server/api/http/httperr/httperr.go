// Package httperr turns domain errors into huma status errors.
package httperr

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
)

// From maps err to the HTTP status a client should see. Unknown errors
// are logged and reported as 500 without their text.
func From(log *slog.Logger, err error) error {
	if err == nil {
		return nil
	}

	var (
		ve *syncdomain.ValidationError
		ae *syncdomain.AnomalyError
	)
	switch {
	case errors.As(err, &ve):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, syncdomain.ErrUnauthenticated):
		return huma.Error401Unauthorized("authentication required")
	case errors.Is(err, syncdomain.ErrForbidden):
		return huma.Error403Forbidden("access denied")
	case errors.As(err, &ae):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, syncdomain.ErrResyncRequired):
		return huma.Error410Gone(err.Error())
	}

	if wait, ok := syncdomain.RetryAfter(err); ok {
		return huma.ErrorWithHeaders(
			huma.Error429TooManyRequests("rate limit exceeded"),
			http.Header{"Retry-After": {retryAfterSeconds(wait.Seconds())}},
		)
	}
	if syncdomain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("store unavailable", "error", err)
		return huma.Error503ServiceUnavailable("storage temporarily unavailable, retry with the same op ids")
	}

	switch {
	case errors.Is(err, user.ErrInvalidInput), errors.Is(err, access.ErrInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, user.ErrInvalidCredentials):
		return huma.Error401Unauthorized("invalid credentials")
	case errors.Is(err, access.ErrNotOwner), errors.Is(err, access.ErrNotMember):
		return huma.Error403Forbidden(err.Error())
	case errors.Is(err, access.ErrUnknownUser):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, user.ErrLoginTaken), errors.Is(err, access.ErrWorkspaceExists):
		return huma.Error409Conflict(err.Error())
	}

	log.Error("unhandled error", "error", err)
	return huma.Error500InternalServerError("internal error")
}

// retryAfterSeconds rounds up so clients never retry too early.
func retryAfterSeconds(s float64) string {
	n := int(math.Ceil(s))
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}

package httpadapter

import (
	"errors"
	"net/http"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrOverloaded), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorKind names the domain kind for metrics labels and the error payload.
func errorKind(err error) string {
	for _, k := range []struct {
		kind error
		name string
	}{
		{domain.ErrInvalidInput, "invalid_input"},
		{domain.ErrForbidden, "forbidden"},
		{domain.ErrDocumentNotFound, "not_found"},
		{domain.ErrConflict, "conflict"},
		{domain.ErrOverloaded, "overloaded"},
		{domain.ErrTemporary, "unavailable"},
	} {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}

// publicMessage keeps internal causes out of responses for 5xx errors.
func publicMessage(err error, status int) string {
	switch {
	case domain.IsKind(err, domain.ErrOverloaded):
		return "processing queue is full, retry later"
	case status == http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case status >= 500:
		return "internal error"
	case status == http.StatusForbidden:
		return "access denied"
	default:
		return err.Error()
	}
}

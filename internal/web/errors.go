package web

// errors.go turns errors into HTTP responses.
//
// Every error is logged with its technical detail and request id, then
// mapped through core.MapError to a coded user message. HTMX requests get
// an HTML fragment; everything else gets the JSON ErrorResponse.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/doorgraph/internal/core"
	"github.com/JonMunkholm/doorgraph/internal/onion"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// errInvalidRequest marks malformed input; core.MapError reports it as VAL001.
var errInvalidRequest = errors.New("invalid request")

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status of err.
func statusFor(err error) int {
	var (
		missing *core.MissingColumnError
		load    *core.LoadError
		tooBig  *http.MaxBytesError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &load):
		if load.Reason == core.ReasonTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusUnprocessableEntity
	case errors.As(err, &missing),
		errors.Is(err, core.ErrNoMapping),
		errors.Is(err, core.ErrInvalidSubmission),
		errors.Is(err, onion.ErrNoEntrances),
		errors.Is(err, onion.ErrNoEvents):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRunSuperseded):
		return http.StatusConflict
	case errors.Is(err, core.ErrSnapshotInvalid):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing form with statusFor(err).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		msg = core.MapError(&core.LoadError{Reason: core.ReasonTooLarge, Err: err})
	}

	log := slog.Warn
	if status >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		log = slog.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if errors.Is(err, core.ErrTooManyRuns) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if isHTMX(r) {
		renderFragment(w, r, status, errorAlert(msg))
		return
	}
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

const retryAfterSeconds = 5

// isHTMX reports whether r was sent by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

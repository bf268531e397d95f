package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/obslog"
)

// WriteError is the single error-translation layer (spec §7): it maps a
// typed apierr.Error to its HTTP status and JSON body, echoing any Extra
// fields (e.g. Conflict's currentVersion). Unrecognized errors are logged
// and surfaced as a bare 500 rather than leaking internals to the client.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		obslog.Errorf("unhandled error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	if apiErr.Cause != nil {
		obslog.WithComponent("httpapi").Error().Err(apiErr.Cause).Str("kind", apiErr.Kind.String()).Msg(apiErr.Message)
	}

	writeJSONError(w, statusFor(apiErr.Kind), apiErr.Message, apiErr.Extra)
}

func statusFor(k apierr.Kind) int {
	switch k {
	case apierr.BadInput:
		return http.StatusBadRequest
	case apierr.Unauthorized:
		return http.StatusUnauthorized
	case apierr.Forbidden:
		return http.StatusForbidden
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case apierr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteError(w, apierr.New(apierr.MethodNotAllowed, "method not allowed"))
}

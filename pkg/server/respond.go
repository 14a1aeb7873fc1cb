package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pubino/bsp/pkg/browser"
)

// errorBody is the failure shape of every endpoint.
type errorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ok writes {"success":true} merged with the fields of v. v must encode to a
// JSON object, or be nil.
func ok(w http.ResponseWriter, v any) {
	body := map[string]any{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err == nil {
			err = json.Unmarshal(raw, &body)
		}
		if err != nil {
			fail(w, err)
			return
		}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

// fail maps err to a status code and writes the failure shape.
func fail(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:      err.Error(),
		Suggestion: browser.SuggestionOf(err),
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, browser.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, browser.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, browser.ErrEnvironment):
		return http.StatusPreconditionFailed
	case errors.Is(err, browser.ErrNavigation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// queryInt returns a query parameter as int, or def when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	return def
}

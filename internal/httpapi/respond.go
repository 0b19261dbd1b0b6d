// Package httpapi holds the chi handlers of both service daemons.
// Handlers are thin: decode, validate, call the service or store, map
// sentinel errors to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
	"github.com/darrenak403/beyond8-server-sub001/internal/quiz"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// fail maps the error taxonomy onto HTTP statuses. Unknown errors are a
// generic 500 so storage details never leak to clients.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrQuizNotFound),
		errors.Is(err, quiz.ErrAttemptNotFound),
		errors.Is(err, progress.ErrProgressNotFound),
		errors.Is(err, progress.ErrEnrollmentNotFound),
		errors.Is(err, progress.ErrCertificateNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quiz.ErrNotOwner):
		writeErr(w, http.StatusForbidden, err.Error())
	case errors.Is(err, quiz.ErrQuizInactive),
		errors.Is(err, quiz.ErrNoAttemptsRemaining),
		errors.Is(err, quiz.ErrAttemptInProgress),
		errors.Is(err, quiz.ErrAlreadySubmitted),
		errors.Is(err, quiz.ErrAttemptExpired),
		errors.Is(err, quiz.ErrAttemptStillOpen),
		errors.Is(err, quiz.ErrQuestionNotInAttempt):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "bad json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

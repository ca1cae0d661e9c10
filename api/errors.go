package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zalando/routekeeper/routedir"
	"github.com/zalando/routekeeper/routing"
)

// Error is the body of the failed responses.
type Error struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

var errMalformedBody = errors.New("malformed body")

func (e *Error) Error() string { return e.Message }

func newError(code int, message string, cause error) *Error {
	e := &Error{Code: code, Reason: http.StatusText(code), Message: message}
	if cause != nil {
		e.Cause = cause.Error()
	}

	return e
}

// toError maps the errors of the route operations to the error responses.
func toError(err error) *Error {
	var (
		apiErr  *Error
		tooLong *http.MaxBytesError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, routing.ErrRouteNotFound):
		return newError(http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, routing.ErrRouteConflict):
		return newError(http.StatusConflict, err.Error(), nil)
	case errors.As(err, &tooLong):
		return newError(http.StatusRequestEntityTooLarge, err.Error(), nil)
	case routing.IsBuildError(err),
		errors.Is(err, routedir.ErrInvalidID),
		errors.Is(err, errMalformedBody):
		return newError(http.StatusBadRequest, err.Error(), nil)
	default:
		return newError(http.StatusInternalServerError, "failed to process the request", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Code, e)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := toError(err)
	if e.Code >= http.StatusInternalServerError {
		a.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		a.log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	writeError(w, e)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/dogwalking/geoloc-service/internal/apperr"
)

// statusFor maps the apperr error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var validation *apperr.ValidationError
	var auth *apperr.AuthError
	var noCoverage *apperr.NoCoverageError
	var transient *apperr.TransientStorageError
	var permanent *apperr.PermanentStorageError
	var invariant *apperr.InvariantError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &noCoverage):
		return http.StatusNotFound
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &permanent):
		return http.StatusInternalServerError
	case errors.As(err, &invariant):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"net/http"

	"github.com/xraph/forge"
)

// mapError converts courier errors to Forge HTTP errors.
func mapError(err error) error {
	switch status := statusFor(err); status {
	case http.StatusBadRequest:
		return forge.BadRequest(err.Error())
	case http.StatusNotFound:
		return forge.NotFound(err.Error())
	case http.StatusConflict:
		return forge.NewHTTPError(status, err.Error())
	default:
		return forge.InternalError(err)
	}
}

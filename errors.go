package main

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse renders every API error the same way.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrResponse(err error, code int, status string) render.Renderer {
	resp := &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     status,
	}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

func ErrInvalidRequest(err error) render.Renderer {
	return newErrResponse(err, http.StatusBadRequest, "Invalid request.")
}

// ErrRejected is a well formed request the drive refused, e.g. a setpoint out of range.
func ErrRejected(err error) render.Renderer {
	return newErrResponse(err, http.StatusUnprocessableEntity, "Rejected.")
}

func ErrUnauthorized(err error) render.Renderer {
	return newErrResponse(err, http.StatusUnauthorized, "Unauthorized.")
}

func ErrPermissionDenied(err error) render.Renderer {
	return newErrResponse(err, http.StatusForbidden, "Permission denied.")
}

func ErrRender(err error) render.Renderer {
	return newErrResponse(err, http.StatusInternalServerError, "Error rendering response.")
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/apperr"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Action string `json:"action,omitempty"`
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperr.ErrForbidden:
		return http.StatusForbidden
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrInvalidInput:
		return http.StatusBadRequest
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPaymentRequired:
		return "insufficient_credits"
	default:
		return "internal"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Code: codeOf(status)}
	switch status {
	case http.StatusInternalServerError:
		s.opts.Log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		body.Error = "internal failure"
	case http.StatusPaymentRequired:
		body.Action = "purchase_credits"
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest reports a request that failed binding.
func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
}

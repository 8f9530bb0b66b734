package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope written to clients.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ToBody converts err into a status code and envelope. Internal errors are
// rendered without their cause.
func ToBody(err error) (int, Body) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, Body{Error: BodyError{Code: statusCode(he.Code), Message: msg}}
	}

	e := As(err)
	if e.Kind == KindInternal {
		return http.StatusInternalServerError, Body{Error: BodyError{Code: CodeInternal, Message: "internal server error"}}
	}
	code := e.Code
	if code == "" {
		code = e.Kind.String()
	}
	return e.Kind.HTTPStatus(), Body{Error: BodyError{
		Code:    code,
		Message: e.Message,
		Field:   e.Field,
		Details: e.Details,
	}}
}

func statusCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeDuplicate
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "bad_request"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusGatewayTimeout:
		return "timeout"
	}
	if status >= 500 {
		return CodeInternal
	}
	return "error"
}

// HTTPErrorHandler renders errors returned by handlers and middleware.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := ToBody(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

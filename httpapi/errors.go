package httpapi

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// ErrorBody is the error half of the response envelope
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

const internalMessage = "an unexpected server error occurred"

// ErrorHandler renders every error as the JSON envelope. It is installed as
// the fiber error handler so handlers can simply return errors.
func ErrorHandler(logger accounts.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = nopLogger{}
	}
	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
		} else {
			logger.Debug("%s %s rejected (%d %s): %v", c.Method(), c.Path(), status, body.Code, err)
		}
		return c.Status(status).JSON(errorEnvelope{Error: body})
	}
}

func errorResponse(err error) (int, ErrorBody) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorBody{Code: fiberCode(fiberErr.Code), Message: fiberErr.Message}
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError, ErrorBody{Code: "INTERNAL_ERROR", Message: internalMessage}
	}

	status := statusFor(richErr)
	body := ErrorBody{Code: richErr.TextCode, Message: richErr.Message}
	if status >= http.StatusInternalServerError {
		body.Message = internalMessage
	}
	if body.Code == "" {
		body.Code = categoryCode(richErr.Category)
	}
	if richErr.Category == goerrors.CategoryValidation {
		body.Fields = accounts.ValidationFields(richErr)
	}
	return status, body
}

// statusFor prefers the explicit code, then falls back on the category
func statusFor(e *goerrors.Error) int {
	if e.Code >= 400 && e.Code < 600 {
		return e.Code
	}
	switch e.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func categoryCode(c goerrors.Category) string {
	switch c {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return accounts.TextCodeValidation
	case goerrors.CategoryAuth:
		return "UNAUTHORIZED"
	case goerrors.CategoryAuthz:
		return accounts.TextCodeForbidden
	case goerrors.CategoryNotFound:
		return "NOT_FOUND"
	case goerrors.CategoryConflict:
		return "CONFLICT"
	case goerrors.CategoryOperation:
		return accounts.TextCodeProviderUnavailable
	default:
		return "INTERNAL_ERROR"
	}
}

func fiberCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "HTTP_ERROR"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

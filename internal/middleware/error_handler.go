package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"membership_checkout/internal/services"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: errorDetail{Code: code, Message: message}}
}

// NewErrorHandler renders every error as {"error":{"code","message"}}.
// Known service errors keep their code and status; anything else is a 500
// whose detail stays in the log.
func NewErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := errorBody("internal_error", "Something went wrong. Please try again later.")

		var he *echo.HTTPError
		if appErr, ok := services.PublicError(err); ok {
			status = appErr.Status
			body = errorBody(appErr.Code, appErr.Message)
		} else if errors.As(err, &he) {
			status = he.Code
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok && m != "" {
				msg = m
			}
			body = errorBody(httpErrorCode(he.Code), msg)
		}

		fields := []zap.Field{
			zap.Error(err),
			zap.Int("status", status),
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
		}
		if id, ok := IdentityFrom(c); ok {
			fields = append(fields, zap.String("user_uid", id.UID))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed", fields...)
		} else {
			logger.Info("Request rejected", fields...)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error("Failed to write error response", zap.Error(writeErr))
		}
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "error"
}

package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/auth"
	"github.com/fyrsmithlabs/docqa/internal/documents"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/store"
)

// errorStatus maps domain errors to a status and client message. ok is
// false for unexpected errors.
func errorStatus(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusBadRequest, "Email already registered", true
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials", true
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token", true
	case errors.Is(err, auth.ErrWrongPassword):
		return http.StatusForbidden, "Invalid password", true
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "A valid email and password are required", true
	case errors.Is(err, answer.ErrNoDocuments):
		return http.StatusBadRequest, "No documents ingested yet. Upload first.", true
	case errors.Is(err, answer.ErrEmptyQuestion):
		return http.StatusBadRequest, "Question is required", true
	case errors.Is(err, documents.ErrNoFiles):
		return http.StatusBadRequest, "No files provided", true
	case errors.Is(err, documents.ErrInvalidFilename):
		return http.StatusBadRequest, "Invalid filename", true
	case errors.Is(err, documents.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large", true
	case errors.Is(err, documents.ErrExtraction):
		return http.StatusUnprocessableEntity, "Could not extract text from file", true
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, "Not found", true
	}
	return http.StatusInternalServerError, "Internal server error", false
}

// handleError renders every handler error as {"detail": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ctx := c.Request().Context()

	status, msg := http.StatusInternalServerError, "Internal server error"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if m, isString := he.Message.(string); isString {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	default:
		var known bool
		status, msg, known = errorStatus(err)
		if known {
			s.logger.Debug(ctx, "request failed", zap.Int("status", status), zap.Error(err))
		} else {
			s.logger.Error(ctx, "request failed", zap.Error(err))
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]string{"detail": msg})
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response", zap.Error(err))
	}
}

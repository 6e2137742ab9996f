package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope for err. Dependency failures are logged and their cause is withheld.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	payload := errorPayload{
		Error: string(kind),
		Code:  apperr.CodeOf(err),
	}
	if kind == apperr.KindDependencyFailure {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		payload.Message = "internal server error"
	} else {
		payload.Message = errorMessage(err)
	}
	c.JSON(statusForKind(kind), payload)
}

func (h *httpHandler) respondInvalidBody(c *gin.Context, err error) {
	message := "request body is invalid"
	if err != nil {
		message = err.Error()
	}
	c.JSON(http.StatusBadRequest, errorPayload{Error: string(apperr.KindInvalidInput), Code: "request.invalid_body", Message: message})
}

// errorMessage returns the cause of an apperr.Error, falling back to its code.
func errorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if cause := appErr.Unwrap(); cause != nil {
			return cause.Error()
		}
		return appErr.Code()
	}
	return err.Error()
}

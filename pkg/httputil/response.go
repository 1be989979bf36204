package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
)

// ErrorBody is the error envelope returned to API clients
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

// Error represents API error
type Error struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RespondWithSuccess sends a 200 with the given payload
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondWithCreated sends a 201 with the given payload
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// RespondWithError maps err onto its HTTP status and error envelope
func RespondWithError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	status := appErr.StatusCode()

	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.Request.URL.Path).
			Msg("Request failed")
	}
	if appErr.Code == apperrors.ErrTransient {
		c.Header("Retry-After", "1")
	}

	c.AbortWithStatusJSON(status, ErrorBody{
		Success: false,
		Error: &Error{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

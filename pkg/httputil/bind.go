package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
)

var tagMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"min":      "is too small",
	"max":      "is too large",
	"ymd":      "must be a date in YYYY-MM-DD format",
	"hhmm":     "must be a time in HH:MM format",
}

// BindJSON decodes and validates the request body, returning a validation
// AppError that names each offending field.
func BindJSON(c *gin.Context, obj interface{}) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	return BindError(err)
}

// BindError converts a binding failure into an AppError
func BindError(err error) *apperrors.AppError {
	var (
		fieldErrs validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &fieldErrs):
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg, ok := tagMessages[fe.Tag()]
			if !ok {
				msg = "failed the " + fe.Tag() + " check"
			}
			fields[fe.Field()] = msg
		}
		appErr := apperrors.NewValidation("request validation failed")
		return appErr.WithDetail("fields", fields)
	case errors.As(err, &sizeErr):
		return &apperrors.AppError{
			Code:    apperrors.ErrTooLarge,
			Message: "request body too large",
			Err:     err,
		}
	case errors.As(err, &typeErr):
		return apperrors.NewValidationf("%s has the wrong type", typeErr.Field)
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.NewValidation("request body must be valid JSON")
	}
	return apperrors.NewValidation(err.Error())
}

package middleware

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/scheduling-api/internal/model"
)

// ValidationConfig represents validation configuration
type ValidationConfig struct {
	CustomValidators map[string]validator.Func
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomValidators: map[string]validator.Func{
			"ymd": func(fl validator.FieldLevel) bool {
				return model.ValidDate(fl.Field().String())
			},
			"hhmm": func(fl validator.FieldLevel) bool {
				return model.ValidTime(fl.Field().String())
			},
		},
	}
}

var configureOnce sync.Once

// ConfigureValidation registers custom tags on gin's validator and reports
// field errors by their JSON names. Only the first call has any effect.
func ConfigureValidation(config ValidationConfig) error {
	var err error
	configureOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		for tag, fn := range config.CustomValidators {
			if err = v.RegisterValidation(tag, fn); err != nil {
				return
			}
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return err
}

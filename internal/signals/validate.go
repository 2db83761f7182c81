package signals

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mbd888/sentinel/internal/decision"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator. validator.Validate caches
// struct metadata and is safe for concurrent use.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		validate = v
	})
	return validate
}

// Validate checks an event's field constraints and returns a
// *decision.ValidationError for the first violation.
func Validate(ev Event) error {
	if ev == nil {
		return decision.Invalid("event", "missing event")
	}
	if err := validatorInstance().Struct(ev); err != nil {
		return toValidationError(err)
	}

	switch e := ev.(type) {
	case Activity:
		if e.TimestampUTC.IsZero() {
			return decision.Invalid("timestampUtc", "required")
		}
	case *Activity:
		return Validate(*e)
	case *BehaviorSample:
		return Validate(*e)
	case *IncidentReport:
		return Validate(*e)
	case *CredentialClaim:
		return Validate(*e)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return decision.Invalid(field, reason)
	}
	return decision.Invalid("", err.Error())
}

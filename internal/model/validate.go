package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ParseClock parses an HH:MM time of day into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// configValidate checks AppConfig. Field rules live in the validate tags;
// rules spanning several fields are registered as struct validations.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their config key rather than the Go name.
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = configValidate.RegisterValidation("clock", validateClock)
	configValidate.RegisterStructValidation(validateRebootConfig, RebootConfig{})
	configValidate.RegisterStructValidation(validateSystemReboot, SystemRebootConfig{})
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String())
	return err == nil
}

// validateRebootConfig checks the timeframes as a sequence: only the last
// may be open-ended, each needs an interval and a range, and together
// they must be ordered and must not overlap.
func validateRebootConfig(sl validator.StructLevel) {
	rc := sl.Current().Interface().(RebootConfig)

	var prev *Timeframe
	for i, tc := range rc.Timeframes {
		tf := tc.Timeframe()
		field := fmt.Sprintf("timeframes[%d]", i)
		report := func(tag string) {
			sl.ReportError(tc, field, fmt.Sprintf("Timeframes[%d]", i), tag, "")
		}

		if tf.Max == nil && i != len(rc.Timeframes)-1 {
			report("openmax")
		}
		if tf.Max != nil && tf.Min >= *tf.Max {
			report("minmax")
		}
		if tf.Interval <= 0 {
			report("interval")
		}
		if prev != nil {
			switch {
			case tf.Min < prev.Min:
				report("ordered")
			case prev.Max != nil && tf.Min < *prev.Max:
				report("overlap")
			}
		}
		prev = &tf
	}
}

func validateSystemReboot(sl validator.StructLevel) {
	sr := sl.Current().Interface().(SystemRebootConfig)
	if sr.Enabled && len(sr.Command) == 0 {
		sl.ReportError(sr.Command, "command", "Command", "required", "")
	}
}

// Validate checks the configuration for values that would make the
// scheduler misbehave. It reports every problem found, joined.
func (c *AppConfig) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fieldError(fe))
	}
	return errors.Join(errs...)
}

// fieldError renders fe as "<config key>: <problem>".
func fieldError(fe validator.FieldError) error {
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}

	var msg string
	switch fe.Tag() {
	case "required", "required_if":
		msg = "is required"
	case "oneof":
		msg = fmt.Sprintf("%v is not one of: %s", fe.Value(), fe.Param())
	case "gt":
		msg = "must be greater than " + fe.Param()
	case "gte":
		msg = "must not be negative"
	case "min":
		if fe.Kind() == reflect.Slice {
			msg = "must have at least " + fe.Param() + " entry"
		} else {
			msg = fmt.Sprintf("%v is below %s", fe.Value(), fe.Param())
		}
	case "max":
		msg = fmt.Sprintf("%v is above %s", fe.Value(), fe.Param())
	case "clock":
		msg = fmt.Sprintf("invalid time %q, expected HH:MM", fe.Value())
	case "unique":
		msg = "duplicate " + strings.ToLower(fe.Param())
	case "openmax":
		msg = "only the last timeframe may omit its maximum"
	case "minmax":
		msg = "minimum must be less than maximum"
	case "interval":
		msg = "a reminder interval must be specified"
	case "ordered":
		msg = "timeframes must be ordered by minimum"
	case "overlap":
		msg = "overlaps the previous timeframe"
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return fmt.Errorf("%s: %s", key, msg)
}

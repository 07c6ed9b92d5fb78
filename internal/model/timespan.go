package model

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Timespan is a duration written the way operators write it in config
// files: "30s", "45M", "2h", "1h30m15s". Bare digits count as seconds.
type Timespan time.Duration

// ParseTimespan parses an h/m/s timespan. Units are case-insensitive and
// may appear in any order; trailing digits without a unit are seconds.
func ParseTimespan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timespan")
	}

	var total time.Duration
	var digits strings.Builder

	flush := func(unit time.Duration, name string) error {
		if digits.Len() == 0 {
			return fmt.Errorf("timespan %q: missing number before %s", s, name)
		}
		n, err := strconv.ParseUint(digits.String(), 10, 32)
		if err != nil {
			return fmt.Errorf("timespan %q: parsing %s: %w", s, name, err)
		}
		if n > uint64(math.MaxInt64/int64(unit)) {
			return fmt.Errorf("timespan %q: %s out of range", s, name)
		}
		part := time.Duration(n) * unit
		if total > math.MaxInt64-part {
			return fmt.Errorf("timespan %q: out of range", s)
		}
		total += part
		digits.Reset()
		return nil
	}

	for _, c := range s {
		var err error
		switch {
		case c >= '0' && c <= '9':
			digits.WriteRune(c)
		case c == 'h' || c == 'H':
			err = flush(time.Hour, "hours")
		case c == 'm' || c == 'M':
			err = flush(time.Minute, "minutes")
		case c == 's' || c == 'S':
			err = flush(time.Second, "seconds")
		default:
			return 0, fmt.Errorf("timespan %q: invalid character %q", s, c)
		}
		if err != nil {
			return 0, err
		}
	}

	if digits.Len() > 0 {
		if err := flush(time.Second, "seconds"); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// FormatTimespan renders d in the compact form accepted by ParseTimespan,
// dropping zero components ("1h30m", "2h", "45s"). Sub-second precision
// is truncated.
func FormatTimespan(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = -secs
	}
	h := secs / 3600
	m := (secs / 60) % 60
	sec := secs % 60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if sec > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", sec)
	}
	return b.String()
}

// Duration returns t as a time.Duration.
func (t Timespan) Duration() time.Duration { return time.Duration(t) }

func (t Timespan) String() string { return FormatTimespan(time.Duration(t)) }

// MarshalYAML writes the timespan in its compact string form.
func (t Timespan) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// MarshalText lets JSON and TOML encoders emit the compact form.
func (t Timespan) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the compact form.
func (t *Timespan) UnmarshalText(b []byte) error {
	d, err := ParseTimespan(string(b))
	if err != nil {
		return err
	}
	*t = Timespan(d)
	return nil
}

var (
	timespanType = reflect.TypeOf(Timespan(0))
	durationType = reflect.TypeOf(time.Duration(0))
)

// TimespanHookFunc converts strings and integers (seconds) into Timespan
// values while decoding configuration.
func TimespanHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != timespanType {
			return data, nil
		}
		if from == timespanType || from == durationType {
			return Timespan(reflect.ValueOf(data).Int()), nil
		}
		switch from.Kind() {
		case reflect.String:
			d, err := ParseTimespan(data.(string))
			if err != nil {
				return nil, err
			}
			return Timespan(d), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return Timespan(time.Duration(reflect.ValueOf(data).Int()) * time.Second), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return Timespan(time.Duration(reflect.ValueOf(data).Uint()) * time.Second), nil
		case reflect.Float32, reflect.Float64:
			return Timespan(time.Duration(reflect.ValueOf(data).Float() * float64(time.Second))), nil
		default:
			return data, nil
		}
	}
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimespan(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"45S", 45 * time.Second},
		{"30m", 30 * time.Minute},
		{"45M", 45 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3H", 3 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{"2H15M", 135 * time.Minute},
		{"1h30m15s", 90*time.Minute + 15*time.Second},
		{"1h15s", time.Hour + 15*time.Second},
		{"30m15s", 30*time.Minute + 15*time.Second},
		{"30", 30 * time.Second},
		{"1h30", time.Hour + 30*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimespan(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimespan_Invalid(t *testing.T) {
	for _, in := range []string{"", "1d", "1.5h", "h", "-1h", "1h 30m"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimespan(in)
			assert.Error(t, err)
		})
	}
}

func TestParseTimespan_OutOfRange(t *testing.T) {
	for _, in := range []string{"3000000h", "4294967295h", "2562047h2562047h", "2562047h60m"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimespan(in)
			assert.ErrorContains(t, err, "out of range")
		})
	}

	d, err := ParseTimespan("2562047h")
	assert.NoError(t, err)
	assert.Equal(t, 2562047*time.Hour, d)
}

func TestFormatTimespan(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{30 * time.Minute, "30m"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h30m"},
		{time.Hour + 15*time.Second, "1h15s"},
		{90*time.Minute + 15*time.Second, "1h30m15s"},
		{30*time.Minute + 15*time.Second, "30m15s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTimespan(tt.in))
			back, err := ParseTimespan(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestTimespanHookFunc(t *testing.T) {
	hook := TimespanHookFunc()

	got, err := hook(stringType, timespanType, "1h30m")
	require.NoError(t, err)
	assert.Equal(t, Timespan(90*time.Minute), got)

	got, err = hook(intType, timespanType, 45)
	require.NoError(t, err)
	assert.Equal(t, Timespan(45*time.Second), got)

	got, err = hook(timespanType, timespanType, Timespan(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Timespan(time.Minute), got)

	_, err = hook(stringType, timespanType, "soon")
	assert.Error(t, err)

	got, err = hook(stringType, stringType, "untouched")
	require.NoError(t, err)
	assert.Equal(t, "untouched", got)
}

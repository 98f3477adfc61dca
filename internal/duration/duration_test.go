package duration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"2h", 120},
		{"3d", 4320},
		{"45m", 45},
		{"0.5h", 30},
		{"1.5d", 2160},
		{".25h", 15},
		{"0h", 0},
		{"2H", 120},
		{"  3 d ", 4320},
		{"10 m", 10},
		{"0.1m", 0.1},

		// soft-fail shapes
		{"", 0},
		{"invalid", 0},
		{"2", 0},
		{"h", 0},
		{"2h30m", 0},
		{"-2h", 0},
		{"2w", 0},
		{"two hours", 0},
		{"2.h", 0},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.InDelta(t, tc.want, Parse(tc.in), 1e-9)
		})
	}
}

func TestParseAny(t *testing.T) {
	assert.Equal(t, float64(0), ParseAny(nil))
	assert.Equal(t, float64(0), ParseAny(42))
	assert.Equal(t, float64(0), ParseAny([]string{"2h"}))
	assert.Equal(t, float64(120), ParseAny("2h"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0h"))
	assert.True(t, Valid("1.25D"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("2 hours"))
	assert.False(t, Valid("-1m"))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0m"},
		{-5, "0m"},
		{45, "45m"},
		{60, "1h"},
		{90, "1h 30m"},
		{1440, "1d"},
		{1590, "1d 2h 30m"},
		{30.5, "30.5m"},
		{1500, "1d 1h"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Format(tc.in), "Format(%v)", tc.in)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, text := range []string{"45m", "2h", "3d"} {
		assert.Equal(t, text, Format(Parse(text)))
	}
}

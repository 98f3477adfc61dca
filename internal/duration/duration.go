// Package duration converts work-item duration text such as "2h", "3d" or
// "45m" into minutes.
//
// Parsing is soft-fail: any text that does not have the shape
// <number><unit> yields zero minutes instead of an error. Callers that want
// diagnostics check the text with Valid before it reaches the engine.
package duration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 1440
)

// pattern accepts one non-negative integer or decimal immediately followed
// by a single unit letter, with optional surrounding whitespace.
var pattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?|\.\d+)\s*([hdm])\s*$`)

// Parse returns the number of minutes described by text, or 0 when text is
// empty or malformed. Hours convert x60 and days x1440; fractional results
// are not rounded.
func Parse(text string) float64 {
	value, unit, ok := split(text)
	if !ok {
		return 0
	}
	switch unit {
	case 'h':
		return value * minutesPerHour
	case 'd':
		return value * minutesPerDay
	default:
		return value
	}
}

// ParseAny is Parse for loosely typed input such as decoded JSON: nil and
// anything that is not a string yield 0.
func ParseAny(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	return Parse(s)
}

// Valid reports whether text has a shape Parse accepts. "0h" is valid even
// though it parses to zero.
func Valid(text string) bool {
	_, _, ok := split(text)
	return ok
}

func split(text string) (float64, byte, bool) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(value, 0) {
		return 0, 0, false
	}
	return value, strings.ToLower(m[2])[0], true
}

// Format renders minutes compactly as days, hours and minutes, e.g.
// 1590 -> "1d 2h 30m". Zero and negative inputs render as "0m"; a fractional
// remainder keeps one decimal on the minutes part.
func Format(minutes float64) string {
	if minutes <= 0 || math.IsNaN(minutes) {
		return "0m"
	}

	whole := math.Floor(minutes)
	frac := minutes - whole
	total := int64(whole)

	days := total / minutesPerDay
	total %= minutesPerDay
	hours := total / minutesPerHour
	mins := float64(total%minutesPerHour) + frac

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 || len(parts) == 0 {
		parts = append(parts, formatMinutes(mins))
	}
	return strings.Join(parts, " ")
}

func formatMinutes(m float64) string {
	if m == math.Trunc(m) {
		return fmt.Sprintf("%dm", int64(m))
	}
	return strconv.FormatFloat(m, 'f', 1, 64) + "m"
}

// Package format holds the display conventions shared by field derivation
// and anything else that renders receiver telemetry.
//
// Every function is pure.
package format

import (
	"strconv"
	"strings"
)

// Display strings.
const (
	NoData   = "No Data"
	NoSignal = "0 Mbps (No Signal)"
	Yes      = "Yes"
	No       = "No"
)

// Bitrate renders a bits-per-second value as Mbps with two decimals.
// A source that is not receiving, or a missing value, renders as NoData.
func Bitrate(bps *float64, receiving bool) string {
	if !receiving || bps == nil {
		return NoData
	}
	if *bps == 0 {
		return NoSignal
	}
	return strconv.FormatFloat(*bps/1_000_000, 'f', 2, 64) + " Mbps"
}

// SanitizeIdentifier replaces every rune outside [A-Za-z0-9_] with '_'.
// The rune count is preserved, so the function is idempotent.
func SanitizeIdentifier(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// YesNo renders a flag.
func YesNo(b bool) string {
	if b {
		return Yes
	}
	return No
}

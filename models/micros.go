package models

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of micros in one credit or one share.
const Scale int64 = 1_000_000

// FormatMicros renders a micros amount as a decimal string for logs and
// terminal output. Amounts never leave the core in this form.
func FormatMicros(micros int64) string {
	return decimal.New(micros, -6).StringFixed(6)
}

// ParseMicros converts a decimal string such as "12.5" to micros,
// truncating digits beyond the sixth decimal place.
func ParseMicros(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(6).Truncate(0).IntPart(), nil
}

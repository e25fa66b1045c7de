package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// persian (۰-۹) and arabic-indic (٠-٩) digits -> ascii
var digitsReplacer = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4", "۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4", "٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanDigits trims `s` and converts Persian and Arabic-Indic digits to ASCII digits.
func CleanDigits(s string) string {
	return digitsReplacer.Replace(strings.TrimSpace(s))
}

// Now returns the current UTC time truncated to what Postgres stores (microseconds).
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Today returns today's date (UTC midnight).
func Today() time.Time {
	return DateOf(time.Now())
}

// DateOf returns the UTC midnight of t's calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Getwd returns the project root: the closest parent directory holding a go.mod,
// or the current working directory when running outside of the source tree.
// go-test changes the working directory to the package being tested, hence the lookup.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}

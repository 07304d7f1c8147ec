package util

import (
	"strings"
	"time"
)

// FormatDateTpl formats t using a template with YYYY/YY/MM/DD/hh/mm/ss
// placeholders, e.g. "YYYY-MM-DD hh:mm". A zero time yields "".
func FormatDateTpl(t time.Time, tpl string) string {
	if t.IsZero() {
		return ""
	}
	replacements := [][2]string{
		{"YYYY", "2006"},
		{"YY", "06"},
		{"MM", "01"},
		{"DD", "02"},
		{"hh", "15"},
		{"mm", "04"},
		{"ss", "05"},
	}
	goTpl := tpl
	for _, r := range replacements {
		goTpl = strings.ReplaceAll(goTpl, r[0], r[1])
	}
	return t.Format(goTpl)
}

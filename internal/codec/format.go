package codec

import (
	"strconv"
	"strings"
)

// FormatDecimal renders a number in the consuming tool's comma-decimal
// convention, with a single leading zero stripped: 0.4 -> ",4", 12.5 ->
// "12,5". The tool's parser only accepts this shape; do not switch to
// period separators.
func FormatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	s = strings.Replace(s, ".", ",", 1)
	if strings.HasPrefix(s, "0,") {
		return s[1:]
	}
	return s
}

// ParseDecimal reads a number the way the tool writes them: comma as the
// decimal separator, stray unit suffixes and whitespace ignored. Empty or
// unparsable input yields 0 instead of failing the whole document.
func ParseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}

	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

// SanitizeToken reduces a business field to the [A-Za-z0-9-] alphabet used
// in exchange filenames and folder names; everything else becomes an
// underscore. The tool and downstream lookups both depend on this exact
// reduction.
func SanitizeToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// escapeValue substitutes the attribute delimiter with a typographic
// apostrophe. The transport has no escaping mechanism; the substitution is
// one-directional and nothing maps it back on decode.
func escapeValue(s string) string {
	return strings.ReplaceAll(s, "'", "’")
}

// normalizeKey collapses an attribute name for tolerant matching:
// uppercase, letters and digits only ("Long.net" -> "LONGNET").
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPhone renders a bare number as the +1_(nnn)_nnn-nnnn shape the
// tool prints on quote documents. Inputs that are too short pass through
// untouched.
func FormatPhone(v string) string {
	if v == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && strings.HasPrefix(d, "1") {
		d = d[1:]
	}
	if len(d) < 10 {
		return v
	}
	return "+1_(" + d[0:3] + ")_" + d[3:6] + "-" + d[6:]
}

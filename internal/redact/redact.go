package redact

import (
	"regexp"
	"strings"
	"unicode"
)

// Placeholder tokens
const (
	PhoneToken = "[PHONE]"
	NameToken  = "[NAME]"
	EmailToken = "[EMAIL]"
)

const (
	minPhoneDigits = 9
	maxPhoneDigits = 15
)

const honorifics = `(?:Mr|Mrs|Ms|Miss|Mx|Dr|Prof|Sir|Dame|Rev)`

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// candidates are filtered by digit count and the preceding character afterwards
	phoneCandidate = regexp.MustCompile(`\+?\(?\d[\d \t().\-]{6,}\d`)

	honorificName = regexp.MustCompile(`\b` + honorifics + `\.?\s+(?:[A-Z]\.\s*)*[A-Z][a-z'’\-]+(?:\s+[A-Z][a-z'’\-]+)?`)

	honorificPrefix = regexp.MustCompile(`^` + honorifics + `\.?$`)

	// timestamps in backend errors such as "2025-03-12 14:30:05"
	datePrefix = regexp.MustCompile(`^\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b`)
)

// Redactor replaces personal data with placeholder tokens.
// Name hints are matched case-sensitively.
type Redactor struct {
	names []*regexp.Regexp
}

// New builds a redactor for the given known identifiers (usually person names)
func New(known ...string) *Redactor {
	r := &Redactor{}
	for _, k := range known {
		r.names = append(r.names, namePatterns(k)...)
	}
	return r
}

// Redact is a one-shot helper around New(known...).String(text)
func Redact(text string, known []string) string {
	return New(known...).String(text)
}

// String redacts one piece of text. Redacting already-redacted text is a no-op.
func (r *Redactor) String(text string) string {
	if text == "" {
		return text
	}
	text = emailPattern.ReplaceAllString(text, EmailToken)
	text = redactPhones(text)
	text = honorificName.ReplaceAllString(text, NameToken)
	for _, p := range r.names {
		text = p.ReplaceAllString(text, NameToken)
	}
	return text
}

// Strings redacts every element, returning a new slice
func (r *Redactor) Strings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.String(s)
	}
	return out
}

func redactPhones(text string) string {
	matches := phoneCandidate.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if !isPhone(text, start, end) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(PhoneToken)
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func isPhone(text string, start, end int) bool {
	if start > 0 {
		prev := rune(text[start-1])
		// order and ticket numbers, or digits glued to a word
		if prev == '#' || unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(text) && text[end] == ':' {
		return false
	}
	if datePrefix.MatchString(text[start:end]) {
		return false
	}
	digits := 0
	for _, c := range text[start:end] {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

// namePatterns expands one hint into its full, initial, honorific, surname and given-name forms
func namePatterns(hint string) []*regexp.Regexp {
	var parts []string
	for _, f := range strings.Fields(hint) {
		if honorificPrefix.MatchString(f) {
			continue
		}
		f = strings.Trim(f, ".,")
		if len([]rune(f)) >= 2 {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	given := parts[0]
	prefix := `(?:` + honorifics + `\.?\s+)?`
	if len(parts) == 1 {
		return []*regexp.Regexp{
			regexp.MustCompile(`\b` + prefix + regexp.QuoteMeta(given) + `\b`),
		}
	}

	surname := parts[len(parts)-1]
	initial := string([]rune(given)[0])
	full := make([]string, len(parts))
	for i, p := range parts {
		full[i] = regexp.QuoteMeta(p)
	}

	return []*regexp.Regexp{
		regexp.MustCompile(`\b` + prefix + strings.Join(full, `\s+`) + `\b`),
		regexp.MustCompile(`\b` + prefix + `(?:` + regexp.QuoteMeta(given) + `|` + regexp.QuoteMeta(initial) + `\.?)\s+` + regexp.QuoteMeta(surname) + `\b`),
		regexp.MustCompile(`\b` + prefix + regexp.QuoteMeta(surname) + `\b`),
		regexp.MustCompile(`\b` + regexp.QuoteMeta(given) + `\b`),
	}
}

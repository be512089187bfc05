package structure

import (
	"regexp"
	"strings"

	"github.com/arcana/api/internal/models"
)

var (
	markdownHeading = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	boldHeading     = regexp.MustCompile(`^\s*(?:\*\*|__)([^*_].*?)(?:\*\*|__):?\s*$`)
)

// ParseSections splits generated text on Markdown headings and bold-only lines.
// Text before the first heading becomes an untitled section.
func ParseSections(text string) []models.Section {
	var (
		sections []models.Section
		current  *models.Section
		body     []string
	)

	flush := func() {
		b := strings.TrimSpace(strings.Join(body, "\n"))
		if current != nil {
			current.Body = b
			sections = append(sections, *current)
		} else if b != "" {
			sections = append(sections, models.Section{Body: b})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		heading, ok := headingOf(line)
		if !ok {
			body = append(body, line)
			continue
		}
		flush()
		current = &models.Section{Heading: heading}
	}
	flush()

	return sections
}

func headingOf(line string) (string, bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return cleanHeading(m[1]), true
	}
	if m := boldHeading.FindStringSubmatch(line); m != nil {
		return cleanHeading(m[1]), true
	}
	return "", false
}

func cleanHeading(h string) string {
	h = strings.Trim(h, "*_ \t")
	return strings.TrimSuffix(h, ":")
}

// structuralKeywords mark framing sections that are never element-bound
var structuralKeywords = regexp.MustCompile(`(?i)\b(?:opening|introduction|intro|overview|welcome|synthesis|summary|bringing it (?:all )?together|putting it (?:all )?together|big picture|overall|next steps?|moving forward|closing|conclusion|final thoughts?|guidance|reflection|reflect|journal(?:ing)? prompts?|questions to consider|key themes?|takeaways?|affirmation)\b`)

func isStructuralHeading(heading string) bool {
	return heading != "" && structuralKeywords.MatchString(heading)
}

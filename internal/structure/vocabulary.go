package structure

import (
	"regexp"
	"sort"
	"strings"
)

// Card is one entry of the controlled vocabulary
type Card struct {
	Name    string
	pattern *regexp.Regexp
	// loose replaces pattern once the card is requested; nil when pattern is already bare
	loose *regexp.Regexp
}

// Vocabulary resolves element identifiers and finds element references in text
type Vocabulary struct {
	cards  []*Card
	lookup map[string]*Card
	// lenient cards were requested, so their bare names count anywhere
	lenient map[*Card]bool
}

type matchRule int

const (
	// matchBare accepts "Magician" and "The Magician"
	matchBare matchRule = iota
	// matchArticle needs the article: "The Tower", never "tower"
	matchArticle
	// matchCardContext is for names that are ordinary words. They count only as
	// "Strength card", "Death (reversed)", "Justice, upright" or a line naming just the card.
	matchCardContext
)

var majorArcana = []struct {
	name    string
	rule    matchRule
	aliases []string
}{
	{"The Fool", matchArticle, nil},
	{"The Magician", matchBare, nil},
	{"The High Priestess", matchBare, nil},
	{"The Empress", matchBare, nil},
	{"The Emperor", matchBare, nil},
	{"The Hierophant", matchBare, nil},
	{"The Lovers", matchArticle, nil},
	{"The Chariot", matchArticle, nil},
	{"Strength", matchCardContext, nil},
	{"The Hermit", matchBare, nil},
	{"Wheel of Fortune", matchBare, nil},
	{"Justice", matchCardContext, nil},
	{"The Hanged Man", matchBare, nil},
	{"Death", matchCardContext, nil},
	{"Temperance", matchCardContext, nil},
	{"The Devil", matchArticle, nil},
	{"The Tower", matchArticle, nil},
	{"The Star", matchArticle, nil},
	{"The Moon", matchArticle, nil},
	{"The Sun", matchArticle, nil},
	{"Judgement", matchCardContext, []string{"Judgment"}},
	{"The World", matchArticle, nil},
}

const orientationWords = `(?i:reversed|upright|inverted)`

// majorPattern builds the matcher for alts under rule.
// Majors are matched case-sensitively so "death" or "the sun" in prose do not count.
func majorPattern(alts string, rule matchRule) *regexp.Regexp {
	switch rule {
	case matchArticle:
		return regexp.MustCompile(`\b[Tt]he\s+(?:` + alts + `)\b`)
	case matchCardContext:
		inline := `\b(?:` + alts + `)(?:\s+[Cc]ard\b|\s*\(` + orientationWords + `\)|,?\s+` + orientationWords + `\b)`
		// "## Death", "**Past: Justice**", "Outcome: The Strength (reversed)"
		line := `^[ \t]*(?:#{1,6}[ \t]+)?(?:\*\*)?(?:[^\n:*#]{1,40}:[ \t]*)?(?:[Tt]he[ \t]+)?(?:` + alts + `)` +
			`(?:[ \t]*\(` + orientationWords + `\))?(?:\*\*)?[ \t]*$`
		return regexp.MustCompile(`(?m)` + inline + `|` + line)
	default:
		return regexp.MustCompile(`\b(?:[Tt]he\s+)?(?:` + alts + `)\b`)
	}
}

var ranks = []struct {
	name    string
	aliases []string
}{
	{"Ace", []string{"1"}},
	{"Two", []string{"2"}},
	{"Three", []string{"3"}},
	{"Four", []string{"4"}},
	{"Five", []string{"5"}},
	{"Six", []string{"6"}},
	{"Seven", []string{"7"}},
	{"Eight", []string{"8"}},
	{"Nine", []string{"9"}},
	{"Ten", []string{"10"}},
	{"Page", []string{"Princess"}},
	{"Knight", []string{"Prince"}},
	{"Queen", nil},
	{"King", nil},
}

var suits = []struct {
	name    string
	aliases []string
}{
	{"Wands", []string{"Rods", "Staves", "Batons"}},
	{"Cups", []string{"Chalices"}},
	{"Swords", nil},
	{"Pentacles", []string{"Coins", "Disks", "Discs"}},
}

var deck = buildDeck()

func buildDeck() *Vocabulary {
	v := &Vocabulary{lookup: make(map[string]*Card), lenient: map[*Card]bool{}}

	for _, m := range majorArcana {
		bare := strings.TrimPrefix(m.name, "The ")
		names := append([]string{bare}, m.aliases...)

		var alts []string
		for _, n := range names {
			n = strings.TrimPrefix(n, "The ")
			alts = append(alts, regexp.QuoteMeta(n))
		}
		joined := strings.Join(alts, "|")
		card := &Card{Name: m.name, pattern: majorPattern(joined, m.rule)}
		if m.rule == matchCardContext {
			card.loose = majorPattern(joined, matchBare)
		}
		v.add(card, names...)
	}

	for _, s := range suits {
		suitNames := append([]string{s.name}, s.aliases...)
		for _, r := range ranks {
			rankNames := append([]string{r.name}, r.aliases...)
			card := &Card{
				Name:    r.name + " of " + s.name,
				pattern: regexp.MustCompile(`(?i)\b(?:` + quoteAll(rankNames) + `)\s+of\s+(?:` + quoteAll(suitNames) + `)\b`),
			}
			var names []string
			for _, rn := range rankNames {
				for _, sn := range suitNames {
					names = append(names, rn+" of "+sn)
				}
			}
			v.add(card, names...)
		}
	}

	return v
}

func (v *Vocabulary) add(card *Card, names ...string) {
	v.cards = append(v.cards, card)
	v.lookup[normalize(card.Name)] = card
	for _, n := range names {
		v.lookup[normalize(n)] = card
	}
}

// Deck returns the standard 78-card vocabulary
func Deck() *Vocabulary {
	return deck
}

// Size returns the number of entries
func (v *Vocabulary) Size() int {
	return len(v.cards)
}

// With returns a vocabulary for a spread of ids. Identifiers it does not know become
// new entries; requested cards whose names are ordinary words match bare.
func (v *Vocabulary) With(ids ...string) *Vocabulary {
	var (
		extra   []string
		lenient []*Card
	)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		switch c := v.lookup[normalize(id)]; {
		case c == nil:
			extra = append(extra, id)
		case c.loose != nil && !v.lenient[c]:
			lenient = append(lenient, c)
		}
	}
	if len(extra) == 0 && len(lenient) == 0 {
		return v
	}

	out := &Vocabulary{
		cards:   append([]*Card(nil), v.cards...),
		lookup:  make(map[string]*Card, len(v.lookup)+len(extra)),
		lenient: make(map[*Card]bool, len(v.lenient)+len(lenient)),
	}
	for k, c := range v.lookup {
		out.lookup[k] = c
	}
	for c := range v.lenient {
		out.lenient[c] = true
	}
	for _, c := range lenient {
		out.lenient[c] = true
	}
	for _, id := range extra {
		id = strings.TrimSpace(id)
		if _, dup := out.lookup[normalize(id)]; dup {
			continue
		}
		words := strings.Fields(id)
		for i := range words {
			words[i] = regexp.QuoteMeta(words[i])
		}
		out.add(&Card{
			Name:    id,
			pattern: regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`),
		})
	}
	return out
}

// Resolve maps an identifier or alias to its canonical name, or "" when unknown
func (v *Vocabulary) Resolve(id string) string {
	if c := v.lookup[normalize(id)]; c != nil {
		return c.Name
	}
	return ""
}

// Canonical resolves id, falling back to the trimmed identifier itself
func (v *Vocabulary) Canonical(id string) string {
	if name := v.Resolve(id); name != "" {
		return name
	}
	return strings.TrimSpace(id)
}

// Find returns the sorted canonical names of every entry referenced in text
func (v *Vocabulary) Find(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var found []string
	for _, c := range v.cards {
		p := c.pattern
		if v.lenient[c] {
			p = c.loose
		}
		if p.MatchString(text) {
			found = append(found, c.Name)
		}
	}
	sort.Strings(found)
	return found
}

func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimPrefix(s, "the ")
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return strings.Join(quoted, "|")
}

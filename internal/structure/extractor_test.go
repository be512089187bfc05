package structure

import (
	"testing"

	"github.com/arcana/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveSectionReading = `## Opening
Welcome to your reading. The Tower and The Star frame today's spread.

## The Tower
The Tower shows a sudden shake-up in your work life right now, because the structure you built no longer fits. Consider naming one thing you are ready to release this week.

## The Star
The Star appears in your future position, which means hope is returning after the upheaval. Try setting aside ten quiet minutes tomorrow to write what you want to rebuild.

## Synthesis
Together these cards describe a clearing followed by renewal.

## Next Steps
Take things one day at a time.
`

func elements(ids ...string) []models.Element {
	out := make([]models.Element, len(ids))
	for i, id := range ids {
		out[i] = models.Element{ID: id, Position: "position", Orientation: "upright"}
	}
	return out
}

func TestStructuralSectionsExcludedFromRatio(t *testing.T) {
	m := Extract(models.GeneratedArtifact{Text: fiveSectionReading}, elements("The Tower", "The Star"))

	assert.Equal(t, 2, m.SectionBreakdown.ElementBound)
	assert.Equal(t, 3, m.SectionBreakdown.Structural)
	assert.Equal(t, 2, m.CompleteElementSections)
	ratio, ok := m.CoverageRatio()
	require.True(t, ok)
	assert.Equal(t, 1.0, ratio)
	assert.Empty(t, m.MissingElements)
	assert.Empty(t, m.HallucinatedElements)
}

func TestHallucinatedElements(t *testing.T) {
	text := fiveSectionReading + "\nThe Moon also hovers in the background of this spread.\n"

	m := Extract(models.GeneratedArtifact{Text: text}, elements("The Tower", "The Star"))

	assert.Equal(t, []string{"The Moon"}, m.HallucinatedElements)
	assert.Empty(t, m.MissingElements)
	assert.Equal(t, []string{"The Moon", "The Star", "The Tower"}, m.ReferencedElements)
}

func TestMissingElementsUseRequestedIDs(t *testing.T) {
	text := "## The Tower\nThe Tower shows upheaval because change is due. Consider what to let go."

	m := Extract(models.GeneratedArtifact{Text: text}, elements("The Tower", "3 of Cups", "Death"))

	assert.Equal(t, []string{"3 of Cups", "Death"}, m.MissingElements)
}

func TestEmptyTextYieldsUndefinedRatio(t *testing.T) {
	for _, text := range []string{"", "   \n\n  "} {
		m := Extract(models.GeneratedArtifact{Text: text}, elements("The Tower"))

		assert.Zero(t, m.SectionBreakdown.ElementBound)
		assert.Zero(t, m.SectionBreakdown.Structural)
		assert.Zero(t, m.CompleteElementSections)
		assert.Nil(t, m.ElementCoverageRatio)
		assert.Equal(t, []string{"The Tower"}, m.MissingElements)
		assert.Empty(t, m.HallucinatedElements)
	}
}

func TestIncompleteSectionLowersRatio(t *testing.T) {
	text := `**The Tower**
The Tower shows upheaval right now, because the old plan cracked. Consider a small reset.

**The Star**
The Star is lovely.`

	m := Extract(models.GeneratedArtifact{Text: text}, elements("The Tower", "The Star"))

	assert.Equal(t, 2, m.SectionBreakdown.ElementBound)
	assert.Equal(t, 1, m.CompleteElementSections)
	ratio, _ := m.CoverageRatio()
	assert.Equal(t, 0.5, ratio)
}

func TestAmbiguousBodyIsStructural(t *testing.T) {
	text := `## Your Path
The Tower and The Star together show a clearing, because change makes room. Consider both.`

	a := Analyze(models.GeneratedArtifact{Text: text}, elements("The Tower", "The Star"))

	require.Len(t, a.Sections, 1)
	assert.Equal(t, KindStructural, a.Sections[0].Kind)
	assert.Nil(t, a.Metrics.ElementCoverageRatio)
}

func TestBodyNamingOneElementIsBound(t *testing.T) {
	text := `## Where You Stand
Three of Cups shows friends gathering, because you are ready for company. Try calling someone this week.`

	a := Analyze(models.GeneratedArtifact{Text: text}, elements("3 of Cups"))

	require.Len(t, a.Sections, 1)
	assert.Equal(t, KindElementBound, a.Sections[0].Kind)
	assert.Equal(t, "Three of Cups", a.Sections[0].Element)
	assert.True(t, a.Sections[0].Beats.Complete())
	assert.Empty(t, a.Metrics.MissingElements)
}

func TestDeclaredSectionsPreferred(t *testing.T) {
	artifact := models.GeneratedArtifact{
		Text: "unstructured text mentioning The Hermit",
		Sections: []models.Section{
			{Heading: "Introduction", Body: "A quiet spread."},
			{Heading: "The Hermit", Body: "The Hermit reflects solitude, because you need rest. Consider a slow evening."},
		},
	}

	m := Extract(artifact, elements("The Hermit"))

	assert.Equal(t, 1, m.SectionBreakdown.ElementBound)
	assert.Equal(t, 1, m.SectionBreakdown.Structural)
	assert.Equal(t, 1, m.CompleteElementSections)
}

func TestLeadingTextIsOwnSection(t *testing.T) {
	sections := ParseSections("A short preface.\n\n# Opening\nHello there.\n__Closing__\nBye.")

	require.Len(t, sections, 3)
	assert.Equal(t, "", sections[0].Heading)
	assert.Equal(t, "A short preface.", sections[0].Body)
	assert.Equal(t, "Opening", sections[1].Heading)
	assert.Equal(t, "Closing", sections[2].Heading)
	assert.Equal(t, "Bye.", sections[2].Body)
}

func TestVocabularyAliases(t *testing.T) {
	deck := Deck()

	assert.Equal(t, 78, deck.Size())
	assert.Equal(t, "Three of Cups", deck.Resolve("3 of cups"))
	assert.Equal(t, "Ace of Pentacles", deck.Resolve("Ace of Coins"))
	assert.Equal(t, "Judgement", deck.Resolve("Judgment"))
	assert.Equal(t, "The Tower", deck.Resolve("tower"))
	assert.Equal(t, "", deck.Resolve("The Void"))

	assert.Equal(t, []string{"Judgement", "Ten of Pentacles"}, deck.Find("Judgment follows the 10 of Coins."))
}

func TestMajorArcanaMatchCaseSensitively(t *testing.T) {
	found := Deck().Find("Fear of death and the sun setting on justice are common worries.")
	assert.Empty(t, found)

	found = Deck().With("Death").Find("Death arrives beside The Sun.")
	assert.Equal(t, []string{"Death", "The Sun"}, found)
}

func TestCommonWordMajorsNeedCardContext(t *testing.T) {
	prose := "## Finding Strength Through Change\n" +
		"Strength comes from how you respond. Justice is not the point here; Death of an old habit may be.\n" +
		"Temperance in all things. Judgment day is not coming."
	assert.Empty(t, Deck().Find(prose))

	cases := map[string]string{
		"the Strength card asks for patience": "Strength",
		"Death (reversed) slows the ending":   "Death",
		"Justice, upright, favors fairness":   "Justice",
		"## Temperance":                       "Temperance",
		"**Outcome: Judgment**":               "Judgement",
		"Past: The Strength (Reversed)":       "Strength",
	}
	for text, want := range cases {
		assert.Equal(t, []string{want}, Deck().Find(text), text)
	}
}

func TestTitleCaseProseIsNotHallucinated(t *testing.T) {
	text := `## The Tower
The Tower shows a sudden shake-up right now, because the old plan no longer fits. Consider what to release this week.

## Finding Strength Through Change
Strength comes from how you respond. Justice is not the point here; Death of an old habit may be.

## Three of Cups
The Three of Cups reflects friends gathering around you, which means support is close. Try calling one of them tomorrow.
`
	m := Extract(models.GeneratedArtifact{Text: text}, elements("The Tower", "Three of Cups"))

	assert.Empty(t, m.HallucinatedElements)
	assert.Empty(t, m.MissingElements)
	assert.Equal(t, []string{"The Tower", "Three of Cups"}, m.ReferencedElements)
}

func TestRequestedCommonWordMajorMatchesBare(t *testing.T) {
	text := "## Your card\nStrength shows quiet courage right now, because you kept going. Consider resting this weekend."

	m := Extract(models.GeneratedArtifact{Text: text}, elements("Strength"))

	assert.Empty(t, m.MissingElements)
	assert.Empty(t, m.HallucinatedElements)
	assert.Equal(t, 1, m.SectionBreakdown.ElementBound)

	m = Extract(models.GeneratedArtifact{Text: text}, elements("The Tower"))
	assert.Empty(t, m.HallucinatedElements)
	assert.Equal(t, []string{"The Tower"}, m.MissingElements)
}

func TestCustomElementsJoinVocabulary(t *testing.T) {
	text := "## Raven\nThe Raven oracle card shows a message arriving, because you asked. Consider listening."

	m := Extract(models.GeneratedArtifact{Text: text}, elements("Raven"))

	assert.Equal(t, 1, m.SectionBreakdown.ElementBound)
	assert.Empty(t, m.MissingElements)
	assert.Empty(t, m.HallucinatedElements)
}

func TestDetectBeats(t *testing.T) {
	b := DetectBeats("This card represents patience.")
	assert.True(t, b.Present)
	assert.False(t, b.Connector)
	assert.False(t, b.Next)
	assert.False(t, b.Complete())
}

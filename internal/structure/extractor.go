package structure

import (
	"sort"

	"github.com/arcana/api/internal/models"
)

// SectionKind classifies a parsed section
type SectionKind string

const (
	KindElementBound SectionKind = "element_bound"
	KindStructural   SectionKind = "structural"
)

// ClassifiedSection is a parsed section with its classification and beats
type ClassifiedSection struct {
	models.Section
	Kind    SectionKind
	Element string
	Beats   Beats
}

// Analysis is the full per-section view behind StructuralMetrics
type Analysis struct {
	Sections []ClassifiedSection
	Metrics  models.StructuralMetrics
}

// Extract computes structural metrics for an artifact against the requested elements.
// Empty or malformed text yields zero counts and an undefined coverage ratio.
func Extract(artifact models.GeneratedArtifact, elements []models.Element) models.StructuralMetrics {
	return Analyze(artifact, elements).Metrics
}

// Analyze classifies every section and derives the metrics
func Analyze(artifact models.GeneratedArtifact, elements []models.Element) Analysis {
	ids := models.ElementIDs(elements)
	vocab := Deck().With(ids...)

	requested := make(map[string]string, len(ids)) // canonical -> requested id
	for _, id := range ids {
		if c := vocab.Canonical(id); c != "" {
			if _, seen := requested[c]; !seen {
				requested[c] = id
			}
		}
	}

	sections := artifact.Sections
	if len(sections) == 0 {
		sections = ParseSections(artifact.Text)
	}

	var out Analysis
	m := &out.Metrics
	for _, s := range sections {
		cs := classify(s, vocab, requested)
		if cs.Kind == KindElementBound {
			m.SectionBreakdown.ElementBound++
			cs.Beats = DetectBeats(cs.Body)
			if cs.Beats.Complete() {
				m.CompleteElementSections++
			}
		} else {
			m.SectionBreakdown.Structural++
		}
		out.Sections = append(out.Sections, cs)
	}

	if m.SectionBreakdown.ElementBound > 0 {
		ratio := float64(m.CompleteElementSections) / float64(m.SectionBreakdown.ElementBound)
		m.ElementCoverageRatio = &ratio
	}

	referenced := vocab.Find(artifact.Text)
	if artifact.Text == "" {
		for _, s := range sections {
			referenced = append(referenced, vocab.Find(s.Heading+"\n"+s.Body)...)
		}
		referenced = dedupe(referenced)
	}
	m.ReferencedElements = nonNil(referenced)

	seen := make(map[string]bool, len(referenced))
	for _, name := range referenced {
		seen[name] = true
		if _, ok := requested[name]; !ok {
			m.HallucinatedElements = append(m.HallucinatedElements, name)
		}
	}
	for canonical, id := range requested {
		if !seen[canonical] {
			m.MissingElements = append(m.MissingElements, id)
		}
	}
	m.HallucinatedElements = dedupe(m.HallucinatedElements)
	m.MissingElements = dedupe(m.MissingElements)

	return out
}

func classify(s models.Section, vocab *Vocabulary, requested map[string]string) ClassifiedSection {
	cs := ClassifiedSection{Section: s, Kind: KindStructural}

	if isStructuralHeading(s.Heading) {
		return cs
	}

	inHeading := requestedIn(vocab.Find(s.Heading), requested)
	switch len(inHeading) {
	case 1:
		cs.Kind, cs.Element = KindElementBound, inHeading[0]
		return cs
	case 0:
	default:
		// a heading naming several elements is framing text
		return cs
	}

	if inBody := requestedIn(vocab.Find(s.Body), requested); len(inBody) == 1 {
		cs.Kind, cs.Element = KindElementBound, inBody[0]
	}
	return cs
}

func requestedIn(names []string, requested map[string]string) []string {
	var out []string
	for _, n := range names {
		if _, ok := requested[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

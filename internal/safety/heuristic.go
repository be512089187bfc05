package safety

import (
	"fmt"
	"math"

	"github.com/arcana/api/internal/models"
)

const (
	minCoverageRatio    = 0.3
	maxHallucinated     = 2
	heuristicNotePrefix = "heuristic fallback"
)

// Scorer produces a content-aware evaluation when the judge is unavailable
type Scorer struct {
	catalog *Catalog
}

// NewScorer creates a heuristic scorer over a pattern catalog
func NewScorer(catalog *Catalog) *Scorer {
	return &Scorer{catalog: catalog}
}

// Score scans text and metrics. Every dimension starts at the neutral anchor and each
// trigger can only lower its dimension.
func (s *Scorer) Score(text string, metrics models.StructuralMetrics) models.EvaluationResult {
	scores := make(map[string]int, len(models.Dimensions))
	for _, d := range models.Dimensions {
		scores[d] = models.NeutralScore
	}

	var (
		issues     []string
		flag       bool
		lowestSeen = math.MaxInt
	)
	force := func(dim string, score int) {
		if score < scores[dim] {
			scores[dim] = score
		}
		if score < lowestSeen {
			lowestSeen = score
		}
	}

	for _, cat := range s.catalog.ContentCategories() {
		if !cat.Match(text) {
			continue
		}
		force(cat.Dimension, cat.Score)
		flag = flag || cat.SafetyFlag
		issues = append(issues, fmt.Sprintf("%s phrasing detected", cat.Name))
	}

	if ratio, ok := metrics.CoverageRatio(); ok && ratio < minCoverageRatio {
		force(models.DimensionCardAccuracy, 2)
		flag = true
		issues = append(issues, fmt.Sprintf("element coverage ratio %.2f below %.1f", ratio, minCoverageRatio))
	}
	if n := len(metrics.HallucinatedElements); n > maxHallucinated {
		force(models.DimensionCardAccuracy, 2)
		flag = true
		issues = append(issues, fmt.Sprintf("%d hallucinated elements", n))
	}

	overall := meanScore(scores)
	if lowestSeen != math.MaxInt && overall > lowestSeen+1 {
		overall = lowestSeen + 1
	}

	notes := heuristicNotePrefix + ": no triggers"
	if len(issues) > 0 {
		notes = fmt.Sprintf("%s: %d trigger(s)", heuristicNotePrefix, len(issues))
	}

	return models.EvaluationResult{
		Source:          models.SourceHeuristic,
		DimensionScores: scores,
		Overall:         overall,
		SafetyFlag:      flag,
		Issues:          nonNilIssues(issues),
		Notes:           notes,
	}
}

func meanScore(scores map[string]int) int {
	sum := 0
	for _, d := range models.Dimensions {
		sum += scores[d]
	}
	return int(math.Round(float64(sum) / float64(len(models.Dimensions))))
}

func nonNilIssues(issues []string) []string {
	if issues == nil {
		return []string{}
	}
	return issues
}

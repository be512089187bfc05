package safety

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/arcana/api/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultCatalogYAML []byte

// Category names used by the scorer and precheck
const (
	CategoryCrisis              = "crisis"
	CategoryDeterministicDoom   = "deterministic_doom"
	CategoryMedicalAdvice       = "medical_advice"
	CategoryFinancialAdvice     = "financial_advice"
	CategoryMortalityPrediction = "mortality_prediction"
)

type catalogFile struct {
	Version         int            `yaml:"version"`
	FallbackMessage string         `yaml:"fallback_message"`
	Categories      []categoryFile `yaml:"categories"`
}

type categoryFile struct {
	Name       string   `yaml:"name"`
	Precheck   bool     `yaml:"precheck"`
	Dimension  string   `yaml:"dimension"`
	Score      int      `yaml:"score"`
	SafetyFlag bool     `yaml:"safety_flag"`
	Patterns   []string `yaml:"patterns"`
}

// Category is one compiled group of unsafe-content patterns.
// Compiled expressions are immutable and safe to share between goroutines.
type Category struct {
	Name       string
	Precheck   bool
	Dimension  string
	Score      int
	SafetyFlag bool
	patterns   []*regexp.Regexp
}

// Match reports whether any pattern of the category occurs in text
func (c *Category) Match(text string) bool {
	for _, p := range c.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Detector returns the category as a plain predicate
func (c *Category) Detector() func(string) bool {
	return c.Match
}

// Catalog is the parsed pattern catalog
type Catalog struct {
	Version         int
	FallbackMessage string
	categories      []*Category
	byName          map[string]*Category
}

// LoadCatalog parses and compiles a YAML catalog
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse safety catalog: %w", err)
	}
	if strings.TrimSpace(f.FallbackMessage) == "" {
		return nil, fmt.Errorf("safety catalog has no fallback_message")
	}

	c := &Catalog{
		Version:         f.Version,
		FallbackMessage: strings.TrimSpace(f.FallbackMessage),
		byName:          make(map[string]*Category, len(f.Categories)),
	}

	for _, cf := range f.Categories {
		if _, dup := c.byName[cf.Name]; dup {
			return nil, fmt.Errorf("duplicate safety category %q", cf.Name)
		}
		if !cf.Precheck {
			if !knownDimension(cf.Dimension) {
				return nil, fmt.Errorf("category %q: unknown dimension %q", cf.Name, cf.Dimension)
			}
			if cf.Score < 1 || cf.Score > 5 {
				return nil, fmt.Errorf("category %q: score %d out of range", cf.Name, cf.Score)
			}
		}

		cat := &Category{
			Name:       cf.Name,
			Precheck:   cf.Precheck,
			Dimension:  cf.Dimension,
			Score:      cf.Score,
			SafetyFlag: cf.SafetyFlag,
		}
		for _, p := range cf.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("category %q: bad pattern %q: %w", cf.Name, p, err)
			}
			cat.patterns = append(cat.patterns, re)
		}
		c.categories = append(c.categories, cat)
		c.byName[cat.Name] = cat
	}

	if _, ok := c.byName[CategoryCrisis]; !ok {
		return nil, fmt.Errorf("safety catalog has no %s category", CategoryCrisis)
	}
	return c, nil
}

var defaultCatalog = mustLoadDefault()

func mustLoadDefault() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// Category returns a category by name, or nil
func (c *Catalog) Category(name string) *Category {
	return c.byName[name]
}

// ContentCategories returns the categories scanned in generated text, in file order
func (c *Catalog) ContentCategories() []*Category {
	var out []*Category
	for _, cat := range c.categories {
		if !cat.Precheck {
			out = append(out, cat)
		}
	}
	return out
}

func knownDimension(d string) bool {
	for _, dim := range models.Dimensions {
		if d == dim {
			return true
		}
	}
	return false
}

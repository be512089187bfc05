package safety

// Precheck scans user-supplied context for acute-risk language before any generation happens
type Precheck struct {
	catalog *Catalog
}

// NewPrecheck creates a precheck over the catalog's precheck categories
func NewPrecheck(catalog *Catalog) *Precheck {
	return &Precheck{catalog: catalog}
}

// Triggered reports whether text contains crisis language
func (p *Precheck) Triggered(text string) bool {
	for _, cat := range p.catalog.categories {
		if cat.Precheck && cat.Match(text) {
			return true
		}
	}
	return false
}

// FallbackMessage is the fixed text delivered instead of a reading
func (p *Precheck) FallbackMessage() string {
	return p.catalog.FallbackMessage
}

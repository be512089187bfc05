package backends

import (
	"fmt"
	"strings"

	"github.com/arcana/api/internal/models"
)

// systemPrompt is shared by every model-backed variant
const systemPrompt = `You are a warm, grounded tarot reader. Write in second person.
Structure the reading with Markdown "## " headings:
- "## Opening" to set the scene,
- one "## <Card Name>" section per card, in the order given,
- "## Synthesis" tying the cards together,
- "## Next Steps" with gentle, concrete suggestions.
In every card section say what the card shows in its position, connect it to the querent's situation,
and offer one next step they could take.
Only mention the cards listed. Never predict death, illness or financial outcomes, never give medical,
legal or financial directives, and never describe the future as fixed.`

var templateGuidance = map[string]string{
	"single":         "This is a single-card pull. Keep it focused and brief.",
	"three_card":     "This is a past, present, future spread.",
	"celtic_cross":   "This is a ten-card Celtic Cross. Give each position its traditional meaning.",
	"relationship":   "This spread explores a relationship between the querent and another person.",
	"decision":       "This spread weighs two paths the querent is choosing between.",
	"yearly_outlook": "This spread looks at themes for the months ahead, without fixed predictions.",
}

// BuildPrompt renders the user prompt for a reading request
func BuildPrompt(req models.GenerationRequest) string {
	var b strings.Builder

	if g, ok := templateGuidance[req.TemplateKey]; ok {
		b.WriteString(g)
		b.WriteString("\n\n")
	}

	b.WriteString("Cards:\n")
	for i, e := range req.Elements {
		orientation := e.Orientation
		if orientation == "" {
			orientation = "upright"
		}
		if e.Position != "" {
			fmt.Fprintf(&b, "%d. %s (%s) in the %s position\n", i+1, e.ID, orientation, e.Position)
		} else {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, e.ID, orientation)
		}
	}

	if ctx := strings.TrimSpace(req.UserContext); ctx != "" {
		b.WriteString("\nWhat the querent shared:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	if prior := strings.TrimSpace(req.PriorContextSummary); prior != "" {
		b.WriteString("\nFrom their earlier readings:\n")
		b.WriteString(prior)
		b.WriteString("\n")
	}

	return b.String()
}

// SystemPrompt returns the shared system prompt
func SystemPrompt() string {
	return systemPrompt
}

package judge

import (
	"bytes"
	"encoding/json"

	"github.com/arcana/api/internal/models"
)

type response struct {
	IssuesFound []string       `json:"issues_found"`
	Scores      map[string]int `json:"scores"`
	Overall     *int           `json:"overall"`
	SafetyFlag  bool           `json:"safety_flag"`
	Notes       string         `json:"notes"`
}

// ParseResponse validates a judge JSON document. Per-dimension scores may sit under
// "scores" or at the top level. Any missing or out-of-range score is a judge failure.
func ParseResponse(raw []byte) (models.EvaluationResult, error) {
	raw = stripFences(raw)

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.EvaluationResult{}, unavailable("malformed JSON: %v", err)
	}

	scores := make(map[string]int, len(models.Dimensions))
	if len(resp.Scores) == 0 {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(raw, &top); err != nil {
			return models.EvaluationResult{}, unavailable("malformed JSON: %v", err)
		}
		for _, d := range models.Dimensions {
			v, ok := top[d]
			if !ok {
				continue
			}
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return models.EvaluationResult{}, unavailable("score %s is not an integer", d)
			}
			scores[d] = n
		}
	} else {
		for _, d := range models.Dimensions {
			if n, ok := resp.Scores[d]; ok {
				scores[d] = n
			}
		}
	}

	for _, d := range models.Dimensions {
		n, ok := scores[d]
		if !ok {
			return models.EvaluationResult{}, unavailable("missing score %s", d)
		}
		if n < 1 || n > 5 {
			return models.EvaluationResult{}, unavailable("score %s=%d out of range", d, n)
		}
	}
	if resp.Overall == nil {
		return models.EvaluationResult{}, unavailable("missing overall")
	}
	if *resp.Overall < 1 || *resp.Overall > 5 {
		return models.EvaluationResult{}, unavailable("overall=%d out of range", *resp.Overall)
	}

	issues := resp.IssuesFound
	if issues == nil {
		issues = []string{}
	}

	return models.EvaluationResult{
		Source:          models.SourceJudge,
		DimensionScores: scores,
		Overall:         *resp.Overall,
		SafetyFlag:      resp.SafetyFlag,
		Issues:          issues,
		Notes:           resp.Notes,
	}, nil
}

func stripFences(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```"))
	raw = bytes.TrimPrefix(raw, []byte("json"))
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}

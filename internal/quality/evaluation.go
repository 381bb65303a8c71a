package quality

import "strings"

// Rating grades a single evaluation dimension.
type Rating string

const (
	RatingPass        Rating = "pass"
	RatingMinorIssues Rating = "minor_issues"
	RatingMajorIssues Rating = "major_issues"
	RatingFail        Rating = "fail"
)

// Severity classifies an individual issue found during evaluation.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// DimensionScore is one weighted evaluation dimension.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Rating    Rating  `json:"rating"`
	Weight    float64 `json:"weight"`
}

// Issue describes a defect the evaluator found in a generated artifact.
type Issue struct {
	Department   string   `json:"department"`
	Category     string   `json:"category"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// PromptCorrection is a targeted rewrite of a prompt section derived from an
// evaluation, applied before the next retry attempt.
type PromptCorrection struct {
	OriginalSection  string `json:"original_section"`
	CorrectedSection string `json:"corrected_section"`
	Reasoning        string `json:"reasoning,omitempty"`
}

// Evaluation is the structured result of judging one generated artifact.
type Evaluation struct {
	Overall           string             `json:"overall"`
	Scores            []DimensionScore   `json:"scores"`
	Issues            []Issue            `json:"issues,omitempty"`
	Feedback          string             `json:"feedback,omitempty"`
	PromptCorrections []PromptCorrection `json:"prompt_corrections,omitempty"`
	RuleSuggestion    string             `json:"rule_suggestion,omitempty"`
}

var ratingPercent = map[Rating]float64{
	RatingPass:        1.0,
	RatingMinorIssues: 0.75,
	RatingMajorIssues: 0.5,
	RatingFail:        0.25,
}

// Score reduces an evaluation to a single number in [0,1]: the weighted sum of
// per-dimension rating percentages normalized by total weight. Weights need
// not sum to 1. Unknown ratings count as fail; an evaluation with no usable
// weights scores 0.
func Score(eval Evaluation) float64 {
	var weighted, totalWeight float64
	for _, dim := range eval.Scores {
		if dim.Weight <= 0 {
			continue
		}
		pct, ok := ratingPercent[normalizeRating(dim.Rating)]
		if !ok {
			pct = ratingPercent[RatingFail]
		}
		weighted += pct * dim.Weight
		totalWeight += dim.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

func normalizeRating(r Rating) Rating {
	return Rating(strings.ToLower(strings.TrimSpace(string(r))))
}

// ApplyCorrections rewrites prompt sections named by the evaluation's prompt
// corrections. Sections that do not occur in the prompt are skipped; when no
// correction applies the prompt is returned unchanged so the caller retries
// the original wording.
func ApplyCorrections(prompt string, eval Evaluation) string {
	corrected := prompt
	for _, correction := range eval.PromptCorrections {
		original := strings.TrimSpace(correction.OriginalSection)
		if original == "" || correction.CorrectedSection == "" {
			continue
		}
		corrected = strings.ReplaceAll(corrected, original, correction.CorrectedSection)
	}
	return corrected
}

package domain

// MaxScore is the score of an audit with no deductions.
const MaxScore = 100.0

// ScoreResult is the outcome of scoring one set of verdicts.
type ScoreResult struct {
	Score     float64
	IsFailure bool

	// CriticalFailure is true when a critical criterion was not met.
	CriticalFailure bool

	// Unmatched lists criterion questions that received no verdict. They
	// are scored as compliant.
	Unmatched []string

	// Ignored lists verdict questions that match no criterion.
	Ignored []string
}

// Score converts verdicts into a numeric score and pass/fail flag.
//
// Verdicts are matched to criteria by exact question text. A non-compliant
// critical criterion yields (0, true) regardless of every other verdict.
// Otherwise each non-compliant criterion deducts its target score from 100,
// the result is clamped at 0, and the audit fails when the score is below
// approvalThreshold. Score is pure and deterministic.
func Score(verdicts []Verdict, criteria []Criterion, approvalThreshold float64) ScoreResult {
	byQuestion := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		byQuestion[v.Question] = v
	}

	var res ScoreResult
	known := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		known[c.Question] = struct{}{}
		if _, ok := byQuestion[c.Question]; !ok {
			res.Unmatched = append(res.Unmatched, c.Question)
		}
	}
	for _, v := range verdicts {
		if _, ok := known[v.Question]; !ok {
			res.Ignored = append(res.Ignored, v.Question)
		}
	}

	for _, c := range criteria {
		if !c.Critical {
			continue
		}
		if v, ok := byQuestion[c.Question]; ok && !v.Complies {
			res.CriticalFailure = true
			res.IsFailure = true
			return res
		}
	}

	score := MaxScore
	for _, c := range criteria {
		if c.Critical {
			continue
		}
		if v, ok := byQuestion[c.Question]; ok && !v.Complies {
			score -= c.TargetScore
		}
	}
	if score < 0 {
		score = 0
	}

	res.Score = score
	res.IsFailure = score < approvalThreshold
	return res
}

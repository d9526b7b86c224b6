package gate

// confidence is the fraction of auto-checks that passed, or 1.0 when
// there are none. Manual criteria never affect the score.
func confidence(checks []CheckResult) float64 {
	if len(checks) == 0 {
		return 1.0
	}
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// missingManual returns the manual criteria not ticked in checklist.
func missingManual(criteria []Criterion, checklist map[string]bool) []string {
	var missing []string
	for _, c := range criteria {
		if c.automated() {
			continue
		}
		if !checklist[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// score fills in the derived fields of res for criteria, checklist and p.
func score(res *EvaluationResult, criteria []Criterion, checklist map[string]bool, p *Policy) {
	res.Confidence = confidence(res.Checks)
	res.AllAutoPassed = true
	for _, c := range res.Checks {
		if !c.Passed {
			res.AllAutoPassed = false
		}
	}
	res.MissingManual = missingManual(criteria, checklist)
	res.ManualComplete = len(res.MissingManual) == 0
	res.CanAutoApprove = canAutoApprove(p, res)
}

// canAutoApprove applies p to a scored result.
func canAutoApprove(p *Policy, res *EvaluationResult) bool {
	if p == nil || !p.Enabled {
		return false
	}
	if res.Error != "" {
		return false
	}
	if res.Confidence < p.MinConfidence {
		return false
	}
	if p.RequireAllAuto && !res.AllAutoPassed {
		return false
	}
	if p.RequireAllManual && !res.ManualComplete {
		return false
	}
	return true
}

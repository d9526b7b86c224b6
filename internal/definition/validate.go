package definition

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/hookline/internal/gate"
	"github.com/Iron-Ham/hookline/internal/molecule"
	"github.com/Iron-Ham/hookline/internal/verify"
)

// Validate checks a Bundle for structural issues and returns them as
// human-readable strings. An empty list means the bundle is valid.
//
// Checks include:
//   - gates and templates need a name; explicit ids are unique
//   - criterion names are unique within a gate
//   - the policy is a known preset with a threshold in [0,1]
//   - every verification command passes v (the default allowlist when nil)
//   - template steps form a valid graph
//   - gate steps name a gate
func Validate(b *Bundle, v *verify.Validator) []string {
	if v == nil {
		v = verify.NewValidator()
	}
	var issues []string

	gateIDs := make(map[string]int, len(b.Gates))
	for i, g := range b.Gates {
		prefix := fmt.Sprintf("gates[%d]", i)
		if g.Name != "" {
			prefix = fmt.Sprintf("%s %q", prefix, g.Name)
		}
		if strings.TrimSpace(g.Name) == "" {
			issues = append(issues, prefix+": name is required")
		}
		if g.ID != "" {
			if first, ok := gateIDs[g.ID]; ok {
				issues = append(issues, fmt.Sprintf("%s: duplicate id %q (first used at gates[%d])", prefix, g.ID, first))
			} else {
				gateIDs[g.ID] = i
			}
		}
		if _, err := gate.PolicyByName(g.Policy, g.MinConfidence); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
		}
		if g.TimeoutSeconds < 0 {
			issues = append(issues, prefix+": timeout_seconds must be non-negative")
		}
		issues = append(issues, validateCriteria(prefix, g.Criteria, v)...)
	}

	templateIDs := make(map[string]int, len(b.Templates))
	for i, t := range b.Templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if t.Name != "" {
			prefix = fmt.Sprintf("%s %q", prefix, t.Name)
		}
		if strings.TrimSpace(t.Name) == "" {
			issues = append(issues, prefix+": name is required")
		}
		if t.ID != "" {
			if first, ok := templateIDs[t.ID]; ok {
				issues = append(issues, fmt.Sprintf("%s: duplicate id %q (first used at templates[%d])", prefix, t.ID, first))
			} else {
				templateIDs[t.ID] = i
			}
		}
		if err := molecule.ValidateSteps(t.Steps); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
		}
		for j, s := range t.Steps {
			if s.IsGate && s.GateID == "" {
				issues = append(issues, fmt.Sprintf("%s steps[%d] %q: gate step needs gate_id", prefix, j, s.Name))
			}
		}
	}
	return issues
}

func validateCriteria(prefix string, criteria []gate.Criterion, v *verify.Validator) []string {
	var issues []string
	seen := make(map[string]int, len(criteria))
	for i, c := range criteria {
		at := fmt.Sprintf("%s criteria[%d]", prefix, i)
		if strings.TrimSpace(c.Name) == "" {
			issues = append(issues, at+": name is required")
		} else if first, ok := seen[c.Name]; ok {
			issues = append(issues, fmt.Sprintf("%s: duplicate criterion %q (first used at criteria[%d])", at, c.Name, first))
		} else {
			seen[c.Name] = i
		}
		if c.Command == "" {
			continue
		}
		if !c.AutoCheck {
			issues = append(issues, fmt.Sprintf("%s %q: command is only run for auto_check criteria", at, c.Name))
			continue
		}
		if res := v.Validate(c.Command); !res.Valid {
			issues = append(issues, fmt.Sprintf("%s %q: command %q blocked (%s): %s", at, c.Name, c.Command, res.Rule, res.Reason))
		}
	}
	return issues
}

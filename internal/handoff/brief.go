package handoff

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/hookline/internal/hook"
)

// Brief renders assignments as a plain-text block grouped by kind, in
// first-seen order. It returns "" for no assignments.
func Brief(assignments []Assignment) string {
	if len(assignments) == 0 {
		return ""
	}

	groups := make(map[hook.Kind][]Assignment)
	var order []hook.Kind
	for _, a := range assignments {
		k := a.Item().Kind
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}

	var b strings.Builder
	for i, k := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", strings.ToUpper(string(k)))
		for _, a := range groups[k] {
			item := a.Item()
			fmt.Fprintf(&b, "  %s  %s\n", item.ID, item.Title)
			fmt.Fprintf(&b, "  %s\n", describe(a))
		}
	}
	return b.String()
}

func describe(a Assignment) string {
	switch a := a.(type) {
	case *StepAssignment:
		s := fmt.Sprintf("workflow %s step %s (%s)", a.WorkflowID, a.StepID, a.Department)
		if a.IsGate {
			s += " submit to " + a.GateID
		}
		return s
	case *ReviewAssignment:
		s := fmt.Sprintf("gate %s submission %s by %s, confidence %.2f", a.GateID, a.SubmissionID, a.SubmittedBy, a.Confidence)
		if len(a.MissingManual) > 0 {
			s += ", missing: " + strings.Join(a.MissingManual, ", ")
		}
		return s
	case *EscalationAssignment:
		return fmt.Sprintf("%s %s failed: %s", a.Source, a.SourceID, a.Reason)
	}
	return ""
}

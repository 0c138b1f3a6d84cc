package condition

import (
	"fmt"
	"sort"

	"github.com/wrenchchatrepo/wrenchai-sub000/playbook"
)

// FoundCondition is one condition expression extracted from a playbook
// step.
type FoundCondition struct {
	StepID     string   `json:"step_id"`
	Field      string   `json:"field"`
	Expression string   `json:"expression"`
	Variables  []string `json:"variables"`
	Error      string   `json:"error,omitempty"`
}

// ScanReport is the result of scanning a playbook's conditions.
type ScanReport struct {
	Conditions   []FoundCondition `json:"conditions"`
	Variables    []string         `json:"variables"`
	SyntaxErrors []FoundCondition `json:"syntax_errors"`
}

// ScanPlaybook extracts every condition from a playbook's process,
// handoff, and feedback-loop steps, validates each, and reports the union
// of referenced variables plus any syntax errors.
func (e *Evaluator) ScanPlaybook(pb *playbook.Playbook) ScanReport {
	var report ScanReport
	variables := make(map[string]struct{})

	record := func(stepID, field, expr string) {
		if expr == "" {
			return
		}
		found := FoundCondition{StepID: stepID, Field: field, Expression: expr}
		if ok, msg := e.ValidateSyntax(expr); !ok {
			found.Error = msg
			report.SyntaxErrors = append(report.SyntaxErrors, found)
		} else if refs, err := e.ReferencedVariables(expr); err == nil {
			for name := range refs {
				variables[name] = struct{}{}
				found.Variables = append(found.Variables, name)
			}
			sort.Strings(found.Variables)
		}
		report.Conditions = append(report.Conditions, found)
	}

	for _, step := range pb.Steps {
		switch step.Type {
		case playbook.StepProcess:
			if step.Input != nil {
				record(step.StepID, "input.condition", step.Input.Condition)
			}
			for i, phase := range step.Process {
				record(step.StepID, fmt.Sprintf("process[%d].condition", i), phase.Condition)
			}
			if step.Output != nil {
				record(step.StepID, "output.condition", step.Output.Condition)
			}
		case playbook.StepHandoff:
			for i, hc := range step.HandoffConditions {
				record(step.StepID, fmt.Sprintf("handoff_conditions[%d]", i), hc.Condition)
			}
		case playbook.StepSelfFeedbackLoop, playbook.StepPartnerFeedbackLoop:
			for i, op := range step.Operations {
				record(step.StepID, fmt.Sprintf("operations[%d].condition", i), op.Condition)
			}
		}
	}

	report.Variables = make([]string, 0, len(variables))
	for name := range variables {
		report.Variables = append(report.Variables, name)
	}
	sort.Strings(report.Variables)
	return report
}

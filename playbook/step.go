// Package playbook defines the normalized step records the runtime
// consumes. Loading and schema validation of playbook YAML happen upstream;
// the types here are the validator's output contract: every `next`
// resolves, and referenced agents, tools, and LLMs appear in the playbook's
// metadata block.
package playbook

// StepType is one of the seven supported step shapes.
type StepType string

const (
	// StepStandard is a single-agent operation.
	StepStandard StepType = "standard"
	// StepWorkInParallel fans one input across agents and aggregates.
	StepWorkInParallel StepType = "work_in_parallel"
	// StepSelfFeedbackLoop iterates one agent against its own output.
	StepSelfFeedbackLoop StepType = "self_feedback_loop"
	// StepPartnerFeedbackLoop alternates two agent roles over iterations.
	StepPartnerFeedbackLoop StepType = "partner_feedback_loop"
	// StepProcess runs a scripted input/process/output pipeline.
	StepProcess StepType = "process"
	// StepVersus pits two agents against each other with a judge.
	StepVersus StepType = "versus"
	// StepHandoff routes work to secondary agents on conditions.
	StepHandoff StepType = "handoff"
)

// Metadata is a playbook's declaration block: the agents, tools, and LLM
// assignments steps may reference.
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Agents      []string          `yaml:"agents" json:"agents"`
	Tools       []string          `yaml:"tools" json:"tools"`
	AgentLLMs   map[string]string `yaml:"agent_llms,omitempty" json:"agent_llms,omitempty"`
}

// Operation is one named operation an agent performs inside a compound
// step.
type Operation struct {
	Role      string `yaml:"role" json:"role"`
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ProcessPhase is one phase of a process step.
type ProcessPhase struct {
	Source    string `yaml:"source,omitempty" json:"source,omitempty"`
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Output    string `yaml:"output,omitempty" json:"output,omitempty"`
}

// HandoffCondition routes a handoff step to a target agent when its
// condition holds.
type HandoffCondition struct {
	Condition   string `yaml:"condition" json:"condition"`
	TargetAgent string `yaml:"target_agent" json:"target_agent"`
	Operation   string `yaml:"operation,omitempty" json:"operation,omitempty"`
}

// Step is one normalized playbook step. Type-specific fields are populated
// according to Type; the rest stay zero.
type Step struct {
	StepID      string   `yaml:"step_id" json:"step_id"`
	Type        StepType `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description"`
	Next        string   `yaml:"next,omitempty" json:"next,omitempty"`

	// Standard step fields.
	Agent      string         `yaml:"agent,omitempty" json:"agent,omitempty"`
	Operation  string         `yaml:"operation,omitempty" json:"operation,omitempty"`
	Tools      []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Feedback-loop fields: role name to agent, the operation schedule,
	// and the iteration budget.
	Agents     map[string]string `yaml:"agents,omitempty" json:"agents,omitempty"`
	Operations []Operation       `yaml:"operations,omitempty" json:"operations,omitempty"`
	Iterations int               `yaml:"iterations,omitempty" json:"iterations,omitempty"`

	// Parallel fields.
	InputDistribution map[string]any `yaml:"input_distribution,omitempty" json:"input_distribution,omitempty"`
	OutputAggregation map[string]any `yaml:"output_aggregation,omitempty" json:"output_aggregation,omitempty"`

	// Process fields.
	Input   *ProcessPhase  `yaml:"input,omitempty" json:"input,omitempty"`
	Process []ProcessPhase `yaml:"process,omitempty" json:"process,omitempty"`
	Output  *ProcessPhase  `yaml:"output,omitempty" json:"output,omitempty"`

	// Handoff fields.
	PrimaryAgent      string             `yaml:"primary_agent,omitempty" json:"primary_agent,omitempty"`
	HandoffConditions []HandoffCondition `yaml:"handoff_conditions,omitempty" json:"handoff_conditions,omitempty"`
	CompletionAction  string             `yaml:"completion_action,omitempty" json:"completion_action,omitempty"`
}

// Playbook is a named sequence of steps plus the metadata block.
type Playbook struct {
	Metadata Metadata `yaml:"metadata" json:"metadata"`
	Steps    []Step   `yaml:"steps" json:"steps"`
}

// StepByID returns the step with the given id, or nil.
func (p *Playbook) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].StepID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

package retry

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// DefaultPolicyName is the name of the policy used when a step has no
// assignment.
const DefaultPolicyName = "default"

// DefaultStrategyName is the name of the strategy used when a step has no
// assignment.
const DefaultStrategyName = "standard"

// Manager is the registry tying named policies and strategies to workflow
// steps, plus the monitor observing every retried operation.
type Manager struct {
	mu             sync.Mutex
	policies       map[string]*Policy
	strategies     map[string]Strategy
	stepPolicies   map[string]string // workflow/step -> policy name
	stepStrategies map[string]string // workflow/step -> strategy name

	monitor *Monitor
	logger  hclog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMonitorDir enables persistence of monitor records under dir.
func WithMonitorDir(dir string) ManagerOption {
	return func(m *Manager) { m.monitor = NewMonitor(dir, m.logger.Named("monitor")) }
}

// WithLogger sets the manager's logger.
func WithLogger(l hclog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a Manager preloaded with the default policy and the
// three built-in strategies (standard, gradual_degradation, failover).
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		policies:       make(map[string]*Policy),
		strategies:     make(map[string]Strategy),
		stepPolicies:   make(map[string]string),
		stepStrategies: make(map[string]string),
		logger:         hclog.New(&hclog.LoggerOptions{Name: "retry"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.monitor == nil {
		m.monitor = NewMonitor("", m.logger.Named("monitor"))
	}

	defaultPolicy := NewPolicy(DefaultConfig())
	m.policies[DefaultPolicyName] = defaultPolicy
	m.strategies[DefaultStrategyName] = NewStandard(defaultPolicy, m.logger.Named("standard"))
	m.strategies["gradual_degradation"] = NewGradualDegradation(defaultPolicy, nil, m.logger.Named("degradation"))
	m.strategies["failover"] = NewFailover(defaultPolicy, nil, m.logger.Named("failover"))
	return m
}

// Monitor exposes the manager's monitor.
func (m *Manager) Monitor() *Monitor { return m.monitor }

// RegisterPolicy installs a named policy, replacing any existing one.
func (m *Manager) RegisterPolicy(name string, p *Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[name] = p
}

// RegisterStrategy installs a named strategy, replacing any existing one.
func (m *Manager) RegisterStrategy(name string, s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = s
}

// Policy returns the named policy.
func (m *Manager) Policy(name string) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[name]
	if !ok {
		return nil, fmt.Errorf("retry policy %q not registered", name)
	}
	return p, nil
}

// Strategy returns the named strategy.
func (m *Manager) Strategy(name string) (Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	if !ok {
		return nil, fmt.Errorf("retry strategy %q not registered", name)
	}
	return s, nil
}

// AssignPolicy maps a (workflow, step) pair to a named policy.
func (m *Manager) AssignPolicy(workflowID, stepID, policyName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policyName]; !ok {
		return fmt.Errorf("retry policy %q not registered", policyName)
	}
	m.stepPolicies[stepKey(workflowID, stepID)] = policyName
	return nil
}

// AssignStrategy maps a (workflow, step) pair to a named strategy.
func (m *Manager) AssignStrategy(workflowID, stepID, strategyName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[strategyName]; !ok {
		return fmt.Errorf("retry strategy %q not registered", strategyName)
	}
	m.stepStrategies[stepKey(workflowID, stepID)] = strategyName
	return nil
}

// PolicyForStep resolves the policy for a step, falling back to the
// default.
func (m *Manager) PolicyForStep(workflowID, stepID string) *Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.stepPolicies[stepKey(workflowID, stepID)]; ok {
		if p, ok := m.policies[name]; ok {
			return p
		}
	}
	return m.policies[DefaultPolicyName]
}

// StrategyForStep resolves the strategy for a step, falling back to
// standard.
func (m *Manager) StrategyForStep(workflowID, stepID string) Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.stepStrategies[stepKey(workflowID, stepID)]; ok {
		if s, ok := m.strategies[name]; ok {
			return s
		}
	}
	return m.strategies[DefaultStrategyName]
}

// Execute runs fn for (workflowID, stepID) under the step's assigned
// strategy and policy, recording the operation in the monitor. It returns
// the function result, the retry outcome, and the last error.
func (m *Manager) Execute(ctx context.Context, workflowID, stepID string, fn Func, params map[string]any) (any, Outcome, error) {
	policy := m.PolicyForStep(workflowID, stepID)
	strategy := m.StrategyForStep(workflowID, stepID)

	sc := NewStepContext(workflowID, stepID, policy.Config().MaxRetries)
	m.monitor.Start(sc)

	result, outcome, err := strategy.Execute(ctx, sc, fn, params)
	m.monitor.Update(sc, outcome, err)
	return result, outcome, err
}

// Stats returns aggregated monitor statistics for a workflow/step filter.
func (m *Manager) Stats(workflowID, stepID string) Statistics {
	return m.monitor.Stats(workflowID, stepID)
}

func stepKey(workflowID, stepID string) string {
	return workflowID + "/" + stepID
}

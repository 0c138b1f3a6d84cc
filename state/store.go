package state

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// HookPhase identifies when a store hook runs relative to a mutation.
type HookPhase string

const (
	// HookPreChange hooks run before validation and may observe the old and
	// proposed values. A panic in a pre-change hook aborts the mutation.
	HookPreChange HookPhase = "pre_change"
	// HookPostChange hooks run after the value is committed. Failures are
	// logged and never roll the mutation back.
	HookPostChange HookPhase = "post_change"
	// HookValidation hooks run between pre-change and commit; returning
	// false aborts the mutation with a ValidationError.
	HookValidation HookPhase = "validation"
)

// ChangeHook observes a mutation. Hooks run while the store's lock is held
// and must not call back into the store with a blocking write.
type ChangeHook func(name string, old, newValue any, requestor string)

// ValidationHook vets a proposed value; returning false rejects the write.
type ValidationHook func(name string, value any, requestor string) bool

// ChangeEvent records one successful mutation. Events are retained in a
// bounded in-memory ring and queryable by variable name.
type ChangeEvent struct {
	Variable  string    `json:"variable_name"`
	Old       any       `json:"old_value"`
	New       any       `json:"new_value"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
}

// maxChangeHistory bounds the in-memory change ring.
const maxChangeHistory = 1024

// SystemRequestor is the requestor id used when no component is identified.
const SystemRequestor = "system"

// Store holds a set of named variables plus groups, hooks, and a change
// ring. All operations are atomic with respect to one another.
//
// Concurrency: one mutex guards the store. Hooks execute under the lock and
// must not re-enter the store with a write; reads through the exported
// accessors would deadlock as well, so hooks should work only with the
// values they are handed.
type Store struct {
	mu sync.Mutex

	vars   map[string]*Variable
	groups map[string]*Group

	preChange  []ChangeHook
	postChange []ChangeHook
	validation []ValidationHook

	history []ChangeEvent

	dir    string
	now    func() time.Time
	logger hclog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersistenceDir sets the directory used by Save and Load when given a
// bare filename.
func WithPersistenceDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithLogger sets the store's logger. Defaults to a named hclog logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the store's time source. Intended for tests that
// exercise TTL expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		vars:   make(map[string]*Variable),
		groups: make(map[string]*Group),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = hclog.New(&hclog.LoggerOptions{Name: "state"})
	}
	return s
}

// Create builds a variable from spec and registers it. The initial value is
// set without permission checks; read-only variables receive their one and
// only value here.
func (s *Store) Create(spec Spec) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[spec.Name]; ok {
		return nil, &ValidationError{Name: spec.Name, Reason: "variable already exists", Cause: ErrAlreadyExists}
	}
	v, err := newVariable(spec, s.now())
	if err != nil {
		return nil, err
	}
	s.vars[v.Name] = v
	return v, nil
}

// Register adds an externally constructed variable to the store.
func (s *Store) Register(v *Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[v.Name]; ok {
		return &ValidationError{Name: v.Name, Reason: "variable already exists", Cause: ErrAlreadyExists}
	}
	s.vars[v.Name] = v
	return nil
}

// Get returns the named variable. Expired variables behave as absent.
func (s *Store) Get(name string) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(name)
}

func (s *Store) getLocked(name string) (*Variable, error) {
	v, ok := s.vars[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	if v.Expired(s.now()) {
		return nil, &NotFoundError{Name: name, Expired: true}
	}
	return v, nil
}

// GetValue returns the value of the named variable, or fallback when the
// variable is missing or expired.
func (s *Store) GetValue(name string, fallback any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.getLocked(name)
	if err != nil {
		return fallback
	}
	return v.Value()
}

// SetValue writes a new value to the named variable on behalf of requestor.
//
// The write proceeds in a fixed order: existence and expiry check,
// permission check, pre-change hooks, validation hooks and the intrinsic
// type/validator check, commit, change event, post-change hooks. A failure
// at any step before commit leaves the variable untouched; a post-change
// hook failure is logged and does not roll back.
func (s *Store) SetValue(name string, value any, requestor string) error {
	if requestor == "" {
		requestor = SystemRequestor
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.getLocked(name)
	if err != nil {
		return err
	}
	if err := v.canWrite(requestor); err != nil {
		return err
	}

	old := v.Value()
	for _, hook := range s.preChange {
		hook(name, old, value, requestor)
	}
	for _, hook := range s.validation {
		if !hook(name, value, requestor) {
			return &ValidationError{Name: name, Reason: "value failed validation hook"}
		}
	}
	if err := v.setValue(value, s.now()); err != nil {
		return err
	}

	s.appendChange(ChangeEvent{
		Variable:  name,
		Old:       old,
		New:       v.Value(),
		ChangedBy: requestor,
		Timestamp: v.UpdatedAt,
	})
	for _, hook := range s.postChange {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("post-change hook panicked", "variable", name, "recovered", r)
				}
			}()
			hook(name, old, v.Value(), requestor)
		}()
	}
	return nil
}

// Delete removes a variable on behalf of requestor. Deleting a variable
// removes it from every group. Deleting a missing variable is a no-op and
// returns false.
func (s *Store) Delete(name, requestor string) (bool, error) {
	if requestor == "" {
		requestor = SystemRequestor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return false, nil
	}
	if err := v.canDelete(requestor); err != nil {
		return false, err
	}
	for _, g := range s.groups {
		g.remove(name)
	}
	delete(s.vars, name)
	return true, nil
}

// CreateGroup creates and registers an empty group.
func (s *Store) CreateGroup(name, description string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; ok {
		return nil, &ValidationError{Name: name, Reason: "group already exists", Cause: ErrAlreadyExists}
	}
	g := NewGroup(name, description)
	s.groups[name] = g
	return g, nil
}

// Group returns the named group.
func (s *Store) Group(name string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// AddToGroup references an existing variable from an existing group.
func (s *Store) AddToGroup(variableName, groupName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[variableName]; !ok {
		return &NotFoundError{Name: variableName}
	}
	g, ok := s.groups[groupName]
	if !ok {
		return ErrGroupNotFound
	}
	g.add(variableName)
	return nil
}

// AddChangeHook registers a hook for the pre_change or post_change phase.
// It returns false for an unknown phase.
func (s *Store) AddChangeHook(phase HookPhase, hook ChangeHook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch phase {
	case HookPreChange:
		s.preChange = append(s.preChange, hook)
	case HookPostChange:
		s.postChange = append(s.postChange, hook)
	default:
		return false
	}
	return true
}

// AddValidationHook registers a validation-phase hook.
func (s *Store) AddValidationHook(hook ValidationHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validation = append(s.validation, hook)
}

// ChangeHistory returns up to limit change events, most recent first. An
// empty name matches every variable.
func (s *Store) ChangeHistory(name string, limit int) []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]ChangeEvent, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if name == "" || s.history[i].Variable == name {
			out = append(out, s.history[i])
		}
	}
	return out
}

// ClearHistory drops the change ring.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Store) appendChange(ev ChangeEvent) {
	s.history = append(s.history, ev)
	if len(s.history) > maxChangeHistory {
		s.history = s.history[len(s.history)-maxChangeHistory:]
	}
}

// ExportValues returns a plain name-to-value map of every live variable.
// Variables whose value is nil (and have no default) are omitted, matching
// the snapshot format used by checkpoints.
func (s *Store) ExportValues() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make(map[string]any, len(s.vars))
	for name, v := range s.vars {
		if v.Expired(now) {
			continue
		}
		if val := v.Value(); val != nil {
			out[name] = val
		}
	}
	return out
}

// ByTag returns the variables carrying the given tag.
func (s *Store) ByTag(tag string) []*Variable {
	return s.filter(func(v *Variable) bool { return v.HasTag(tag) })
}

// ByScope returns the variables with the given scope.
func (s *Store) ByScope(scope Scope) []*Variable {
	return s.filter(func(v *Variable) bool { return v.Scope == scope })
}

// ByOwner returns the variables owned by the given component.
func (s *Store) ByOwner(owner string) []*Variable {
	return s.filter(func(v *Variable) bool { return v.Owner == owner })
}

func (s *Store) filter(keep func(*Variable) bool) []*Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Variable
	for _, v := range s.vars {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DebugInfo summarizes the store for diagnostics.
func (s *Store) DebugInfo() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := make(map[string]any, len(s.vars))
	for name, v := range s.vars {
		vars[name] = map[string]any{
			"type":         string(v.Type()),
			"scope":        string(v.Scope),
			"permission":   string(v.Permission),
			"last_updated": v.UpdatedAt,
			"has_value":    v.Value() != nil,
		}
	}
	groups := make(map[string]any, len(s.groups))
	for name, g := range s.groups {
		groups[name] = map[string]any{
			"description":    g.Description,
			"variable_count": len(g.members),
		}
	}
	return map[string]any{
		"variable_count":       len(s.vars),
		"group_count":          len(s.groups),
		"variables":            vars,
		"groups":               groups,
		"change_history_count": len(s.history),
	}
}

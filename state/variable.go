package state

import (
	"time"
)

// Scope controls where a variable is visible.
type Scope string

const (
	// ScopeLocal variables are visible only to the current step.
	ScopeLocal Scope = "local"
	// ScopeWorkflow variables are visible throughout a workflow execution.
	ScopeWorkflow Scope = "workflow"
	// ScopeGlobal variables are shared across workflows and serialize
	// through the owning store's mutex.
	ScopeGlobal Scope = "global"
)

// Permission controls who may mutate a variable.
type Permission string

const (
	// PermissionReadOnly rejects every write after the initial set at
	// creation time.
	PermissionReadOnly Permission = "read_only"
	// PermissionReadWrite allows any requestor to read and write.
	PermissionReadWrite Permission = "read_write"
	// PermissionPrivate allows writes only from the owner.
	PermissionPrivate Permission = "private"
	// PermissionShared allows reads and writes from any component; it is
	// distinguished from read_write for bookkeeping only.
	PermissionShared Permission = "shared"
	// PermissionProtected allows writes from the owner and from requestors
	// on the access list.
	PermissionProtected Permission = "protected"
)

// Validator rejects values a variable will not accept. It runs after type
// checking and after store-level validation hooks.
type Validator func(v any) bool

// Variable is one typed, scoped, permissioned slot in a Store.
//
// A Variable records the ValueType of its first value (or its declared
// type) and enforces it on every write. Variables with a TTL behave as
// absent once now - UpdatedAt exceeds the TTL.
type Variable struct {
	Name        string
	Description string
	Scope       Scope
	Permission  Permission
	Tags        []string
	Owner       string
	AccessList  []string
	TTL         time.Duration
	CreatedAt   time.Time
	UpdatedAt   time.Time

	value     any
	def       any
	valueType ValueType
	validator Validator
}

// Spec describes a variable to create. The zero value of optional fields is
// meaningful: Scope defaults to workflow, Permission to read_write, Type to
// the type of Value (or Default, or any).
type Spec struct {
	Name        string
	Value       any
	Default     any
	Description string
	Scope       Scope
	Permission  Permission
	Type        ValueType
	Validator   Validator
	Tags        []string
	Owner       string
	AccessList  []string
	TTL         time.Duration
}

// newVariable builds a Variable from a Spec, applying defaults and setting
// the initial value without permission checks.
func newVariable(spec Spec, now time.Time) (*Variable, error) {
	scope := spec.Scope
	if scope == "" {
		scope = ScopeWorkflow
	}
	perm := spec.Permission
	if perm == "" {
		perm = PermissionReadWrite
	}
	vt := spec.Type
	if vt == "" {
		switch {
		case spec.Value != nil:
			vt = TypeOf(spec.Value)
		case spec.Default != nil:
			vt = TypeOf(spec.Default)
		default:
			vt = TypeAny
		}
	}
	v := &Variable{
		Name:        spec.Name,
		Description: spec.Description,
		Scope:       scope,
		Permission:  perm,
		Tags:        append([]string(nil), spec.Tags...),
		Owner:       spec.Owner,
		AccessList:  append([]string(nil), spec.AccessList...),
		TTL:         spec.TTL,
		CreatedAt:   now,
		UpdatedAt:   now,
		def:         spec.Default,
		valueType:   vt,
		validator:   spec.Validator,
	}
	initial := spec.Value
	if initial == nil && spec.Default != nil {
		initial = spec.Default
	}
	if initial != nil {
		if err := v.setValue(initial, now); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Value returns the current value, or the default when no value has been
// set.
func (v *Variable) Value() any {
	if v.value == nil && v.def != nil {
		return v.def
	}
	return v.value
}

// Default returns the variable's default value, if any.
func (v *Variable) Default() any { return v.def }

// Type returns the recorded value type tag.
func (v *Variable) Type() ValueType { return v.valueType }

// setValue applies type and validator checks and commits the new value.
// Permission checks are the store's responsibility.
func (v *Variable) setValue(newValue any, now time.Time) error {
	actual := TypeOf(newValue)
	if !compatible(v.valueType, actual) {
		coerced, ok := Coerce(newValue, v.valueType)
		if !ok {
			return &ValidationError{
				Name:   v.Name,
				Reason: "value must be of type " + string(v.valueType) + ", got " + string(actual),
			}
		}
		newValue = coerced
	} else if v.valueType == TypeReal && actual == TypeInteger {
		newValue, _ = Coerce(newValue, TypeReal)
	}
	if v.validator != nil && !v.validator(newValue) {
		return &ValidationError{Name: v.Name, Reason: "value failed validation"}
	}
	v.value = newValue
	v.UpdatedAt = now
	return nil
}

// Reset restores the variable to its default value (or nil).
func (v *Variable) Reset(now time.Time) {
	v.value = v.def
	v.UpdatedAt = now
}

// Expired reports whether the variable's TTL has elapsed relative to now.
// Variables with no TTL never expire.
func (v *Variable) Expired(now time.Time) bool {
	if v.TTL <= 0 {
		return false
	}
	return now.Sub(v.UpdatedAt) > v.TTL
}

// canWrite checks the permission rules for a mutation by requestor. The
// initial set at creation bypasses this check.
func (v *Variable) canWrite(requestor string) error {
	switch v.Permission {
	case PermissionReadOnly:
		return &AccessError{Name: v.Name, Requestor: requestor, Reason: "variable is read-only"}
	case PermissionPrivate:
		if v.Owner != requestor {
			return &AccessError{Name: v.Name, Requestor: requestor, Reason: "variable is private to " + v.Owner}
		}
	case PermissionProtected:
		if v.Owner == requestor {
			return nil
		}
		for _, id := range v.AccessList {
			if id == requestor {
				return nil
			}
		}
		return &AccessError{Name: v.Name, Requestor: requestor, Reason: "requestor is not on the access list"}
	}
	return nil
}

// canDelete checks whether requestor may delete the variable. Private and
// protected variables may be deleted only by their owner.
func (v *Variable) canDelete(requestor string) error {
	if (v.Permission == PermissionPrivate || v.Permission == PermissionProtected) && v.Owner != requestor {
		return &AccessError{Name: v.Name, Requestor: requestor, Reason: "only the owner may delete"}
	}
	return nil
}

// HasTag reports whether the variable carries the given tag.
func (v *Variable) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Group is a named collection of variable references for bulk operations.
// A group does not own its variables; deleting a variable removes it from
// every group.
type Group struct {
	Name        string
	Description string
	members     map[string]struct{}
}

// NewGroup creates an empty group.
func NewGroup(name, description string) *Group {
	return &Group{Name: name, Description: description, members: make(map[string]struct{})}
}

// Members returns the names of the variables in the group.
func (g *Group) Members() []string {
	out := make([]string, 0, len(g.members))
	for name := range g.members {
		out = append(out, name)
	}
	return out
}

func (g *Group) add(name string)    { g.members[name] = struct{}{} }
func (g *Group) remove(name string) { delete(g.members, name) }

// Contains reports whether the group references the named variable.
func (g *Group) Contains(name string) bool {
	_, ok := g.members[name]
	return ok
}

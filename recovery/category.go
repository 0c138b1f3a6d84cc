// Package recovery selects and drives error-recovery strategies for
// workflow steps: categorizing errors, rolling back to checkpoints, running
// alternate paths, and bracketing steps with transactional semantics.
package recovery

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// Category classifies an error for strategy selection.
type Category string

const (
	// CategoryTransient covers temporary failures such as network resets
	// and throttling; the default policies retry these.
	CategoryTransient Category = "transient"
	// CategoryStateInvalid covers state validation failures; the default
	// policies roll these back.
	CategoryStateInvalid Category = "state_invalid"
	// CategoryResource covers exhaustion of memory, disk, or quotas.
	CategoryResource Category = "resource"
	// CategoryDependency covers failures of external collaborators.
	CategoryDependency Category = "dependency"
	// CategoryLogical covers programming or workflow-logic errors.
	CategoryLogical Category = "logical"
	// CategorySecurity covers security violations; never retried.
	CategorySecurity Category = "security"
	// CategoryPermission covers access-control rejections; never retried.
	CategoryPermission Category = "permission"
	// CategoryTimeout covers deadline and timeout errors.
	CategoryTimeout Category = "timeout"
	// CategoryUnknown is the fallback when no matcher applies.
	CategoryUnknown Category = "unknown"
)

// CategorySet is a set of categories, used for retry_on/abort_on policy
// fields.
type CategorySet map[Category]struct{}

// NewCategorySet builds a set from its members.
func NewCategorySet(cats ...Category) CategorySet {
	s := make(CategorySet, len(cats))
	for _, c := range cats {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Members returns the categories in the set, unordered.
func (s CategorySet) Members() []Category {
	out := make([]Category, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// Matcher maps errors to a category, first by error identity (TypeMatch),
// then by case-insensitive substrings of the error message.
type Matcher struct {
	Patterns  []string
	TypeMatch func(error) bool
	Category  Category
}

// Categorizer holds an ordered matcher list. The first matcher whose
// TypeMatch accepts the error wins; failing that, the first matcher with a
// substring hit wins; failing that, a small set of intrinsic fallbacks
// applies before CategoryUnknown.
type Categorizer struct {
	matchers []Matcher
}

// NewCategorizer builds a Categorizer with the built-in matcher list.
func NewCategorizer() *Categorizer {
	return &Categorizer{matchers: builtinMatchers()}
}

func builtinMatchers() []Matcher {
	return []Matcher{
		{
			Patterns: []string{
				"timeout", "timed out", "temporarily unavailable",
				"connection reset", "connection refused", "too many requests",
				"service unavailable", "retry", "throttled",
			},
			TypeMatch: func(err error) bool {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
					return true
				}
				return errors.Is(err, syscall.ECONNREFUSED) ||
					errors.Is(err, syscall.ECONNRESET) ||
					errors.Is(err, syscall.EPIPE)
			},
			Category: CategoryTransient,
		},
		{
			Patterns: []string{
				"resource", "memory", "disk", "space", "quota",
				"limit exceeded", "out of", "insufficient",
			},
			TypeMatch: func(err error) bool {
				return errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENOSPC)
			},
			Category: CategoryResource,
		},
		{
			Patterns: []string{
				"validation", "invalid state", "invalid value",
				"not valid", "schema", "constraint",
			},
			TypeMatch: func(err error) bool {
				var ve *state.ValidationError
				return errors.As(err, &ve)
			},
			Category: CategoryStateInvalid,
		},
		{
			Patterns: []string{
				"dependency", "module", "not found",
				"missing", "required", "depends on",
			},
			TypeMatch: func(err error) bool { return false },
			Category:  CategoryDependency,
		},
		{
			Patterns: []string{
				"security", "permission denied", "unauthorized",
				"forbidden", "not allowed", "access denied",
			},
			TypeMatch: func(err error) bool {
				if errors.Is(err, os.ErrPermission) {
					return true
				}
				var ae *state.AccessError
				return errors.As(err, &ae)
			},
			Category: CategorySecurity,
		},
		{
			Patterns: []string{"timeout", "timed out", "deadline exceeded"},
			TypeMatch: func(err error) bool {
				return errors.Is(err, context.DeadlineExceeded)
			},
			Category: CategoryTimeout,
		},
	}
}

// Categorize maps an error to its Category. Nil errors map to
// CategoryUnknown.
func (c *Categorizer) Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, m := range c.matchers {
		if m.TypeMatch != nil && m.TypeMatch(err) {
			return m.Category
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range c.matchers {
		for _, p := range m.Patterns {
			if strings.Contains(msg, strings.ToLower(p)) {
				return m.Category
			}
		}
	}
	// Intrinsic fallbacks: validation-like errors are logical faults.
	var ve *state.ValidationError
	if errors.As(err, &ve) {
		return CategoryLogical
	}
	return CategoryUnknown
}

// RegisterMatcher appends a matcher, extending the categorization table.
// Either patterns or a type match must be supplied.
func (c *Categorizer) RegisterMatcher(m Matcher) error {
	if len(m.Patterns) == 0 && m.TypeMatch == nil {
		return errors.New("matcher needs patterns or a type match")
	}
	c.matchers = append(c.matchers, m)
	return nil
}

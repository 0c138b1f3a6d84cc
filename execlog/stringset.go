package execlog

import (
	"encoding/json"
	"sort"
)

// StringSet is a set of strings that persists as a sorted JSON array.
type StringSet map[string]struct{}

// Add inserts a member.
func (s StringSet) Add(v string) { s[v] = struct{}{} }

// Has reports membership.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Members returns the sorted members.
func (s StringSet) Members() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

// UnmarshalJSON decodes an array into the set.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = make(StringSet, len(members))
	for _, m := range members {
		(*s)[m] = struct{}{}
	}
	return nil
}

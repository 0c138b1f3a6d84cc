package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// builtin is one function of the condition language. Builtins are total:
// missing or mistyped data yields a conservative result, never a panic.
type builtin struct {
	arity    int
	variadic bool
	help     string
	call     func(args []any) any
}

var builtinFunctions map[string]builtin

func init() {
	builtinFunctions = map[string]builtin{
		"exists": {
			arity: 1,
			help:  "Check if a value exists (is not null). Usage: exists(variable)",
			call:  func(args []any) any { return args[0] != nil },
		},
		"is_empty": {
			arity: 1,
			help:  "Check if a value is empty. Usage: is_empty(variable)",
			call: func(args []any) any {
				if args[0] == nil {
					return true
				}
				if n, ok := lengthOf(args[0]); ok {
					return n == 0
				}
				return false
			},
		},
		"length": {
			arity: 1,
			help:  "Get the length of a string, array, or object. Usage: length(variable)",
			call: func(args []any) any {
				if n, ok := lengthOf(args[0]); ok {
					return int64(n)
				}
				return int64(0)
			},
		},
		"contains": {
			arity: 2,
			help:  "Check if a value contains another value. Usage: contains(array_or_string, value)",
			call: func(args []any) any {
				switch container := args[0].(type) {
				case string:
					return strings.Contains(container, safeStr(args[1]))
				case map[string]any:
					_, ok := container[safeStr(args[1])]
					return ok
				default:
					if seq, ok := toSequence(args[0]); ok {
						for _, item := range seq {
							if looseEqual(item, args[1]) {
								return true
							}
						}
					}
					return false
				}
			},
		},

		"starts_with": {
			arity: 2,
			help:  "Check if a string starts with another string. Usage: starts_with(string, prefix)",
			call:  func(args []any) any { return strings.HasPrefix(safeStr(args[0]), safeStr(args[1])) },
		},
		"ends_with": {
			arity: 2,
			help:  "Check if a string ends with another string. Usage: ends_with(string, suffix)",
			call:  func(args []any) any { return strings.HasSuffix(safeStr(args[0]), safeStr(args[1])) },
		},
		"contains_string": {
			arity: 2,
			help:  "Check if a string contains another string. Usage: contains_string(string, substring)",
			call:  func(args []any) any { return strings.Contains(safeStr(args[0]), safeStr(args[1])) },
		},
		"matches_regex": {
			arity: 2,
			help:  "Check if a string matches a regex pattern. Usage: matches_regex(string, pattern)",
			call: func(args []any) any {
				re, err := regexp.Compile(safeStr(args[1]))
				if err != nil {
					return false
				}
				return re.MatchString(safeStr(args[0]))
			},
		},

		"any_match": {
			arity: 2, variadic: true,
			help: "Check if any item in an array matches a predicate function. Usage: any_match(array, \"is_number\", ...)",
			call: func(args []any) any {
				seq, fn, extra, ok := matchArgs(args)
				if !ok {
					return false
				}
				for _, item := range seq {
					if truthy(fn.call(append([]any{item}, extra...))) {
						return true
					}
				}
				return false
			},
		},
		"all_match": {
			arity: 2, variadic: true,
			help: "Check if all items in an array match a predicate function. Usage: all_match(array, \"is_number\", ...)",
			call: func(args []any) any {
				seq, fn, extra, ok := matchArgs(args)
				if !ok {
					return false
				}
				for _, item := range seq {
					if !truthy(fn.call(append([]any{item}, extra...))) {
						return false
					}
				}
				return true
			},
		},
		"has_item": {
			arity: 2,
			help:  "Check if an array has a specific item. Usage: has_item(array, item)",
			call: func(args []any) any {
				seq, ok := toSequence(args[0])
				if !ok {
					return false
				}
				for _, item := range seq {
					if looseEqual(item, args[1]) {
						return true
					}
				}
				return false
			},
		},
		"count_items": {
			arity: 1,
			help:  "Count the number of items in an array. Usage: count_items(array)",
			call: func(args []any) any {
				if seq, ok := toSequence(args[0]); ok {
					return int64(len(seq))
				}
				return int64(0)
			},
		},

		"is_string": {
			arity: 1,
			help:  "Check if a value is a string. Usage: is_string(value)",
			call: func(args []any) any {
				_, ok := args[0].(string)
				return ok
			},
		},
		"is_number": {
			arity: 1,
			help:  "Check if a value is a number. Usage: is_number(value)",
			call: func(args []any) any {
				if _, ok := toNumber(args[0]); ok {
					return true
				}
				return false
			},
		},
		"is_boolean": {
			arity: 1,
			help:  "Check if a value is a boolean. Usage: is_boolean(value)",
			call: func(args []any) any {
				_, ok := args[0].(bool)
				return ok
			},
		},
		"is_array": {
			arity: 1,
			help:  "Check if a value is an array. Usage: is_array(value)",
			call: func(args []any) any {
				_, ok := toSequence(args[0])
				return ok
			},
		},
		"is_object": {
			arity: 1,
			help:  "Check if a value is an object. Usage: is_object(value)",
			call: func(args []any) any {
				_, ok := args[0].(map[string]any)
				return ok
			},
		},

		"is_greater": {
			arity: 2,
			help:  "Check if a number is greater than another. Usage: is_greater(value1, value2)",
			call: func(args []any) any {
				a, aok := toNumber(args[0])
				b, bok := toNumber(args[1])
				return aok && bok && a > b
			},
		},
		"is_less": {
			arity: 2,
			help:  "Check if a number is less than another. Usage: is_less(value1, value2)",
			call: func(args []any) any {
				a, aok := toNumber(args[0])
				b, bok := toNumber(args[1])
				return aok && bok && a < b
			},
		},
		"sum": {
			arity: 1,
			help:  "Calculate the sum of numbers in an array. Usage: sum(array)",
			call: func(args []any) any {
				seq, ok := toSequence(args[0])
				if !ok {
					return float64(0)
				}
				var total float64
				for _, item := range seq {
					if n, ok := toNumber(item); ok {
						total += n
					}
				}
				return total
			},
		},
		"average": {
			arity: 1,
			help:  "Calculate the average of numbers in an array. Usage: average(array)",
			call: func(args []any) any {
				seq, ok := toSequence(args[0])
				if !ok {
					return float64(0)
				}
				var total float64
				count := 0
				for _, item := range seq {
					if n, ok := toNumber(item); ok {
						total += n
						count++
					}
				}
				if count == 0 {
					return float64(0)
				}
				return total / float64(count)
			},
		},
	}
}

// FunctionHelp returns usage text for one function, or for all of them
// when name is empty.
func FunctionHelp(name string) map[string]string {
	out := make(map[string]string)
	if name != "" {
		if fn, ok := builtinFunctions[name]; ok {
			out[name] = fn.help
		}
		return out
	}
	for n, fn := range builtinFunctions {
		out[n] = fn.help
	}
	return out
}

// matchArgs unpacks (array, predicate-name, extras...) for any_match and
// all_match. The predicate is named by a string referencing a builtin.
func matchArgs(args []any) ([]any, builtin, []any, bool) {
	seq, ok := toSequence(args[0])
	if !ok {
		return nil, builtin{}, nil, false
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, builtin{}, nil, false
	}
	fn, ok := builtinFunctions[name]
	if !ok {
		return nil, builtin{}, nil, false
	}
	return seq, fn, args[2:], true
}

// safeStr renders a value as a string; nil renders empty.
func safeStr(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toNumber converts numeric kinds (and numeric strings) to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toSequence normalizes slice kinds to []any. Strings and maps are not
// sequences.
func toSequence(v any) ([]any, bool) {
	switch seq := v.(type) {
	case []any:
		return seq, true
	case []string:
		out := make([]any, len(seq))
		for i, s := range seq {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(seq))
		for i, n := range seq {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(seq))
		for i, n := range seq {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

// lengthOf reports the length of strings, sequences, and mappings.
func lengthOf(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return len(x), true
	case map[string]any:
		return len(x), true
	default:
		if seq, ok := toSequence(v); ok {
			return len(seq), true
		}
		return 0, false
	}
}

// truthy applies the language's truthiness rules: null, false, zero, empty
// strings, and empty containers are falsy; everything else is truthy.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		if n, ok := toNumber(v); ok {
			return n != 0
		}
		if length, ok := lengthOf(v); ok {
			return length > 0
		}
		return true
	}
}

// looseEqual compares values with numeric normalization, so int64(1)
// equals float64(1).
func looseEqual(a, b any) bool {
	if an, aok := toNumberStrict(a); aok {
		if bn, bok := toNumberStrict(b); bok {
			return an == bn
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// toNumberStrict converts only true numeric kinds, not numeric strings.
func toNumberStrict(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

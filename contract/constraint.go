package contract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// A Constraint is one checkable condition over a flattened context map.
// The vocabulary is deliberately closed: membership in a value set, a
// numeric range, and equality. Contexts are nested string-keyed maps
// addressed by dotted paths such as "pins.17.mode"; a "*" path segment
// quantifies over every child, and "${name}" substitutes the context
// value bound to name, so "pins.${pin}.value" resolves against the pin
// argument of the operation being checked.
type Constraint interface {
	// Eval reports whether the constraint holds in ctx. A path that does
	// not resolve fails the constraint.
	Eval(ctx map[string]any) bool
	// String renders the constraint for violation reports.
	String() string
}

// Membership requires the value at Var to be one of Values.
type Membership struct {
	Var    string
	Values []string
}

func (m Membership) Eval(ctx map[string]any) bool {
	values, ok := lookupAll(m.Var, ctx)
	if !ok {
		return false
	}
	for _, v := range values {
		s := valueString(v)
		found := false
		for _, want := range m.Values {
			if s == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m Membership) String() string {
	return fmt.Sprintf("%s in {%s}", m.Var, strings.Join(m.Values, ", "))
}

// Range requires the value at Var to be numeric and within [Min, Max].
// A nil bound is open.
type Range struct {
	Var string
	Min *float64
	Max *float64
}

func (r Range) Eval(ctx map[string]any) bool {
	values, ok := lookupAll(r.Var, ctx)
	if !ok {
		return false
	}
	for _, v := range values {
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		if r.Min != nil && n < *r.Min {
			return false
		}
		if r.Max != nil && n > *r.Max {
			return false
		}
	}
	return true
}

func (r Range) String() string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = strconv.FormatFloat(*r.Min, 'g', -1, 64)
	}
	if r.Max != nil {
		hi = strconv.FormatFloat(*r.Max, 'g', -1, 64)
	}
	return fmt.Sprintf("%s in [%s, %s]", r.Var, lo, hi)
}

// Equals requires the value at Var to equal Value. A string Value may
// itself carry "${name}" substitutions, which lets a postcondition such
// as new.pins.${pin}.value == ${value} refer to operation arguments.
type Equals struct {
	Var   string
	Value any
}

func (e Equals) Eval(ctx map[string]any) bool {
	values, ok := lookupAll(e.Var, ctx)
	if !ok {
		return false
	}
	want := e.Value
	if s, isStr := want.(string); isStr && strings.Contains(s, "${") {
		expanded, ok := expandVars(s, ctx)
		if !ok {
			return false
		}
		want = expanded
	}
	wantStr := valueString(want)
	for _, v := range values {
		if valueString(v) != wantStr {
			return false
		}
	}
	return true
}

func (e Equals) String() string {
	return fmt.Sprintf("%s == %v", e.Var, e.Value)
}

// Actual renders the context values a constraint was checked against,
// for violation reports.
func Actual(c Constraint, ctx map[string]any) string {
	var path string
	switch x := c.(type) {
	case Membership:
		path = x.Var
	case Range:
		path = x.Var
	case Equals:
		path = x.Var
	default:
		return fmt.Sprintf("%v", ctx)
	}

	values, ok := lookupAll(path, ctx)
	if !ok {
		return fmt.Sprintf("%s unresolved", path)
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = valueString(v)
	}
	return fmt.Sprintf("%s = %s", path, strings.Join(parts, ", "))
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// expandVars substitutes every ${name} in path with the context value
// bound to name. It fails when a referenced name is unbound.
func expandVars(path string, ctx map[string]any) (string, bool) {
	ok := true
	expanded := varPattern.ReplaceAllStringFunc(path, func(match string) string {
		name := match[2 : len(match)-1]
		v, bound := ctx[name]
		if !bound {
			ok = false
			return match
		}
		return valueString(v)
	})
	return expanded, ok
}

// lookupAll resolves a dotted path against a nested context, expanding
// "${name}" references first. A "*" segment fans out over every child of
// the map at that point; the result then holds one value per match.
func lookupAll(path string, ctx map[string]any) ([]any, bool) {
	expanded, ok := expandVars(path, ctx)
	if !ok {
		return nil, false
	}

	values := []any{any(ctx)}
	for _, segment := range strings.Split(expanded, ".") {
		var next []any
		for _, v := range values {
			m, isMap := v.(map[string]any)
			if !isMap {
				return nil, false
			}
			if segment == "*" {
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					next = append(next, m[k])
				}
				continue
			}
			child, present := m[segment]
			if !present {
				return nil, false
			}
			next = append(next, child)
		}
		values = next
	}
	return values, true
}

// valueString renders a context value in the canonical form constraints
// compare against: booleans as true/false, numbers without a trailing
// fraction when integral.
func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		n, err := strconv.ParseFloat(x, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

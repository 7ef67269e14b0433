package match

import (
	"fmt"
	"strconv"
	"strings"
)

type operator string

const (
	opEQ operator = "="
	opNE operator = "!="
	opGT operator = ">"
	opLT operator = "<"
)

// Condition is one compiled drop expression "<field><op><value>".
// Field is "metric", "value" or a tag key.
type Condition struct {
	Raw   string
	Field string
	Op    operator
	Value string

	number   float64
	isNumber bool
	pattern  Pattern
	wildcard bool
}

// Point is the evaluation input for a Filter.
type Point struct {
	Metric string
	Value  float64
	Tags   map[string]string
}

// Filter decides whether a data point is forwarded.
// Params: keep/drop metric masks and drop conditions.
// Returns: reusable concurrent-safe filter.
type Filter struct {
	keep       []Pattern
	drop       []Pattern
	conditions []Condition
}

// NewFilter compiles metric masks and drop conditions.
// Params: keep metric masks (empty keeps all); drop metric masks; conditions drop expressions.
// Returns: filter or parse error for the first bad condition.
func NewFilter(keep, drop, conditions []string) (*Filter, error) {
	filter := &Filter{
		keep: CompileAll(keep),
		drop: CompileAll(drop),
	}
	for idx, expression := range conditions {
		condition, err := ParseCondition(expression)
		if err != nil {
			return nil, fmt.Errorf("condition[%d]: %w", idx, err)
		}
		filter.conditions = append(filter.conditions, condition)
	}
	return filter, nil
}

// Empty reports whether the filter lets everything through.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.keep) == 0 && len(f.drop) == 0 && len(f.conditions) == 0)
}

// Allow applies keep masks, then drop masks, then drop conditions (OR).
// Params: point metric name, numeric value and tags.
// Returns: true when point should be forwarded.
func (f *Filter) Allow(point Point) bool {
	if f == nil {
		return true
	}
	if len(f.keep) > 0 && !AnyMatch(f.keep, point.Metric) {
		return false
	}
	if AnyMatch(f.drop, point.Metric) {
		return false
	}
	for _, condition := range f.conditions {
		if condition.Matches(point) {
			return false
		}
	}
	return true
}

// ParseCondition parses one drop expression.
// Params: expression in format <field><op><value>.
// Returns: compiled condition or parse error.
func ParseCondition(expression string) (Condition, error) {
	raw := strings.TrimSpace(expression)
	if raw == "" {
		return Condition{}, fmt.Errorf("empty expression")
	}

	field, op, value, ok := splitExpression(raw)
	if !ok {
		return Condition{}, fmt.Errorf("invalid expression %q", raw)
	}
	if field == "" {
		return Condition{}, fmt.Errorf("field is empty in expression %q", raw)
	}
	if value == "" {
		return Condition{}, fmt.Errorf("value is empty in expression %q", raw)
	}

	condition := Condition{Raw: raw, Field: field, Op: op, Value: value}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		condition.number = parsed
		condition.isNumber = true
	}
	if (op == opGT || op == opLT) && !condition.isNumber {
		return Condition{}, fmt.Errorf("operator %s needs numeric value in expression %q", op, raw)
	}
	if strings.Contains(value, "*") {
		condition.pattern, condition.wildcard = Compile(value)
	}
	return condition, nil
}

// Matches evaluates condition against one point.
// Params: point evaluated data point.
// Returns: true when condition holds; a missing tag never matches.
func (c Condition) Matches(point Point) bool {
	switch c.Field {
	case "metric":
		return c.compareString(point.Metric)
	case "value":
		return c.compareNumber(point.Value)
	default:
		actual, ok := point.Tags[c.Field]
		if !ok {
			return false
		}
		if c.isNumber {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(actual), 64); err == nil {
				return c.compareNumber(parsed)
			}
		}
		return c.compareString(actual)
	}
}

func (c Condition) compareNumber(actual float64) bool {
	if !c.isNumber {
		return c.compareString(strconv.FormatFloat(actual, 'f', -1, 64))
	}
	switch c.Op {
	case opGT:
		return actual > c.number
	case opLT:
		return actual < c.number
	case opEQ:
		return actual == c.number
	case opNE:
		return actual != c.number
	default:
		return false
	}
}

func (c Condition) compareString(actual string) bool {
	matched := actual == c.Value
	if c.wildcard {
		matched = c.pattern.Match(actual)
	}

	switch c.Op {
	case opEQ:
		return matched
	case opNE:
		return !matched
	default:
		return false
	}
}

// splitExpression splits raw expression into field/operator/value.
// Params: raw expression text.
// Returns: field, operator, value, and parse-ok flag.
func splitExpression(raw string) (string, operator, string, bool) {
	for _, op := range []operator{opNE, opGT, opLT, opEQ} {
		field, value, found := strings.Cut(raw, string(op))
		if !found {
			continue
		}
		return strings.TrimSpace(field), op, strings.TrimSpace(value), true
	}
	return "", "", "", false
}

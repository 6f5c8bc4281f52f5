package rules

import (
	"math"
	"strconv"
	"strings"
)

// Operator is a comparison applied between a lead field and a rule value.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
	OpGT        Operator = "gt"
	OpLT        Operator = "lt"
	OpBetween   Operator = "between"
)

var operatorAliases = map[string]Operator{
	"equals": OpEquals, "eq": OpEquals, "=": OpEquals, "==": OpEquals,
	"notequals": OpNotEquals, "neq": OpNotEquals, "ne": OpNotEquals, "!=": OpNotEquals,
	"in": OpIn, "notin": OpNotIn,
	"contains": OpContains,
	"exists": OpExists, "notexists": OpNotExists,
	"gte": OpGTE, ">=": OpGTE, "lte": OpLTE, "<=": OpLTE,
	"gt": OpGT, ">": OpGT, "lt": OpLT, "<": OpLT,
	"between": OpBetween,
}

// ParseOperator normalizes an operator string. Unknown operators are returned
// as-is; Evaluate treats them as never matching.
func ParseOperator(s string) (Operator, bool) {
	key := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	if op, ok := operatorAliases[key]; ok {
		return op, true
	}
	return Operator(s), false
}

// Evaluate applies op to a lead field value and a decoded JSON rule value.
// String comparisons ignore case, and literal double quotes in the rule value
// are removed before comparing. Numeric comparisons against a value that does
// not parse as a number are false.
func Evaluate(op Operator, fieldValue, ruleValue interface{}) bool {
	switch op {
	case OpEquals:
		return equalsFold(fieldValue, ruleValue)
	case OpNotEquals:
		return !equalsFold(fieldValue, ruleValue)
	case OpIn:
		return inFold(fieldValue, ruleValue)
	case OpNotIn:
		return !inFold(fieldValue, ruleValue)
	case OpContains:
		return containsFold(fieldValue, ruleValue)
	case OpExists:
		return exists(fieldValue)
	case OpNotExists:
		return !exists(fieldValue)
	case OpGTE:
		return compare(fieldValue, ruleValue, func(a, b float64) bool { return a >= b })
	case OpLTE:
		return compare(fieldValue, ruleValue, func(a, b float64) bool { return a <= b })
	case OpGT:
		return compare(fieldValue, ruleValue, func(a, b float64) bool { return a > b })
	case OpLT:
		return compare(fieldValue, ruleValue, func(a, b float64) bool { return a < b })
	case OpBetween:
		bounds, ok := ruleValue.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		v, lo, hi := toNumber(fieldValue), toNumber(bounds[0]), toNumber(bounds[1])
		if math.IsNaN(v) || math.IsNaN(lo) || math.IsNaN(hi) {
			return false
		}
		return v >= lo && v <= hi
	default:
		return false
	}
}

// equalsFold is false for nil or non-scalar rule values.
func equalsFold(fieldValue, ruleValue interface{}) bool {
	if fieldValue == nil {
		return false
	}
	want, ok := scalarString(ruleValue)
	if !ok {
		return false
	}
	return strings.EqualFold(toString(fieldValue), stripQuotes(want))
}

// containsFold matches when any non-empty rule value is a substring of the field.
// A list rule value matches on any element.
func containsFold(fieldValue, ruleValue interface{}) bool {
	if fieldValue == nil {
		return false
	}
	haystack := strings.ToLower(toString(fieldValue))
	if list, ok := ruleValue.([]interface{}); ok {
		for _, item := range list {
			if containsFold(fieldValue, item) {
				return true
			}
		}
		return false
	}
	needle, ok := scalarString(ruleValue)
	if !ok {
		return false
	}
	needle = stripQuotes(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, strings.ToLower(needle))
}

func inFold(fieldValue, ruleValue interface{}) bool {
	if fieldValue == nil {
		return false
	}
	list, ok := ruleValue.([]interface{})
	if !ok {
		return equalsFold(fieldValue, ruleValue)
	}
	for _, item := range list {
		if equalsFold(fieldValue, item) {
			return true
		}
	}
	return false
}

func exists(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func compare(fieldValue, ruleValue interface{}, cmp func(a, b float64) bool) bool {
	a, b := toNumber(fieldValue), toNumber(ruleValue)
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return cmp(a, b)
}

func stripQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}

// scalarString renders JSON scalars. Nil, lists and objects are not scalars.
func scalarString(v interface{}) (string, bool) {
	switch v.(type) {
	case string, bool, float64, int:
		return toString(v), true
	default:
		return "", false
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// toNumber coerces v to a float. Nil, empty and unparsable values are NaN.
func toNumber(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

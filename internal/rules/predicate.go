package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

// Predicate is one compiled assignment condition. Kind selects the comparison;
// a Kind that ParseOperator does not recognize never matches.
type Predicate struct {
	Kind  Operator
	Field Field
	Value interface{}
}

// Match reports whether the lead satisfies the predicate.
func (p Predicate) Match(l *model.Lead) bool {
	return Evaluate(p.Kind, p.Field.Value(l), p.Value)
}

type condition struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// ParseConditions compiles a conditions document. Two shapes are accepted:
// a list of {field, operator, value} objects, or an object keyed by field
// name where scalar values mean equals and arrays mean in.
func ParseConditions(raw []byte) ([]Predicate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []condition
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: conditions: %w", apperrors.ErrValidation, err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: conditions: %w", apperrors.ErrValidation, err)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			op := string(OpEquals)
			if v := bytes.TrimSpace(obj[k]); len(v) > 0 && v[0] == '[' {
				op = string(OpIn)
			}
			list = append(list, condition{Field: k, Operator: op, Value: obj[k]})
		}
	default:
		return nil, fmt.Errorf("%w: conditions must be a list or an object", apperrors.ErrValidation)
	}

	preds := make([]Predicate, 0, len(list))
	for _, c := range list {
		field, err := ResolveField(c.Field)
		if err != nil {
			return nil, err
		}
		value, err := DecodeValue(c.Value)
		if err != nil {
			return nil, err
		}
		op, _ := ParseOperator(c.Operator)
		preds = append(preds, Predicate{Kind: op, Field: field, Value: value})
	}
	return preds, nil
}

// DecodeValue decodes a jsonb rule value into a scalar or []interface{}.
func DecodeValue(raw []byte) (interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: rule value: %w", apperrors.ErrValidation, err)
	}
	return v, nil
}

package rules

import (
	"strings"
	"time"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

// ScoringRule is a scoring rule with its field and value resolved.
type ScoringRule struct {
	ID        string
	Name      string
	Category  string
	Field     Field
	Op        Operator
	Value     interface{}
	Impact    int
	Priority  int
	CreatedAt time.Time
}

// CompileScoringRule resolves the rule's field and decodes its value.
func CompileScoringRule(r model.ScoringRule) (ScoringRule, error) {
	field, err := ResolveField(r.Field)
	if err != nil {
		return ScoringRule{}, err
	}
	value, err := DecodeValue(r.Value)
	if err != nil {
		return ScoringRule{}, err
	}
	op, _ := ParseOperator(r.Operator)
	return ScoringRule{
		ID:        r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Field:     field,
		Op:        op,
		Value:     value,
		Impact:    r.ScoreImpact,
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (r ScoringRule) Matches(l *model.Lead) bool {
	return Evaluate(r.Op, r.Field.Value(l), r.Value)
}

// AssignmentRule pairs a stored assignment rule with its compiled conditions.
type AssignmentRule struct {
	model.AssignmentRule
	Predicates []Predicate
}

// CompileAssignmentRule parses the rule's conditions document.
func CompileAssignmentRule(r model.AssignmentRule) (AssignmentRule, error) {
	preds, err := ParseConditions(r.Conditions)
	if err != nil {
		return AssignmentRule{}, err
	}
	return AssignmentRule{AssignmentRule: r, Predicates: preds}, nil
}

// Matches applies the static filters, then every condition. Empty filters
// match any value and string comparisons ignore case.
func (r AssignmentRule) Matches(l *model.Lead) bool {
	if l == nil {
		return false
	}
	filters := [...]struct{ want, got string }{
		{r.WorkType, l.WorkType},
		{r.Stage, l.Stage},
		{r.Status, l.Status},
		{r.LeadSource, l.LeadSource},
		{r.State, l.State},
	}
	for _, f := range filters {
		if f.want != "" && !strings.EqualFold(f.want, f.got) {
			return false
		}
	}
	for _, p := range r.Predicates {
		if !p.Match(l) {
			return false
		}
	}
	return true
}

// Criteria snapshots what the rule matched on, for the assignment log.
func (r AssignmentRule) Criteria() map[string]interface{} {
	criteria := map[string]interface{}{
		"rule_id":   r.ID,
		"rule_name": r.Name,
	}
	if r.WorkType != "" {
		criteria["work_type"] = r.WorkType
	}
	if r.Stage != "" {
		criteria["stage"] = r.Stage
	}
	if r.Status != "" {
		criteria["status"] = r.Status
	}
	if r.LeadSource != "" {
		criteria["lead_source"] = r.LeadSource
	}
	if r.State != "" {
		criteria["state"] = r.State
	}
	if len(r.Predicates) > 0 {
		conds := make([]map[string]interface{}, 0, len(r.Predicates))
		for _, p := range r.Predicates {
			conds = append(conds, map[string]interface{}{
				"field":    p.Field.String(),
				"operator": string(p.Kind),
				"value":    p.Value,
			})
		}
		criteria["conditions"] = conds
	}
	return criteria
}

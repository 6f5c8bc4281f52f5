package rules

import (
	"fmt"
	"strings"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/model"
)

// Field is a lead attribute a rule can reference. Rule field strings are
// resolved to a Field once when rules are loaded.
type Field int

const (
	FieldUnknown Field = iota
	FieldWorkType
	FieldPropertyType
	FieldStage
	FieldStatus
	FieldLeadSource
	FieldState
	FieldCity
	FieldPostalCode
	FieldCompany
	FieldEmail
	FieldPhone
	FieldStreet
	FieldIsSelfGen
	FieldHasPhone
	FieldHasEmail
	FieldHasAddress
	FieldMedianHouseholdIncome
	FieldMedianHomeValue
	FieldHomeownershipRate
	FieldMedianAge
)

type fieldDef struct {
	name    string
	aliases []string
	get     func(l *model.Lead) interface{}
}

var fieldDefs = map[Field]fieldDef{
	FieldWorkType:     {name: "workType", aliases: []string{"work"}, get: func(l *model.Lead) interface{} { return l.WorkType }},
	FieldPropertyType: {name: "propertyType", get: func(l *model.Lead) interface{} { return l.PropertyType }},
	FieldStage:        {name: "stage", get: func(l *model.Lead) interface{} { return l.Stage }},
	FieldStatus:       {name: "status", get: func(l *model.Lead) interface{} { return l.Status }},
	FieldLeadSource:   {name: "leadSource", aliases: []string{"source"}, get: func(l *model.Lead) interface{} { return l.LeadSource }},
	FieldState:        {name: "state", get: func(l *model.Lead) interface{} { return l.State }},
	FieldCity:         {name: "city", get: func(l *model.Lead) interface{} { return l.City }},
	FieldPostalCode:   {name: "postalCode", aliases: []string{"zip", "zipCode", "postal"}, get: func(l *model.Lead) interface{} { return l.PostalCode }},
	FieldCompany:      {name: "company", get: func(l *model.Lead) interface{} { return l.Company }},
	FieldEmail:        {name: "email", get: func(l *model.Lead) interface{} { return l.Email }},
	FieldPhone:        {name: "phone", aliases: []string{"mobilePhone"}, get: func(l *model.Lead) interface{} { return l.Phone }},
	FieldStreet:       {name: "street", aliases: []string{"address"}, get: func(l *model.Lead) interface{} { return l.Street }},
	FieldIsSelfGen:    {name: "isSelfGen", aliases: []string{"selfGen"}, get: func(l *model.Lead) interface{} { return l.IsSelfGen }},
	FieldHasPhone:     {name: "hasPhone", get: func(l *model.Lead) interface{} { return l.Phone != "" }},
	FieldHasEmail:     {name: "hasEmail", get: func(l *model.Lead) interface{} { return l.Email != "" }},
	FieldHasAddress:   {name: "hasAddress", get: func(l *model.Lead) interface{} { return l.Street != "" }},
	FieldMedianHouseholdIncome: {name: "medianHouseholdIncome", aliases: []string{"income", "householdIncome"},
		get: func(l *model.Lead) interface{} { return floatOrNil(l.MedianHouseholdIncome) }},
	FieldMedianHomeValue: {name: "medianHomeValue", aliases: []string{"homeValue"},
		get: func(l *model.Lead) interface{} { return floatOrNil(l.MedianHomeValue) }},
	FieldHomeownershipRate: {name: "homeownershipRate", aliases: []string{"ownerOccupiedRate"},
		get: func(l *model.Lead) interface{} { return floatOrNil(l.HomeownershipRate) }},
	FieldMedianAge: {name: "medianAge", get: func(l *model.Lead) interface{} { return floatOrNil(l.MedianAge) }},
}

// fieldIndex maps normalized canonical names and aliases to fields.
var fieldIndex = func() map[string]Field {
	idx := make(map[string]Field, len(fieldDefs)*2)
	for f, def := range fieldDefs {
		idx[normalizeName(def.name)] = f
		for _, a := range def.aliases {
			idx[normalizeName(a)] = f
		}
	}
	return idx
}()

// normalizeName folds case and drops separators so that "work_type",
// "WorkType" and "workType" resolve alike.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
}

// ResolveField maps a rule's field string to a Field.
func ResolveField(name string) (Field, error) {
	if f, ok := fieldIndex[normalizeName(name)]; ok {
		return f, nil
	}
	return FieldUnknown, fmt.Errorf("%w: unknown lead field %q", apperrors.ErrValidation, name)
}

// String returns the canonical field name.
func (f Field) String() string {
	if def, ok := fieldDefs[f]; ok {
		return def.name
	}
	return "unknown"
}

// Value reads the field from a lead. Missing numeric values are nil.
func (f Field) Value(l *model.Lead) interface{} {
	def, ok := fieldDefs[f]
	if !ok || l == nil {
		return nil
	}
	return def.get(l)
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

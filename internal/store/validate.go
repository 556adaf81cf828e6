package store

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nocontrol", validateNoControl)
	return v
}

// validateNoControl rejects control characters other than newline and tab;
// they corrupt sheet cells.
func validateNoControl(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

// normalize coerces input against the schema. When partial is false the
// result is checked for required fields; an update checks them after merge.
// Explicit nil values are kept so an update can clear a field.
func (s *Store) normalize(schema types.Schema, in types.Fields) (types.Fields, error) {
	out := make(types.Fields, len(in))
	for name, raw := range in {
		if name == types.FieldID {
			continue
		}
		f, ok := schema.Field(name)
		if !ok {
			return nil, &types.ValidationError{Collection: schema.Collection, Field: name, Reason: "unknown field"}
		}
		if f.System {
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, &types.ValidationError{Collection: schema.Collection, Field: name, Reason: err.Error()}
		}
		if str, isText := v.(string); isText {
			str = strings.TrimSpace(str)
			if str == "" {
				v = nil
			} else {
				v = str
			}
		}
		if err := s.checkRules(schema, f, v); err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (s *Store) checkRules(schema types.Schema, f types.Field, v any) error {
	if v == nil {
		return nil
	}
	rules := f.Rules
	var target any = v
	switch x := v.(type) {
	case string:
		if rules == "" {
			rules = "nocontrol"
		} else {
			rules += ",nocontrol"
		}
	case decimal.Decimal:
		target = x.InexactFloat64()
	}
	if rules == "" {
		return nil
	}
	if err := s.validate.Var(target, rules); err != nil {
		reason := err.Error()
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			reason = describeRule(errs[0])
		}
		return &types.ValidationError{Collection: schema.Collection, Field: f.Name, Reason: reason}
	}
	return nil
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "alpha":
		return "must contain letters only"
	case "nocontrol":
		return "must not contain control characters"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

func checkRequired(schema types.Schema, fields types.Fields) error {
	for _, f := range schema.Fields {
		if !f.Required {
			continue
		}
		if v, ok := fields[f.Name]; !ok || v == nil {
			return &types.ValidationError{Collection: schema.Collection, Field: f.Name, Reason: "is required"}
		}
	}
	return nil
}

// checkUnique compares unique fields case-insensitively against every other
// entity of the collection.
func checkUnique(schema types.Schema, existing []types.Entity, candidate types.Entity) error {
	for _, field := range schema.Unique {
		want := strings.TrimSpace(candidate.Text(field))
		if want == "" {
			continue
		}
		for _, e := range existing {
			if candidate.ID != "" && e.ID == candidate.ID {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(e.Text(field)), want) {
				return &types.ValidationError{
					Collection: schema.Collection,
					Field:      field,
					Reason:     "duplicate value " + want + " (used by " + e.ID + ")",
				}
			}
		}
	}
	return nil
}

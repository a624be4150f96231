package rules

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrUnknownEndpoint is returned for names outside the rule table.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// MaxReasonLength bounds the free-text reason on offer responses.
const MaxReasonLength = 1000

// Wildcards are the characters a lookup value may never equal.
var Wildcards = []string{"*", "_", "%"}

// LookupFields is the allow-set for get_contact lookups.
var LookupFields = []string{"contact_id", "ssn", "hash_value"}

// FieldError is a single validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return e.Reason
}

// ValidationErrors collects every structural problem found in one request.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Reason
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidatedRequest is the output of a successful validation pass.
type ValidatedRequest struct {
	Kind   Kind
	Params Params
	Token  string
}

// Validate applies the rule for endpoint to raw. Every missing field, coercion
// failure and failed check is reported; no partial request is returned.
func Validate(endpoint string, raw map[string]any, token string) (ValidatedRequest, error) {
	kind, ok := Parse(endpoint)
	if !ok {
		return ValidatedRequest{}, ErrUnknownEndpoint
	}
	return ValidateKind(kind, raw, token)
}

// ValidateKind is Validate for an already resolved endpoint.
func ValidateKind(kind Kind, raw map[string]any, token string) (ValidatedRequest, error) {
	rule, ok := Lookup(kind)
	if !ok {
		return ValidatedRequest{}, ErrUnknownEndpoint
	}

	var errs ValidationErrors
	params := make(Params, len(rule.Required)+len(rule.Optional))

	coerce := func(name string, required bool) {
		v, present := raw[name]
		if !present || v == nil {
			if required {
				errs = append(errs, FieldError{Field: name, Reason: "missing field " + name})
			}
			return
		}
		conv := rule.Coerce[name]
		if conv == nil {
			params[name] = v
			return
		}
		typed, err := conv(v)
		if err != nil {
			errs = append(errs, FieldError{Field: name, Reason: "invalid type for " + name})
			return
		}
		params[name] = typed
	}
	for _, name := range rule.Required {
		coerce(name, true)
	}
	for _, name := range rule.Optional {
		coerce(name, false)
	}

	for _, c := range rule.Checks {
		if !hasAll(params, c.Fields) {
			continue
		}
		if err := c.Fn(params); err != nil {
			field := ""
			if len(c.Fields) > 0 {
				field = c.Fields[0]
			}
			errs = append(errs, FieldError{Field: field, Reason: err.Error()})
		}
	}

	if len(errs) > 0 {
		return ValidatedRequest{}, errs
	}
	return ValidatedRequest{Kind: kind, Params: params, Token: token}, nil
}

func hasAll(p Params, fields []string) bool {
	for _, f := range fields {
		if !p.Has(f) {
			return false
		}
	}
	return true
}

func positiveID(field string) Check {
	return Check{
		Name:   field + "_positive",
		Fields: []string{field},
		Fn: func(p Params) error {
			if v, _ := p.Int64(field); v <= 0 {
				return fmt.Errorf("%s must be a positive integer", field)
			}
			return nil
		},
	}
}

func maxLength(field string, n int) Check {
	return Check{
		Name:   field + "_length",
		Fields: []string{field},
		Fn: func(p Params) error {
			if v, _ := p.String(field); len(v) > n {
				return fmt.Errorf("%s must be at most %d characters", field, n)
			}
			return nil
		},
	}
}

// The lookup checks keep unconstrained filters away from the warehouse: the
// field must come from the allow-set and the value must not be a bare wildcard.
var lookupFieldCheck = Check{
	Name:   "lookup_field_allowed",
	Fields: []string{FieldLookupField},
	Fn: func(p Params) error {
		if field, _ := p.String(FieldLookupField); !IsLookupField(field) {
			return fmt.Errorf("lookup_field must be one of %s", strings.Join(LookupFields, ", "))
		}
		return nil
	},
}

var lookupValueCheck = Check{
	Name:   "lookup_value_exact",
	Fields: []string{FieldLookupValue},
	Fn: func(p Params) error {
		value, _ := p.String(FieldLookupValue)
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return errors.New("lookup_value must not be empty")
		}
		for _, w := range Wildcards {
			if trimmed == w {
				return errors.New("lookup_value must not be a wildcard")
			}
		}
		return nil
	},
}

// lookupContactIDCheck rejects contact_id lookups whose value is not an
// integer. Empty and wildcard values are already reported by lookupValueCheck.
var lookupContactIDCheck = Check{
	Name:   "lookup_contact_id_integer",
	Fields: []string{FieldLookupValue, FieldLookupField},
	Fn: func(p Params) error {
		if field, _ := p.String(FieldLookupField); field != FieldContactID {
			return nil
		}
		value, _ := p.String(FieldLookupValue)
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || slices.Contains(Wildcards, trimmed) {
			return nil
		}
		if _, err := strconv.ParseInt(trimmed, 10, 64); err != nil {
			return errors.New("lookup_value must be an integer when lookup_field is contact_id")
		}
		return nil
	},
}

// IsLookupField reports whether name is in the lookup allow-set.
func IsLookupField(name string) bool {
	for _, f := range LookupFields {
		if f == name {
			return true
		}
	}
	return false
}

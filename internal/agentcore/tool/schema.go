package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// schema is the JSON-Schema subset a tool's parametersSchema may use.
// Unmarshaled directly from a tool's raw schema document.
type schema struct {
	Type                 any                `json:"type,omitempty"` // string or []string
	Nullable             bool               `json:"nullable,omitempty"`
	Properties           map[string]*schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	MinProperties        *int               `json:"minProperties,omitempty"`
	MaxProperties        *int               `json:"maxProperties,omitempty"`
	Items                *schema            `json:"items,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	MaxItems             *int               `json:"maxItems,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	Format               string             `json:"format,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Const                any                `json:"const,omitempty"`
	Multiple             *float64           `json:"multipleOf,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	ExclusiveMinimum     *float64           `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     *float64           `json:"exclusiveMaximum,omitempty"`
	AnyOf                []*schema          `json:"anyOf,omitempty"`
	OneOf                []*schema          `json:"oneOf,omitempty"`
	AllOf                []*schema          `json:"allOf,omitempty"`
}

// ValidationError is a single parameter-validation failure, keyed by a
// JSON-pointer-like path into the parameters document.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Message) }

// ValidateParams validates and, if coerceTypes is set, coerces params
// against rawSchema. It returns the (possibly coerced) params and any
// validation errors found; the caller turns a non-empty error list into an
// isError toolResult rather than treating it as a Go error.
func ValidateParams(rawSchema, params json.RawMessage, coerceTypes bool) (json.RawMessage, []ValidationError) {
	if len(rawSchema) == 0 {
		return params, nil
	}
	var s schema
	if err := json.Unmarshal(rawSchema, &s); err != nil {
		return params, []ValidationError{{Path: "$", Message: "invalid parametersSchema: " + err.Error()}}
	}
	var value any
	if len(params) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(params, &value); err != nil {
		return params, []ValidationError{{Path: "$", Message: "invalid parameters JSON: " + err.Error()}}
	}

	v := &validator{coerce: coerceTypes}
	coerced := v.walk("$", &s, value)
	if len(v.errs) > 0 {
		return params, v.errs
	}
	out, err := json.Marshal(coerced)
	if err != nil {
		return params, []ValidationError{{Path: "$", Message: "internal: re-marshal coerced params: " + err.Error()}}
	}
	return out, nil
}

type validator struct {
	coerce bool
	errs   []ValidationError
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// walk validates value against s, returning the (possibly coerced) value.
// Errors are recorded on v and the original value is returned unchanged so
// the caller can still inspect what was submitted.
func (v *validator) walk(path string, s *schema, value any) any {
	if s == nil {
		return value
	}

	if len(s.AnyOf) > 0 {
		return v.walkUnion(path, s.AnyOf, value, 1)
	}
	if len(s.OneOf) > 0 {
		return v.walkUnion(path, s.OneOf, value, 1)
	}
	if len(s.AllOf) > 0 {
		for _, sub := range s.AllOf {
			value = v.walk(path, sub, value)
		}
		return value
	}

	value = v.checkType(path, s, value)
	if value == nil {
		return nil
	}

	if s.Const != nil && !deepEqual(value, s.Const) {
		v.fail(path, "must equal const value %v", s.Const)
	}
	if len(s.Enum) > 0 && !containsAny(s.Enum, value) {
		v.fail(path, "must be one of %v", s.Enum)
	}

	switch typed := value.(type) {
	case string:
		v.checkString(path, s, typed)
	case float64:
		v.checkNumber(path, s, typed)
	case map[string]any:
		value = v.checkObject(path, s, typed)
	case []any:
		value = v.checkArray(path, s, typed)
	}
	return value
}

// walkUnion tries each alternative and keeps the first that validates
// cleanly. anyOf and oneOf are handled alike: minMatches is not consulted,
// and oneOf does not check that only one alternative matches.
func (v *validator) walkUnion(path string, alts []*schema, value any, minMatches int) any {
	for _, alt := range alts {
		probe := &validator{coerce: v.coerce}
		coerced := probe.walk(path, alt, value)
		if len(probe.errs) == 0 {
			return coerced
		}
	}
	v.fail(path, "does not match any allowed schema")
	return value
}

func (v *validator) checkType(path string, s *schema, value any) any {
	types := typeList(s.Type)
	if s.Nullable {
		types = append(types, "null")
	}
	if len(types) == 0 {
		return value
	}
	if value == nil {
		if containsString(types, "null") {
			return value
		}
		v.fail(path, "is required")
		return nil
	}

	actual := jsonTypeOf(value)
	if containsString(types, actual) {
		return value
	}
	if v.coerce {
		if coerced, ok := coerceTo(value, types); ok {
			return coerced
		}
	}
	v.fail(path, "must be of type %v, got %s", types, actual)
	return value
}

func (v *validator) checkString(path string, s *schema, str string) {
	if s.MinLength != nil && len(str) < *s.MinLength {
		v.fail(path, "length must be >= %d", *s.MinLength)
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		v.fail(path, "length must be <= %d", *s.MaxLength)
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			v.fail(path, "invalid pattern in schema: %s", err)
		} else if !re.MatchString(str) {
			v.fail(path, "does not match pattern %q", s.Pattern)
		}
	}
	switch s.Format {
	case "email":
		if _, err := mail.ParseAddress(str); err != nil {
			v.fail(path, "is not a valid email address")
		}
	case "uri":
		if u, err := url.Parse(str); err != nil || u.Scheme == "" {
			v.fail(path, "is not a valid URI")
		}
	case "uuid":
		if _, err := uuid.Parse(str); err != nil {
			v.fail(path, "is not a valid UUID")
		}
	}
}

func (v *validator) checkNumber(path string, s *schema, n float64) {
	if s.Minimum != nil && n < *s.Minimum {
		v.fail(path, "must be >= %v", *s.Minimum)
	}
	if s.Maximum != nil && n > *s.Maximum {
		v.fail(path, "must be <= %v", *s.Maximum)
	}
	if s.ExclusiveMinimum != nil && n <= *s.ExclusiveMinimum {
		v.fail(path, "must be > %v", *s.ExclusiveMinimum)
	}
	if s.ExclusiveMaximum != nil && n >= *s.ExclusiveMaximum {
		v.fail(path, "must be < %v", *s.ExclusiveMaximum)
	}
	if s.Multiple != nil && *s.Multiple != 0 {
		ratio := n / *s.Multiple
		if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
			v.fail(path, "must be a multiple of %v", *s.Multiple)
		}
	}
}

func (v *validator) checkObject(path string, s *schema, obj map[string]any) map[string]any {
	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			v.fail(path+"."+req, "is required")
		}
	}
	if s.MinProperties != nil && len(obj) < *s.MinProperties {
		v.fail(path, "must have >= %d properties", *s.MinProperties)
	}
	if s.MaxProperties != nil && len(obj) > *s.MaxProperties {
		v.fail(path, "must have <= %d properties", *s.MaxProperties)
	}
	if s.AdditionalProperties != nil && !*s.AdditionalProperties {
		for k := range obj {
			if _, known := s.Properties[k]; !known {
				v.fail(path+"."+k, "additional property not allowed")
			}
		}
	}
	for k, sub := range s.Properties {
		if val, ok := obj[k]; ok {
			obj[k] = v.walk(path+"."+k, sub, val)
		}
	}
	return obj
}

func (v *validator) checkArray(path string, s *schema, arr []any) []any {
	if s.MinItems != nil && len(arr) < *s.MinItems {
		v.fail(path, "must have >= %d items", *s.MinItems)
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		v.fail(path, "must have <= %d items", *s.MaxItems)
	}
	if s.Items != nil {
		for i, el := range arr {
			arr[i] = v.walk(fmt.Sprintf("%s[%d]", path, i), s.Items, el)
		}
	}
	return arr
}

func typeList(t any) []string {
	switch val := t.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, x := range val {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func jsonTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// coerceTo attempts to convert value to one of the allowed types, per the
// string<->number<->bool rules a caller opts into with coerceTypes.
func coerceTo(value any, types []string) (any, bool) {
	for _, t := range types {
		switch t {
		case "number", "integer":
			switch typed := value.(type) {
			case string:
				if f, err := strconv.ParseFloat(typed, 64); err == nil {
					return f, true
				}
			}
		case "string":
			switch typed := value.(type) {
			case float64:
				return strconv.FormatFloat(typed, 'f', -1, 64), true
			case bool:
				return strconv.FormatBool(typed), true
			}
		case "boolean":
			if s, ok := value.(string); ok {
				if b, err := strconv.ParseBool(s); err == nil {
					return b, true
				}
			}
		}
	}
	return nil, false
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func containsAny(list []any, target any) bool {
	for _, v := range list {
		if deepEqual(v, target) {
			return true
		}
	}
	return false
}

func deepEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

package tool

import (
	"encoding/json"
	"testing"
)

func TestValidateParamsRequiredMissing(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{}`), false)
	if len(errs) != 1 {
		t.Fatalf("expected one error for missing required field, got %v", errs)
	}
}

func TestValidateParamsTypeMismatchWithoutCoercion(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"count":{"type":"number"}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"count":"3"}`), false)
	if len(errs) != 1 {
		t.Fatalf("expected type mismatch error without coercion, got %v", errs)
	}
}

func TestValidateParamsCoercesStringToNumber(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"count":{"type":"number"}}}`)
	out, errs := ValidateParams(schema, json.RawMessage(`{"count":"3"}`), true)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("failed to decode coerced output: %v", err)
	}
	if decoded["count"] != float64(3) {
		t.Fatalf("expected coerced count=3, got %v", decoded["count"])
	}
}

func TestValidateParamsNullableUnion(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"note":{"type":["string","null"]}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"note":null}`), false)
	if len(errs) != 0 {
		t.Fatalf("nullable union should accept null, got %v", errs)
	}
}

func TestValidateParamsEnum(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"mode":{"type":"string","enum":["read","write"]}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"mode":"delete"}`), false)
	if len(errs) != 1 {
		t.Fatalf("expected enum violation, got %v", errs)
	}
}

func TestValidateParamsPatternAndLength(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","pattern":"^[a-z]+$","minLength":3}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"id":"A1"}`), false)
	if len(errs) == 0 {
		t.Fatalf("expected pattern/length violations")
	}
}

func TestValidateParamsAdditionalPropertiesRejected(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"additionalProperties":false}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"path":"a.go","extra":1}`), false)
	if len(errs) != 1 {
		t.Fatalf("expected additionalProperties violation, got %v", errs)
	}
}

func TestValidateParamsAnyOf(t *testing.T) {
	schema := json.RawMessage(`{"anyOf":[{"type":"string"},{"type":"number"}]}`)
	if _, errs := ValidateParams(schema, json.RawMessage(`"hello"`), false); len(errs) != 0 {
		t.Fatalf("expected string alternative to validate, got %v", errs)
	}
	if _, errs := ValidateParams(schema, json.RawMessage(`42`), false); len(errs) != 0 {
		t.Fatalf("expected number alternative to validate, got %v", errs)
	}
	if _, errs := ValidateParams(schema, json.RawMessage(`true`), false); len(errs) == 0 {
		t.Fatalf("expected boolean to fail both alternatives")
	}
}

func TestValidateParamsFormatUUID(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","format":"uuid"}}}`)
	_, errs := ValidateParams(schema, json.RawMessage(`{"id":"not-a-uuid"}`), false)
	if len(errs) != 1 {
		t.Fatalf("expected uuid format violation, got %v", errs)
	}
}

func TestValidateParamsEmptySchemaPassesThrough(t *testing.T) {
	out, errs := ValidateParams(nil, json.RawMessage(`{"anything":1}`), false)
	if len(errs) != 0 {
		t.Fatalf("empty schema should impose no constraints, got %v", errs)
	}
	if string(out) != `{"anything":1}` {
		t.Fatalf("expected params passed through unchanged, got %s", out)
	}
}

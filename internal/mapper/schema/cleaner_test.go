package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCleanResolvesRefAgainstDefs(t *testing.T) {
	in := `{
		"$defs": {"Point": {"type": "object", "properties": {"x": {"type": "number"}}}},
		"type": "object",
		"properties": {"origin": {"$ref": "#/$defs/Point"}}
	}`
	out, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	props := got["properties"].(map[string]any)
	origin := props["origin"].(map[string]any)
	if origin["type"] != "object" {
		t.Fatalf("origin.type = %v, want resolved object schema", origin["type"])
	}
}

func TestCleanMergesAllOf(t *testing.T) {
	in := `{"allOf": [{"type": "object"}, {"properties": {"a": {"type": "string"}}}]}`
	out, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	var got map[string]any
	json.Unmarshal(out, &got)
	if got["type"] != "object" {
		t.Fatalf("merged type = %v, want object", got["type"])
	}
	if _, ok := got["properties"]; !ok {
		t.Fatalf("merged schema missing properties from second allOf branch")
	}
	if _, ok := got["allOf"]; ok {
		t.Fatalf("allOf key should not survive merge")
	}
}

func TestCleanPrunesUnsupportedFields(t *testing.T) {
	in := `{"$schema": "https://json-schema.org/draft/2020-12/schema", "title": "Thing", "type": "string"}`
	out, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	s := string(out)
	if strings.Contains(s, "$schema") || strings.Contains(s, "title") {
		t.Fatalf("Clean() = %s, want $schema/title pruned", s)
	}
}

func TestCleanNormalizesArrayType(t *testing.T) {
	in := `{"type": ["string"]}`
	out, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	var got map[string]any
	json.Unmarshal(out, &got)
	if got["type"] != "string" {
		t.Fatalf("type = %v, want normalized plain string", got["type"])
	}
}

func TestCleanLeavesEnumAndConstUntouched(t *testing.T) {
	in := `{"type": "string", "enum": ["a", "b", "$schema"], "const": "title"}`
	out, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	var got map[string]any
	json.Unmarshal(out, &got)
	enum := got["enum"].([]any)
	if len(enum) != 3 || enum[2] != "$schema" {
		t.Fatalf("enum = %v, want untouched including literal %q value", enum, "$schema")
	}
	if got["const"] != "title" {
		t.Fatalf("const = %v, want untouched literal %q", got["const"], "title")
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	in := `{
		"$defs": {"Leaf": {"type": "string"}},
		"type": "object",
		"properties": {
			"a": {"allOf": [{"type": "string"}, {"enum": ["x", "y"]}]},
			"b": {"$ref": "#/$defs/Leaf"},
			"c": {"type": ["integer"]}
		}
	}`
	once, err := Clean([]byte(in))
	if err != nil {
		t.Fatalf("Clean() first pass error = %v", err)
	}
	twice, err := Clean(once)
	if err != nil {
		t.Fatalf("Clean() second pass error = %v", err)
	}
	var a, b map[string]any
	json.Unmarshal(once, &a)
	json.Unmarshal(twice, &b)
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Fatalf("Clean() not idempotent:\n once  = %s\n twice = %s", aj, bj)
	}
}

func TestCleanHaltsOnExcessiveDepth(t *testing.T) {
	// Build a $ref chain deeper than MaxDepth: def0 -> def1 -> ... -> defN.
	defs := map[string]any{}
	for i := 0; i < MaxDepth+10; i++ {
		defs[keyFor(i)] = map[string]any{"$ref": "#/$defs/" + keyFor(i+1)}
	}
	defs[keyFor(MaxDepth+10)] = map[string]any{"type": "string"}
	doc := map[string]any{
		"$defs": defs,
		"$ref":  "#/$defs/" + keyFor(0),
	}
	raw, _ := json.Marshal(doc)

	_, err := Clean(raw)
	if err == nil {
		t.Fatalf("Clean() on depth-%d ref chain succeeded, want depth-limit error", MaxDepth+10)
	}
	if _, ok := err.(*ErrDepthExceeded); !ok {
		t.Fatalf("Clean() error type = %T, want *ErrDepthExceeded", err)
	}
}

func keyFor(i int) string {
	return "d" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

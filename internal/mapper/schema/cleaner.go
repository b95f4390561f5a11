// Package schema implements the JSON Schema cleaner (§4.8): $ref resolution
// against a collected $defs table (including nested $defs), allOf merging,
// pruning of unsupported fields, and strict type normalization — all
// depth-limited to guard against adversarial recursive input.
package schema

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaxDepth is the recursion ceiling (§4.8: "depth-limited (>= 64)").
const MaxDepth = 64

// ErrDepthExceeded is returned when a schema nests $ref/allOf chains deeper
// than MaxDepth, to be surfaced by callers as SchemaViolation (§7).
type ErrDepthExceeded struct{ Path string }

func (e *ErrDepthExceeded) Error() string {
	return fmt.Sprintf("json schema recursion exceeded depth limit at %q", e.Path)
}

// unsupportedFields are stripped from every object node during cleaning;
// upstream function-calling schemas reject these.
var unsupportedFields = []string{"$schema", "$id", "title", "examples", "default", "additionalProperties"}

// Clean normalizes a JSON Schema document (as raw JSON bytes) for upstream
// function-calling: resolves $ref against the root's $defs (collected
// including nested $defs), merges allOf, prunes unsupported fields, and
// normalizes types. It is idempotent: Clean(Clean(x)) == Clean(x) for valid
// input.
func Clean(raw []byte) ([]byte, error) {
	root := gjson.ParseBytes(raw)
	defs := collectDefs(root, 0)

	cleaned, err := cleanNode(root, defs, 0, "$")
	if err != nil {
		return nil, err
	}
	return []byte(cleaned.Raw), nil
}

// collectDefs walks the document gathering every $defs/definitions table it
// finds, keyed by "#/$defs/Name" and "#/definitions/Name", so $ref can
// resolve regardless of nesting depth.
func collectDefs(node gjson.Result, depth int) map[string]gjson.Result {
	out := make(map[string]gjson.Result)
	if depth > MaxDepth || !node.IsObject() {
		return out
	}
	for _, key := range []string{"$defs", "definitions"} {
		defsNode := node.Get(key)
		if defsNode.IsObject() {
			defsNode.ForEach(func(name, val gjson.Result) bool {
				out["#/"+key+"/"+name.String()] = val
				return true
			})
		}
	}
	node.ForEach(func(key, val gjson.Result) bool {
		if val.IsObject() || val.IsArray() {
			for k, v := range collectDefs(val, depth+1) {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
		return true
	})
	return out
}

func escapeKey(k string) string { return gjson.Escape(k) }

// cleanNode recursively normalizes node. enum/const payloads are copied
// through untouched per §4.8 ("data fields inside enum or const must not be
// touched").
func cleanNode(node gjson.Result, defs map[string]gjson.Result, depth int, path string) (gjson.Result, error) {
	if depth > MaxDepth {
		return gjson.Result{}, &ErrDepthExceeded{Path: path}
	}

	if ref := node.Get("$ref"); ref.Exists() {
		target, ok := defs[ref.String()]
		if !ok {
			return gjson.Result{}, &ErrDepthExceeded{Path: path + "/$ref(unresolved)"}
		}
		return cleanNode(target, defs, depth+1, path+"/$ref")
	}

	if allOf := node.Get("allOf"); allOf.IsArray() {
		merged := "{}"
		var err error
		allOf.ForEach(func(_, branch gjson.Result) bool {
			var cleanedBranch gjson.Result
			cleanedBranch, err = cleanNode(branch, defs, depth+1, path+"/allOf")
			if err != nil {
				return false
			}
			merged, err = mergeObjects(merged, cleanedBranch.Raw)
			return err == nil
		})
		if err != nil {
			return gjson.Result{}, err
		}
		// Merge in sibling keys (outside allOf) too.
		node.ForEach(func(k, v gjson.Result) bool {
			if k.String() == "allOf" {
				return true
			}
			merged, err = sjson.SetRaw(merged, escapeKey(k.String()), v.Raw)
			return err == nil
		})
		if err != nil {
			return gjson.Result{}, err
		}
		return cleanNode(gjson.Parse(merged), defs, depth+1, path)
	}

	if !node.IsObject() {
		return node, nil
	}

	out := "{}"
	var err error
	node.ForEach(func(key, val gjson.Result) bool {
		k := key.String()
		if contains(unsupportedFields, k) {
			return true
		}
		if k == "enum" || k == "const" {
			out, err = sjson.SetRaw(out, escapeKey(k), val.Raw)
			return err == nil
		}
		if val.IsObject() {
			var cleaned gjson.Result
			cleaned, err = cleanNode(val, defs, depth+1, path+"/"+k)
			if err != nil {
				return false
			}
			out, err = sjson.SetRaw(out, escapeKey(k), cleaned.Raw)
			return err == nil
		}
		if val.IsArray() && (k == "properties" || k == "items" || k == "anyOf" || k == "oneOf") {
			// properties is technically an object; items/anyOf/oneOf may be
			// arrays of schemas needing recursive cleaning too.
			cleanedArr := "[]"
			val.ForEach(func(_, elem gjson.Result) bool {
				var cleanedElem gjson.Result
				cleanedElem, err = cleanNode(elem, defs, depth+1, path+"/"+k)
				if err != nil {
					return false
				}
				cleanedArr, err = sjson.SetRaw(cleanedArr, "-1", cleanedElem.Raw)
				return err == nil
			})
			if err != nil {
				return false
			}
			out, err = sjson.SetRaw(out, escapeKey(k), cleanedArr)
			return err == nil
		}
		out, err = sjson.SetRaw(out, escapeKey(k), val.Raw)
		return err == nil
	})
	if err != nil {
		return gjson.Result{}, err
	}
	out = normalizeType(out)
	return gjson.Parse(out), nil
}

// normalizeType coerces a type field expressed as a single-element array
// (e.g. ["string"]) into the plain string form upstream function-calling
// schemas expect.
func normalizeType(raw string) string {
	t := gjson.Get(raw, "type")
	if t.IsArray() && len(t.Array()) == 1 {
		raw, _ = sjson.Set(raw, "type", t.Array()[0].String())
	}
	return raw
}

func mergeObjects(a, b string) (string, error) {
	out := a
	var err error
	gjson.Parse(b).ForEach(func(k, v gjson.Result) bool {
		out, err = sjson.SetRaw(out, escapeKey(k.String()), v.Raw)
		return err == nil
	})
	return out, err
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

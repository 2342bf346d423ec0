package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// itemSchema validates one model item after key renaming and string
// coercion. Unknown keys are allowed; known keys must have the right type.
var itemSchema = mustCompileSchema("item.json", buildItemSchema())

// buildItemSchema returns the JSON Schema of a single extracted item
func buildItemSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"name"},
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "minLength": 1},
			"quantity":    map[string]any{"type": []string{"number", "null"}},
			"total_price": map[string]any{"type": []string{"number", "null"}},
			"category":    map[string]any{"type": []string{"string", "null"}},
			"is_food":     map[string]any{"type": []string{"boolean", "null"}},
		},
	}
}

func mustCompileSchema(name string, schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// itemFieldSynonyms maps keys models commonly invent to the schema keys.
// Earlier entries win when several synonyms are present.
var itemFieldSynonyms = [][2]string{
	{"item", "name"},
	{"item_name", "name"},
	{"product", "name"},
	{"description", "name"},
	{"qty", "quantity"},
	{"count", "quantity"},
	{"price", "total_price"},
	{"totalPrice", "total_price"},
	{"line_total", "total_price"},
	{"amount", "total_price"},
	{"isFood", "is_food"},
	{"food", "is_food"},
}

// validateItems checks every element of a decoded item array against
// itemSchema. Elements that fail are dropped and their errors returned.
func validateItems(raw []any) ([]any, []error) {
	out := make([]any, 0, len(raw))
	var errs []error
	for i, el := range raw {
		item := prepareItem(el)
		if err := itemSchema.Validate(item); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		out = append(out, item)
	}
	return out, errs
}

// prepareItem renames synonym keys, trims strings and converts numeric or
// boolean strings. Values it cannot convert are left for the schema to reject.
func prepareItem(el any) any {
	in, ok := el.(map[string]any)
	if !ok {
		return el
	}
	m := maps.Clone(in)

	for _, syn := range itemFieldSynonyms {
		from, to := syn[0], syn[1]
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
		}
	}

	for _, k := range []string{"name", "category"} {
		if s, ok := m[k].(string); ok {
			m[k] = strings.TrimSpace(s)
		}
	}
	if c, ok := m["category"].(string); ok && c == "" {
		m["category"] = nil
	}

	for _, k := range []string{"quantity", "total_price"} {
		if s, ok := m[k].(string); ok {
			if f, ok := coerceNumber(s); ok {
				m[k] = f
			}
		}
	}

	if s, ok := m["is_food"].(string); ok {
		if b, ok := coerceBool(s); ok {
			m["is_food"] = b
		}
	}

	return m
}

// coerceNumber parses numeric strings such as "$3.99" or "2,49"
func coerceNumber(v string) (float64, bool) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil && finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func coerceBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	}
	return false, false
}

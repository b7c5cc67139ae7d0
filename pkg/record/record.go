// Package record defines the schema-less record returned by the procurement API
// and the small set of helpers every stage uses to read fields by name.
package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is one entity (contract, unit, body or supplier) as decoded from the API.
// No schema is enforced; callers access fields by name and must tolerate absence.
type Record map[string]any

// placeholders are values that stand for "no value" in upstream data.
var placeholders = map[string]struct{}{
	"":      {},
	"nan":   {},
	"none":  {},
	"null":  {},
	"<nil>": {},
}

// IsPlaceholder reports whether s is empty or one of the textual
// stand-ins for a missing value ("nan", "null", ...).
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// String returns the field rendered as text. Missing and null fields render
// as the empty string. Nested values are rendered as compact JSON.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	return Format(v)
}

// Has reports whether the field is present, even if null.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Format renders a decoded JSON value as text.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any, Record:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// Columns returns the union of field names across records in first-seen order.
// Field order within a single record follows sorted key order, since Go maps
// carry no insertion order.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for _, k := range sortedKeys(r) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}

// MissingColumns returns the fields from want that no record carries.
func MissingColumns(records []Record, want ...string) []string {
	var missing []string
	for _, field := range want {
		found := false
		for _, r := range records {
			if r.Has(field) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, field)
		}
	}
	return missing
}

// Distinct returns the distinct non-placeholder values of field across
// records, trimmed, in first-seen order.
func Distinct(records []Record, field string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		v := strings.TrimSpace(r.String(field))
		if IsPlaceholder(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

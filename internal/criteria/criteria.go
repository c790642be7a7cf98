// Package criteria matches records against filter criteria in process.
package criteria

import (
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/lychee-technology/duplex"
)

const dateOnlyLength = len("2006-01-02")

// Matcher applies filter criteria to records. Dotted field names reach into
// nested documents, list values mean membership and date fields compare on
// their yyyy-MM-dd prefix.
type Matcher struct {
	criteria   duplex.Criteria
	dateFields []string
}

// New validates criteria and builds a matcher. dateFields lists extra fields
// compared as dates besides "date" and any "*_date" field.
func New(criteria duplex.Criteria, dateFields []string) (*Matcher, error) {
	for field := range criteria {
		if strings.TrimSpace(field) == "" {
			return nil, duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidCriteria, "criteria field name must not be empty")
		}
	}
	return &Matcher{criteria: criteria, dateFields: dateFields}, nil
}

// IsDateField reports whether field is compared as a date.
func (m *Matcher) IsDateField(field string) bool {
	leaf := field
	if idx := strings.LastIndex(field, "."); idx >= 0 {
		leaf = field[idx+1:]
	}
	if leaf == "date" || strings.HasSuffix(leaf, "_date") {
		return true
	}
	return slices.Contains(m.dateFields, field)
}

// Match reports whether record satisfies every criterion.
func (m *Matcher) Match(record duplex.Record) bool {
	for field, expected := range m.criteria {
		actual, ok := lookupField(record, field)
		if !ok {
			return false
		}
		dateField := m.IsDateField(field)
		if members, isList := asList(expected); isList {
			found := false
			for _, member := range members {
				if fieldEquals(actual, member, dateField) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !fieldEquals(actual, expected, dateField) {
			return false
		}
	}
	return true
}

// Apply returns the records that satisfy the criteria, keeping their order.
func (m *Matcher) Apply(records []duplex.Record) []duplex.Record {
	if len(m.criteria) == 0 {
		return records
	}
	out := make([]duplex.Record, 0, len(records))
	for _, rec := range records {
		if m.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func lookupField(record duplex.Record, field string) (any, bool) {
	if v, ok := record[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	v := ValueAtPath(record, field)
	return v, v != nil
}

// ValueAtPath walks a dotted path through nested maps.
func ValueAtPath(m map[string]any, path string) any {
	if m == nil || path == "" {
		return m
	}
	current := any(m)
	for _, segment := range strings.Split(path, ".") {
		var asMap map[string]any
		switch c := current.(type) {
		case map[string]any:
			asMap = c
		case duplex.Record:
			asMap = c
		default:
			return nil
		}
		next, exists := asMap[segment]
		if !exists {
			return nil
		}
		current = next
	}
	return current
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func fieldEquals(actual, expected any, dateField bool) bool {
	if dateField {
		a, aok := dateOnly(actual)
		e, eok := dateOnly(expected)
		if aok && eok {
			return a == e
		}
	}
	if af, ok := toNumber(actual); ok {
		if ef, ok := toNumber(expected); ok {
			return af == ef
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

func dateOnly(v any) (string, bool) {
	switch d := v.(type) {
	case string:
		if len(d) > dateOnlyLength {
			return d[:dateOnlyLength], true
		}
		return d, true
	case time.Time:
		return d.UTC().Format(time.DateOnly), true
	case *time.Time:
		if d == nil {
			return "", false
		}
		return d.UTC().Format(time.DateOnly), true
	default:
		return "", false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Apply is a shortcut for New followed by Matcher.Apply.
func Apply(records []duplex.Record, c duplex.Criteria, dateFields []string) ([]duplex.Record, error) {
	m, err := New(c, dateFields)
	if err != nil {
		return nil, err
	}
	return m.Apply(records), nil
}

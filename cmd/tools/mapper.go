package main

import (
	"fmt"
	"strings"
)

// FieldMapper transforms a CSV cell into a record value.
type FieldMapper interface {
	Map(csvValue string) (any, error)
}

// FieldMapping describes how one CSV column lands in a record field.
type FieldMapping struct {
	CSVColumn string
	Field     string
	Mapper    FieldMapper
	Required  bool
}

// RecordMapper turns CSV rows into records for one entity.
type RecordMapper struct {
	entity   string
	mappings []FieldMapping
}

// NewRecordMapper creates a mapper targeting entity.
func NewRecordMapper(entity string) *RecordMapper {
	return &RecordMapper{entity: entity}
}

// Map adds an optional column copied as a string.
func (m *RecordMapper) Map(csvColumn, field string) *RecordMapper {
	return m.MapWith(csvColumn, field, Identity())
}

// MapWith adds an optional column converted by mapper.
func (m *RecordMapper) MapWith(csvColumn, field string, mapper FieldMapper) *RecordMapper {
	m.mappings = append(m.mappings, FieldMapping{CSVColumn: csvColumn, Field: field, Mapper: mapper})
	return m
}

// RequiredWith adds a column that must be present and non-empty.
func (m *RecordMapper) RequiredWith(csvColumn, field string, mapper FieldMapper) *RecordMapper {
	m.mappings = append(m.mappings, FieldMapping{CSVColumn: csvColumn, Field: field, Mapper: mapper, Required: true})
	return m
}

func (m *RecordMapper) Entity() string { return m.entity }

func (m *RecordMapper) Mappings() []FieldMapping { return m.mappings }

// MapRow converts one CSV row keyed by header.
func (m *RecordMapper) MapRow(row map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(m.mappings))
	for _, mapping := range m.mappings {
		raw, ok := row[mapping.CSVColumn]
		if !ok || strings.TrimSpace(raw) == "" {
			if mapping.Required {
				return nil, &MappingError{CSVColumn: mapping.CSVColumn, Field: mapping.Field, RawValue: raw, Reason: "required field is empty"}
			}
			continue
		}
		v, err := mapping.Mapper.Map(raw)
		if err != nil {
			return nil, &MappingError{CSVColumn: mapping.CSVColumn, Field: mapping.Field, RawValue: raw, Reason: err.Error()}
		}
		if v == nil {
			continue
		}
		out[mapping.Field] = v
	}
	return out, nil
}

// MappingError reports a cell that could not be converted.
type MappingError struct {
	CSVColumn string
	Field     string
	RawValue  string
	Reason    string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("column %q -> field %q: value %q - %s", e.CSVColumn, e.Field, e.RawValue, e.Reason)
}

// ParseMappings builds a mapper from specs of the form
// "Column=field[:type][!]". A trailing "!" marks the column required.
// Without specs every header column maps to a field of the same name,
// lower-cased with spaces replaced by underscores.
func ParseMappings(entity string, specs []string, header []string) (*RecordMapper, error) {
	m := NewRecordMapper(entity)
	if len(specs) == 0 {
		for _, col := range header {
			m.Map(col, strings.ReplaceAll(strings.ToLower(strings.TrimSpace(col)), " ", "_"))
		}
		return m, nil
	}

	for _, spec := range specs {
		column, target, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(column) == "" || strings.TrimSpace(target) == "" {
			return nil, fmt.Errorf("invalid mapping %q, expected Column=field[:type][!]", spec)
		}
		required := strings.HasSuffix(target, "!")
		target = strings.TrimSuffix(target, "!")
		field, kind, _ := strings.Cut(target, ":")
		mapper, err := mapperFor(kind)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", spec, err)
		}
		if required {
			m.RequiredWith(strings.TrimSpace(column), strings.TrimSpace(field), mapper)
		} else {
			m.MapWith(strings.TrimSpace(column), strings.TrimSpace(field), mapper)
		}
	}
	return m, nil
}

func mapperFor(kind string) (FieldMapper, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "string":
		return Trim(), nil
	case "int":
		return ToInt(), nil
	case "float":
		return ToFloat64(), nil
	case "bool":
		return ToBool(), nil
	case "date":
		return ToDate(dateLayoutBR), nil
	case "isodate":
		return ToDate("2006-01-02"), nil
	case "datetime":
		return ToDateTimeISO8601(), nil
	case "money":
		return ToMoney(), nil
	case "phone":
		return ToPhone(), nil
	case "list":
		return Split(";"), nil
	case "lower":
		return ToLower(), nil
	default:
		return nil, fmt.Errorf("unknown column type %q", kind)
	}
}

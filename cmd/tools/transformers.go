package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayoutBR is the day-first layout salon spreadsheets are exported with.
const dateLayoutBR = "02/01/2006"

type mapperFunc func(string) (any, error)

func (f mapperFunc) Map(csvValue string) (any, error) { return f(csvValue) }

// Identity passes the cell through unchanged.
func Identity() FieldMapper {
	return mapperFunc(func(v string) (any, error) { return v, nil })
}

// Trim strips surrounding whitespace.
func Trim() FieldMapper {
	return mapperFunc(func(v string) (any, error) { return strings.TrimSpace(v), nil })
}

// ToLower trims and lower-cases the cell.
func ToLower() FieldMapper {
	return mapperFunc(func(v string) (any, error) { return strings.ToLower(strings.TrimSpace(v)), nil })
}

// ToInt parses a base-10 integer.
func ToInt() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid integer format: %v", err)
		}
		return i, nil
	})
}

// ToFloat64 parses a decimal number with a dot separator.
func ToFloat64() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float64 format: %v", err)
		}
		return f, nil
	})
}

// ToBool accepts true/false, 1/0, yes/no and sim/não, case-insensitively.
func ToBool() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "sim", "s":
			return true, nil
		case "false", "0", "no", "não", "nao", "n":
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean value: %q", v)
		}
	})
}

// ToDate parses a date with layout and stores it as YYYY-MM-DD.
func ToDate(layout string) FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		t, err := time.Parse(layout, strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid date format (expected %s): %v", layout, err)
		}
		return t.Format("2006-01-02"), nil
	})
}

var iso8601Layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToDateTimeISO8601 accepts common ISO8601 shapes and stores RFC3339 in UTC.
func ToDateTimeISO8601() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		v = strings.TrimSpace(v)
		for _, layout := range iso8601Layouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("invalid ISO8601 datetime format: %q", v)
	})
}

// Split breaks the cell on sep and drops empty parts.
func Split(sep string) FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		parts := strings.Split(v, sep)
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
}

// ToMoney parses Brazilian currency such as "R$ 1.234,56". A plain
// dot-decimal number like "49.90" is also accepted.
func ToMoney() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "R$")
		s = strings.ReplaceAll(s, " ", "")
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid money format: %q", v)
		}
		return f, nil
	})
}

// ToPhone keeps only the digits of a phone number and requires at least
// ten of them (area code plus number).
func ToPhone() FieldMapper {
	return mapperFunc(func(v string) (any, error) {
		var b strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		if b.Len() < 10 {
			return nil, fmt.Errorf("phone number %q is too short", v)
		}
		return b.String(), nil
	})
}

package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
)

// Common multipliers
const (
	Percent        = 0.01    // 15.5 -> 0.155
	TenThousand    = 10000.0 // 万 -> base unit
	HundredMillion = 1e8     // 亿 -> base unit
	Thousand       = 1000.0
	Identity       = 1.0
)

// UnitTable maps canonical field -> multiplier applied to the upstream value.
// Fields absent from the table pass through unchanged.
type UnitTable map[string]float64

// Apply scales v by the field's multiplier. nil stays nil.
func (t UnitTable) Apply(field string, v *float64) *float64 {
	if v == nil {
		return nil
	}
	m, ok := t[field]
	if !ok {
		m = Identity
	}
	out := *v * m
	return &out
}

// FieldMap maps canonical field -> upstream names in preference order
type FieldMap map[string][]string

// Pick returns the first upstream value present and parseable for canonical.
// Empty strings, "-", "--" and JSON null count as absent.
func (m FieldMap) Pick(canonical string, row map[string]any) *float64 {
	for _, name := range m[canonical] {
		raw, ok := row[name]
		if !ok {
			continue
		}
		if v, ok := ToFloat(raw); ok {
			return &v
		}
	}
	return nil
}

// PickString returns the first non-empty string value for canonical
func (m FieldMap) PickString(canonical string, row map[string]any) string {
	for _, name := range m[canonical] {
		raw, ok := row[name]
		if !ok || raw == nil {
			continue
		}
		s := strings.TrimSpace(toString(raw))
		if s != "" {
			return s
		}
	}
	return ""
}

// Normalize picks canonical and scales it through table
func Normalize(fields FieldMap, table UnitTable, canonical string, row map[string]any) *float64 {
	return table.Apply(canonical, fields.Pick(canonical, row))
}

// ToFloat converts a loosely-typed JSON value to float64
func ToFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		s = strings.TrimSuffix(s, "%")
		if s == "" || s == "-" || s == "--" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	b, _ := json.Marshal(raw)
	return string(b)
}

var dateLayouts = []string{
	contracts.DateLayout,
	"20060102",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ISODate converts the upstream date representations we see in the wild to YYYY-MM-DD
func ISODate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(contracts.DateLayout), true
		}
	}
	return "", false
}

// CompactDate converts YYYY-MM-DD to YYYYMMDD for upstreams that want it
func CompactDate(iso string) string {
	return strings.ReplaceAll(iso, "-", "")
}

package internal

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/shopspring/decimal"
)

// Layouts accepted for DATE parameters, most specific first.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

const dateOnlyLayout = "2006-01-02"

// ArgsFromJSON converts decoded JSON arguments into values typed by sig.
// Numbers should be decoded as json.Number to keep DECIMAL precision.
func ArgsFromJSON(sig orcall.FlatSignature, raw map[string]any) (orcall.Record, error) {
	return recordFromJSON(orcall.BuildTree(sig), "", raw, true)
}

// ResultFromJSON converts a decoded JSON object into values typed by sig.
// Keys sig does not declare are ignored.
func ResultFromJSON(sig orcall.FlatSignature, raw map[string]any) (orcall.Record, error) {
	return recordFromJSON(orcall.BuildTree(sig), "", raw, false)
}

func recordFromJSON(node *orcall.Node, prefix string, raw map[string]any, strict bool) (orcall.Record, error) {
	out := make(orcall.Record, len(raw))
	for name, v := range raw {
		path := JoinPath(prefix, name)
		child, ok := node.Children[name]
		if !ok {
			if strict {
				return nil, orcall.NewUnsupportedValueTypeError(path, "parameter is not declared by the signature")
			}
			continue
		}
		val, err := valueFromJSON(child, path, v, strict)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func valueFromJSON(node *orcall.Node, path string, raw any, strict bool) (orcall.Value, error) {
	if raw == nil {
		return orcall.Null{}, nil
	}
	if node.Array {
		items, ok := raw.([]any)
		if !ok {
			return nil, orcall.NewTypeMismatchError(path, orcall.TypeRecordArray, jsonKind(raw))
		}
		rows := make(orcall.RecordArray, 0, len(items))
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, orcall.NewTypeMismatchError(RowPath(path, i+1), orcall.TypeRecord, jsonKind(item))
			}
			row, err := recordFromJSON(node, RowPath(path, i+1), m, strict)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	}
	if node.IsRecord() {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, orcall.NewTypeMismatchError(path, orcall.TypeRecord, jsonKind(raw))
		}
		return recordFromJSON(node, path, m, strict)
	}

	switch node.Tag {
	case orcall.TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, orcall.NewTypeMismatchError(path, node.Tag, jsonKind(raw))
		}
		return orcall.String(s), nil
	case orcall.TypeInteger, orcall.TypeSmallint:
		i, err := jsonInt64(raw)
		if err != nil {
			return nil, orcall.NewTypeMismatchError(path, node.Tag, jsonKind(raw)).WithCause(err)
		}
		return orcall.Integer(i), nil
	case orcall.TypeFloat:
		f, err := jsonFloat64(raw)
		if err != nil {
			return nil, orcall.NewTypeMismatchError(path, node.Tag, jsonKind(raw)).WithCause(err)
		}
		return orcall.Float(f), nil
	case orcall.TypeDecimal, orcall.TypeMoney:
		d, err := toDecimalJSON(raw)
		if text, isText := raw.(string); err != nil && isText && node.Tag == orcall.TypeMoney {
			d, err = parseMoneyText(text)
		}
		if err != nil {
			return nil, orcall.NewTypeMismatchError(path, node.Tag, jsonKind(raw)).WithCause(err)
		}
		return orcall.NewDecimal(d), nil
	case orcall.TypeBinary:
		s, ok := raw.(string)
		if !ok {
			return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("BINARY requires a base64 string, got %s", jsonKind(raw)))
		}
		b, err := decodeBinaryText(s)
		if err != nil {
			return nil, orcall.NewUnsupportedValueTypeError(path, err.Error())
		}
		return orcall.Binary(b), nil
	case orcall.TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("DATE requires a date string, got %s", jsonKind(raw)))
		}
		v, err := parseDateText(s)
		if err != nil {
			return nil, orcall.NewUnsupportedValueTypeError(path, err.Error())
		}
		return v, nil
	}
	return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unknown type %s", node.Tag))
}

// jsonKind names the shape of a decoded JSON value in the host model.
func jsonKind(raw any) orcall.Kind {
	switch raw.(type) {
	case nil:
		return orcall.KindNull
	case string:
		return orcall.KindString
	case json.Number, float64:
		return orcall.KindFloat
	case bool:
		return orcall.KindBoolean
	case map[string]any:
		return orcall.KindRecord
	case []any:
		return orcall.KindRecordArray
	}
	return orcall.KindString
}

func jsonInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		// As a float64, math.MaxInt64 is 2^63.
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is out of the integer range", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", raw)
}

func jsonFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", raw)
}

func toDecimalJSON(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	}
	return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", raw)
}

// parseMoneyText reads the formatted text PostgreSQL renders for money, such
// as "$1,234.50", "-$0.99", "($12.00)" or "1.234,50 €". The separator that
// comes last is the decimal point when two or fewer digits follow it.
func parseMoneyText(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	var digits strings.Builder
	lastSep, sepCount := -1, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' || r == ',':
			lastSep = digits.Len()
			sepCount++
		case r == '-':
			negative = true
		}
	}
	body := digits.String()
	if body == "" {
		return decimal.Zero, fmt.Errorf("%q is not a money amount", text)
	}
	if lastSep >= 0 {
		if frac := len(body) - lastSep; frac > 0 && frac <= 2 {
			body = body[:lastSep] + "." + body[lastSep:]
		} else if frac == 0 && sepCount == 1 {
			return decimal.Zero, fmt.Errorf("%q is not a money amount", text)
		}
	}
	d, err := decimal.NewFromString(body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a money amount: %w", text, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// decodeBinaryText accepts base64 or the PostgreSQL "\x" hex form.
func decodeBinaryText(s string) ([]byte, error) {
	if strings.HasPrefix(s, `\x`) {
		return hex.DecodeString(s[2:])
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return b, nil
}

// parseDateText returns a Date for "YYYY-MM-DD" and a DateTime otherwise.
func parseDateText(s string) (orcall.Value, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateOnlyLayout, s); err == nil {
		return orcall.DateOf(t), nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return orcall.NewDateTime(t), nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a date", s)
}

// ToJSON converts a value into the shape encoding/json writes: decimals as
// numbers with their exact digits, binaries as base64, dates as ISO 8601.
func ToJSON(v orcall.Value) any {
	switch val := v.(type) {
	case nil, orcall.Null:
		return nil
	case orcall.String:
		return string(val)
	case orcall.Integer:
		return int64(val)
	case orcall.Float:
		return float64(val)
	case orcall.Decimal:
		return json.Number(val.String())
	case orcall.Binary:
		return base64.StdEncoding.EncodeToString(val)
	case orcall.Date:
		return val.String()
	case orcall.DateTime:
		return val.Time.Format(time.RFC3339Nano)
	case orcall.Record:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = ToJSON(child)
		}
		return out
	case orcall.RecordArray:
		out := make([]any, 0, len(val))
		for _, row := range val {
			out = append(out, ToJSON(row))
		}
		return out
	}
	return nil
}

// UntypedFromJSON converts decoded JSON without a signature, as input to
// signature inference. Integral numbers become INTEGER, others FLOAT.
func UntypedFromJSON(raw map[string]any) (orcall.Record, error) {
	out := make(orcall.Record, len(raw))
	for name, v := range raw {
		val, err := untypedValue(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func untypedValue(path string, raw any) (orcall.Value, error) {
	switch v := raw.(type) {
	case nil:
		return orcall.Null{}, nil
	case string:
		return orcall.String(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return orcall.Integer(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, orcall.NewUnsupportedValueTypeError(path, err.Error())
		}
		return orcall.Float(f), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return orcall.Integer(int64(v)), nil
		}
		return orcall.Float(v), nil
	case map[string]any:
		rec := make(orcall.Record, len(v))
		for k, child := range v {
			val, err := untypedValue(JoinPath(path, k), child)
			if err != nil {
				return nil, err
			}
			rec[k] = val
		}
		return rec, nil
	case []any:
		rows := make(orcall.RecordArray, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, orcall.NewUnsupportedValueTypeError(RowPath(path, i+1), "only arrays of objects are supported")
			}
			row, err := untypedValue(RowPath(path, i+1), m)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row.(orcall.Record))
		}
		return rows, nil
	}
	return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("cannot convert %T", raw))
}

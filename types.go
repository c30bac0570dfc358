package orcall

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TypeTag is the wire-side type of a single parameter.
type TypeTag string

const (
	TypeString      TypeTag = "STRING"
	TypeInteger     TypeTag = "INTEGER"
	TypeSmallint    TypeTag = "SMALLINT"
	TypeFloat       TypeTag = "FLOAT"
	TypeDecimal     TypeTag = "DECIMAL"
	TypeMoney       TypeTag = "MONEY"
	TypeDate        TypeTag = "DATE"
	TypeBinary      TypeTag = "BINARY"
	TypeRecord      TypeTag = "RECORD"
	TypeRecordArray TypeTag = "RECORD_ARRAY"
)

// Valid reports whether t belongs to the closed tag set.
func (t TypeTag) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeSmallint, TypeFloat, TypeDecimal, TypeMoney,
		TypeDate, TypeBinary, TypeRecord, TypeRecordArray:
		return true
	}
	return false
}

// IsRecord reports whether t describes a record or a repeated record group.
func (t TypeTag) IsRecord() bool {
	return t == TypeRecord || t == TypeRecordArray
}

// IsScalar reports whether t is a valid leaf tag.
func (t TypeTag) IsScalar() bool {
	return t.Valid() && !t.IsRecord()
}

// Kind identifies the variant of a host Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindDecimal
	KindBinary
	KindDate
	KindDateTime
	KindRecord
	KindRecordArray
	// KindBoolean describes a boolean seen in JSON input. No Value has it.
	KindBoolean
)

var kindNames = map[Kind]string{
	KindNull:        "null",
	KindString:      "string",
	KindInteger:     "integer",
	KindFloat:       "float",
	KindDecimal:     "decimal",
	KindBinary:      "binary",
	KindDate:        "date",
	KindDateTime:    "datetime",
	KindRecord:      "record",
	KindRecordArray: "record array",
	KindBoolean:     "boolean",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a host-side argument or result value.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	// Null is the absent value.
	Null struct{}
	// String is a text value.
	String string
	// Integer is a whole number.
	Integer int64
	// Float is a binary floating point number.
	Float float64
	// Decimal is an exact decimal number, used for DECIMAL and MONEY.
	Decimal struct{ decimal.Decimal }
	// Binary marks a byte sequence that must travel as BINARY.
	Binary []byte
	// DateTime is a point in time with a time-of-day part.
	DateTime struct{ time.Time }
	// Record is a set of named values.
	Record map[string]Value
	// RecordArray is an ordered, homogeneous group of records.
	RecordArray []Record
)

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (Null) Kind() Kind        { return KindNull }
func (String) Kind() Kind      { return KindString }
func (Integer) Kind() Kind     { return KindInteger }
func (Float) Kind() Kind       { return KindFloat }
func (Decimal) Kind() Kind     { return KindDecimal }
func (Binary) Kind() Kind      { return KindBinary }
func (Date) Kind() Kind        { return KindDate }
func (DateTime) Kind() Kind    { return KindDateTime }
func (Record) Kind() Kind      { return KindRecord }
func (RecordArray) Kind() Kind { return KindRecordArray }

func (Null) isValue()        {}
func (String) isValue()      {}
func (Integer) isValue()     {}
func (Float) isValue()       {}
func (Decimal) isValue()     {}
func (Binary) isValue()      {}
func (Date) isValue()        {}
func (DateTime) isValue()    {}
func (Record) isValue()      {}
func (RecordArray) isValue() {}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// NewDecimal wraps d as a host value.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// NewDateTime wraps t as a host value.
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

// IsNull reports whether v is absent. A nil Value counts as null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// KindOf returns the kind of v, treating nil as KindNull.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Keys returns the record's field names in ascending order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValueOf converts a native Go value into a host Value.
func ValueOf(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Integer(val), nil
	case int8:
		return Integer(val), nil
	case int16:
		return Integer(val), nil
	case int32:
		return Integer(val), nil
	case int64:
		return Integer(val), nil
	case uint8:
		return Integer(val), nil
	case uint16:
		return Integer(val), nil
	case uint32:
		return Integer(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case decimal.Decimal:
		return NewDecimal(val), nil
	case *decimal.Decimal:
		if val == nil {
			return Null{}, nil
		}
		return NewDecimal(*val), nil
	case []byte:
		if val == nil {
			return Null{}, nil
		}
		return Binary(val), nil
	case time.Time:
		return NewDateTime(val), nil
	case *time.Time:
		if val == nil {
			return Null{}, nil
		}
		return NewDateTime(*val), nil
	case map[string]any:
		return RecordOf(val)
	case []map[string]any:
		arr := make(RecordArray, 0, len(val))
		for i, item := range val {
			rec, err := RecordOf(item)
			if err != nil {
				return nil, nestPath(err, rowSegment(i))
			}
			arr = append(arr, rec)
		}
		return arr, nil
	case []Record:
		return RecordArray(val), nil
	case []any:
		arr := make(RecordArray, 0, len(val))
		for i, item := range val {
			converted, err := ValueOf(item)
			if err != nil {
				return nil, nestPath(err, rowSegment(i))
			}
			rec, ok := converted.(Record)
			if !ok {
				return nil, NewUnsupportedValueTypeError(rowSegment(i), fmt.Sprintf("array element %d is %T, only records may be repeated", i+1, item))
			}
			arr = append(arr, rec)
		}
		return arr, nil
	default:
		return nil, NewUnsupportedValueTypeError("", fmt.Sprintf("cannot convert %T", v))
	}
}

// RecordOf converts every entry of m with ValueOf.
func RecordOf(m map[string]any) (Record, error) {
	rec := make(Record, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, nestPath(err, k)
		}
		rec[k] = v
	}
	return rec, nil
}

func rowSegment(i int) string {
	return fmt.Sprintf("[%d]", i+1)
}

// nestPath prefixes the path of a conversion error with the segment of the
// value that contained it.
func nestPath(err error, segment string) error {
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return fmt.Errorf("%s: %w", segment, err)
	}
	switch {
	case callErr.Path == "":
		callErr.Path = segment
	case strings.HasPrefix(callErr.Path, "["):
		callErr.Path = segment + callErr.Path
	default:
		callErr.Path = segment + "." + callErr.Path
	}
	return err
}

// Native converts a host Value back into plain Go values: records become
// map[string]any, record arrays []map[string]any, Null becomes nil.
func Native(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Integer:
		return int64(val)
	case Float:
		return float64(val)
	case Decimal:
		return val.Decimal
	case Binary:
		return []byte(val)
	case Date:
		return val
	case DateTime:
		return val.Time
	case Record:
		out := make(map[string]any, len(val))
		for k, field := range val {
			out[k] = Native(field)
		}
		return out
	case RecordArray:
		out := make([]map[string]any, 0, len(val))
		for _, rec := range val {
			out = append(out, Native(rec).(map[string]any))
		}
		return out
	default:
		return v
	}
}

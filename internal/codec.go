package internal

import (
	"fmt"

	"github.com/lychee-technology/orcall"
	"github.com/shopspring/decimal"
)

// RowCounter is implemented by ports that keep the row count of a repeated
// group, including rows whose fields were all left unset.
type RowCounter interface {
	SetRowCount(path string, n int) error
}

// Encode writes values into port following the declared tree. Keys are
// visited in ascending order; a key the tree does not declare is rejected.
func Encode(port orcall.FieldPort, tree *orcall.Node, values orcall.Record) error {
	return encodeRecord(port, tree, "", values)
}

func encodeRecord(port orcall.FieldPort, node *orcall.Node, prefix string, values orcall.Record) error {
	for _, name := range values.Keys() {
		path := JoinPath(prefix, name)
		child, ok := node.Children[name]
		if !ok {
			return orcall.NewUnsupportedValueTypeError(path, "parameter is not declared by the signature")
		}
		if err := encodeValue(port, child, path, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(port orcall.FieldPort, node *orcall.Node, path string, v orcall.Value) error {
	if node.IsRecord() {
		return encodeComposite(port, node, path, v)
	}
	if orcall.IsNull(v) {
		if !node.Tag.IsScalar() {
			return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unknown type %s", node.Tag))
		}
		return port.SetNull(path, node.Tag)
	}

	switch node.Tag {
	case orcall.TypeString:
		s, ok := v.(orcall.String)
		if !ok {
			return orcall.NewTypeMismatchError(path, node.Tag, v.Kind())
		}
		return port.SetString(path, string(s))
	case orcall.TypeInteger, orcall.TypeSmallint:
		i, ok := v.(orcall.Integer)
		if !ok {
			return orcall.NewTypeMismatchError(path, node.Tag, v.Kind())
		}
		return port.SetInt(path, int64(i))
	case orcall.TypeFloat:
		switch f := v.(type) {
		case orcall.Float:
			return port.SetDouble(path, float64(f))
		case orcall.Integer:
			return port.SetDouble(path, float64(f))
		}
		return orcall.NewTypeMismatchError(path, node.Tag, v.Kind())
	case orcall.TypeDecimal, orcall.TypeMoney:
		d, err := toDecimal(v)
		if err != nil {
			return orcall.NewTypeMismatchError(path, node.Tag, v.Kind())
		}
		return port.SetBigDecimal(path, d)
	case orcall.TypeBinary:
		b, ok := v.(orcall.Binary)
		if !ok {
			return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("BINARY requires a binary value, got %s", v.Kind()))
		}
		return port.SetByteArray(path, []byte(b))
	case orcall.TypeDate:
		switch d := v.(type) {
		case orcall.Date:
			return port.SetDateWithoutTime(path, d)
		case orcall.DateTime:
			return port.SetDate(path, d.Time)
		}
		return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("DATE requires a date or datetime, got %s", v.Kind()))
	}
	return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unknown type %s", node.Tag))
}

func encodeComposite(port orcall.FieldPort, node *orcall.Node, path string, v orcall.Value) error {
	if orcall.IsNull(v) {
		if node.Array {
			return nil
		}
		return setNullBelow(port, node, path)
	}
	if node.Array {
		rows, ok := v.(orcall.RecordArray)
		if !ok {
			return orcall.NewTypeMismatchError(path, orcall.TypeRecordArray, v.Kind())
		}
		for i, row := range rows {
			if err := encodeRecord(port, node, RowPath(path, i+1), row); err != nil {
				return err
			}
		}
		if rc, ok := port.(RowCounter); ok {
			return rc.SetRowCount(path, len(rows))
		}
		return nil
	}
	rec, ok := v.(orcall.Record)
	if !ok {
		return orcall.NewTypeMismatchError(path, orcall.TypeRecord, v.Kind())
	}
	return encodeRecord(port, node, path, rec)
}

func setNullBelow(port orcall.FieldPort, node *orcall.Node, prefix string) error {
	for _, name := range node.ChildNames() {
		child := node.Children[name]
		path := JoinPath(prefix, name)
		switch {
		case child.Array:
			continue
		case child.IsRecord():
			if err := setNullBelow(port, child, path); err != nil {
				return err
			}
		default:
			if err := encodeValue(port, child, path, orcall.Null{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func toDecimal(v orcall.Value) (decimal.Decimal, error) {
	switch d := v.(type) {
	case orcall.Decimal:
		return d.Decimal, nil
	case orcall.Integer:
		return decimal.NewFromInt(int64(d)), nil
	case orcall.Float:
		return decimal.NewFromFloat(float64(d)), nil
	}
	return decimal.Zero, fmt.Errorf("cannot convert %s to decimal", v.Kind())
}

// Decode reads every parameter declared by tree out of port.
func Decode(port orcall.FieldPort, tree *orcall.Node) (orcall.Record, error) {
	return decodeRecord(port, tree, "", tree.ChildNames())
}

// DecodeSelected reads only the named top-level parameters. Names the tree
// does not declare are skipped.
func DecodeSelected(port orcall.FieldPort, tree *orcall.Node, names []string) (orcall.Record, error) {
	selected := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := tree.Children[name]; ok {
			selected = append(selected, name)
		}
	}
	return decodeRecord(port, tree, "", selected)
}

func decodeRecord(port orcall.FieldPort, node *orcall.Node, prefix string, names []string) (orcall.Record, error) {
	out := make(orcall.Record, len(names))
	for _, name := range names {
		child := node.Children[name]
		path := JoinPath(prefix, name)
		v, err := decodeValue(port, child, path)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func decodeValue(port orcall.FieldPort, node *orcall.Node, path string) (orcall.Value, error) {
	if node.Array {
		count, err := port.LastRow(path)
		if err != nil {
			return nil, err
		}
		rows := make(orcall.RecordArray, 0, count)
		for i := 1; i <= count; i++ {
			row, err := decodeRecord(port, node, RowPath(path, i), node.ChildNames())
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	}
	if node.IsRecord() {
		return decodeRecord(port, node, path, node.ChildNames())
	}
	if !node.Tag.IsScalar() {
		return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unknown type %s", node.Tag))
	}

	null, err := port.IsNull(path)
	if err != nil {
		return nil, err
	}
	if null {
		return orcall.Null{}, nil
	}

	switch node.Tag {
	case orcall.TypeString:
		s, err := port.GetString(path)
		return orcall.String(s), err
	case orcall.TypeInteger, orcall.TypeSmallint:
		i, err := port.GetInt(path)
		return orcall.Integer(i), err
	case orcall.TypeFloat:
		f, err := port.GetDouble(path)
		return orcall.Float(f), err
	case orcall.TypeDecimal, orcall.TypeMoney:
		d, err := port.GetBigDecimal(path)
		return orcall.NewDecimal(d), err
	case orcall.TypeBinary:
		b, err := port.GetByteArray(path)
		return orcall.Binary(b), err
	default: // orcall.TypeDate
		t, err := port.GetDate(path)
		return orcall.NewDateTime(t), err
	}
}

// DecodeFlat returns the scalar parameters of tree keyed by dotted path.
// Repeated groups are omitted.
func DecodeFlat(port orcall.FieldPort, tree *orcall.Node) (map[string]orcall.Value, error) {
	out := make(map[string]orcall.Value)
	if err := decodeFlatInto(out, port, tree, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFlatInto(out map[string]orcall.Value, port orcall.FieldPort, node *orcall.Node, prefix string) error {
	for _, name := range node.ChildNames() {
		child := node.Children[name]
		path := JoinPath(prefix, name)
		switch {
		case child.Array:
			continue
		case child.IsRecord():
			if err := decodeFlatInto(out, port, child, path); err != nil {
				return err
			}
		default:
			v, err := decodeValue(port, child, path)
			if err != nil {
				return err
			}
			out[path] = v
		}
	}
	return nil
}

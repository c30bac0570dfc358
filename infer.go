package orcall

import (
	"fmt"
	"strings"
)

// InferSignature derives a signature from the shape of values. Nulls are
// declared STRING; record arrays cannot be inferred.
func InferSignature(values Record) (FlatSignature, error) {
	sig := make(FlatSignature)
	if err := inferInto(sig, "", values); err != nil {
		return nil, err
	}
	return sig, nil
}

// InferNative converts m with RecordOf and infers its signature.
func InferNative(m map[string]any) (FlatSignature, error) {
	rec, err := RecordOf(m)
	if err != nil {
		return nil, err
	}
	return InferSignature(rec)
}

func inferInto(sig FlatSignature, prefix string, values Record) error {
	for name, v := range values {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if name == "" || name == ArrayIndicator || strings.ContainsAny(name, ".[]") {
			return NewUnsupportedValueTypeError(path, "invalid parameter name")
		}
		switch val := v.(type) {
		case nil, Null:
			sig[path] = TypeString
		case Record:
			sig[path] = TypeRecord
			if err := inferInto(sig, path, val); err != nil {
				return err
			}
		case RecordArray:
			return NewUnsupportedValueTypeError(path, "record arrays need an explicit signature")
		case Binary:
			sig[path] = TypeBinary
		case String:
			sig[path] = TypeString
		case Integer:
			sig[path] = TypeInteger
		case Decimal:
			sig[path] = TypeDecimal
		case Float:
			sig[path] = TypeFloat
		case Date, DateTime:
			sig[path] = TypeDate
		default:
			return NewUnsupportedValueTypeError(path, fmt.Sprintf("cannot infer a type for %T", v))
		}
	}
	return nil
}

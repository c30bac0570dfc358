package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lychee-technology/orcall"
)

// DefaultMaxRecordDepth bounds the expansion of record types nested in record types.
const DefaultMaxRecordDepth = 8

// SignatureForProcedure builds the flat signature of procedure name from the
// catalogue. The boolean is false when the catalogue has no such procedure.
func SignatureForProcedure(cat *orcall.Catalogue, name string) (orcall.FlatSignature, bool, error) {
	return signatureForProcedure(cat, name, DefaultMaxRecordDepth)
}

func signatureForProcedure(cat *orcall.Catalogue, name string, maxDepth int) (orcall.FlatSignature, bool, error) {
	proc, ok := cat.Procedure(name)
	if !ok {
		return nil, false, nil
	}
	sig := make(orcall.FlatSignature)
	for _, param := range proc.Parameters {
		if err := expandParameter(cat, sig, "", param, 0, maxDepth); err != nil {
			var callErr *orcall.CallError
			if errors.As(err, &callErr) {
				return nil, true, callErr.WithProcedure(proc.Name)
			}
			return nil, true, err
		}
	}
	return sig, true, nil
}

// NamedTypes returns the paths of sig whose tag is outside the fixed tag set,
// in ascending order.
func NamedTypes(sig orcall.FlatSignature) []string {
	var paths []string
	for _, path := range sig.Keys() {
		if !sig[path].Valid() {
			paths = append(paths, path)
		}
	}
	return paths
}

// ExpandNamedTypes resolves tags that name catalogue record types, such as
// "p1=ucsimpleintstr" or "items=ucsimpleintstr[]". The path is re-tagged
// RECORD (RECORD_ARRAY for the "[]" form) and the record's fields are spliced
// in below it. Paths sig already declares keep their tag.
func ExpandNamedTypes(cat *orcall.Catalogue, sig orcall.FlatSignature, maxDepth int) (orcall.FlatSignature, error) {
	named := NamedTypes(sig)
	if len(named) == 0 {
		return sig, nil
	}
	expanded := make(orcall.FlatSignature)
	for _, path := range named {
		typeName, array := strings.CutSuffix(string(sig[path]), "[]")
		parent, name := "", path
		if i := strings.LastIndexByte(path, '.'); i >= 0 {
			parent, name = path[:i], path[i+1:]
		}
		if _, ok := cat.RecordType(typeName); !ok {
			return nil, orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unknown type %s", typeName))
		}
		param := orcall.Parameter{Name: name, Type: typeName, Array: array}
		if err := expandParameter(cat, expanded, parent, param, 0, maxDepth); err != nil {
			return nil, err
		}
	}

	out := sig.Clone()
	for path, tag := range expanded {
		if declared, ok := out[path]; !ok || !declared.Valid() {
			out[path] = tag
		}
	}
	return out, nil
}

func expandParameter(cat *orcall.Catalogue, sig orcall.FlatSignature, prefix string, param orcall.Parameter, depth, maxDepth int) error {
	path := JoinPath(prefix, param.Name)
	tag := orcall.NormalizeType(param.Type)

	if tag.IsScalar() {
		sig[path] = tag
		return nil
	}
	if tag.IsRecord() {
		if param.Array {
			tag = orcall.TypeRecordArray
		}
		sig[path] = tag
		return nil
	}

	rt, ok := cat.RecordType(param.Type)
	if !ok {
		return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("unsupported type %q", param.Type))
	}
	if depth >= maxDepth {
		return orcall.NewUnsupportedValueTypeError(path, fmt.Sprintf("record type %q nests deeper than %d levels", rt.Name, maxDepth))
	}
	if param.Array {
		sig[path] = orcall.TypeRecordArray
	} else {
		sig[path] = orcall.TypeRecord
	}
	for _, field := range rt.Fields {
		if err := expandParameter(cat, sig, path, field, depth+1, maxDepth); err != nil {
			return withRecordDetail(err, rt.Name)
		}
	}
	return nil
}

func withRecordDetail(err error, record string) error {
	var callErr *orcall.CallError
	if errors.As(err, &callErr) {
		if _, set := callErr.Details["record"]; !set {
			callErr.WithDetail("record", record)
		}
		return callErr
	}
	return err
}

package orcall

import (
	"fmt"
	"sort"
	"strings"
)

// ArrayIndicator is the reserved segment the original wire format used to mark
// a repeated record group. It may not be used as a parameter or field name.
const ArrayIndicator = "*array*"

// typeAliases maps accepted spellings onto the closed tag set.
var typeAliases = map[string]TypeTag{
	"INT":       TypeInteger,
	"BYTEARRAY": TypeBinary,
	"DATETIME":  TypeDate,
	"SHORT":     TypeSmallint,
	"DOUBLE":    TypeFloat,
	"USERCLASS": TypeRecord,
	"UCARRAY":   TypeRecordArray,
}

// NormalizeType upper-cases raw and folds aliases. Spellings outside the
// alias table are returned upper-cased and unchanged; callers check Valid.
func NormalizeType(raw string) TypeTag {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if tag, ok := typeAliases[upper]; ok {
		return tag
	}
	return TypeTag(upper)
}

// FlatSignature maps dotted parameter paths to their declared tag.
type FlatSignature map[string]TypeTag

// ParseSignature reads the textual "name=TYPE; name.field=TYPE" form.
func ParseSignature(text string) (FlatSignature, error) {
	sig := make(FlatSignature)
	for _, clause := range strings.Split(text, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, rawType, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, NewMalformedSignatureError(clause, "clause has no '='")
		}
		name = strings.TrimSpace(name)
		rawType = strings.TrimSpace(rawType)
		if name == "" {
			return nil, NewMalformedSignatureError(clause, "empty parameter name")
		}
		if rawType == "" {
			return nil, NewMalformedSignatureError(clause, "empty type")
		}
		if err := checkPath(name); err != nil {
			return nil, NewMalformedSignatureError(clause, err.Error())
		}
		if _, dup := sig[name]; dup {
			return nil, NewMalformedSignatureError(clause, fmt.Sprintf("duplicate parameter %q", name))
		}
		sig[name] = NormalizeType(rawType)
	}
	return sig, nil
}

// MustParseSignature is ParseSignature for literals known to be well formed.
func MustParseSignature(text string) FlatSignature {
	sig, err := ParseSignature(text)
	if err != nil {
		panic(err)
	}
	return sig
}

func checkPath(path string) error {
	for _, segment := range strings.Split(path, ".") {
		switch {
		case segment == "":
			return fmt.Errorf("empty segment in %q", path)
		case segment == ArrayIndicator:
			return fmt.Errorf("%q is reserved", ArrayIndicator)
		case strings.ContainsAny(segment, "[]"):
			return fmt.Errorf("row subscript in %q", path)
		}
	}
	return nil
}

// Keys returns the parameter paths in ascending order.
func (s FlatSignature) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the signature with keys in ascending order.
func (s FlatSignature) String() string {
	var b strings.Builder
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(string(s[k]))
	}
	return b.String()
}

// TopLevel returns the names of the undotted parameters, sorted.
func (s FlatSignature) TopLevel() []string {
	seen := make(map[string]struct{})
	for k := range s {
		head, _, _ := strings.Cut(k, ".")
		seen[head] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (s FlatSignature) Clone() FlatSignature {
	out := make(FlatSignature, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both signatures declare the same paths and tags.
func (s FlatSignature) Equal(other FlatSignature) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

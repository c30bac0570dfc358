package internal

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/shopspring/decimal"
)

// ParamData is an in-memory orcall.FieldPort. Every path must be declared by
// the signature it was created from; unset leaves read as null.
type ParamData struct {
	mu     sync.RWMutex
	sig    orcall.FlatSignature
	tree   *orcall.Node
	values map[string]orcall.Value
	rows   map[string]int
}

var _ orcall.FieldPort = (*ParamData)(nil)

// NewParamData declares the attributes of sig.
func NewParamData(sig orcall.FlatSignature) *ParamData {
	return &ParamData{
		sig:    sig.Clone(),
		tree:   orcall.BuildTree(sig),
		values: make(map[string]orcall.Value),
		rows:   make(map[string]int),
	}
}

// Signature returns the declared signature.
func (p *ParamData) Signature() orcall.FlatSignature {
	return p.sig
}

// Tree returns the metadata tree of the declared signature.
func (p *ParamData) Tree() *orcall.Node {
	return p.tree
}

// leaf returns the declared tag of a concrete path such as "rows[2].x".
func (p *ParamData) leaf(path string) (orcall.TypeTag, error) {
	node, ok := p.tree.Lookup(path)
	if !ok || node.IsRecord() {
		return "", orcall.NewFieldNotDeclaredError(path)
	}
	return node.Tag, nil
}

func (p *ParamData) set(path string, v orcall.Value, kind orcall.Kind, accepted ...orcall.TypeTag) error {
	tag, err := p.leaf(path)
	if err != nil {
		return err
	}
	if !tagIn(tag, accepted) {
		return orcall.NewTypeMismatchError(path, tag, kind)
	}
	p.mu.Lock()
	p.values[path] = v
	p.mu.Unlock()
	return nil
}

func tagIn(tag orcall.TypeTag, accepted []orcall.TypeTag) bool {
	for _, a := range accepted {
		if a == tag {
			return true
		}
	}
	return false
}

func (p *ParamData) SetInt(path string, v int64) error {
	tag, err := p.leaf(path)
	if err != nil {
		return err
	}
	if tag == orcall.TypeSmallint && (v < math.MinInt16 || v > math.MaxInt16) {
		return orcall.NewTypeMismatchError(path, tag, orcall.KindInteger).WithDetail("value", v)
	}
	return p.set(path, orcall.Integer(v), orcall.KindInteger, orcall.TypeInteger, orcall.TypeSmallint)
}

func (p *ParamData) SetString(path string, v string) error {
	return p.set(path, orcall.String(v), orcall.KindString, orcall.TypeString)
}

func (p *ParamData) SetDouble(path string, v float64) error {
	return p.set(path, orcall.Float(v), orcall.KindFloat, orcall.TypeFloat)
}

func (p *ParamData) SetBigDecimal(path string, v decimal.Decimal) error {
	return p.set(path, orcall.NewDecimal(v), orcall.KindDecimal, orcall.TypeDecimal, orcall.TypeMoney)
}

func (p *ParamData) SetByteArray(path string, v []byte) error {
	buf := make([]byte, len(v))
	copy(buf, v)
	return p.set(path, orcall.Binary(buf), orcall.KindBinary, orcall.TypeBinary)
}

func (p *ParamData) SetDate(path string, v time.Time) error {
	return p.set(path, orcall.NewDateTime(v), orcall.KindDateTime, orcall.TypeDate)
}

func (p *ParamData) SetDateWithoutTime(path string, v orcall.Date) error {
	return p.set(path, v, orcall.KindDate, orcall.TypeDate)
}

func (p *ParamData) SetNull(path string, tag orcall.TypeTag) error {
	declared, err := p.leaf(path)
	if err != nil {
		return err
	}
	if tag != "" && tag != declared {
		return orcall.NewTypeMismatchError(path, declared, orcall.KindNull).WithDetail("requested", string(tag))
	}
	p.mu.Lock()
	p.values[path] = orcall.Null{}
	p.mu.Unlock()
	return nil
}

// get returns the stored value, or nil when the path is null or unset.
func (p *ParamData) get(path string, accepted ...orcall.TypeTag) (orcall.Value, error) {
	tag, err := p.leaf(path)
	if err != nil {
		return nil, err
	}
	if !tagIn(tag, accepted) {
		return nil, orcall.NewTypeMismatchError(path, accepted[0], orcall.KindNull).WithDetail("declared", string(tag))
	}
	p.mu.RLock()
	v := p.values[path]
	p.mu.RUnlock()
	if orcall.IsNull(v) {
		return nil, nil
	}
	return v, nil
}

func (p *ParamData) GetInt(path string) (int64, error) {
	v, err := p.get(path, orcall.TypeInteger, orcall.TypeSmallint)
	if err != nil || v == nil {
		return 0, err
	}
	return int64(v.(orcall.Integer)), nil
}

func (p *ParamData) GetString(path string) (string, error) {
	v, err := p.get(path, orcall.TypeString)
	if err != nil || v == nil {
		return "", err
	}
	return string(v.(orcall.String)), nil
}

func (p *ParamData) GetDouble(path string) (float64, error) {
	v, err := p.get(path, orcall.TypeFloat)
	if err != nil || v == nil {
		return 0, err
	}
	return float64(v.(orcall.Float)), nil
}

func (p *ParamData) GetBigDecimal(path string) (decimal.Decimal, error) {
	v, err := p.get(path, orcall.TypeDecimal, orcall.TypeMoney)
	if err != nil || v == nil {
		return decimal.Zero, err
	}
	return v.(orcall.Decimal).Decimal, nil
}

func (p *ParamData) GetByteArray(path string) ([]byte, error) {
	v, err := p.get(path, orcall.TypeBinary)
	if err != nil || v == nil {
		return nil, err
	}
	src := v.(orcall.Binary)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (p *ParamData) GetDate(path string) (time.Time, error) {
	v, err := p.get(path, orcall.TypeDate)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	switch d := v.(type) {
	case orcall.Date:
		return d.Time(), nil
	case orcall.DateTime:
		return d.Time, nil
	}
	return time.Time{}, orcall.NewTypeMismatchError(path, orcall.TypeDate, v.Kind())
}

func (p *ParamData) IsNull(path string) (bool, error) {
	if _, err := p.leaf(path); err != nil {
		return false, err
	}
	p.mu.RLock()
	v := p.values[path]
	p.mu.RUnlock()
	return orcall.IsNull(v), nil
}

func (p *ParamData) LastRow(path string) (int, error) {
	node, ok := p.tree.Lookup(path)
	if !ok || !node.Array {
		return 0, orcall.NewFieldNotDeclaredError(path)
	}
	prefix := path + "["
	p.mu.RLock()
	defer p.mu.RUnlock()
	last := p.rows[path]
	for key := range p.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		end := strings.IndexByte(rest, ']')
		if end <= 0 {
			continue
		}
		row, err := strconv.Atoi(rest[:end])
		if err != nil {
			continue
		}
		if row > last {
			last = row
		}
	}
	return last, nil
}

// SetRowCount records that the repeated group at path holds n rows, so rows
// with no assigned field still count towards LastRow.
func (p *ParamData) SetRowCount(path string, n int) error {
	node, ok := p.tree.Lookup(path)
	if !ok || !node.Array {
		return orcall.NewFieldNotDeclaredError(path)
	}
	if n < 0 {
		return orcall.NewInvalidArgumentError(fmt.Sprintf("negative row count %d for %s", n, path))
	}
	p.mu.Lock()
	p.rows[path] = n
	p.mu.Unlock()
	return nil
}

// Value returns what was stored at path, including explicit nulls.
func (p *ParamData) Value(path string) (orcall.Value, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[path]
	return v, ok
}

// Assigned returns every concrete path that was set, in ascending order.
func (p *ParamData) Assigned() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, 0, len(p.values))
	for k := range p.values {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// AssignedUnder returns the assigned paths equal to name or nested below it.
func (p *ParamData) AssignedUnder(name string) []string {
	var out []string
	for _, path := range p.Assigned() {
		if under(path, name) {
			out = append(out, path)
		}
	}
	return out
}

// Clear removes every value stored at or below name.
func (p *ParamData) Clear(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.values {
		if under(k, name) {
			delete(p.values, k)
		}
	}
	for k := range p.rows {
		if under(k, name) {
			delete(p.rows, k)
		}
	}
}

// RowCounts returns the recorded row counts at or below name.
func (p *ParamData) RowCounts(name string) map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int)
	for k, n := range p.rows {
		if under(k, name) {
			out[k] = n
		}
	}
	return out
}

func under(path, name string) bool {
	return path == name || strings.HasPrefix(path, name+".") || strings.HasPrefix(path, name+"[")
}

// RowPath addresses row i (from 1) of the repeated group at path.
func RowPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// JoinPath appends a field name to a parent path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

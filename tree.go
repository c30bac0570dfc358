package orcall

import (
	"sort"
	"strconv"
	"strings"
)

// Node is one level of a metadata tree. Leaves carry a scalar tag; record
// nodes carry children and, for repeated groups, Array.
type Node struct {
	Tag      TypeTag
	Array    bool
	Children map[string]*Node
}

// IsRecord reports whether n has (or may have) children.
func (n *Node) IsRecord() bool {
	return n.Children != nil
}

func newRecordNode(array bool) *Node {
	tag := TypeRecord
	if array {
		tag = TypeRecordArray
	}
	return &Node{Tag: tag, Array: array, Children: make(map[string]*Node)}
}

// BuildTree turns a flat signature into nested nodes rooted at an anonymous
// record. Intermediate records are synthesized when the signature omits them.
func BuildTree(sig FlatSignature) *Node {
	root := newRecordNode(false)
	for _, path := range sig.Keys() {
		tag := sig[path]
		segments := strings.Split(path, ".")
		parent := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := parent.Children[seg]
			if !ok || !child.IsRecord() {
				child = newRecordNode(false)
				parent.Children[seg] = child
			}
			parent = child
		}
		last := segments[len(segments)-1]
		if tag.IsRecord() {
			existing, ok := parent.Children[last]
			if ok && existing.IsRecord() {
				existing.Array = tag == TypeRecordArray
				existing.Tag = tag
				continue
			}
			parent.Children[last] = newRecordNode(tag == TypeRecordArray)
			continue
		}
		parent.Children[last] = &Node{Tag: tag}
	}
	return root
}

// Flatten is the inverse of BuildTree for the nodes below n.
func (n *Node) Flatten() FlatSignature {
	sig := make(FlatSignature)
	n.flattenInto(sig, "")
	return sig
}

func (n *Node) flattenInto(sig FlatSignature, prefix string) {
	for name, child := range n.Children {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		sig[path] = child.Tag
		if child.IsRecord() {
			child.flattenInto(sig, path)
		}
	}
}

// ChildNames returns the child keys in ascending order.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.Children))
	for k := range n.Children {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a dotted path below n. A segment may carry a row
// subscript such as "[2]" only when it names a repeated group; rows count
// from 1.
func (n *Node) Lookup(path string) (*Node, bool) {
	cur := n
	for _, seg := range strings.Split(path, ".") {
		name, subscripted, ok := splitSubscript(seg)
		if !ok || cur.Children == nil {
			return nil, false
		}
		next, ok := cur.Children[name]
		if !ok || (subscripted && !next.Array) {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// splitSubscript separates "name[3]" into its name. ok is false for a
// malformed or non-positive subscript.
func splitSubscript(seg string) (name string, subscripted, ok bool) {
	i := strings.IndexByte(seg, '[')
	if i < 0 {
		return seg, false, !strings.ContainsRune(seg, ']')
	}
	if i == 0 || !strings.HasSuffix(seg, "]") {
		return "", false, false
	}
	row, err := strconv.Atoi(seg[i+1 : len(seg)-1])
	if err != nil || row < 1 {
		return "", false, false
	}
	return seg[:i], true, true
}

// Equal compares two trees structurally.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Tag != other.Tag || n.Array != other.Array || n.IsRecord() != other.IsRecord() {
		return false
	}
	if len(n.Children) != len(other.Children) {
		return false
	}
	for k, child := range n.Children {
		oc, ok := other.Children[k]
		if !ok || !child.Equal(oc) {
			return false
		}
	}
	return true
}

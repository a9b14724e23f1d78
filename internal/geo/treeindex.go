package geo

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// RootIndex is the string form of the root node.
	RootIndex = "0"
	// indexSeparator separates ordinals in the string form.
	indexSeparator = "-"
	// childCount is the number of children of a split node.
	childCount = 4
)

// TreeIndex identifies a node of the crawl quadtree by the ordinals of the
// splits that lead to it from the root. The zero value is the root.
// TreeIndex values are immutable and safe to use as map keys through String.
type TreeIndex struct {
	// path holds the ordinals after the root, joined by "-". Empty for the root.
	path string
}

// Root returns the index of the root node.
func Root() TreeIndex {
	return TreeIndex{}
}

// ParseTreeIndex parses the string form produced by TreeIndex.String.
func ParseTreeIndex(s string) (TreeIndex, error) {
	parts := strings.Split(s, indexSeparator)
	if parts[0] != RootIndex {
		return TreeIndex{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidTreeIndex, s, RootIndex)
	}
	for _, p := range parts[1:] {
		ord, err := strconv.Atoi(p)
		if err != nil || ord < 0 || ord >= childCount || len(p) != 1 {
			return TreeIndex{}, fmt.Errorf("%w: %q has bad ordinal %q", ErrInvalidTreeIndex, s, p)
		}
	}
	return TreeIndex{path: strings.Join(parts[1:], indexSeparator)}, nil
}

// MustParseTreeIndex is like ParseTreeIndex but panics on error.
// It is intended for constants and tests.
func MustParseTreeIndex(s string) TreeIndex {
	idx, err := ParseTreeIndex(s)
	if err != nil {
		panic(err)
	}
	return idx
}

// Child returns the index of the child with the given ordinal (0..3).
func (t TreeIndex) Child(ordinal int) TreeIndex {
	if ordinal < 0 || ordinal >= childCount {
		panic(fmt.Sprintf("geo: child ordinal %d out of range", ordinal))
	}
	o := strconv.Itoa(ordinal)
	if t.path == "" {
		return TreeIndex{path: o}
	}
	return TreeIndex{path: t.path + indexSeparator + o}
}

// Parent returns the parent index. The parent of the root is the root.
func (t TreeIndex) Parent() TreeIndex {
	i := strings.LastIndex(t.path, indexSeparator)
	if i < 0 {
		return TreeIndex{}
	}
	return TreeIndex{path: t.path[:i]}
}

// IsRoot reports whether t is the root index.
func (t TreeIndex) IsRoot() bool {
	return t.path == ""
}

// Depth returns the number of splits from the root. The root has depth 0.
func (t TreeIndex) Depth() int {
	if t.path == "" {
		return 0
	}
	return strings.Count(t.path, indexSeparator) + 1
}

// Ordinals returns a copy of the ordinal sequence from the root.
func (t TreeIndex) Ordinals() []int {
	if t.path == "" {
		return nil
	}
	parts := strings.Split(t.path, indexSeparator)
	ords := make([]int, len(parts))
	for i, p := range parts {
		ords[i] = int(p[0] - '0')
	}
	return ords
}

// String returns the "0-a-b-..." form.
func (t TreeIndex) String() string {
	if t.path == "" {
		return RootIndex
	}
	return RootIndex + indexSeparator + t.path
}

// IsAncestorOf reports whether t is a strict ancestor of other.
func (t TreeIndex) IsAncestorOf(other TreeIndex) bool {
	if t.path == other.path {
		return false
	}
	if t.path == "" {
		return true
	}
	return strings.HasPrefix(other.path, t.path+indexSeparator)
}

// IsDescendantOf reports whether t is a strict descendant of other.
func (t TreeIndex) IsDescendantOf(other TreeIndex) bool {
	return other.IsAncestorOf(t)
}

// Compare orders indices in depth-first pre-order: ordinal sequences are
// compared element by element and a prefix sorts before its extensions.
// It returns -1, 0 or +1.
func Compare(a, b TreeIndex) int {
	ao, bo := a.Ordinals(), b.Ordinals()
	for i := 0; i < len(ao) && i < len(bo); i++ {
		switch {
		case ao[i] < bo[i]:
			return -1
		case ao[i] > bo[i]:
			return 1
		}
	}
	switch {
	case len(ao) < len(bo):
		return -1
	case len(ao) > len(bo):
		return 1
	default:
		return 0
	}
}

// CompareBreadthFirst orders indices by depth first, then by Compare.
// Shallower nodes (outer regions) come before deeper ones.
func CompareBreadthFirst(a, b TreeIndex) int {
	if da, db := a.Depth(), b.Depth(); da != db {
		if da < db {
			return -1
		}
		return 1
	}
	return Compare(a, b)
}

// MarshalText implements encoding.TextMarshaler.
func (t TreeIndex) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TreeIndex) UnmarshalText(b []byte) error {
	idx, err := ParseTreeIndex(string(b))
	if err != nil {
		return err
	}
	*t = idx
	return nil
}

// Package tree resolves slash-delimited paths in a models.Tree and applies
// structural edits to it.
//
// Every edit is a pure function: it returns a new snapshot and leaves its
// input untouched. Subtrees the edit does not touch are shared between the
// old and new snapshots, so nodes reachable from a snapshot must be treated
// as read-only.
package tree

import (
	"maps"
	"slices"

	"github.com/fruitsalade/filetree/pkg/models"
)

// Join constructs a child path from a parent path and a segment name.
// An empty parent means the root.
func Join(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}

// CountNodes counts all nodes in a tree.
func CountNodes(t models.Tree) int {
	count := 0
	for _, n := range t {
		count += countNode(n)
	}
	return count
}

func countNode(n *models.Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += countNode(child)
	}
	return count
}

// Walk calls fn for every node in lexical path order. Returning false from
// fn skips the node's children.
func Walk(t models.Tree, fn func(path string, n *models.Node) bool) {
	walk(Container(t), "", fn)
}

func walk(c Container, parent string, fn func(string, *models.Node) bool) {
	for _, k := range slices.Sorted(maps.Keys(c)) {
		n := c[k]
		p := Join(parent, k)
		if fn(p, n) && n.IsDir() {
			walk(n.Children, p, fn)
		}
	}
}

// Flatten returns all nodes in a flat map keyed by path.
func Flatten(t models.Tree) map[string]*models.Node {
	result := make(map[string]*models.Node)
	Walk(t, func(path string, n *models.Node) bool {
		result[path] = n
		return true
	})
	return result
}

// Rebase returns a deep copy of n placed at path: FullPath is rewritten on
// the copy and on every descendant, and tag sets are copied by value.
func Rebase(n *models.Node, path string) *models.Node {
	if !n.IsDir() {
		return &models.Node{Type: n.Type, FullPath: path, Tags: slices.Clone(n.Tags)}
	}
	out := &models.Node{
		Type:     models.TypeFolder,
		FullPath: path,
		Children: make(map[string]*models.Node, len(n.Children)),
	}
	for k, child := range n.Children {
		out.Children[k] = Rebase(child, Join(path, k))
	}
	return out
}

// Clone returns a deep copy of t.
func Clone(t models.Tree) models.Tree {
	if t == nil {
		return nil
	}
	out := make(models.Tree, len(t))
	for k, n := range t {
		out[k] = cloneNode(n)
	}
	return out
}

func cloneNode(n *models.Node) *models.Node {
	cp := &models.Node{Type: n.Type, FullPath: n.FullPath, Tags: slices.Clone(n.Tags)}
	if n.Children != nil {
		cp.Children = make(map[string]*models.Node, len(n.Children))
		for k, child := range n.Children {
			cp.Children[k] = cloneNode(child)
		}
	}
	return cp
}

// Equal reports whether a and b have the same structure, paths and tags.
// Tag order is ignored.
func Equal(a, b models.Tree) bool {
	return containerEqual(Container(a), Container(b))
}

func containerEqual(a, b Container) bool {
	if len(a) != len(b) {
		return false
	}
	for k, an := range a {
		bn, ok := b[k]
		if !ok || !nodeEqual(an, bn) {
			return false
		}
	}
	return true
}

func nodeEqual(a, b *models.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.FullPath != b.FullPath {
		return false
	}
	if a.IsDir() {
		return containerEqual(a.Children, b.Children)
	}
	return slices.Equal(models.NormalizeTags(a.Tags), models.NormalizeTags(b.Tags))
}

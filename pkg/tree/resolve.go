package tree

import (
	"maps"
	"strings"

	"github.com/fruitsalade/filetree/pkg/models"
)

// Container is a mapping that directly owns entries: either the tree root
// or a folder's children.
type Container = map[string]*models.Node

// Split parses a slash-delimited path into its segments. Leading and
// trailing slashes are ignored. Empty paths, empty segments and the dot
// segments "." and ".." are invalid.
func Split(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

// Clean returns the canonical form of path.
func Clean(path string) (string, error) {
	segs, err := Split(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// Resolve locates the container that owns the entry addressed by path and
// the entry's key within it. The entry itself need not exist.
func Resolve(t models.Tree, path string) (Container, string, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, "", pathErr("resolve", path, err)
	}
	parent, err := walkParent(t, segs)
	if err != nil {
		return nil, "", pathErr("resolve", path, err)
	}
	return parent, segs[len(segs)-1], nil
}

func walkParent(t models.Tree, segs []string) (Container, error) {
	cur := Container(t)
	for _, seg := range segs[:len(segs)-1] {
		n, ok := cur[seg]
		if !ok || !n.IsDir() {
			return nil, ErrPathNotFound
		}
		cur = n.Children
	}
	return cur, nil
}

func lookup(t models.Tree, segs []string) (*models.Node, error) {
	parent, err := walkParent(t, segs)
	if err != nil {
		return nil, err
	}
	n, ok := parent[segs[len(segs)-1]]
	if !ok {
		return nil, ErrPathNotFound
	}
	return n, nil
}

// resolveMut is Resolve for writers: it copies the root map and every
// folder along the path so the returned container can be modified without
// touching t. Subtrees off the path stay shared.
func resolveMut(t models.Tree, segs []string) (models.Tree, Container, error) {
	root := maps.Clone(t)
	if root == nil {
		root = models.Tree{}
	}
	cur := Container(root)
	for _, seg := range segs[:len(segs)-1] {
		n, ok := cur[seg]
		if !ok || !n.IsDir() {
			return nil, nil, ErrPathNotFound
		}
		cp := *n
		cp.Children = maps.Clone(n.Children)
		if cp.Children == nil {
			cp.Children = Container{}
		}
		cur[seg] = &cp
		cur = cp.Children
	}
	return root, cur, nil
}

// Package tags holds the set of tags known to the backend and answers
// filter queries against a tree snapshot.
package tags

import (
	"slices"

	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/tree"
)

// Index is an immutable set of known tags. A new Index replaces the old
// one on every reconciliation; nothing mutates an existing Index.
type Index struct {
	known map[string]struct{}
	list  []string
}

// New builds an index from the tag list returned by the backend.
func New(tags []string) *Index {
	list := models.NormalizeTags(tags)
	known := make(map[string]struct{}, len(list))
	for _, t := range list {
		known[t] = struct{}{}
	}
	return &Index{known: known, list: list}
}

// Has reports whether tag is known.
func (x *Index) Has(tag string) bool {
	if x == nil {
		return false
	}
	_, ok := x.known[tag]
	return ok
}

// List returns the known tags in sorted order.
func (x *Index) List() []string {
	if x == nil {
		return []string{}
	}
	return slices.Clone(x.list)
}

// Len returns the number of known tags.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.list)
}

// Tagged returns the paths of all files carrying tag, sorted.
func Tagged(t models.Tree, tag string) []string {
	var paths []string
	tree.Walk(t, func(path string, n *models.Node) bool {
		if !n.IsDir() && n.HasTag(tag) {
			paths = append(paths, path)
		}
		return true
	})
	return paths
}

// Filter returns a pruned snapshot holding only the files that carry tag
// and the folders on the way to them. An empty tag returns t unchanged.
func Filter(t models.Tree, tag string) models.Tree {
	if tag == "" {
		return t
	}
	out := models.Tree{}
	for k, n := range t {
		if kept := filterNode(n, tag); kept != nil {
			out[k] = kept
		}
	}
	return out
}

func filterNode(n *models.Node, tag string) *models.Node {
	if !n.IsDir() {
		if n.HasTag(tag) {
			return n
		}
		return nil
	}
	children := map[string]*models.Node{}
	for k, child := range n.Children {
		if kept := filterNode(child, tag); kept != nil {
			children[k] = kept
		}
	}
	if len(children) == 0 {
		return nil
	}
	return &models.Node{Type: models.TypeFolder, FullPath: n.FullPath, Children: children}
}

// Unknown returns the tags used by files in t that the index does not know
// about, sorted. These are left over from tag removals that the next full
// load has not yet caught up with.
func (x *Index) Unknown(t models.Tree) []string {
	seen := map[string]struct{}{}
	tree.Walk(t, func(_ string, n *models.Node) bool {
		for _, tag := range n.Tags {
			if !x.Has(tag) {
				seen[tag] = struct{}{}
			}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

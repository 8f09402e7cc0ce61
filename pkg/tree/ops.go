package tree

import (
	"slices"
	"strings"

	"github.com/fruitsalade/filetree/pkg/models"
)

// CreateFile returns a snapshot with an untagged file at path.
func CreateFile(t models.Tree, path string) (models.Tree, error) {
	return insert(t, "create file", path, models.TypeFile)
}

// CreateFolder returns a snapshot with an empty folder at path.
func CreateFolder(t models.Tree, path string) (models.Tree, error) {
	return insert(t, "create folder", path, models.TypeFolder)
}

func insert(t models.Tree, op, path string, typ models.NodeType) (models.Tree, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, pathErr(op, path, err)
	}
	next, parent, err := resolveMut(t, segs)
	if err != nil {
		return nil, pathErr(op, path, err)
	}
	key := segs[len(segs)-1]
	if _, exists := parent[key]; exists {
		return nil, pathErr(op, path, ErrPathConflict)
	}

	full := strings.Join(segs, "/")
	if typ == models.TypeFolder {
		parent[key] = models.NewFolder(full)
	} else {
		parent[key] = models.NewFile(full)
	}
	return next, nil
}

// Delete returns a snapshot without the entry at path. Deleting a folder
// drops its whole subtree.
func Delete(t models.Tree, path string) (models.Tree, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, pathErr("delete", path, err)
	}
	if _, err := lookup(t, segs); err != nil {
		return nil, pathErr("delete", path, err)
	}
	next, parent, err := resolveMut(t, segs)
	if err != nil {
		return nil, pathErr("delete", path, err)
	}
	delete(parent, segs[len(segs)-1])
	return next, nil
}

// Move returns a snapshot with the entry at src relocated to dst. The
// entry and all its descendants get their FullPath rewritten under dst.
func Move(t models.Tree, src, dst string) (models.Tree, error) {
	return relocate(t, "move", src, dst, true)
}

// Copy returns a snapshot with a deep copy of the entry at src placed at
// dst. The source is left in place.
func Copy(t models.Tree, src, dst string) (models.Tree, error) {
	return relocate(t, "copy", src, dst, false)
}

func relocate(t models.Tree, op, src, dst string, removeSource bool) (models.Tree, error) {
	srcSegs, err := Split(src)
	if err != nil {
		return nil, pathErr(op, src, err)
	}
	dstSegs, err := Split(dst)
	if err != nil {
		return nil, pathErr(op, dst, err)
	}

	node, err := lookup(t, srcSegs)
	if err != nil {
		return nil, pathErr(op, src, err)
	}
	if isWithin(dstSegs, srcSegs, node.IsDir()) {
		return nil, pathErr(op, dst, ErrInvalidMove)
	}

	dstParent, err := walkParent(t, dstSegs)
	if err != nil {
		return nil, pathErr(op, dst, err)
	}
	dstKey := dstSegs[len(dstSegs)-1]
	if _, exists := dstParent[dstKey]; exists {
		return nil, pathErr(op, dst, ErrPathConflict)
	}

	next := t
	if removeSource {
		var srcParent Container
		next, srcParent, err = resolveMut(t, srcSegs)
		if err != nil {
			return nil, pathErr(op, src, err)
		}
		delete(srcParent, srcSegs[len(srcSegs)-1])
	}

	next, parent, err := resolveMut(next, dstSegs)
	if err != nil {
		return nil, pathErr(op, dst, err)
	}
	parent[dstKey] = Rebase(node, strings.Join(dstSegs, "/"))
	return next, nil
}

// isWithin reports whether dst is src itself or, for folders, lies
// beneath it.
func isWithin(dst, src []string, folder bool) bool {
	if slices.Equal(dst, src) {
		return true
	}
	return folder && len(dst) > len(src) && slices.Equal(dst[:len(src)], src)
}

// Load returns the node at path without modifying the tree.
func Load(t models.Tree, path string) (*models.Node, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, pathErr("load", path, err)
	}
	n, err := lookup(t, segs)
	if err != nil {
		return nil, pathErr("load", path, err)
	}
	return n, nil
}

// SetTags returns a snapshot where the file at path carries exactly tags.
func SetTags(t models.Tree, path string, tags []string) (models.Tree, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, pathErr("set tags", path, err)
	}
	n, err := lookup(t, segs)
	if err != nil {
		return nil, pathErr("set tags", path, err)
	}
	if n.IsDir() {
		return nil, pathErr("set tags", path, ErrNotFile)
	}
	next, parent, err := resolveMut(t, segs)
	if err != nil {
		return nil, pathErr("set tags", path, err)
	}
	parent[segs[len(segs)-1]] = models.NewFile(strings.Join(segs, "/"), tags...)
	return next, nil
}

// Package models contains the tree data types shared by the client,
// the dev backend and the CLI.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// NodeType discriminates files from folders.
type NodeType string

const (
	TypeFile   NodeType = "file"
	TypeFolder NodeType = "folder"
)

// Node is a file or a folder in the tree.
// Tags is only meaningful for files and Children only for folders.
type Node struct {
	Type     NodeType
	FullPath string
	Tags     []string
	Children map[string]*Node
}

// Tree maps top-level segment names to nodes. The root has no node of its own.
type Tree map[string]*Node

// NewFile returns a file node with an empty tag set.
func NewFile(fullPath string, tags ...string) *Node {
	return &Node{Type: TypeFile, FullPath: fullPath, Tags: NormalizeTags(tags)}
}

// NewFolder returns an empty folder node.
func NewFolder(fullPath string) *Node {
	return &Node{Type: TypeFolder, FullPath: fullPath, Children: map[string]*Node{}}
}

// IsDir reports whether the node is a folder.
func (n *Node) IsDir() bool {
	return n != nil && n.Type == TypeFolder
}

// HasTag reports whether a file carries tag.
func (n *Node) HasTag(tag string) bool {
	return n != nil && slices.Contains(n.Tags, tag)
}

// NormalizeTags returns a sorted copy of tags with duplicates and empty
// strings removed. The result is never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

type fileJSON struct {
	Type     NodeType `json:"type"`
	FullPath string   `json:"full-path"`
	Tags     []string `json:"tags"`
}

type folderJSON struct {
	Type     NodeType         `json:"type"`
	FullPath string           `json:"full-path"`
	Children map[string]*Node `json:"children"`
}

type nodeJSON struct {
	Type     NodeType         `json:"type"`
	FullPath string           `json:"full-path"`
	Tags     []string         `json:"tags"`
	Children map[string]*Node `json:"children"`
}

// MarshalJSON writes the backend wire form. Folders always carry a
// children object and files always carry a tags array.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch n.Type {
	case TypeFolder:
		children := n.Children
		if children == nil {
			children = map[string]*Node{}
		}
		return json.Marshal(folderJSON{Type: TypeFolder, FullPath: n.FullPath, Children: children})
	case TypeFile:
		tags := n.Tags
		if tags == nil {
			tags = []string{}
		}
		return json.Marshal(fileJSON{Type: TypeFile, FullPath: n.FullPath, Tags: tags})
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", n.FullPath, n.Type)
	}
}

// UnmarshalJSON reads the backend wire form. A node without a type is
// treated as a folder when it has children and as a file otherwise.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	typ := raw.Type
	if typ == "" {
		if raw.Children != nil {
			typ = TypeFolder
		} else {
			typ = TypeFile
		}
	}

	switch typ {
	case TypeFolder:
		children := raw.Children
		if children == nil {
			children = map[string]*Node{}
		}
		if err := checkEntries(children); err != nil {
			return fmt.Errorf("node %q: %w", raw.FullPath, err)
		}
		*n = Node{Type: TypeFolder, FullPath: raw.FullPath, Children: children}
	case TypeFile:
		*n = Node{Type: TypeFile, FullPath: raw.FullPath, Tags: NormalizeTags(raw.Tags)}
	default:
		return fmt.Errorf("node %q: unknown type %q", raw.FullPath, typ)
	}
	return nil
}

// UnmarshalJSON decodes the top-level entries and rejects null ones.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var entries map[string]*Node
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if err := checkEntries(entries); err != nil {
		return err
	}
	*t = entries
	return nil
}

func checkEntries(entries map[string]*Node) error {
	for name, n := range entries {
		if n == nil {
			return fmt.Errorf("entry %q is null", name)
		}
	}
	return nil
}

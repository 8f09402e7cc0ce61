package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/tree"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// print writes v in the selected format. Text output is delegated to text.
func (a *app) print(w io.Writer, v any, text func(io.Writer) error) error {
	switch a.output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		generic, err := toGeneric(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

// toGeneric round-trips v through JSON so YAML output uses the same keys
// as the wire format.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeTree prints t as an indented listing. Folders end in a slash and
// files show their tags.
func writeTree(w io.Writer, t models.Tree) error {
	var err error
	tree.Walk(t, func(path string, n *models.Node) bool {
		if err != nil {
			return false
		}
		depth := strings.Count(path, "/")
		name := path[strings.LastIndex(path, "/")+1:]
		line := strings.Repeat("  ", depth) + name
		if n.IsDir() {
			line += "/"
		} else if len(n.Tags) > 0 {
			line += " [" + strings.Join(n.Tags, ", ") + "]"
		}
		_, err = fmt.Fprintln(w, line)
		return true
	})
	return err
}

func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

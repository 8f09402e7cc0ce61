package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/filetree/pkg/client"
	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/tags"
	"github.com/fruitsalade/filetree/pkg/tree"
)

func newListCmd(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:     "ls [path]",
		Aliases: []string{"list"},
		Short:   "List the tree or a folder",
		Long: `List the remote tree.

Examples:
  filetree ls                 # whole tree
  filetree ls docs            # one folder
  filetree ls --tag finance   # files tagged finance and their folders`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loaded(cmd.Context())
			if err != nil {
				return err
			}

			t := tags.Filter(c.Tree(), tag)
			if len(args) == 1 {
				n, err := tree.Load(t, args[0])
				if err != nil {
					return err
				}
				if !n.IsDir() {
					return a.print(cmd.OutOrStdout(), n, func(w io.Writer) error {
						return writeTree(w, models.Tree{path.Base(n.FullPath): n})
					})
				}
				t = models.Tree(n.Children)
			}
			return a.print(cmd.OutOrStdout(), t, func(w io.Writer) error {
				return writeTree(w, t)
			})
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "Only show files carrying this tag")
	return cmd
}

func newTagsCmd(a *app) *cobra.Command {
	var unknown bool

	cmd := &cobra.Command{
		Use:   "tags [tag]",
		Short: "List known tags, or the files carrying one tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loaded(cmd.Context())
			if err != nil {
				return err
			}
			snap := c.Snapshot()

			var lines []string
			switch {
			case len(args) == 1:
				lines = tags.Tagged(snap.Tree, args[0])
			case unknown:
				lines = snap.Tags.Unknown(snap.Tree)
			default:
				lines = snap.Tags.List()
			}
			if lines == nil {
				lines = []string{}
			}
			return a.print(cmd.OutOrStdout(), lines, func(w io.Writer) error {
				return writeLines(w, lines)
			})
		},
	}

	cmd.Flags().BoolVar(&unknown, "unknown", false, "List tags used by files but missing from the index")
	return cmd
}

// mutate loads the tree, runs op and reports the reconciled result.
func (a *app) mutate(cmd *cobra.Command, done string, op func(context.Context, *client.Client) error) error {
	ctx := cmd.Context()
	c, err := a.loaded(ctx)
	if err != nil {
		return err
	}
	if err := op(ctx, c); err != nil {
		return err
	}
	t := c.Tree()
	return a.print(cmd.OutOrStdout(), t, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, done)
		return err
	})
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create an empty folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, "created folder "+args[0], func(ctx context.Context, c *client.Client) error {
				return c.CreateFolder(ctx, args[0])
			})
		},
	}
}

func newTouchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <path>",
		Short: "Create an empty, untagged file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, "created file "+args[0], func(ctx context.Context, c *client.Client) error {
				return c.CreateFile(ctx, args[0])
			})
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <path>",
		Aliases: []string{"delete"},
		Short:   "Delete a file or a folder with everything below it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, "deleted "+args[0], func(ctx context.Context, c *client.Client) error {
				return c.Delete(ctx, args[0])
			})
		},
	}
}

func newMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "mv <source> <dest>",
		Aliases: []string{"move"},
		Short:   "Move a file or folder",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, fmt.Sprintf("moved %s to %s", args[0], args[1]), func(ctx context.Context, c *client.Client) error {
				return c.Move(ctx, args[0], args[1])
			})
		},
	}
}

func newCopyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "cp <source> <dest>",
		Aliases: []string{"copy"},
		Short:   "Copy a file or folder",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, fmt.Sprintf("copied %s to %s", args[0], args[1]), func(ctx context.Context, c *client.Client) error {
				return c.Copy(ctx, args[0], args[1])
			})
		},
	}
}

func newTagCmd(a *app) *cobra.Command {
	var add bool

	cmd := &cobra.Command{
		Use:   "tag <path> [tag...]",
		Short: "Set the tags of a file",
		Long: `Replace the tag set of a file. With --add the given tags are added to
the existing ones. Without tags and without --add the file is untagged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, list := args[0], args[1:]
			return a.mutate(cmd, "tagged "+p, func(ctx context.Context, c *client.Client) error {
				if add {
					n, err := tree.Load(c.Tree(), p)
					if err != nil {
						return err
					}
					list = append(list, n.Tags...)
				}
				return c.SetTags(ctx, p, list)
			})
		},
	}

	cmd.Flags().BoolVar(&add, "add", false, "Keep the file's current tags")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.loaded(ctx)
			if err != nil {
				return err
			}
			data, err := c.LoadObject(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), data, func(w io.Writer) error {
				var buf bytes.Buffer
				if err := json.Indent(&buf, data, "", "  "); err != nil {
					return err
				}
				buf.WriteByte('\n')
				_, err := buf.WriteTo(w)
				return err
			})
		},
	}
}

func newUploadCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <local-file> [folder]",
		Short: "Upload a local file into a folder (root by default)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			folder := ""
			if len(args) == 2 {
				folder = args[1]
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			return a.mutate(cmd, "uploaded "+tree.Join(folder, name), func(ctx context.Context, c *client.Client) error {
				return c.Upload(ctx, folder, name, f)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "File name on the backend (defaults to the local name)")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{"client": a.version}
			if remote {
				v, err := a.client.ServerVersion(cmd.Context())
				if err != nil {
					return err
				}
				info["backend"] = v
			}
			return a.print(cmd.OutOrStdout(), info, func(w io.Writer) error {
				fmt.Fprintf(w, "filetree %s\n", info["client"])
				if remote {
					fmt.Fprintf(w, "backend  %s\n", info["backend"])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also query the backend version")
	return cmd
}

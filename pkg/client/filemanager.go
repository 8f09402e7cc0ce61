package client

import (
	"context"
	"encoding/json"
	"io"

	"github.com/fruitsalade/filetree/pkg/models"
)

// Setters receive the reconciled state after an operation. Either may be nil.
type Setters struct {
	Tree func(models.Tree)
	Tags func([]string)
}

// FileManager exposes the client in the callback style presentation code
// expects: each mutating call pushes the reconciled tree and tags into the
// given setters.
type FileManager struct {
	c *Client
}

// NewFileManager wraps c.
func NewFileManager(c *Client) *FileManager {
	return &FileManager{c: c}
}

// Client returns the underlying client.
func (m *FileManager) Client() *Client {
	return m.c
}

// push hands the snapshot to set unless the operation left the client in
// Failed. A remote rejection still reloads, so its setters fire too.
func (m *FileManager) push(set Setters, err error) error {
	if m.c.State() == Failed {
		return err
	}
	if _, isTransport := AsTransport(err); isTransport {
		return err
	}
	if err != nil {
		if _, isRemote := AsRemote(err); !isRemote {
			// Local validation error: nothing was sent.
			return err
		}
	}

	snap := m.c.Snapshot()
	if set.Tree != nil {
		set.Tree(snap.Tree)
	}
	if set.Tags != nil {
		set.Tags(snap.Tags.List())
	}
	return err
}

// LoadTree loads the tree and tags from the backend.
func (m *FileManager) LoadTree(ctx context.Context, set Setters) error {
	return m.push(set, m.c.LoadTree(ctx))
}

// CreateFolder creates a folder at path.
func (m *FileManager) CreateFolder(ctx context.Context, path string, set Setters) error {
	return m.push(set, m.c.CreateFolder(ctx, path))
}

// CreateFile creates an empty file at path.
func (m *FileManager) CreateFile(ctx context.Context, path string, set Setters) error {
	return m.push(set, m.c.CreateFile(ctx, path))
}

// DeleteObject deletes the entry at path.
func (m *FileManager) DeleteObject(ctx context.Context, path string, set Setters) error {
	return m.push(set, m.c.Delete(ctx, path))
}

// MoveObject moves src to dst.
func (m *FileManager) MoveObject(ctx context.Context, src, dst string, set Setters) error {
	return m.push(set, m.c.Move(ctx, src, dst))
}

// CopyObject copies src to dst.
func (m *FileManager) CopyObject(ctx context.Context, src, dst string, set Setters) error {
	return m.push(set, m.c.Copy(ctx, src, dst))
}

// UpdateObject sends update fields for path.
func (m *FileManager) UpdateObject(ctx context.Context, path string, fields map[string]any, set Setters) error {
	return m.push(set, m.c.Update(ctx, path, fields))
}

// UploadFile uploads content as name into folder.
func (m *FileManager) UploadFile(ctx context.Context, name string, content io.Reader, folder string, set Setters) error {
	return m.push(set, m.c.Upload(ctx, folder, name, content))
}

// LoadObject loads the entry at path and passes its data to loadFile.
func (m *FileManager) LoadObject(ctx context.Context, path string, loadFile func(json.RawMessage)) error {
	data, err := m.c.LoadObject(ctx, path)
	if err != nil {
		return err
	}
	if loadFile != nil {
		loadFile(data)
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/internal/metrics"
	"github.com/fruitsalade/filetree/pkg/protocol"
	"github.com/fruitsalade/filetree/pkg/retry"
	"github.com/fruitsalade/filetree/pkg/tree"
)

// Upload sends content as a new file called name inside folder ("" for the
// root), then reloads the tree. Only the base name of name is used.
func (c *Client) Upload(ctx context.Context, folder, name string, content io.Reader) error {
	defer c.begin()()

	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		metrics.RecordOperation(protocol.ControlUpload, metrics.StatusLocal)
		return &tree.PathError{Op: "upload", Path: name, Err: tree.ErrInvalidPath}
	}
	if folder != "" {
		clean, err := tree.Clean(folder)
		if err != nil {
			metrics.RecordOperation(protocol.ControlUpload, metrics.StatusLocal)
			return &tree.PathError{Op: "upload", Path: folder, Err: err}
		}
		folder = clean
	}
	target := tree.Join(folder, base)
	if _, err := tree.CreateFile(c.Tree(), target); err != nil {
		metrics.RecordOperation(protocol.ControlUpload, metrics.StatusLocal)
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(protocol.FormFile, base)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.WriteField(protocol.FormPath, folder); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	payload := body.Bytes()

	c.setState(Pending)
	logging.Debug("upload request", zap.String("path", target), zap.Int("bytes", len(payload)))

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+protocol.UploadPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}

	var resp protocol.TreeResponse
	if err := c.do(ctx, protocol.ControlUpload, retry.Once(), build, &resp); err != nil {
		return c.fail(protocol.ControlUpload, err)
	}
	metrics.RecordUpload(int64(len(payload)))
	return c.finish(ctx, protocol.ControlUpload, resp.Error)
}

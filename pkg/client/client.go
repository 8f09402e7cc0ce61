// Package client keeps a local snapshot of the backend's file tree and
// synchronizes it after every change.
//
// Every mutating call is validated locally against the current snapshot,
// sent to the backend, and followed by a full reload. The reloaded tree and
// tag set replace the local state wholesale; the locally computed result of
// an operation is only used to reject invalid requests early.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/internal/metrics"
	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/protocol"
	"github.com/fruitsalade/filetree/pkg/retry"
	"github.com/fruitsalade/filetree/pkg/tags"
	"github.com/fruitsalade/filetree/pkg/tree"
)

// State is the synchronization state of a Client.
type State int

const (
	Idle State = iota
	Pending
	Reconciling
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Reconciling:
		return "reconciling"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is an immutable view of the synchronized state. Callers must
// not modify the tree.
type Snapshot struct {
	Tree models.Tree
	Tags *tags.Index
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds each HTTP round trip; zero means no timeout.
	Timeout time.Duration
	// ReadRetry applies to list and load. Mutating calls are sent once.
	ReadRetry retry.Config
	AuthToken string
	// HTTPClient overrides the default transport when set.
	HTTPClient *http.Client
}

// Client owns the tree and tag snapshots and is their only writer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	readRetry  retry.Config

	// ops serializes operations: one is in flight at a time.
	ops sync.Mutex
	// reconciled is the snapshot produced by the running operation's
	// reload, handed to listeners once ops is released. Guarded by ops.
	reconciled *Snapshot

	mu        sync.RWMutex
	tree      models.Tree
	tags      *tags.Index
	state     State
	lastErr   error
	selected  string
	authToken string
	listeners []func(Snapshot)
}

// New creates a new client with an empty snapshot.
func New(cfg Config) *Client {
	if cfg.ReadRetry.MaxAttempts == 0 {
		cfg.ReadRetry = retry.DefaultConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		readRetry:  cfg.ReadRetry,
		tree:       models.Tree{},
		tags:       tags.New(nil),
		authToken:  cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Snapshot returns the current tree and tag index.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Tree: c.tree, Tags: c.tags}
}

// Tree returns the current tree snapshot.
func (c *Client) Tree() models.Tree {
	return c.Snapshot().Tree
}

// Tags returns the current tag index.
func (c *Client) Tags() *tags.Index {
	return c.Snapshot().Tags
}

// State returns the synchronization state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error that put the client into Failed, if any.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Selected returns the path of the last successfully loaded entry.
func (c *Client) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// Subscribe registers fn to be called with the new snapshot after every
// successful reconciliation. fn runs on the caller's goroutine once the
// operation has released the client, so it may call back into it.
func (c *Client) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// begin takes the operation lock. The returned func releases it and then
// notifies listeners if the operation reconciled.
func (c *Client) begin() func() {
	c.ops.Lock()
	c.reconciled = nil
	return func() {
		snap := c.reconciled
		c.reconciled = nil
		c.ops.Unlock()
		if snap != nil {
			c.notify(*snap)
		}
	}
}

func (c *Client) notify(snap Snapshot) {
	c.mu.RLock()
	listeners := slices.Clone(c.listeners)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// LoadTree fetches the tree and tags and replaces the local snapshot.
func (c *Client) LoadTree(ctx context.Context) error {
	defer c.begin()()

	c.setState(Reconciling)
	if err := c.reload(ctx); err != nil {
		return c.fail(protocol.ControlList, err)
	}
	metrics.RecordOperation(protocol.ControlList, metrics.StatusOK)
	return nil
}

// CreateFolder creates an empty folder at path.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlCreate, Path: path, Type: models.TypeFolder},
		func(t models.Tree) (models.Tree, error) { return tree.CreateFolder(t, path) })
}

// CreateFile creates an empty, untagged file at path.
func (c *Client) CreateFile(ctx context.Context, path string) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlCreate, Path: path, Type: models.TypeFile},
		func(t models.Tree) (models.Tree, error) { return tree.CreateFile(t, path) })
}

// Delete removes the entry at path, including any subtree.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlDelete, Path: path},
		func(t models.Tree) (models.Tree, error) { return tree.Delete(t, path) })
}

// Move relocates the entry at src to dst.
func (c *Client) Move(ctx context.Context, src, dst string) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlMove, Source: src, Dest: dst},
		func(t models.Tree) (models.Tree, error) { return tree.Move(t, src, dst) })
}

// Copy places a deep copy of the entry at src at dst.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlCopy, Source: src, Dest: dst},
		func(t models.Tree) (models.Tree, error) { return tree.Copy(t, src, dst) })
}

// Update sends arbitrary update fields for the entry at path.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlUpdate, Path: path, Update: fields},
		func(t models.Tree) (models.Tree, error) {
			_, err := tree.Load(t, path)
			return t, err
		})
}

// SetTags replaces the tag set of the file at path.
func (c *Client) SetTags(ctx context.Context, path string, tagSet []string) error {
	normalized := models.NormalizeTags(tagSet)
	return c.mutate(ctx,
		protocol.TreeRequest{Control: protocol.ControlUpdate, Path: path, Update: protocol.TagsUpdate(normalized)},
		func(t models.Tree) (models.Tree, error) { return tree.SetTags(t, path, normalized) })
}

// mutate validates req locally with candidate, sends it once, and reloads
// on any decodable response. Remote rejections are returned after the
// reload as *RemoteError.
func (c *Client) mutate(ctx context.Context, req protocol.TreeRequest, candidate func(models.Tree) (models.Tree, error)) error {
	defer c.begin()()

	if _, err := candidate(c.Tree()); err != nil {
		metrics.RecordOperation(req.Control, metrics.StatusLocal)
		return err
	}

	c.setState(Pending)
	logging.Debug("tree request",
		zap.String("control", req.Control),
		zap.String("path", req.Path),
		zap.String("source", req.Source),
		zap.String("dest", req.Dest))

	var resp protocol.TreeResponse
	if err := c.do(ctx, req.Control, retry.Once(), c.jsonRequest(req), &resp); err != nil {
		return c.fail(req.Control, err)
	}
	return c.finish(ctx, req.Control, resp.Error)
}

// finish runs the Reconciling step after a mutating call got a response.
func (c *Client) finish(ctx context.Context, control, remoteMsg string) error {
	if remoteMsg != "" {
		logging.Error("backend rejected operation",
			zap.String("control", control),
			zap.String("error", remoteMsg))
	}

	c.setState(Reconciling)
	if err := c.reload(ctx); err != nil {
		return c.fail(control, err)
	}

	if remoteMsg != "" {
		metrics.RecordOperation(control, metrics.StatusRemote)
		return &RemoteError{Control: control, Message: remoteMsg}
	}
	metrics.RecordOperation(control, metrics.StatusOK)
	return nil
}

// listResponse tells a missing tree apart from an empty one.
type listResponse struct {
	Tree  *models.Tree `json:"tree"`
	Tags  []string     `json:"tags"`
	Error string       `json:"error"`
}

// reload fetches list and replaces the snapshot. It is the only place the
// snapshot is written; a response without a tree leaves it untouched.
func (c *Client) reload(ctx context.Context) error {
	var resp listResponse
	err := c.do(ctx, protocol.ControlList, c.readRetry,
		c.jsonRequest(protocol.TreeRequest{Control: protocol.ControlList}), &resp)
	if err != nil {
		metrics.RecordReconcile(false, 0, 0)
		return err
	}
	if resp.Error != "" {
		metrics.RecordReconcile(false, 0, 0)
		return &RemoteError{Control: protocol.ControlList, Message: resp.Error}
	}
	if resp.Tree == nil || *resp.Tree == nil {
		metrics.RecordReconcile(false, 0, 0)
		return errors.New("list response has no tree")
	}

	next := *resp.Tree
	idx := tags.New(resp.Tags)

	c.mu.Lock()
	c.tree = next
	c.tags = idx
	c.state = Idle
	c.lastErr = nil
	c.mu.Unlock()
	c.reconciled = &Snapshot{Tree: next, Tags: idx}

	nodes := tree.CountNodes(next)
	metrics.RecordReconcile(true, nodes, idx.Len())
	logging.Info("tree reconciled", zap.Int("nodes", nodes), zap.Int("tags", idx.Len()))
	if unknown := idx.Unknown(next); len(unknown) > 0 {
		logging.Debug("files carry tags missing from the index", zap.Strings("tags", unknown))
	}
	return nil
}

// fail moves the client to Failed. The snapshot is left untouched.
func (c *Client) fail(control string, err error) error {
	if _, ok := AsRemote(err); !ok {
		err = &TransportError{Control: control, Err: err}
	}

	c.mu.Lock()
	c.state = Failed
	c.lastErr = err
	c.mu.Unlock()

	status := metrics.StatusTransport
	if _, ok := AsRemote(err); ok {
		status = metrics.StatusRemote
	}
	metrics.RecordOperation(control, status)
	logging.Error("tree operation failed", zap.String("control", control), zap.Error(err))
	return err
}

// LoadObject fetches the content of the entry at path. It does not change
// the tree; on success the path becomes the selected entry.
func (c *Client) LoadObject(ctx context.Context, path string) (json.RawMessage, error) {
	defer c.begin()()

	if _, err := tree.Load(c.Tree(), path); err != nil {
		metrics.RecordOperation(protocol.ControlLoad, metrics.StatusLocal)
		return nil, err
	}

	c.setState(Pending)
	var resp protocol.LoadResponse
	err := c.do(ctx, protocol.ControlLoad, c.readRetry,
		c.jsonRequest(protocol.TreeRequest{Control: protocol.ControlLoad, Path: path}), &resp)
	if err != nil {
		return nil, c.fail(protocol.ControlLoad, err)
	}
	c.setState(Idle)

	if resp.Error != "" {
		logging.Error("backend rejected load", zap.String("path", path), zap.String("error", resp.Error))
		metrics.RecordOperation(protocol.ControlLoad, metrics.StatusRemote)
		return nil, &RemoteError{Control: protocol.ControlLoad, Message: resp.Error}
	}

	c.mu.Lock()
	c.selected = path
	c.mu.Unlock()
	metrics.RecordOperation(protocol.ControlLoad, metrics.StatusOK)
	return resp.Data, nil
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

func (c *Client) jsonRequest(body protocol.TreeRequest) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+protocol.TreePath, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		return req, nil
	}
}

// do performs one logical request under policy and decodes the JSON body
// into out. A 2xx body is always decoded. Any other status is accepted only
// when the body carries an error message, which is the caller's concern.
func (c *Client) do(ctx context.Context, control string, policy retry.Config, build requestBuilder, out any) error {
	return retry.Do(ctx, policy, func() error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		requestID := logging.NewRequestID()
		req.Header.Set(logging.RequestIDHeader, requestID)
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.RecordRequest(control, time.Since(start))
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return err
			}
			defer gr.Close()
			reader = gr
		}

		var body json.RawMessage
		decodeErr := json.NewDecoder(reader).Decode(&body)
		ok := resp.StatusCode >= 200 && resp.StatusCode < 300
		if decodeErr == nil && !ok && !hasErrorMessage(body) {
			decodeErr = fmt.Errorf("no error message in body")
		}
		if decodeErr == nil {
			decodeErr = json.Unmarshal(body, out)
		}
		if decodeErr != nil {
			if resp.StatusCode >= 500 {
				return retry.Retryable(fmt.Errorf("server returned %d", resp.StatusCode))
			}
			if !ok {
				return fmt.Errorf("server returned %d: %w", resp.StatusCode, decodeErr)
			}
			return fmt.Errorf("decode %s response: %w", control, decodeErr)
		}

		logging.Debug("tree response",
			zap.String("control", control),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode))
		return nil
	})
}

func hasErrorMessage(body json.RawMessage) bool {
	var e protocol.ErrorResponse
	return json.Unmarshal(body, &e) == nil && e.Error != ""
}

// ServerVersion asks the backend for its version string.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var resp protocol.VersionResponse
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.VersionPath, nil)
	}
	if err := c.do(ctx, "version", c.readRetry, build, &resp); err != nil {
		return "", &TransportError{Control: "version", Err: err}
	}
	return resp.Version, nil
}

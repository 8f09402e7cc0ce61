package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fruitsalade/filetree/internal/devserver"
	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/protocol"
	"github.com/fruitsalade/filetree/pkg/retry"
	"github.com/fruitsalade/filetree/pkg/tree"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	logging.Replace(zaptest.NewLogger(t))
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := New(Config{
		BaseURL: ts.URL,
		Timeout: 5 * time.Second,
		ReadRetry: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func devClient(t *testing.T) (*Client, *devserver.Server) {
	t.Helper()
	srv := devserver.New(devserver.Config{})
	c, _ := testClient(t, srv.Handler())
	return c, srv
}

// recorder counts tree and upload requests by control.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) add(control string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[control]++
}

func (r *recorder) count(control string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[control]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.calls {
		n += v
	}
	return n
}

// fakeBackend decodes each request, records it and hands it to handle.
// Uploads arrive with the upload control.
func fakeBackend(t *testing.T, rec *recorder, handle func(w http.ResponseWriter, req protocol.TreeRequest)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == protocol.UploadPath {
			rec.add(protocol.ControlUpload)
			handle(w, protocol.TreeRequest{Control: protocol.ControlUpload})
			return
		}
		var req protocol.TreeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec.add(req.Control)
		handle(w, req)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func remoteTree() models.Tree {
	return models.Tree{
		"a.txt": models.NewFile("a.txt", "draft"),
		"docs": {
			Type:     models.TypeFolder,
			FullPath: "docs",
			Children: map[string]*models.Node{"sub": models.NewFolder("docs/sub")},
		},
	}
}

// listOnly answers list with remoteTree and everything else with an empty
// success body.
func listOnly(w http.ResponseWriter, req protocol.TreeRequest) {
	if req.Control == protocol.ControlList {
		writeJSON(w, protocol.TreeResponse{Tree: remoteTree(), Tags: []string{"draft"}})
		return
	}
	writeJSON(w, protocol.TreeResponse{})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "reconciling", Reconciling.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestLoadTree(t *testing.T) {
	c, srv := devClient(t)
	require.NoError(t, srv.Seed("docs/a.txt", nil, "draft"))
	srv.AddTags("final")

	require.NoError(t, c.LoadTree(context.Background()))

	assert.Equal(t, Idle, c.State())
	assert.NoError(t, c.LastError())
	n, err := tree.Load(c.Tree(), "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, n.Tags)
	assert.Equal(t, []string{"draft", "final"}, c.Tags().List())
}

func TestMoveReconciles(t *testing.T) {
	c, srv := devClient(t)
	require.NoError(t, srv.Seed("docs/a.txt", nil))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	var notified []Snapshot
	c.Subscribe(func(s Snapshot) { notified = append(notified, s) })

	require.NoError(t, c.Move(ctx, "docs/a.txt", "docs/b.txt"))

	n, err := tree.Load(c.Tree(), "docs/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/b.txt", n.FullPath)
	_, err = tree.Load(c.Tree(), "docs/a.txt")
	assert.ErrorIs(t, err, tree.ErrPathNotFound)

	assert.True(t, tree.Equal(srv.Tree(), c.Tree()))
	require.Len(t, notified, 1)
	assert.True(t, tree.Equal(srv.Tree(), notified[0].Tree))
	assert.Equal(t, Idle, c.State())
}

func TestCreateCopyDelete(t *testing.T) {
	c, srv := devClient(t)
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	require.NoError(t, c.CreateFolder(ctx, "docs"))
	require.NoError(t, c.CreateFile(ctx, "docs/a.txt"))
	require.NoError(t, c.Copy(ctx, "docs", "backup"))
	require.NoError(t, c.Delete(ctx, "docs"))

	n, err := tree.Load(c.Tree(), "backup/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "backup/a.txt", n.FullPath)
	assert.Equal(t, 2, tree.CountNodes(c.Tree()))
	assert.True(t, tree.Equal(srv.Tree(), c.Tree()))
}

func TestSetTags(t *testing.T) {
	c, srv := devClient(t)
	require.NoError(t, srv.Seed("docs/a.csv", nil))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	require.NoError(t, c.SetTags(ctx, "docs/a.csv", []string{"b", "a", "a"}))

	n, err := tree.Load(c.Tree(), "docs/a.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, n.Tags)
	assert.True(t, c.Tags().Has("a"))
	assert.Equal(t, []string{"a", "b"}, c.Tags().List())
}

func TestUploadReloads(t *testing.T) {
	c, _ := devClient(t)
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))
	require.NoError(t, c.CreateFolder(ctx, "reports"))

	require.NoError(t, c.Upload(ctx, "reports", "report.pdf", strings.NewReader("%PDF-1.4")))

	n, err := tree.Load(c.Tree(), "reports/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.TypeFile, n.Type)
	assert.Equal(t, Idle, c.State())

	err = c.Upload(ctx, "reports", "report.pdf", strings.NewReader("again"))
	assert.ErrorIs(t, err, tree.ErrPathConflict)

	for _, name := range []string{"..", "../..", `x\..`} {
		err = c.Upload(ctx, "reports", name, strings.NewReader("x"))
		assert.ErrorIs(t, err, tree.ErrInvalidPath, "upload %q", name)
	}
	_, err = tree.Load(c.Tree(), "reports/..")
	assert.ErrorIs(t, err, tree.ErrInvalidPath)
	assert.Equal(t, 2, tree.CountNodes(c.Tree()))
}

func TestLocalErrorsSendNothing(t *testing.T) {
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, listOnly))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))
	require.Equal(t, 1, rec.total())
	before := c.Tree()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"missing parent", func() error { return c.CreateFolder(ctx, "x/y") }, tree.ErrPathNotFound},
		{"occupied", func() error { return c.CreateFile(ctx, "a.txt") }, tree.ErrPathConflict},
		{"empty segment", func() error { return c.CreateFile(ctx, "docs//b") }, tree.ErrInvalidPath},
		{"delete missing", func() error { return c.Delete(ctx, "nope") }, tree.ErrPathNotFound},
		{"move into itself", func() error { return c.Move(ctx, "docs", "docs/sub/docs") }, tree.ErrInvalidMove},
		{"copy onto itself", func() error { return c.Copy(ctx, "docs", "docs") }, tree.ErrInvalidMove},
		{"tag a folder", func() error { return c.SetTags(ctx, "docs", []string{"x"}) }, tree.ErrNotFile},
		{"update missing", func() error { return c.Update(ctx, "nope", map[string]any{"k": 1}) }, tree.ErrPathNotFound},
		{"upload into missing folder", func() error {
			return c.Upload(ctx, "missing", "a.csv", strings.NewReader("x"))
		}, tree.ErrPathNotFound},
		{"load missing", func() error { _, err := c.LoadObject(ctx, "nope"); return err }, tree.ErrPathNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, tt.want)
			_, isPath := tree.AsPathError(err)
			assert.True(t, isPath)
		})
	}

	assert.Equal(t, 1, rec.total())
	assert.Equal(t, Idle, c.State())
	assert.True(t, tree.Equal(before, c.Tree()))
}

func TestRemoteErrorStillReloads(t *testing.T) {
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		if req.Control == protocol.ControlDelete {
			writeJSON(w, protocol.TreeResponse{Error: "file is locked"})
			return
		}
		listOnly(w, req)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	err := c.Delete(ctx, "a.txt")
	re, ok := AsRemote(err)
	require.True(t, ok, "expected RemoteError, got %v", err)
	assert.Equal(t, protocol.ControlDelete, re.Control)
	assert.Equal(t, "file is locked", re.Message)

	assert.Equal(t, 1, rec.count(protocol.ControlDelete))
	assert.Equal(t, 2, rec.count(protocol.ControlList))
	assert.Equal(t, Idle, c.State())
}

func TestServerTreeReplacesLocal(t *testing.T) {
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, listOnly))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	// The backend acknowledges the create but its listing does not contain
	// the folder; the listing wins.
	require.NoError(t, c.CreateFolder(ctx, "new"))

	_, err := tree.Load(c.Tree(), "new")
	assert.ErrorIs(t, err, tree.ErrPathNotFound)
	assert.True(t, tree.Equal(remoteTree(), c.Tree()))
}

func TestTransportFailureKeepsSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
	}{
		{"bad gateway", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		}},
		{"malformed body", func(w http.ResponseWriter) {
			w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec recorder
			c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
				if req.Control == protocol.ControlMove {
					tt.write(w)
					return
				}
				listOnly(w, req)
			}))
			ctx := context.Background()
			require.NoError(t, c.LoadTree(ctx))
			before := c.Tree()

			err := c.Move(ctx, "a.txt", "b.txt")
			te, ok := AsTransport(err)
			require.True(t, ok, "expected TransportError, got %v", err)
			assert.Equal(t, protocol.ControlMove, te.Control)

			assert.Equal(t, Failed, c.State())
			assert.Equal(t, err, c.LastError())
			assert.True(t, tree.Equal(before, c.Tree()))
			assert.Equal(t, 1, rec.count(protocol.ControlMove), "mutations are sent once")
			assert.Equal(t, 1, rec.count(protocol.ControlList), "no reload after a failure")

			require.NoError(t, c.LoadTree(ctx))
			assert.Equal(t, Idle, c.State())
			assert.NoError(t, c.LastError())
		})
	}
}

func TestUnreachableBackend(t *testing.T) {
	var rec recorder
	c, ts := testClient(t, fakeBackend(t, &rec, listOnly))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	ts.Close()

	err := c.CreateFolder(ctx, "new")
	_, ok := AsTransport(err)
	require.True(t, ok, "expected TransportError, got %v", err)
	assert.Equal(t, Failed, c.State())
	assert.True(t, tree.Equal(remoteTree(), c.Tree()))
}

func TestReadsAreRetried(t *testing.T) {
	var lists atomic.Int32
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		if req.Control == protocol.ControlList && lists.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unavailable"))
			return
		}
		listOnly(w, req)
	}))

	require.NoError(t, c.LoadTree(context.Background()))
	assert.Equal(t, 3, rec.count(protocol.ControlList))
	assert.True(t, tree.Equal(remoteTree(), c.Tree()))
}

func TestReloadFailure(t *testing.T) {
	var failList atomic.Bool
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		if req.Control == protocol.ControlList && failList.Load() {
			w.Write([]byte("<html>"))
			return
		}
		listOnly(w, req)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))
	failList.Store(true)

	err := c.CreateFile(ctx, "b.txt")
	_, ok := AsTransport(err)
	require.True(t, ok, "expected TransportError, got %v", err)
	assert.Equal(t, Failed, c.State())
	assert.True(t, tree.Equal(remoteTree(), c.Tree()))
}

func TestUpdateMergesFields(t *testing.T) {
	var got protocol.TreeRequest
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		if req.Control == protocol.ControlUpdate {
			got = req
		}
		listOnly(w, req)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	require.NoError(t, c.Update(ctx, "a.txt", map[string]any{"color": "red", "control": "delete"}))

	assert.Equal(t, protocol.ControlUpdate, got.Control)
	assert.Equal(t, "a.txt", got.Path)
	assert.Equal(t, "red", got.Update["color"])
}

func TestLoadObject(t *testing.T) {
	c, srv := devClient(t)
	require.NoError(t, srv.Seed("data/a.json", []byte(`{"k":1}`)))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	reloads := 0
	c.Subscribe(func(Snapshot) { reloads++ })

	data, err := c.LoadObject(ctx, "data/a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1,"source_file":"data/a.json"}`, string(data))
	assert.Equal(t, "data/a.json", c.Selected())
	assert.Equal(t, 0, reloads)

	// Folders pass local validation but the backend refuses them.
	_, err = c.LoadObject(ctx, "data")
	_, ok := AsRemote(err)
	assert.True(t, ok, "expected RemoteError, got %v", err)
	assert.Equal(t, "data/a.json", c.Selected())
	assert.Equal(t, Idle, c.State())
}

func TestHeaders(t *testing.T) {
	var mu sync.Mutex
	var auth, ids []string
	var rec recorder
	inner := fakeBackend(t, &rec, listOnly)
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		ids = append(ids, r.Header.Get(logging.RequestIDHeader))
		mu.Unlock()
		inner.ServeHTTP(w, r)
	}))
	ctx := context.Background()

	require.NoError(t, c.LoadTree(ctx))
	c.SetAuthToken("secret")
	require.NoError(t, c.LoadTree(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "Bearer secret"}, auth)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestOperationsAreSerialized(t *testing.T) {
	var inflight, peak atomic.Int32
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		listOnly(w, req)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.CreateFolder(ctx, fmt.Sprintf("f%d", i)))
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 5, rec.count(protocol.ControlCreate))
	assert.Equal(t, 6, rec.count(protocol.ControlList))
}

func TestServerVersion(t *testing.T) {
	srv := devserver.New(devserver.Config{Version: "1.4.0"})
	c, _ := testClient(t, srv.Handler())

	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v)
	assert.Equal(t, Idle, c.State())
}

func TestErrorStatusKeepsSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"maintenance", http.StatusServiceUnavailable, `{"message":"maintenance"}`},
		{"not found", http.StatusNotFound, `{}`},
		{"missing tree", http.StatusOK, `{"tags":["draft"]}`},
		{"null tree", http.StatusOK, `{"tree":null,"tags":[]}`},
		{"null node", http.StatusOK, `{"tree":{"a":{"type":"folder","full-path":"a","children":{"x":null}}},"tags":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var broken atomic.Bool
			var rec recorder
			c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
				if broken.Load() {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(tt.status)
					w.Write([]byte(tt.body))
					return
				}
				listOnly(w, req)
			}))
			ctx := context.Background()
			require.NoError(t, c.LoadTree(ctx))
			broken.Store(true)

			err := c.LoadTree(ctx)
			_, ok := AsTransport(err)
			require.True(t, ok, "expected TransportError, got %v", err)
			assert.Equal(t, Failed, c.State())
			assert.True(t, tree.Equal(remoteTree(), c.Tree()))
			assert.Equal(t, []string{"draft"}, c.Tags().List())

			err = c.Delete(ctx, "a.txt")
			_, ok = AsTransport(err)
			require.True(t, ok, "expected TransportError, got %v", err)
			assert.Equal(t, Failed, c.State())
			assert.True(t, tree.Equal(remoteTree(), c.Tree()))
		})
	}
}

func TestErrorStatusWithMessageIsRemote(t *testing.T) {
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, func(w http.ResponseWriter, req protocol.TreeRequest) {
		if req.Control == protocol.ControlDelete {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, protocol.ErrorResponse{Error: "read-only"})
			return
		}
		listOnly(w, req)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadTree(ctx))

	err := c.Delete(ctx, "a.txt")
	re, ok := AsRemote(err)
	require.True(t, ok, "expected RemoteError, got %v", err)
	assert.Equal(t, "read-only", re.Message)
	assert.Equal(t, 2, rec.count(protocol.ControlList))
	assert.Equal(t, Idle, c.State())
}

func TestListenerMayCallClient(t *testing.T) {
	var rec recorder
	c, _ := testClient(t, fakeBackend(t, &rec, listOnly))
	ctx := context.Background()

	var nested atomic.Bool
	var nestedErr error
	c.Subscribe(func(s Snapshot) {
		_ = c.State()
		if nested.CompareAndSwap(false, true) {
			nestedErr = c.CreateFolder(ctx, "from-listener")
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.LoadTree(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener calling back into the client blocked")
	}
	assert.NoError(t, nestedErr)
	assert.Equal(t, 1, rec.count(protocol.ControlCreate))
}

// Package devserver is an in-memory backend for the tree and upload
// endpoints. It exists for local development and tests; nothing is
// persisted.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/internal/metrics"
	"github.com/fruitsalade/filetree/pkg/models"
	"github.com/fruitsalade/filetree/pkg/protocol"
	"github.com/fruitsalade/filetree/pkg/tree"
)

// Config holds dev backend settings.
type Config struct {
	Version string
	// UploadExtensions restricts uploads to these extensions (lowercase,
	// no dot). Empty allows everything.
	UploadExtensions []string
	MaxUploadSize    int64
}

// Server holds the tree, the known tags and file contents in memory.
type Server struct {
	cfg Config

	mu      sync.RWMutex
	tree    models.Tree
	tags    map[string]struct{}
	content map[string][]byte
}

// New creates an empty backend.
func New(cfg Config) *Server {
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 32 << 20
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		cfg:     cfg,
		tree:    models.Tree{},
		tags:    map[string]struct{}{},
		content: map[string][]byte{},
	}
}

// Seed stores a file at p, creating missing parent folders, and registers
// its tags.
func (s *Server) Seed(p string, content []byte, tagList ...string) error {
	segs, err := tree.Split(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.tree
	for i := 1; i < len(segs); i++ {
		dir := strings.Join(segs[:i], "/")
		n, err := tree.Load(next, dir)
		if err == nil {
			if !n.IsDir() {
				return fmt.Errorf("seed %s: %s is a file", p, dir)
			}
			continue
		}
		if next, err = tree.CreateFolder(next, dir); err != nil {
			return err
		}
	}
	full := strings.Join(segs, "/")
	if next, err = tree.CreateFile(next, full); err != nil {
		return err
	}
	if next, err = tree.SetTags(next, full, tagList); err != nil {
		return err
	}

	s.tree = next
	s.content[full] = content
	s.addTags(tagList)
	return nil
}

// AddTags registers tags without attaching them to a file.
func (s *Server) AddTags(tagList ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addTags(tagList)
}

// RemoveTag drops a tag from the index. Files keep carrying it.
func (s *Server) RemoveTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, tag)
}

func (s *Server) addTags(tagList []string) {
	for _, t := range tagList {
		if t != "" {
			s.tags[t] = struct{}{}
		}
	}
}

// Tree returns the current tree.
func (s *Server) Tree() models.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Handler returns the HTTP handler for the backend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.HealthPath, s.handleHealth)
	mux.HandleFunc("GET "+protocol.VersionPath, s.handleVersion)
	mux.HandleFunc("POST "+protocol.TreePath, s.handleTree)
	mux.HandleFunc("POST "+protocol.UploadPath, s.handleUpload)
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.VersionResponse{Version: s.cfg.Version})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	var req protocol.TreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	log := logging.WithContext(r.Context())
	log.Debug("tree control",
		zap.String("control", req.Control),
		zap.String("path", req.Path),
		zap.String("source", req.Source),
		zap.String("dest", req.Dest))

	if req.Control == protocol.ControlLoad {
		data, err := s.load(req.Path)
		if err != nil {
			log.Error("load failed", zap.String("path", req.Path), zap.Error(err))
			s.sendJSON(w, http.StatusOK, protocol.LoadResponse{Error: err.Error()})
			return
		}
		s.sendJSON(w, http.StatusOK, protocol.LoadResponse{Data: data})
		return
	}

	var err error
	switch req.Control {
	case protocol.ControlList:
	case protocol.ControlCreate:
		err = s.create(req.Path, req.Type)
	case protocol.ControlDelete:
		err = s.remove(req.Path)
	case protocol.ControlMove:
		err = s.relocate(req.Source, req.Dest, true)
	case protocol.ControlCopy:
		err = s.relocate(req.Source, req.Dest, false)
	case protocol.ControlUpdate:
		err = s.update(req.Path, req.Update)
	default:
		err = fmt.Errorf("unknown control %q", req.Control)
	}
	if err != nil {
		log.Error("tree control failed", zap.String("control", req.Control), zap.Error(err))
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: err.Error()})
		return
	}
	s.sendJSON(w, http.StatusOK, s.listing())
}

func (s *Server) listing() protocol.TreeResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := make([]string, 0, len(s.tags))
	for t := range s.tags {
		known = append(known, t)
	}
	slices.Sort(known)
	return protocol.TreeResponse{Tree: s.tree, Tags: known}
}

func (s *Server) create(p string, typ models.NodeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next models.Tree
	var err error
	switch typ {
	case models.TypeFolder:
		next, err = tree.CreateFolder(s.tree, p)
	case models.TypeFile, "":
		next, err = tree.CreateFile(s.tree, p)
	default:
		return fmt.Errorf("unknown type %q", typ)
	}
	if err != nil {
		return err
	}
	s.tree = next
	return nil
}

func (s *Server) remove(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := tree.Delete(s.tree, p)
	if err != nil {
		return err
	}
	clean, _ := tree.Clean(p)
	for key := range s.content {
		if under(key, clean) {
			delete(s.content, key)
		}
	}
	s.tree = next
	return nil
}

func (s *Server) relocate(src, dst string, move bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next models.Tree
	var err error
	if move {
		next, err = tree.Move(s.tree, src, dst)
	} else {
		next, err = tree.Copy(s.tree, src, dst)
	}
	if err != nil {
		return err
	}

	from, _ := tree.Clean(src)
	to, _ := tree.Clean(dst)
	moved := map[string][]byte{}
	for key, data := range s.content {
		if under(key, from) {
			moved[to+strings.TrimPrefix(key, from)] = data
			if move {
				delete(s.content, key)
			}
		}
	}
	for key, data := range moved {
		s.content[key] = data
	}
	s.tree = next
	return nil
}

func (s *Server) update(p string, fields map[string]any) error {
	raw, ok := fields["tags"]
	if !ok {
		return fmt.Errorf("update %s: no supported fields", p)
	}
	list, ok := raw.([]any)
	if !ok && raw != nil {
		return fmt.Errorf("update %s: tags must be a list", p)
	}
	tagList := make([]string, 0, len(list))
	for _, t := range list {
		str, ok := t.(string)
		if !ok {
			return fmt.Errorf("update %s: tags must be strings", p)
		}
		tagList = append(tagList, str)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := tree.SetTags(s.tree, p, tagList)
	if err != nil {
		return err
	}
	s.tree = next
	s.addTags(tagList)
	return nil
}

// under reports whether key is p or lies below it.
func under(key, p string) bool {
	return key == p || strings.HasPrefix(key, p+"/")
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{Error: message})
}

func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

package devserver

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/pkg/protocol"
	"github.com/fruitsalade/filetree/pkg/tree"
)

// load renders a file's content for the load control: JSON objects gain a
// source_file key, CSV files become rows, anything else is summarized.
func (s *Server) load(p string) (json.RawMessage, error) {
	s.mu.RLock()
	n, err := tree.Load(s.tree, p)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if n.IsDir() {
		s.mu.RUnlock()
		return nil, fmt.Errorf("load %s: is a folder", p)
	}
	clean, _ := tree.Clean(p)
	data := s.content[clean]
	s.mu.RUnlock()

	summary := map[string]any{"source_file": clean, "size": len(data)}
	if len(data) == 0 {
		return json.Marshal(summary)
	}

	switch extension(clean) {
	case "json":
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			if !json.Valid(data) {
				return nil, fmt.Errorf("load %s: invalid JSON content", clean)
			}
			return json.RawMessage(data), nil
		}
		obj["source_file"] = clean
		return json.Marshal(obj)
	case "csv":
		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", clean, err)
		}
		return json.Marshal(rows)
	default:
		return json.Marshal(summary)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: "invalid upload: " + err.Error()})
		return
	}

	file, header, err := r.FormFile(protocol.FormFile)
	if err != nil {
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: "File not found in request."})
		return
	}
	defer file.Close()

	if _, ok := r.MultipartForm.Value[protocol.FormPath]; !ok {
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: "Path not found in request."})
		return
	}

	name := path.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: "File has no filename."})
		return
	}
	if ext := extension(name); len(s.cfg.UploadExtensions) > 0 && !slices.Contains(s.cfg.UploadExtensions, ext) {
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: fmt.Sprintf("File type %s not supported.", ext)})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	folder := strings.Trim(r.FormValue(protocol.FormPath), "/")
	target := tree.Join(folder, name)
	if err := s.store(target, data); err != nil {
		log.Error("upload failed", zap.String("path", target), zap.Error(err))
		s.sendJSON(w, http.StatusOK, protocol.TreeResponse{Error: err.Error()})
		return
	}

	log.Info("saved upload", zap.String("path", target), zap.Int("bytes", len(data)))
	s.sendJSON(w, http.StatusOK, s.listing())
}

func (s *Server) store(target string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := tree.CreateFile(s.tree, target)
	if err != nil {
		return err
	}
	clean, _ := tree.Clean(target)
	s.tree = next
	s.content[clean] = data
	return nil
}

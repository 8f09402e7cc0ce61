// Package protocol defines the tree and upload endpoint request/response types.
package protocol

import (
	"encoding/json"

	"github.com/fruitsalade/filetree/pkg/models"
)

// Endpoint paths served by the backend.
const (
	TreePath    = "/api/tree"
	UploadPath  = "/api/upload"
	VersionPath = "/api/version"
	HealthPath  = "/health"
)

// Control verbs accepted by the tree endpoint.
const (
	ControlList   = "list"
	ControlCreate = "create"
	ControlDelete = "delete"
	ControlMove   = "move"
	ControlCopy   = "copy"
	ControlLoad   = "load"
	ControlUpdate = "update"

	// ControlUpload labels upload requests in logs and metrics; it is not
	// sent to the tree endpoint.
	ControlUpload = "upload"
)

// Upload form fields.
const (
	FormFile = "file"
	FormPath = "path"
)

// TreeRequest is the body for POST /api/tree.
// Update holds the extra fields of an update control; they are merged into
// the top-level JSON object.
type TreeRequest struct {
	Control string          `json:"control"`
	Path    string          `json:"path,omitempty"`
	Type    models.NodeType `json:"type,omitempty"` // create only
	Source  string          `json:"source,omitempty"`
	Dest    string          `json:"dest,omitempty"`
	Update  map[string]any  `json:"-"`
}

type treeRequestFields TreeRequest

// MarshalJSON flattens Update into the request object. Update keys never
// override the fixed fields.
func (r TreeRequest) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(treeRequestFields(r))
	if err != nil || len(r.Update) == 0 {
		return base, err
	}

	merged := make(map[string]any, len(r.Update)+4)
	for k, v := range r.Update {
		merged[k] = v
	}
	var fixed map[string]any
	if err := json.Unmarshal(base, &fixed); err != nil {
		return nil, err
	}
	for k, v := range fixed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the fixed fields and collects every other key
// into Update.
func (r *TreeRequest) UnmarshalJSON(data []byte) error {
	var fields treeRequestFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"control", "path", "type", "source", "dest"} {
		delete(all, k)
	}
	*r = TreeRequest(fields)
	if len(all) > 0 {
		r.Update = all
	}
	return nil
}

// TreeResponse is returned by list and by every mutating control.
// Error is set when the backend rejected the operation.
type TreeResponse struct {
	Tree  models.Tree `json:"tree,omitempty"`
	Tags  []string    `json:"tags,omitempty"`
	Error string      `json:"error,omitempty"`
}

// MarshalJSON writes {error} for rejections. Any other response carries
// both tree and tags, empty or not.
func (r TreeResponse) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(ErrorResponse{Error: r.Error})
	}
	t, tagList := r.Tree, r.Tags
	if t == nil {
		t = models.Tree{}
	}
	if tagList == nil {
		tagList = []string{}
	}
	return json.Marshal(struct {
		Tree models.Tree `json:"tree"`
		Tags []string    `json:"tags"`
	}{t, tagList})
}

// LoadResponse is returned by the load control.
type LoadResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// TagsUpdate is the update payload that replaces a file's tag set.
func TagsUpdate(tags []string) map[string]any {
	return map[string]any{"tags": tags}
}

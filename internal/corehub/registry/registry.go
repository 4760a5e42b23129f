// Package registry implements the Resource Registry: the single
// authoritative index from UID to the record describing where and how a
// generated resource (image, video, or 3D object) is stored.
package registry

import (
	"os"
	"sync"
	"time"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/atomicfile"
)

// Kind is the resource kind a Record describes.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindObject3D Kind = "object3d"
)

// compatibleParents lists which kinds may be the parent of which. A video's
// parent must be an image (the frame it was generated from); an image's
// parent may be an image or a video (a still pulled from generated video);
// object3d records chain obj -> fbx within the same kind.
var compatibleParents = map[Kind][]Kind{
	KindImage:    {KindImage, KindVideo},
	KindVideo:    {KindImage},
	KindObject3D: {KindObject3D},
}

// Record is the persisted shape of one resource.
type Record struct {
	UID       string         `json:"uid"`
	Kind      Kind           `json:"kind"`
	Filename  string         `json:"filename"`
	SessionID string         `json:"session_id,omitempty"`
	ParentUID string         `json:"parent_uid,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type fileState struct {
	Records map[string]Record `json:"records"`
	// Order preserves insertion order for list_by_session, since a JSON
	// object does not guarantee it on reload.
	Order []string `json:"order"`
}

// Registry is the JSON-file-backed resource index.
type Registry struct {
	path  string
	mu    sync.RWMutex
	recs  map[string]Record
	order []string
}

// Open loads (or initializes) the registry file at path.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, recs: map[string]Record{}}
	var s fileState
	if err := atomicfile.ReadJSON(path, &s); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s = fileState{Records: map[string]Record{}}
		if err := atomicfile.WriteJSON(path, s); err != nil {
			return nil, err
		}
	}
	if s.Records == nil {
		s.Records = map[string]Record{}
	}
	r.recs = s.Records
	r.order = s.Order
	return r, nil
}

func (r *Registry) persistLocked() error {
	return atomicfile.WriteJSON(r.path, fileState{Records: r.recs, Order: r.order})
}

// Add inserts a new record. Fails if uid already exists, or if parent_uid
// does not resolve, or resolves to an incompatible kind (invariant I4).
func (r *Registry) Add(uid string, kind Kind, filename, sessionID, parentUID string, metadata map[string]any) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.recs[uid]; exists {
		return Record{}, apierr.New(apierr.CodeUIDAlreadyRegistered, "uid already registered: "+uid, nil)
	}

	if parentUID != "" {
		parent, ok := r.recs[parentUID]
		if !ok {
			return Record{}, apierr.New(apierr.CodeInvalidParent, "parent uid does not exist: "+parentUID, nil)
		}
		if !kindAllowed(kind, parent.Kind) {
			return Record{}, apierr.New(apierr.CodeInvalidParent, "parent kind "+string(parent.Kind)+" incompatible with child kind "+string(kind), nil)
		}
	}

	rec := Record{
		UID:       uid,
		Kind:      kind,
		Filename:  filename,
		SessionID: sessionID,
		ParentUID: parentUID,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	r.recs[uid] = rec
	r.order = append(r.order, uid)
	if err := r.persistLocked(); err != nil {
		delete(r.recs, uid)
		r.order = r.order[:len(r.order)-1]
		return Record{}, err
	}
	return rec, nil
}

func kindAllowed(child, parent Kind) bool {
	for _, k := range compatibleParents[child] {
		if k == parent {
			return true
		}
	}
	return false
}

// Get returns the record for uid.
func (r *Registry) Get(uid string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[uid]
	if !ok {
		return Record{}, apierr.New(apierr.CodeUIDNotFound, "uid not found: "+uid, nil)
	}
	return rec, nil
}

// ListBySession returns every record for sessionID in allocation order.
func (r *Registry) ListBySession(sessionID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0)
	for _, uid := range r.order {
		rec, ok := r.recs[uid]
		if ok && rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out
}

// FindBySource scans metadata for a source.username or source.user_id
// match within a session, supporting asset-pipeline duplicate detection.
func (r *Registry) FindBySource(sessionID, username, userID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, uid := range r.order {
		rec, ok := r.recs[uid]
		if !ok || rec.SessionID != sessionID {
			continue
		}
		src, ok := rec.Metadata["source"].(map[string]any)
		if !ok {
			continue
		}
		if username != "" && src["username"] == username {
			out = append(out, rec)
			continue
		}
		if userID != "" && src["user_id"] == userID {
			out = append(out, rec)
		}
	}
	return out
}

// UpdateMetadata merges patch into the record's metadata. kind,
// session_id, and parent_uid are immutable after creation.
func (r *Registry) UpdateMetadata(uid string, patch map[string]any) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[uid]
	if !ok {
		return Record{}, apierr.New(apierr.CodeUIDNotFound, "uid not found: "+uid, nil)
	}
	merged := make(map[string]any, len(rec.Metadata)+len(patch))
	for k, v := range rec.Metadata {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	rec.Metadata = merged
	r.recs[uid] = rec
	if err := r.persistLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DeleteByUID removes a single record, used by pipeline rollback and
// duplicate-download replacement. It never touches on-disk blobs; callers
// own that cleanup.
func (r *Registry) DeleteByUID(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[uid]; !ok {
		return nil
	}
	delete(r.recs, uid)
	r.order = removeString(r.order, uid)
	return r.persistLocked()
}

// DeleteBySession removes every record owned by sessionID and returns the
// UIDs removed. On-disk blobs are not touched here.
func (r *Registry) DeleteBySession(sessionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, uid := range r.order {
		rec, ok := r.recs[uid]
		if ok && rec.SessionID == sessionID {
			removed = append(removed, uid)
		}
	}
	for _, uid := range removed {
		delete(r.recs, uid)
		r.order = removeString(r.order, uid)
	}
	if len(removed) == 0 {
		return removed, nil
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return removed, nil
}

func removeString(s []string, target string) []string {
	out := s[:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// Package refstore implements the Reference Images Store: a UID namespace
// (refer_*) and on-disk layout isolated from the main Resource Registry, so
// a reference image can never accidentally be addressed as a parent_uid of
// a generated resource.
package refstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/atomicfile"
)

// Purpose is a free-form but commonly-recognized reference role.
type Purpose string

const (
	PurposeStyle       Purpose = "style"
	PurposeColor       Purpose = "color"
	PurposeComposition Purpose = "composition"
)

// Record describes one stored reference image.
type Record struct {
	ReferUID  string    `json:"refer_uid"`
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Purpose   Purpose   `json:"purpose"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists reference images under baseDir/<session_id>/ with a
// <refer_uid>.<ext> blob and a <refer_uid>_meta.json sidecar.
type Store struct {
	baseDir   string
	allocator *uid.Allocator
}

// New wires a Store to a base directory and the UID allocator it draws
// refer_* identifiers from. The app gives it an allocator of its own, kept
// in a state file separate from the one used for other kinds, which is
// crash-safe the same way.
func New(baseDir string, allocator *uid.Allocator) *Store {
	return &Store{baseDir: baseDir, allocator: allocator}
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Store allocates a refer_* UID, writes the blob and its metadata sidecar,
// and returns the refer_uid.
func (s *Store) Store(sessionID string, data []byte, purpose Purpose, mimeType string) (string, error) {
	referUID, err := s.allocator.Next(uid.KindRefer)
	if err != nil {
		return "", fmt.Errorf("allocate refer uid: %w", err)
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierr.New(apierr.CodeStorageError, "create reference session dir", err)
	}

	filename := referUID + extForMime(mimeType)
	blobPath := filepath.Join(dir, filename)
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return "", apierr.New(apierr.CodeStorageError, "write reference blob", err)
	}

	rec := Record{
		ReferUID:  referUID,
		SessionID: sessionID,
		Filename:  filename,
		Purpose:   purpose,
		MimeType:  mimeType,
		SizeBytes: len(data),
		CreatedAt: time.Now().UTC(),
	}
	metaPath := filepath.Join(dir, referUID+"_meta.json")
	if err := atomicfile.WriteJSON(metaPath, rec); err != nil {
		_ = os.Remove(blobPath)
		return "", fmt.Errorf("write reference metadata: %w", err)
	}
	return referUID, nil
}

// Load reads a reference image's bytes and metadata back.
func (s *Store) Load(sessionID, referUID string) ([]byte, Record, error) {
	dir := s.sessionDir(sessionID)
	var rec Record
	metaPath := filepath.Join(dir, referUID+"_meta.json")
	if err := atomicfile.ReadJSON(metaPath, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, Record{}, apierr.New(apierr.CodeAssetNotFound, "reference not found: "+referUID, nil)
		}
		return nil, Record{}, apierr.New(apierr.CodeStorageError, "read reference metadata", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, rec.Filename))
	if err != nil {
		return nil, Record{}, apierr.New(apierr.CodeAssetNotFound, "reference blob missing: "+referUID, err)
	}
	return data, rec, nil
}

// List returns every reference record for a session, sorted by refer_uid.
func (s *Store) List(sessionID string) ([]Record, error) {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.New(apierr.CodeStorageError, "list reference dir", err)
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) < len("_meta.json") || name[len(name)-len("_meta.json"):] != "_meta.json" {
			continue
		}
		var rec Record
		if err := atomicfile.ReadJSON(filepath.Join(dir, name), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteBySession removes the entire session directory, dropping every
// reference image and sidecar for that session.
func (s *Store) DeleteBySession(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return apierr.New(apierr.CodeStorageError, "delete reference session dir", err)
	}
	return nil
}

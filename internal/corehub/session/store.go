package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/atomicfile"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// backend is implemented by both the Postgres primary and the filesystem
// fallback so Store can apply the same try-primary-then-fallback policy to
// each operation.
type backend interface {
	create(ctx context.Context, c *Context) error
	get(ctx context.Context, sessionID string) (*Context, error)
	update(ctx context.Context, c *Context) error
	delete(ctx context.Context, sessionID string) error
	list(ctx context.Context, limit, offset int) ([]*Context, error)
	cleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
	count(ctx context.Context) (int, error)
	healthCheck(ctx context.Context) error
}

// Store is the Session Store's public contract: create/get/update/delete/
// list/cleanup_older_than/count/health_check, backed by a primary-then-
// fallback policy. Each session_id is additionally serialized by a
// per-session mutex so a read-modify-write from one caller cannot
// interleave with another on the same session.
type Store struct {
	log      *logger.Logger
	primary  backend // nil if Postgres was never configured
	fallback backend

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Config controls which backends New wires up.
type Config struct {
	PostgresDSN string
	FallbackDir string
}

// New constructs the dual-backend store. If dsn is empty, the store runs
// fallback-only.
func New(log *logger.Logger, cfg Config) (*Store, error) {
	s := &Store{log: log, locks: map[string]*sync.Mutex{}}

	fb, err := newFSBackend(cfg.FallbackDir)
	if err != nil {
		return nil, err
	}
	s.fallback = fb

	if cfg.PostgresDSN != "" {
		pb, err := newPostgresBackend(log, cfg.PostgresDSN)
		if err != nil {
			log.Warn("session store: postgres unavailable, running fallback-only", "error", err)
		} else {
			s.primary = pb
		}
	}
	return s, nil
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	return m
}

// Create writes a brand-new session document to every available backend.
func (s *Store) Create(ctx context.Context, c *Context) error {
	lock := s.lockFor(c.SessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastAccessed.IsZero() {
		c.LastAccessed = now
	}

	return s.writeBoth(func(b backend) error { return b.create(ctx, c) })
}

// Get reads a session document, preferring the primary and touching
// last_accessed on success (invariant I6).
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var c *Context
	var err error
	if s.primary != nil {
		c, err = s.primary.get(ctx, sessionID)
		if err == nil {
			c.LastAccessed = time.Now().UTC()
			_ = s.primary.update(ctx, c)
			return c, nil
		}
		if !isNotFound(err) {
			s.log.Warn("session store: primary get failed, trying fallback", "session_id", sessionID, "error", err)
		}
	}
	c, err = s.fallback.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.LastAccessed = time.Now().UTC()
	_ = s.fallback.update(ctx, c)
	return c, nil
}

// Update replaces the full document and bumps last_accessed.
func (s *Store) Update(ctx context.Context, c *Context) error {
	lock := s.lockFor(c.SessionID)
	lock.Lock()
	defer lock.Unlock()

	c.LastAccessed = time.Now().UTC()
	return s.writeBoth(func(b backend) error { return b.update(ctx, c) })
}

// Delete removes a session from every available backend.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return s.writeBoth(func(b backend) error { return b.delete(ctx, sessionID) })
}

// List returns sessions ordered by last_accessed descending, preferring
// the primary if present.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Context, error) {
	if s.primary != nil {
		list, err := s.primary.list(ctx, limit, offset)
		if err == nil {
			return list, nil
		}
		s.log.Warn("session store: primary list failed, using fallback", "error", err)
	}
	return s.fallback.list(ctx, limit, offset)
}

// CleanupOlderThan purges sessions whose last_accessed predates age from
// every backend, returning the total removed.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	total := 0
	if s.primary != nil {
		n, err := s.primary.cleanupOlderThan(ctx, age)
		if err != nil {
			s.log.Warn("session store: primary cleanup failed", "error", err)
		} else {
			total += n
		}
	}
	n, err := s.fallback.cleanupOlderThan(ctx, age)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

// Count returns the number of known sessions, preferring the primary.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.primary != nil {
		if n, err := s.primary.count(ctx); err == nil {
			return n, nil
		}
	}
	return s.fallback.count(ctx)
}

// HealthCheck reports whether at least one backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.primary != nil {
		if err := s.primary.healthCheck(ctx); err == nil {
			return nil
		}
	}
	return s.fallback.healthCheck(ctx)
}

// writeBoth applies fn to every configured backend and succeeds if at
// least one accepts the write (the documented dual-homed write policy).
func (s *Store) writeBoth(fn func(backend) error) error {
	var primaryErr, fallbackErr error
	if s.primary != nil {
		primaryErr = fn(s.primary)
		if primaryErr != nil {
			s.log.Warn("session store: primary write failed", "error", primaryErr)
		}
	}
	fallbackErr = fn(s.fallback)
	if fallbackErr != nil {
		s.log.Warn("session store: fallback write failed", "error", fallbackErr)
	}
	if s.primary == nil {
		return fallbackErr
	}
	if primaryErr == nil || fallbackErr == nil {
		return nil
	}
	return fmt.Errorf("both backends failed: primary=%v fallback=%v", primaryErr, fallbackErr)
}

func isNotFound(err error) bool {
	ae, ok := err.(*apierr.Error)
	return ok && ae.Code == apierr.CodeSessionNotFound
}

// ---- Postgres backend ----

type postgresBackend struct {
	db  *gorm.DB
	log *logger.Logger
}

func newPostgresBackend(log *logger.Logger, dsn string) (*postgresBackend, error) {
	gormLog := gormLogger.New(
		stdLogWriter{log},
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("automigrate session_contexts: %w", err)
	}
	return &postgresBackend{db: db, log: log}, nil
}

func toRow(c *Context) (row, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return row{}, err
	}
	return row{
		SessionID:    c.SessionID,
		SessionName:  c.SessionName,
		CreatedAt:    c.CreatedAt,
		LastAccessed: c.LastAccessed,
		Document:     doc,
	}, nil
}

func fromRow(r row) (*Context, error) {
	var c Context
	if err := json.Unmarshal(r.Document, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *postgresBackend) create(ctx context.Context, c *Context) error {
	r, err := toRow(c)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Create(&r).Error
}

func (b *postgresBackend) get(ctx context.Context, sessionID string) (*Context, error) {
	var r row
	err := b.db.WithContext(ctx).First(&r, "session_id = ?", sessionID).Error
	if err != nil {
		if gorm.ErrRecordNotFound == err {
			return nil, apierr.New(apierr.CodeSessionNotFound, "session not found: "+sessionID, nil)
		}
		return nil, err
	}
	return fromRow(r)
}

func (b *postgresBackend) update(ctx context.Context, c *Context) error {
	r, err := toRow(c)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Save(&r).Error
}

func (b *postgresBackend) delete(ctx context.Context, sessionID string) error {
	return b.db.WithContext(ctx).Delete(&row{}, "session_id = ?", sessionID).Error
}

func (b *postgresBackend) list(ctx context.Context, limit, offset int) ([]*Context, error) {
	var rows []row
	q := b.db.WithContext(ctx).Order("last_accessed DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Context, 0, len(rows))
	for _, r := range rows {
		c, err := fromRow(r)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *postgresBackend) cleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	tx := b.db.WithContext(ctx).Where("last_accessed < ?", cutoff).Delete(&row{})
	return int(tx.RowsAffected), tx.Error
}

func (b *postgresBackend) count(ctx context.Context) (int, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&row{}).Count(&n).Error
	return int(n), err
}

func (b *postgresBackend) healthCheck(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type stdLogWriter struct{ log *logger.Logger }

func (w stdLogWriter) Printf(format string, args ...any) {
	w.log.Debug(fmt.Sprintf(format, args...))
}

// ---- filesystem fallback backend ----

// fsBackend organizes session documents under FallbackDir/<yyyy-MM>/day-dd/
// and demotes documents older than seven days to an archived/ subtree.
type fsBackend struct {
	baseDir string
	mu      sync.Mutex
}

const archiveAge = 7 * 24 * time.Hour

func newFSBackend(baseDir string) (*fsBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apierr.New(apierr.CodeStorageError, "create session fallback dir", err)
	}
	return &fsBackend{baseDir: baseDir}, nil
}

func (b *fsBackend) dirFor(createdAt time.Time) string {
	return filepath.Join(b.baseDir, createdAt.Format("2006-01"), fmt.Sprintf("day-%02d", createdAt.Day()))
}

func (b *fsBackend) archiveDir() string {
	return filepath.Join(b.baseDir, "archived")
}

func (b *fsBackend) pathFor(sessionID string, createdAt time.Time) string {
	return filepath.Join(b.dirFor(createdAt), "session_"+sessionID+".json")
}

// findExisting walks the base dir (including archived) for a session's
// file, since reads don't carry created_at up front.
func (b *fsBackend) findExisting(sessionID string) (string, error) {
	want := "session_" + sessionID + ".json"
	var found string
	err := filepath.WalkDir(b.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() == want {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", apierr.New(apierr.CodeSessionNotFound, "session not found: "+sessionID, nil)
	}
	return found, nil
}

func (b *fsBackend) create(ctx context.Context, c *Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := b.pathFor(c.SessionID, c.CreatedAt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.New(apierr.CodeStorageError, "create session dir", err)
	}
	return atomicfile.WriteJSON(path, c)
}

func (b *fsBackend) get(ctx context.Context, sessionID string) (*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path, err := b.findExisting(sessionID)
	if err != nil {
		return nil, err
	}
	var c Context
	if err := atomicfile.ReadJSON(path, &c); err != nil {
		return nil, apierr.New(apierr.CodeStorageError, "read session document", err)
	}
	return &c, nil
}

func (b *fsBackend) update(ctx context.Context, c *Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path, err := b.findExisting(c.SessionID)
	if err != nil {
		path = b.pathFor(c.SessionID, c.CreatedAt)
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return apierr.New(apierr.CodeStorageError, "create session dir", mkErr)
		}
	}
	return atomicfile.WriteJSON(path, c)
}

func (b *fsBackend) delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path, err := b.findExisting(sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

func (b *fsBackend) list(ctx context.Context, limit, offset int) ([]*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var all []*Context
	err := filepath.WalkDir(b.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		var c Context
		if err := atomicfile.ReadJSON(path, &c); err != nil {
			return nil
		}
		all = append(all, &c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LastAccessed.After(all[j].LastAccessed) })

	if offset > len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (b *fsBackend) cleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.demoteStaleLocked(); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	err := filepath.WalkDir(b.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		var c Context
		if err := atomicfile.ReadJSON(path, &c); err != nil {
			return nil
		}
		if c.LastAccessed.Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// demoteStaleLocked moves session documents older than archiveAge from
// their month/day directory into archived/, preserving the relative path.
// Callers must hold b.mu.
func (b *fsBackend) demoteStaleLocked() error {
	cutoff := time.Now().UTC().Add(-archiveAge)
	archiveRoot := b.archiveDir()
	return filepath.WalkDir(b.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil || strings.HasPrefix(rel, "archived") {
			return nil
		}
		var c Context
		if err := atomicfile.ReadJSON(path, &c); err != nil {
			return nil
		}
		if !c.LastAccessed.Before(cutoff) {
			return nil
		}
		dest := filepath.Join(archiveRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil
		}
		_ = os.Rename(path, dest)
		return nil
	})
}

func (b *fsBackend) count(ctx context.Context) (int, error) {
	list, err := b.list(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (b *fsBackend) healthCheck(ctx context.Context) error {
	probe := filepath.Join(b.baseDir, ".write_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return apierr.New(apierr.CodeStorageError, "session fallback dir not writable", err)
	}
	return os.Remove(probe)
}

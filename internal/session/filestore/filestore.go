// Package filestore keeps sessions as directories of artifacts under a root
// directory. Sessions are staged in a hidden directory and renamed into place.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"docqa/internal/domain"
	"docqa/internal/session"
)

const stagingPrefix = ".tmp-"

// Store is a session.Store backed by the local filesystem.
type Store struct {
	root   string
	ttl    time.Duration
	now    func() time.Time
	rename func(oldpath, newpath string) error
	locks  sync.Map
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides session.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for sweep diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates the root directory if needed and returns a Store over it.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("filestore: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	s := &Store{
		root:   root,
		ttl:    session.DefaultTTL,
		now:    time.Now,
		rename: os.Rename,
		logger: slog.Default().With("component", "filestore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory holding the sessions.
func (s *Store) Root() string { return s.root }

// lock acquires the mutex of id. A mutex dropped by a sweep while we waited
// on it is no longer current, so the lookup is retried.
func (s *Store) lock(id string) func() {
	for {
		v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		if cur, ok := s.locks.Load(id); ok && cur == v {
			return mu.Unlock
		}
		mu.Unlock()
	}
}

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

func validID(id string) bool {
	return id != "" && !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, `/\`)
}

// Save writes the session to a staging directory and renames it into place.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if !validID(sess.ID) {
		return fmt.Errorf("filestore: invalid session id %q", sess.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	art, err := session.Encode(sess)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	unlock := s.lock(sess.ID)
	defer unlock()

	staging, err := os.MkdirTemp(s.root, stagingPrefix+sess.ID+"-")
	if err != nil {
		return fmt.Errorf("filestore: create staging dir: %w", err)
	}
	// no-op once the staging dir has been renamed into place
	defer os.RemoveAll(staging)
	files := map[string][]byte{
		session.IndexArtifact:    art.Index,
		session.DataArtifact:     art.Data,
		session.MetadataArtifact: art.Metadata,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(staging, name), data, 0o644); err != nil {
			return fmt.Errorf("filestore: write %s: %w", name, err)
		}
	}
	return s.commit(staging, s.dir(sess.ID))
}

// commit moves staging into final. An existing session is moved aside first
// and restored when the move fails.
func (s *Store) commit(staging, final string) error {
	backup := staging + "-prev"
	hadPrevious := true
	if err := s.rename(final, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("filestore: move previous session aside: %w", err)
		}
		hadPrevious = false
	}
	if err := s.rename(staging, final); err != nil {
		if hadPrevious {
			if rerr := s.rename(backup, final); rerr != nil {
				s.logger.Error("failed to restore previous session", "path", final, "backup", backup, "error", rerr)
			}
		}
		return fmt.Errorf("filestore: commit session: %w", err)
	}
	if hadPrevious {
		if err := os.RemoveAll(backup); err != nil {
			s.logger.Warn("failed to remove previous session copy", "path", backup, "error", err)
		}
	}
	return nil
}

// Load reads and validates a session, then persists a refreshed last-used time.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	if !validID(id) {
		return nil, domain.NewError(domain.ErrSessionNotFound, "load", id, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lock(id)
	defer unlock()

	dir := s.dir(id)
	var art session.Artifacts
	for name, dst := range map[string]*[]byte{
		session.IndexArtifact:    &art.Index,
		session.DataArtifact:     &art.Data,
		session.MetadataArtifact: &art.Metadata,
	} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, domain.NewError(domain.ErrSessionNotFound, "load", id, err)
		}
		*dst = b
	}
	sess, err := session.Decode(id, art)
	if err != nil {
		return nil, domain.NewError(domain.ErrSessionNotFound, "load", id, err)
	}
	sess.Meta.LastUsed = s.now().UTC()
	if err := s.writeMetadata(dir, sess.Meta); err != nil {
		return nil, fmt.Errorf("filestore: refresh last_used of session %s: %w", id, err)
	}
	return sess, nil
}

// MarkDeleted sets the delete flag on the session's metadata.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.NewError(domain.ErrSessionNotFound, "mark_deleted", id, nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()

	dir := s.dir(id)
	meta, err := readMetadata(dir)
	if err != nil {
		return domain.NewError(domain.ErrSessionNotFound, "mark_deleted", id, err)
	}
	meta.Delete = true
	return s.writeMetadata(dir, meta)
}

// Sweep deletes sessions that are expired, flagged for deletion, or whose
// metadata cannot be read. Stale staging directories are removed as well.
func (s *Store) Sweep(ctx context.Context) (session.SweepReport, error) {
	report := session.NewSweepReport()
	start := s.now()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return report, fmt.Errorf("filestore: list sessions: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, stagingPrefix) {
			s.sweepStaging(name, start)
			continue
		}
		report.Scanned++
		reason := s.staleReason(s.dir(name), start)
		if reason == "" {
			continue
		}
		deleted, err := s.deleteIfStale(name, start)
		if err != nil {
			report.Failures++
			s.logger.Warn("sweep: failed to delete session", "session_id", name, "reason", reason, "error", err)
			continue
		}
		if deleted != "" {
			report.Deleted[deleted]++
			s.logger.Info("sweep: deleted session", "session_id", name, "reason", deleted)
		}
	}
	return report, nil
}

// deleteIfStale re-reads the metadata under the session lock so a concurrent
// Load or Save wins over the sweep.
func (s *Store) deleteIfStale(id string, start time.Time) (string, error) {
	unlock := s.lock(id)
	defer unlock()
	dir := s.dir(id)
	reason := s.staleReason(dir, start)
	if reason == "" {
		return "", nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	s.locks.Delete(id)
	return reason, nil
}

func (s *Store) staleReason(dir string, start time.Time) string {
	meta, err := readMetadata(dir)
	if err != nil {
		if info, statErr := os.Stat(dir); statErr != nil || info.ModTime().After(start) {
			return ""
		}
		return session.ReasonCorrupt
	}
	if meta.LastUsed.After(start) {
		return ""
	}
	return meta.StaleReason(start, s.ttl)
}

func (s *Store) sweepStaging(name string, start time.Time) {
	path := filepath.Join(s.root, name)
	info, err := os.Stat(path)
	if err != nil || start.Sub(info.ModTime()) <= s.ttl {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		s.logger.Warn("sweep: failed to remove staging dir", "path", path, "error", err)
	}
}

func readMetadata(dir string) (session.Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, session.MetadataArtifact))
	if err != nil {
		return session.Metadata{}, err
	}
	return session.DecodeMetadata(b)
}

func (s *Store) writeMetadata(dir string, meta session.Metadata) error {
	b, err := session.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, stagingPrefix+"meta-")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := s.rename(tmp.Name(), filepath.Join(dir, session.MetadataArtifact)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

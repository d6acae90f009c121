// Package redisstore keeps sessions in Redis as three keys that share a
// native expiry.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docqa/internal/domain"
	"docqa/internal/session"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "docqa:session:"

// Config holds connection details for Dial.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Store is a session.Store backed by Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	locks  sync.Map
	logger *slog.Logger
}

// Dial connects to Redis and verifies the connection with a PING.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, cfg.Prefix, cfg.TTL), nil
}

// New wraps an existing client. Empty prefix and zero ttl select the defaults.
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "redisstore"),
	}
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) keys(id string) (idx, data, meta string) {
	base := s.prefix + id
	return base + ":index", base + ":data", base + ":meta"
}

// lock acquires the mutex of id, retrying when a sweep dropped the mutex
// while we waited on it.
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

// Save writes all three keys in one transaction.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	art, err := session.Encode(sess)
	if err != nil {
		return fmt.Errorf("redisstore: %w", err)
	}
	unlock := s.lock(sess.ID)
	defer unlock()
	ik, dk, mk := s.keys(sess.ID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ik, art.Index, s.ttl)
		pipe.Set(ctx, dk, art.Data, s.ttl)
		pipe.Set(ctx, mk, art.Metadata, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save %s: %w", sess.ID, err)
	}
	return nil
}

// Load reads the session and resets the expiry of its keys.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	unlock := s.lock(id)
	defer unlock()
	ik, dk, mk := s.keys(id)
	vals, err := s.rdb.MGet(ctx, ik, dk, mk).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load %s: %w", id, err)
	}
	var art session.Artifacts
	dst := []*[]byte{&art.Index, &art.Data, &art.Metadata}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, domain.NewError(domain.ErrSessionNotFound, "load", id, nil)
		}
		*dst[i] = []byte(str)
	}
	sess, err := session.Decode(id, art)
	if err != nil {
		return nil, domain.NewError(domain.ErrSessionNotFound, "load", id, err)
	}
	sess.Meta.LastUsed = s.now().UTC()
	meta, err := session.EncodeMetadata(sess.Meta)
	if err != nil {
		return nil, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, mk, meta, s.ttl)
		pipe.Expire(ctx, ik, s.ttl)
		pipe.Expire(ctx, dk, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: refresh %s: %w", id, err)
	}
	return sess, nil
}

// MarkDeleted sets the delete flag, keeping the current expiry.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	_, _, mk := s.keys(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, mk).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.NewError(domain.ErrSessionNotFound, "mark_deleted", id, nil)
		}
		if err != nil {
			return err
		}
		meta, err := session.DecodeMetadata(b)
		if err != nil {
			return domain.NewError(domain.ErrSessionNotFound, "mark_deleted", id, err)
		}
		meta.Delete = true
		out, err := session.EncodeMetadata(meta)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, mk, out, redis.KeepTTL)
			return nil
		})
		return err
	}, mk)
}

// Sweep scans metadata keys and deletes flagged, expired or corrupt sessions.
// Expired keys normally vanish on their own; the scan covers sessions whose
// expiry was extended by another writer.
func (s *Store) Sweep(ctx context.Context) (session.SweepReport, error) {
	report := session.NewSweepReport()
	start := s.now()
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*:meta", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ":meta")
		report.Scanned++
		reason, err := s.deleteIfStale(ctx, id, start)
		if err != nil {
			report.Failures++
			s.logger.Warn("sweep: failed to delete session", "session_id", id, "error", err)
			continue
		}
		if reason != "" {
			report.Deleted[reason]++
			s.logger.Info("sweep: deleted session", "session_id", id, "reason", reason)
		}
	}
	if err := iter.Err(); err != nil {
		return report, fmt.Errorf("redisstore: scan sessions: %w", err)
	}
	return report, nil
}

// deleteIfStale watches the metadata key so a concurrent refresh aborts the
// deletion.
func (s *Store) deleteIfStale(ctx context.Context, id string, start time.Time) (string, error) {
	unlock := s.lock(id)
	defer unlock()
	ik, dk, mk := s.keys(id)
	var reason string
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, mk).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		meta, err := session.DecodeMetadata(b)
		switch {
		case err != nil:
			reason = session.ReasonCorrupt
		case meta.LastUsed.After(start):
			return nil
		default:
			reason = meta.StaleReason(start, s.ttl)
		}
		if reason == "" {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, ik, dk, mk)
			return nil
		})
		return err
	}, mk)
	if errors.Is(err, redis.TxFailedErr) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if reason != "" {
		s.locks.Delete(id)
	}
	return reason, nil
}

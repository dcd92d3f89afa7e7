package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// CacheEntry is one row of the persistent cache tier.
type CacheEntry struct {
	Key       string
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Tags      []string
}

// ErrCacheMiss is returned by GetCacheEntry when no live entry exists.
var ErrCacheMiss = errors.New("cache entry not found")

// PutCacheEntry inserts or replaces a cache entry.
func (s *Store) PutCacheEntry(ctx context.Context, entry *CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO cache_entries (key, value, created_at, expires_at, tags)
			VALUES (?, ?, ?, ?, ?)`,
			entry.Key, entry.Value, entry.CreatedAt, entry.ExpiresAt, encodeTags(entry.Tags))
		return err
	})
	return queryErr("put cache entry", err)
}

// GetCacheEntry returns a live entry or ErrCacheMiss. Expired entries are
// treated as misses; they are reaped lazily by DeleteExpired.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var entry CacheEntry
	var tags string

	err := withRetry(func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT key, value, created_at, expires_at, tags
			FROM cache_entries
			WHERE key = ? AND expires_at > ?`,
			key, time.Now().UTC()).
			Scan(&entry.Key, &entry.Value, &entry.CreatedAt, &entry.ExpiresAt, &tags)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, queryErr("get cache entry", err)
	}

	entry.Tags = decodeTags(tags)
	return &entry, nil
}

// DeleteCacheEntry removes one entry by key.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return err
	})
	return queryErr("delete cache entry", err)
}

// DeleteCacheByTag purges every entry sharing the given tag and returns the
// number of rows removed.
func (s *Store) DeleteCacheByTag(ctx context.Context, tag string) (int, error) {
	var n int64
	err := withRetry(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE tags LIKE ?`,
			"%,"+tag+",%")
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, queryErr("delete cache by tag", err)
	}
	return int(n), nil
}

// DeleteExpiredCache reaps entries past their TTL.
func (s *Store) DeleteExpiredCache(ctx context.Context) (int, error) {
	var n int64
	err := withRetry(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, queryErr("delete expired cache", err)
	}
	return int(n), nil
}

// encodeTags stores tags as ",a,b," so a single LIKE matches one tag exactly.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ","
	}
	return "," + strings.Join(tags, ",") + ","
}

func decodeTags(s string) []string {
	trimmed := strings.Trim(s, ",")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}

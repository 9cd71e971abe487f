// Package store is Finch's persistence layer: a SQLite database for
// sessions, web-fetch/search caching, and feedback, plus the flat-file
// formats under ~/.finch (feedback.jsonl, metrics/, history, node_id).
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	url     TEXT PRIMARY KEY,
	result  TEXT NOT NULL,
	created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS search_cache (
	query   TEXT PRIMARY KEY,
	result  TEXT NOT NULL,
	created INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_created ON fetch_cache(created);
CREATE INDEX IF NOT EXISTS idx_search_created ON search_cache(created);
`

// Cache is the SQLite handle shared by the web caches, session
// persistence, and the feedback mirror. Every method is nil-receiver safe
// so callers can wire persistence optionally.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

// Open creates or opens the database at dbPath; ttl bounds cache entry
// freshness.
func Open(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	c := &Cache{db: db, ttl: ttl}
	if err := c.ensureSessionSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session schema: %w", err)
	}
	c.purgeStale()
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// DB exposes the raw handle for collaborators sharing the file (the delta
// tracker keeps its undo table alongside the caches).
func (c *Cache) DB() *sql.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// cacheGet reads a fresh row from one of the cache tables.
func (c *Cache) cacheGet(table, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keyCol := "url"
	if table == "search_cache" {
		keyCol = "query"
	}
	cutoff := time.Now().Add(-c.ttl).Unix()
	var result string
	//nolint:gosec // table and column names come from this file only
	err := c.db.QueryRow(
		fmt.Sprintf("SELECT result FROM %s WHERE %s = ? AND created > ?", table, keyCol),
		key, cutoff,
	).Scan(&result)
	if err != nil {
		return "", false
	}
	return result, true
}

// cachePut upserts a cache row; failures degrade to a cache miss later.
func (c *Cache) cachePut(table, key, result string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keyCol := "url"
	if table == "search_cache" {
		keyCol = "query"
	}
	//nolint:gosec // table and column names come from this file only
	_, err := c.db.Exec(
		fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, result, created) VALUES (?, ?, ?)", table, keyCol),
		key, result, time.Now().Unix(),
	)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("cache write failed")
	}
}

// GetFetch returns a cached fetch result for url, or a miss.
func (c *Cache) GetFetch(url string) (string, bool) {
	return c.cacheGet("fetch_cache", url)
}

// SetFetch stores a fetch result.
func (c *Cache) SetFetch(url, result string) {
	c.cachePut("fetch_cache", url, result)
}

// GetSearch returns a cached search result for the exact query, or a miss.
func (c *Cache) GetSearch(query string) (string, bool) {
	return c.cacheGet("search_cache", normalizeQuery(query))
}

// SetSearch stores a search result.
func (c *Cache) SetSearch(query, result string) {
	c.cachePut("search_cache", normalizeQuery(query), result)
}

// Content-overlap thresholds for SearchCachedContent: most of the query's
// keywords must appear, and enough of them that a two-word query can't
// false-positive.
const (
	overlapMinFraction = 0.75
	overlapMinHits     = 3
)

// SearchCachedContent looks for a previously cached result whose text
// already answers the query, sparing an API call. It scores results by
// keyword overlap rather than matching the original query strings.
func (c *Cache) SearchCachedContent(query string) (string, bool) {
	if c == nil {
		return "", false
	}
	keywords := tokenize(query)
	if len(keywords) < 2 {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl).Unix()
	rows, err := c.db.Query("SELECT result FROM search_cache WHERE created > ?", cutoff)
	if err != nil {
		return "", false
	}
	defer rows.Close()

	best, bestScore, bestHits := "", 0.0, 0
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			continue
		}
		score, hits := keywordOverlap(keywords, strings.ToLower(result))
		if score > bestScore {
			best, bestScore, bestHits = result, score, hits
		}
	}

	if bestScore >= overlapMinFraction && bestHits >= overlapMinHits {
		return best, true
	}
	return "", false
}

// purgeStale deletes cache rows past the TTL.
func (c *Cache) purgeStale() {
	cutoff := time.Now().Add(-c.ttl).Unix()
	for _, table := range []string{"fetch_cache", "search_cache"} {
		//nolint:gosec // table name comes from this file only
		res, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE created <= ?", table), cutoff)
		if err != nil {
			log.Warn().Err(err).Str("table", table).Msg("stale cache purge failed")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			log.Info().Int64("deleted", n).Str("table", table).Msg("purged stale cache entries")
		}
	}
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// stopWords never count as keywords.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"for": true, "and": true, "but": true, "or": true, "nor": true,
	"not": true, "so": true, "yet": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "by": true, "with": true,
	"from": true, "as": true, "into": true, "about": true, "between": true,
	"through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "up": true, "down": true, "out": true,
	"off": true, "over": true, "under": true, "again": true, "then": true,
	"once": true, "here": true, "there": true, "when": true, "where": true,
	"why": true, "how": true, "what": true, "which": true, "who": true,
	"whom": true, "this": true, "that": true, "these": true, "those": true,
	"i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "him": true, "his": true,
	"she": true, "her": true, "it": true, "its": true, "they": true,
	"them": true, "their": true,
}

// tokenize lowercases, strips punctuation, and drops stop words and
// one-letter tokens.
func tokenize(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		w = strings.Trim(w, ".,;:!?\"'()-[]{}")
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// keywordOverlap reports what fraction (and count) of keywords occur in
// the lowercased text.
func keywordOverlap(keywords []string, textLower string) (float64, int) {
	if len(keywords) == 0 {
		return 0, 0
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(textLower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords)), hits
}

// Package stmtcache provides the prepared-statement cache used by both
// storage backends; each backend owns one Cache for its *sql.DB.
// Statement keys are the literal SQL
// text — collisions are impossible because every caller's SQL strings
// are source-constant, per spec.md §9.
package stmtcache

import (
	"context"
	"database/sql"
	"sync"
)

// Cache owns prepared statements for one *sql.DB. It must be
// Finalized before the underlying DB is closed.
type Cache struct {
	db    *sql.DB
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

// New creates a statement cache bound to db.
func New(db *sql.DB) *Cache {
	return &Cache{db: db, stmts: make(map[string]*sql.Stmt)}
}

// Prepare returns a cached *sql.Stmt for query, preparing it on first
// use.
func (c *Cache) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	if stmt, ok := c.stmts[query]; ok {
		c.mu.RUnlock()
		return stmt, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: another goroutine may have prepared it while we
	// waited for the write lock.
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// Finalize closes every cached statement. Safe to call more than
// once.
func (c *Cache) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for query, stmt := range c.stmts {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.stmts, query)
	}
	return firstErr
}

// Len reports how many statements are currently cached (test hook).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stmts)
}

// Package db provides CRUD repository operations for the Moneta data models.
package db

import (
	"database/sql"
	"fmt"
	"sync"
)

// Repository provides CRUD operations over the local store's three tables:
// transactions, mutation_queue, and metadata.
//
// Statements are prepared on first use and cached for reuse.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt

	watchMu  sync.Mutex
	watchers map[int]func()
	nextID   int
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:       db,
		watchers: make(map[int]func()),
	}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Watch registers a callback invoked after every committed write to the
// transactions table. The returned function unregisters the callback and is
// safe to call more than once.
//
// Live queries in the facade are built on this: re-run the query whenever
// the store says something changed, instead of polling.
func (r *Repository) Watch(fn func()) func() {
	r.watchMu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.watchMu.Lock()
			delete(r.watchers, id)
			r.watchMu.Unlock()
		})
	}
}

// notifyWatchers fires every registered watcher. Called by write paths
// after their statement has committed.
func (r *Repository) notifyWatchers() {
	r.watchMu.Lock()
	fns := make([]func(), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.watchMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

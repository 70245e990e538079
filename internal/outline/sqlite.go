package outline

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a Store backed by a SQLite database.
//
// The database is configured with WAL mode for concurrent reads, NORMAL
// synchronous mode, and a 5-second busy timeout. The connection pool is
// pinned to a single connection: the engine is a single writer and SQLite
// allows only one anyway.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the outline database at path. Idempotent:
// pragmas and schema are applied on every open.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open outline database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect outline database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM nodes WHERE id = ?`, id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get node %s: %w", id, err)
	}
	return text, true, nil
}

func (s *SQLiteStore) CreateNode(ctx context.Context, parentID string, order int, text, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create node %s: %w", id, err)
	}
	defer tx.Rollback()

	if order == OrderLast {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ord)+1, 0) FROM nodes WHERE parent_id = ?`, parentID).Scan(&order)
		if err != nil {
			return fmt.Errorf("create node %s: %w", id, err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE nodes SET ord = ord+1 WHERE parent_id = ? AND ord >= ?`, parentID, order)
		if err != nil {
			return fmt.Errorf("create node %s: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (id, parent_id, ord, text) VALUES (?, ?, ?, ?)`,
		id, parentID, order, text)
	if err != nil {
		return fmt.Errorf("create node %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, id, text string) error {
	// Updating a node that vanished underneath us is a stale-id case,
	// not an error.
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("update node %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MoveNode(ctx context.Context, id, parentID string, order int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("move node %s: %w", id, err)
	}
	defer tx.Rollback()

	var oldParent string
	var oldOrder int
	err = tx.QueryRowContext(ctx,
		`SELECT parent_id, ord FROM nodes WHERE id = ?`, id).Scan(&oldParent, &oldOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("move node %s: no such node", id)
	}
	if err != nil {
		return fmt.Errorf("move node %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE nodes SET ord = ord-1 WHERE parent_id = ? AND ord > ?`, oldParent, oldOrder)
	if err != nil {
		return fmt.Errorf("move node %s: %w", id, err)
	}

	if order == OrderLast {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ord)+1, 0) FROM nodes WHERE parent_id = ? AND id <> ?`,
			parentID, id).Scan(&order)
		if err != nil {
			return fmt.Errorf("move node %s: %w", id, err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE nodes SET ord = ord+1 WHERE parent_id = ? AND ord >= ? AND id <> ?`,
			parentID, order, id)
		if err != nil {
			return fmt.Errorf("move node %s: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE nodes SET parent_id = ?, ord = ? WHERE id = ?`, parentID, order, id)
	if err != nil {
		return fmt.Errorf("move node %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN sub ON n.parent_id = sub.id
		)
		DELETE FROM nodes WHERE id IN sub`, id)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CreatePage(ctx context.Context, title, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pages (id, title) VALUES (?, ?)`, id, title)
	if err != nil {
		return fmt.Errorf("create page %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM nodes WHERE parent_id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN sub ON n.parent_id = sub.id
		)
		DELETE FROM nodes WHERE id IN sub`, id)
	if err != nil {
		return fmt.Errorf("delete page %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete page %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) PageByTitle(ctx context.Context, title string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM pages WHERE title = ?`, title).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("page by title %q: %w", title, err)
	}
	return id, true, nil
}

func (s *SQLiteStore) ParentOf(ctx context.Context, id string) (string, bool, error) {
	var parentID string
	err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM nodes WHERE id = ?`, id).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("parent of %s: %w", id, err)
	}
	// A page parent is not a node parent.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, parentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("parent of %s: %w", id, err)
	}
	return parentID, true, nil
}

func (s *SQLiteStore) PageOf(ctx context.Context, id string) (string, bool, error) {
	var pageID string
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE up(id, parent_id) AS (
			SELECT id, parent_id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id FROM nodes n JOIN up ON n.id = up.parent_id
		)
		SELECT p.id FROM pages p JOIN up ON p.id = up.parent_id`, id).Scan(&pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("page of %s: %w", id, err)
	}
	return pageID, true, nil
}

func (s *SQLiteStore) ChildrenOf(ctx context.Context, id string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ord, text FROM nodes WHERE parent_id = ? ORDER BY ord ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", id, err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Order, &n.Text); err != nil {
			return nil, fmt.Errorf("children of %s: %w", id, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AncestorsMatching(ctx context.Context, scopeID string, match func(string) bool) ([]string, error) {
	return collectMatching(ctx, s, scopeID, match)
}

func (s *SQLiteStore) SubtreeText(ctx context.Context, id string) (TextTree, bool, error) {
	return buildSubtree(ctx, s, id)
}

// collectMatching walks the subtree under scopeID depth-first and
// returns matching node texts. Shared by both store implementations so
// match order is identical.
func collectMatching(ctx context.Context, s Store, scopeID string, match func(string) bool) ([]string, error) {
	var out []string
	var walk func(id string) error
	walk = func(id string) error {
		children, err := s.ChildrenOf(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if match(c.Text) {
				out = append(out, c.Text)
			}
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(scopeID); err != nil {
		return nil, err
	}
	return out, nil
}

func buildSubtree(ctx context.Context, s Store, id string) (TextTree, bool, error) {
	text, ok, err := s.GetNode(ctx, id)
	if err != nil || !ok {
		return TextTree{}, ok, err
	}
	tree := TextTree{Text: text}
	children, err := s.ChildrenOf(ctx, id)
	if err != nil {
		return TextTree{}, false, err
	}
	for _, c := range children {
		sub, ok, err := s.SubtreeText(ctx, c.ID)
		if err != nil {
			return TextTree{}, false, err
		}
		if ok {
			tree.Children = append(tree.Children, sub)
		}
	}
	return tree, true, nil
}

// Package docstore persists document snapshots. The snapshot bytes are opaque
// here: the sync engine owns the CRDT semantics, this package only moves
// blobs in and out of the pages table.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/tracksuite/collabsync/pkg/database"
)

// Store loads and saves the persisted binary state of a document.
//
// Load returning (nil, nil) means "no prior document" and is not an error;
// callers start from an empty document. Save replaces the whole snapshot
// (last snapshot wins).
type Store interface {
	Load(ctx context.Context, docID string) ([]byte, error)
	Save(ctx context.Context, docID string, snapshot []byte) error
}

// SQLStore keeps snapshots in pages.content. Page rows are created and
// deleted by the CRUD application; saving against a missing page is an error
// the caller is expected to log and retry.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context, docID string) ([]byte, error) {
	pageID, err := strconv.ParseInt(docID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", docID, err)
	}
	var content []byte
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT content FROM pages WHERE id = ?`), pageID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

func (s *SQLStore) Save(ctx context.Context, docID string, snapshot []byte) error {
	pageID, err := strconv.ParseInt(docID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", docID, err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE pages SET content = ? WHERE id = ?`), snapshot, pageID)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", docID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected for document %s: %w", docID, err)
	} else if n == 0 {
		return fmt.Errorf("document %s does not exist", docID)
	}
	return nil
}

// Package permission answers whether a user may view or edit a page. The
// membership and role data is owned by the surrounding CRUD application; this
// package only reads it. Decisions are recomputed on every call — roles can
// change mid-session and the authorizer relies on seeing that immediately.
package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/tracksuite/collabsync/pkg/database"
)

// Roles as stored in project_members.role.
const (
	RoleManager = "manager"
	RoleEditor  = "editor"
	RoleViewer  = "viewer"
)

// Oracle is the permission check consulted on every connection and every
// inbound message. Implementations must be safe for concurrent use and must
// not cache across calls.
type Oracle interface {
	CanView(ctx context.Context, userID int64, docID string) (bool, error)
	CanEdit(ctx context.Context, userID int64, docID string) (bool, error)
}

// SQLOracle resolves permissions from the shared pages/project_members
// tables. A document id is the page's numeric id serialized as a string; a
// token that doesn't parse resolves to no permission rather than an error.
type SQLOracle struct {
	db *database.DB
}

func NewSQLOracle(db *database.DB) *SQLOracle {
	return &SQLOracle{db: db}
}

func (o *SQLOracle) CanView(ctx context.Context, userID int64, docID string) (bool, error) {
	pageID, ok := parseDocID(docID)
	if !ok {
		return false, nil
	}
	return o.exists(ctx, `
		SELECT 1 FROM pages p
		INNER JOIN project_members m ON m.projectid = p.projectid
		WHERE p.id = ? AND m.userid = ?`,
		pageID, userID)
}

func (o *SQLOracle) CanEdit(ctx context.Context, userID int64, docID string) (bool, error) {
	pageID, ok := parseDocID(docID)
	if !ok {
		return false, nil
	}
	return o.exists(ctx, `
		SELECT 1 FROM pages p
		INNER JOIN project_members m ON m.projectid = p.projectid
		WHERE p.id = ? AND m.userid = ? AND m.role IN (?, ?)`,
		pageID, userID, RoleManager, RoleEditor)
}

func (o *SQLOracle) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := o.db.QueryRowContext(ctx, o.db.Rebind(query), args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to query membership: %w", err)
}

func parseDocID(docID string) (int64, bool) {
	id, err := strconv.ParseInt(docID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksuite/collabsync/pkg/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	seed := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{1, "manager"}},
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{2, "editor"}},
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{3, "viewer"}},
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{4, "outsider"}},
		{`INSERT INTO projects (id, name) VALUES (?, ?)`, []any{1, "demo"}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 1, RoleManager}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 2, RoleEditor}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 3, RoleViewer}},
		{`INSERT INTO pages (id, projectid, name) VALUES (?, ?, ?)`, []any{10, 1, "Board"}},
	}
	for _, s := range seed {
		_, err := db.Exec(db.Rebind(s.query), s.args...)
		require.NoError(t, err)
	}
	return db
}

func TestMembershipGrantsView(t *testing.T) {
	o := NewSQLOracle(testDB(t))
	ctx := context.Background()

	for _, userID := range []int64{1, 2, 3} {
		ok, err := o.CanView(ctx, userID, "10")
		require.NoError(t, err)
		assert.True(t, ok, "user %d is a member and must be able to view", userID)
	}

	ok, err := o.CanView(ctx, 4, "10")
	require.NoError(t, err)
	assert.False(t, ok, "non-members must not view")
}

func TestOnlyManagersAndEditorsCanEdit(t *testing.T) {
	o := NewSQLOracle(testDB(t))
	ctx := context.Background()

	for userID, want := range map[int64]bool{1: true, 2: true, 3: false, 4: false} {
		ok, err := o.CanEdit(ctx, userID, "10")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "user %d", userID)
	}
}

func TestUnknownPageDeniesAll(t *testing.T) {
	o := NewSQLOracle(testDB(t))
	ctx := context.Background()

	ok, err := o.CanView(ctx, 1, "999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMalformedDocumentIDDeniesAll(t *testing.T) {
	o := NewSQLOracle(testDB(t))
	ctx := context.Background()

	for _, docID := range []string{"", "abc", "-1", "10; DROP TABLE pages"} {
		ok, err := o.CanView(ctx, 1, docID)
		require.NoError(t, err)
		assert.False(t, ok, "doc id %q", docID)
		ok, err = o.CanEdit(ctx, 1, docID)
		require.NoError(t, err)
		assert.False(t, ok, "doc id %q", docID)
	}
}

func TestDecisionsAreNotCached(t *testing.T) {
	db := testDB(t)
	o := NewSQLOracle(db)
	ctx := context.Background()

	ok, err := o.CanEdit(ctx, 2, "10")
	require.NoError(t, err)
	require.True(t, ok)

	// demote the editor to viewer mid-session
	_, err = db.Exec(db.Rebind(`UPDATE project_members SET role = ? WHERE userid = ?`), RoleViewer, 2)
	require.NoError(t, err)

	ok, err = o.CanEdit(ctx, 2, "10")
	require.NoError(t, err)
	assert.False(t, ok, "the next check must see the new role immediately")
}

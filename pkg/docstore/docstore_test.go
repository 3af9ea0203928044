package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksuite/collabsync/pkg/database"
)

func testStore(t *testing.T) (*SQLStore, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	_, err = db.Exec(`INSERT INTO projects (id, name) VALUES (1, 'demo')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pages (id, projectid, name) VALUES (10, 1, 'Board')`)
	require.NoError(t, err)
	return NewSQLStore(db), db
}

func TestLoadMissingPageIsNotAnError(t *testing.T) {
	s, _ := testStore(t)
	raw, err := s.Load(context.Background(), "999")
	require.NoError(t, err)
	assert.Nil(t, raw, "no row means no prior document")
}

func TestLoadNullContentIsNotAnError(t *testing.T) {
	s, _ := testStore(t)
	raw, err := s.Load(context.Background(), "10")
	require.NoError(t, err)
	assert.Nil(t, raw, "a page that was never synced has no prior document")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	snapshot := []byte{0x85, 0x6f, 0x4a, 0x83, 0x01, 0x02, 0x03}
	require.NoError(t, s.Save(ctx, "10", snapshot))

	raw, err := s.Load(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, snapshot, raw)

	// last snapshot wins
	replacement := []byte{0x85, 0x6f, 0x4a, 0x83, 0x09}
	require.NoError(t, s.Save(ctx, "10", replacement))
	raw, err = s.Load(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, replacement, raw)
}

func TestSaveToMissingPageFails(t *testing.T) {
	s, _ := testStore(t)
	err := s.Save(context.Background(), "999", []byte{0x01})
	assert.Error(t, err, "page rows are owned by the CRUD layer; a vanished page is a store failure")
}

func TestInvalidDocumentID(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Load(context.Background(), "not-a-page")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), "not-a-page", []byte{0x01}))
}

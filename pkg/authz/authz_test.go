package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracksuite/collabsync/pkg/session"
)

type stubOracle struct {
	view    bool
	viewErr error
	edit    bool
	editErr error
}

func (o stubOracle) CanView(context.Context, int64, string) (bool, error) {
	return o.view, o.viewErr
}

func (o stubOracle) CanEdit(context.Context, int64, string) (bool, error) {
	return o.edit, o.editErr
}

func testAuthorizer(o stubOracle) *Authorizer {
	return New(o, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRejectsAnonymous(t *testing.T) {
	a := testAuthorizer(stubOracle{view: true, edit: true})
	v := a.AuthorizeConnect(context.Background(), "1", nil)
	assert.False(t, v.Allowed)
	assert.NotEmpty(t, v.Reason)
}

func TestRejectsWithoutView(t *testing.T) {
	a := testAuthorizer(stubOracle{view: false, edit: false})
	id := &session.Identity{UserID: 7}
	assert.False(t, a.AuthorizeConnect(context.Background(), "1", id).Allowed)
	assert.False(t, a.AuthorizeMessage(context.Background(), "1", id).Allowed)
}

func TestEditNeverImpliesView(t *testing.T) {
	// a role granting edit but not view must still be rejected
	a := testAuthorizer(stubOracle{view: false, edit: true})
	id := &session.Identity{UserID: 7}
	assert.False(t, a.AuthorizeConnect(context.Background(), "1", id).Allowed)
	assert.False(t, a.AuthorizeMessage(context.Background(), "1", id).Allowed)
}

func TestViewerIsReadOnly(t *testing.T) {
	a := testAuthorizer(stubOracle{view: true, edit: false})
	id := &session.Identity{UserID: 7}
	v := a.AuthorizeConnect(context.Background(), "1", id)
	assert.True(t, v.Allowed)
	assert.True(t, v.ReadOnly)
}

func TestEditorIsWritable(t *testing.T) {
	a := testAuthorizer(stubOracle{view: true, edit: true})
	id := &session.Identity{UserID: 7}
	v := a.AuthorizeMessage(context.Background(), "1", id)
	assert.True(t, v.Allowed)
	assert.False(t, v.ReadOnly)
}

func TestOracleErrorsFailClosed(t *testing.T) {
	id := &session.Identity{UserID: 7}

	t.Run("view lookup failure rejects", func(t *testing.T) {
		a := testAuthorizer(stubOracle{viewErr: errors.New("db down"), edit: true})
		assert.False(t, a.AuthorizeConnect(context.Background(), "1", id).Allowed)
	})

	t.Run("edit lookup failure downgrades", func(t *testing.T) {
		a := testAuthorizer(stubOracle{view: true, editErr: errors.New("db down")})
		v := a.AuthorizeConnect(context.Background(), "1", id)
		assert.True(t, v.Allowed)
		assert.True(t, v.ReadOnly)
	})
}

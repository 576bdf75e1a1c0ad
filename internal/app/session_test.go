package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/remote"
	"taskdesk/internal/server"
	"taskdesk/internal/service"
)

func newAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	svc := service.New(conn, config.Default())
	svc.HashCost = bcrypt.MinCost
	_, err = svc.BootstrapAdmin(context.Background())
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Service:      svc,
		BasePath:     "/api",
		Auth:         server.AuthConfig{JWTSecret: "session-test", TokenTTL: time.Hour},
		Registration: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts.URL + "/api"
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenWithoutTokenFails(t *testing.T) {
	_, err := Open(context.Background(), Options{BaseURL: "http://127.0.0.1:1/api"})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestOpenWithBadTokenIsUnauthenticated(t *testing.T) {
	base := newAPI(t)
	_, err := Open(context.Background(), Options{BaseURL: base, Token: "bogus", Logger: quietLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnauthenticated)
	assert.Equal(t, "Your session has expired. Log in again.", engine.Message(err))
}

func TestSessionEditsThroughEngines(t *testing.T) {
	base := newAPI(t)
	ctx := context.Background()

	bob, err := remote.New(base, "").Register(ctx, "bob", "pw", "OP")
	require.NoError(t, err)

	sess, err := Open(ctx, Options{BaseURL: base, Token: bob.Token, Timeout: 5 * time.Second, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, bob.Account.ID, sess.Actor().ID)

	created, err := sess.Tasks.RequestCreate(ctx, domain.Fields{domain.FieldTitle: "Inventory"}, sess.Actor())
	require.NoError(t, err)
	id := created.ResourceID()

	require.NoError(t, sess.Tasks.Begin(id))
	require.NoError(t, sess.Tasks.Stage(id, domain.FieldProgress, 40))
	saved, err := sess.Tasks.RequestSave(ctx, id, sess.Actor())
	require.NoError(t, err)
	assert.Equal(t, 40, saved.(domain.Task).Progress)
	assert.False(t, sess.Tasks.HasPendingChanges(id))

	require.NoError(t, sess.Reload(ctx))
	stored, ok := sess.Tasks.Stored(id)
	require.True(t, ok)
	assert.Equal(t, 40, stored.(domain.Task).Progress)
	assert.Len(t, sess.Accounts.List(), 1, "a user sees only their own account")

	_, err = sess.Accounts.RequestRoleChange(ctx, bob.Account.ID, domain.RoleAdmin, sess.Actor())
	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestAdminSessionChangesDepartment(t *testing.T) {
	base := newAPI(t)
	ctx := context.Background()

	bob, err := remote.New(base, "").Register(ctx, "bob", "pw", "OP")
	require.NoError(t, err)
	admin, err := remote.New(base, "").Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	sess, err := Open(ctx, Options{BaseURL: base, Token: admin.Token, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, sess.Reload(ctx, domain.KindAccount))

	res, err := sess.Accounts.RequestDepartmentChange(ctx, bob.Account.ID, "QA", sess.Actor())
	require.NoError(t, err)
	assert.Equal(t, "QA", res.(domain.Account).Department)

	err = sess.Accounts.RequestDelete(ctx, admin.Account.ID, sess.Actor())
	assert.True(t, errors.Is(err, engine.ErrForbidden), "admins cannot delete themselves: %v", err)
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskdesk", "token")
	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Empty(t, tok)
	require.NoError(t, SaveToken(path, "abc"))
	tok, err = LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

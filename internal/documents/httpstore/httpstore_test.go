package httpstore_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/auth"
	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/database"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents/documentstest"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents/httpstore"
	"github.com/MarcoPoloResearchLab/remindful/internal/migration"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/MarcoPoloResearchLab/remindful/internal/remote"
	"github.com/MarcoPoloResearchLab/remindful/internal/server"
	"github.com/MarcoPoloResearchLab/remindful/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "client-secret"
	testUserID = "user-1"
)

func newClient(t *testing.T, userID string) (*httpstore.Store, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSecret)})
	require.NoError(t, err)
	backing := documentstest.NewSQLiteStore(t, func() time.Time { return time.Unix(1750000000, 42) })
	handler, err := server.NewHTTPHandler(server.Dependencies{SessionValidator: validator, Store: backing})
	require.NoError(t, err)
	apiServer := httptest.NewServer(handler)
	t.Cleanup(apiServer.Close)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSecret)})
	require.NoError(t, err)
	token, _, err := issuer.IssueSessionToken(userID)
	require.NoError(t, err)

	client, err := httpstore.New(httpstore.Config{BaseURL: apiServer.URL + "/", Token: token})
	require.NoError(t, err)
	return client, apiServer
}

func TestAdapterOverHTTP(t *testing.T) {
	client, _ := newClient(t, testUserID)
	adapter, err := remote.NewAdapter(remote.AdapterConfig{Store: client})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "g1", Name: "Home", Position: 131072}))
	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "g2", Name: "Work", Position: 65536}))
	groups, err := adapter.ListGroups(ctx, testUserID)
	require.NoError(t, err)
	require.Equal(t, "g2", groups[0].ID)

	saved, err := adapter.SaveItem(ctx, testUserID, reminders.Item{
		ID:       "item-1",
		Title:    "Dentist",
		GroupID:  reminders.StringPointer("g1"),
		RemindAt: reminders.Timestamp{Seconds: 1800000000, Nanoseconds: 5},
	})
	require.NoError(t, err)
	require.Equal(t, reminders.Timestamp{Seconds: 1750000000, Nanoseconds: 42}, *saved.UpdatedAt)

	require.NoError(t, adapter.DeleteGroup(ctx, testUserID, "g1"))
	items, err := adapter.ListItems(ctx, testUserID)
	require.NoError(t, err)
	require.Empty(t, items)

	_, found, err := adapter.GetPreferences(ctx, testUserID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestErrorsCarryServiceCodes(t *testing.T) {
	client, _ := newClient(t, testUserID)
	ctx := context.Background()

	_, err := client.List(ctx, testUserID, "items", documents.Query{OrderBy: "bad.field"})
	var apiErr *httpstore.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 400, apiErr.Status)
	require.Equal(t, "documents.list.invalid_request", apiErr.Code)
}

func TestRejectsMissingToken(t *testing.T) {
	_, err := httpstore.New(httpstore.Config{BaseURL: "http://localhost:8080"})
	require.Error(t, err)
}

func newSession(t *testing.T, client *httpstore.Store, backend cache.Backend, ledgerPath string) *session.Session {
	t.Helper()
	adapter, err := remote.NewAdapter(remote.AdapterConfig{Store: client})
	require.NoError(t, err)
	cacheStore, err := cache.NewStore(cache.StoreConfig{Backend: backend})
	require.NoError(t, err)
	db, err := database.OpenSQLite(ledgerPath, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	ledger, err := migration.NewLedger(db, nil)
	require.NoError(t, err)
	runner, err := migration.NewRunner(migration.Config{
		Remote:      adapter,
		Items:       cache.NewItems(cacheStore),
		Preferences: cache.NewPreferences(cacheStore),
		Flags:       ledger,
	})
	require.NoError(t, err)
	sess, err := session.New(session.Config{UserID: testUserID, Remote: adapter, Cache: cacheStore, Migration: runner})
	require.NoError(t, err)
	return sess
}

func TestSessionServesCacheWhileAPIIsDown(t *testing.T) {
	client, apiServer := newClient(t, testUserID)
	backend := cache.NewMemoryBackend()
	ledgerPath := filepath.Join(t.TempDir(), "client.db")
	ctx := context.Background()

	online := newSession(t, client, backend, ledgerPath)
	online.Open(ctx)
	require.NoError(t, online.MigrationErr())
	require.NoError(t, online.Refresh(ctx))
	group, pending, err := online.Groups().Create(ctx, "Errands", "green")
	require.NoError(t, err)
	require.NoError(t, pending.Wait(ctx))
	require.NoError(t, online.Close(ctx))

	apiServer.Close()

	offline := newSession(t, client, backend, ledgerPath)
	offline.Open(ctx)
	require.NoError(t, offline.MigrationErr())
	require.True(t, offline.Groups().HydratedFromCache())
	require.Error(t, offline.Refresh(ctx))
	groups := offline.Groups().List()
	require.Len(t, groups, 1)
	require.Equal(t, group.ID, groups[0].ID)
	require.NoError(t, offline.Close(ctx))
}

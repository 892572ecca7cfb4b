package visitor

import (
	"context"
	"database/sql"
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curiousminds/internal/config"
	"curiousminds/internal/models"
	"curiousminds/internal/redis"
	"curiousminds/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterAndGet(t *testing.T) {
	svc := NewService(openTestDB(t), nil, nil)
	ctx := context.Background()

	v, err := svc.Register(ctx, RegisterRequest{
		Name:     "  Sam ",
		Phone:    "555-0100",
		Location: &models.Location{City: "Lisbon", Country: "Portugal", Flag: "PT"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "Sam", v.Name)

	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam", got.Name)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Equal(t, "Lisbon", got.Location.City)

	_, err = svc.Get(ctx, "nobody")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = svc.Get(ctx, "")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestIdentity(t *testing.T) {
	svc := NewService(openTestDB(t), nil, nil)
	ctx := context.Background()

	known, err := svc.Register(ctx, RegisterRequest{Name: "Sam", Phone: "555"})
	require.NoError(t, err)

	id := svc.Identity(ctx, known.ID)
	assert.Equal(t, known.ID, id.SessionID)
	require.NotNil(t, id.Defaults)
	assert.Equal(t, "Sam", id.Defaults.Name)
	assert.Equal(t, "555", id.Defaults.Phone)
	assert.Nil(t, id.Defaults.Location)

	located, err := svc.Register(ctx, RegisterRequest{Location: &models.Location{City: "Oslo", Country: "Norway"}})
	require.NoError(t, err)
	id = svc.Identity(ctx, located.ID)
	require.NotNil(t, id.Defaults.Location)
	assert.Equal(t, "Oslo", id.Defaults.Location.City)

	// an unregistered browser session keeps its id so its messages stay attributable
	browser := svc.Identity(ctx, "browser-session-42")
	assert.Equal(t, "browser-session-42", browser.SessionID)
	assert.Nil(t, browser.Defaults)
	assert.Equal(t, "browser-session-42", svc.Identity(ctx, " browser-session-42 ").SessionID)

	anon := svc.Identity(ctx, "")
	assert.NotEmpty(t, anon.SessionID)
	assert.Nil(t, anon.Defaults)
	assert.NotEqual(t, anon.SessionID, svc.Identity(ctx, "").SessionID)
}

func TestGetReadsThroughRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.New(config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	db := openTestDB(t)
	svc := NewService(db, client, nil)
	ctx := context.Background()

	v, err := svc.Register(ctx, RegisterRequest{Name: "Cached"})
	require.NoError(t, err)
	defer client.Delete(ctx, cacheKey(v.ID))

	// the row is gone, the cache still answers
	_, err = db.Exec(`DELETE FROM visitors WHERE id = ?`, v.ID)
	require.NoError(t, err)
	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cached", got.Name)

	require.NoError(t, client.Delete(ctx, cacheKey(v.ID)))
	_, err = svc.Get(ctx, v.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

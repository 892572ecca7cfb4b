package booking

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curiousminds/internal/config"
	"curiousminds/internal/models"
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

func newBooking(name string) *models.DemoBooking {
	return &models.DemoBooking{
		UserID: "s-" + name,
		Name:   name,
		Email:  name + "@example.com",
		Phone:  "555-0100",
		Grade:  "9",
	}
}

func TestFocusArea(t *testing.T) {
	area, err := FocusArea("")
	require.NoError(t, err)
	assert.Equal(t, "Synthesis Engine", area)

	area, err = FocusArea(" engine ocean ")
	require.NoError(t, err)
	assert.Equal(t, "Engine Ocean", area)

	_, err = FocusArea("Time Travel")
	assert.ErrorIs(t, err, ErrInvalidFocusArea)
}

func TestSaveAppliesDefaults(t *testing.T) {
	svc := NewService(openTestDB(t), nil)
	ctx := context.Background()

	b := newBooking("ana")
	require.NoError(t, svc.Save(ctx, b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, "Synthesis Engine", b.FocusArea)
	assert.Equal(t, models.UnknownLocation(), b.Location)
	assert.False(t, b.CreatedAt.IsZero())

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Name)
	assert.Equal(t, "9", got.Grade)
	assert.Equal(t, models.BookingPending, got.Status)
	assert.Equal(t, "Global", got.Location.Country)
}

func TestSaveRejectsInvalidBookings(t *testing.T) {
	svc := NewService(openTestDB(t), nil)
	ctx := context.Background()

	assert.Error(t, svc.Save(ctx, nil))

	missing := newBooking("ana")
	missing.Phone = " "
	assert.Error(t, svc.Save(ctx, missing))

	area := newBooking("ben")
	area.FocusArea = "Time Travel"
	assert.ErrorIs(t, svc.Save(ctx, area), ErrInvalidFocusArea)

	status := newBooking("cy")
	status.Status = "LOST"
	assert.ErrorIs(t, svc.Save(ctx, status), ErrInvalidStatus)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := NewService(openTestDB(t), nil)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, name := range []string{"ana", "ben", "cy"} {
		b := newBooking(name)
		b.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, svc.Save(ctx, b))
		ids = append(ids, b.ID)
	}
	require.NoError(t, svc.UpdateStatus(ctx, ids[1], models.BookingConfirmed))

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"cy", "ben", "ana"}, []string{all[0].Name, all[1].Name, all[2].Name})

	pending, err := svc.List(ctx, models.BookingPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	confirmed, err := svc.List(ctx, models.BookingConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "ben", confirmed[0].Name)

	_, err = svc.List(ctx, "LOST")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateStatus(t *testing.T) {
	svc := NewService(openTestDB(t), nil)
	ctx := context.Background()

	b := newBooking("ana")
	require.NoError(t, svc.Save(ctx, b))

	for _, status := range []models.BookingStatus{models.BookingConfirmed, models.BookingCompleted, models.BookingCancelled} {
		require.NoError(t, svc.UpdateStatus(ctx, b.ID, status))
		got, err := svc.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
	}

	assert.ErrorIs(t, svc.UpdateStatus(ctx, b.ID, "LOST"), ErrInvalidStatus)
	assert.ErrorIs(t, svc.UpdateStatus(ctx, "missing", models.BookingConfirmed), sql.ErrNoRows)
}

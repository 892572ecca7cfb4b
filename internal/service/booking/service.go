// Package booking stores requests for free 1:1 demo sessions.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curiousminds/internal/logging"
	"curiousminds/internal/models"
)

var (
	ErrInvalidStatus    = errors.New("invalid booking status")
	ErrInvalidFocusArea = errors.New("unknown focus area")
)

// FocusArea resolves a requested focus area; empty picks the default.
func FocusArea(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return models.FocusAreas[0], nil
	}
	for _, area := range models.FocusAreas {
		if strings.EqualFold(area, requested) {
			return area, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFocusArea, requested)
}

type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logging.OrNop(logger).Named("booking")}
}

// Save fills in id, timestamp, status and focus area defaults, then stores b.
func (s *Service) Save(ctx context.Context, b *models.DemoBooking) error {
	if b == nil {
		return errors.New("nil booking")
	}
	b.Name = strings.TrimSpace(b.Name)
	b.Email = strings.TrimSpace(b.Email)
	b.Phone = strings.TrimSpace(b.Phone)
	if b.Name == "" || b.Email == "" || b.Phone == "" || b.Grade == "" {
		return errors.New("booking needs name, email, phone and grade")
	}
	area, err := FocusArea(b.FocusArea)
	if err != nil {
		return err
	}
	b.FocusArea = area
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, b.Status)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Location.IsZero() {
		b.Location = models.UnknownLocation()
	}

	loc := b.Location
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO demo_bookings (id, user_id, name, email, phone, grade, focus_area, status, city, country, lat, lng, flag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.Email, b.Phone, b.Grade, b.FocusArea, string(b.Status),
		loc.City, loc.Country, loc.Lat, loc.Lng, loc.Flag, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	s.logger.Info("demo booked", zap.String("id", b.ID), zap.String("focus_area", b.FocusArea))
	return nil
}

const bookingColumns = `id, user_id, name, email, phone, grade, focus_area, status, city, country, lat, lng, flag, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row scanner) (models.DemoBooking, error) {
	var (
		b      models.DemoBooking
		status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Email, &b.Phone, &b.Grade, &b.FocusArea, &status,
		&b.Location.City, &b.Location.Country, &b.Location.Lat, &b.Location.Lng, &b.Location.Flag, &b.CreatedAt)
	b.Status = models.BookingStatus(status)
	return b, err
}

// Get returns one booking or sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, id string) (*models.DemoBooking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM demo_bookings WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return &b, nil
}

// List returns bookings newest first, optionally only those in status.
func (s *Service) List(ctx context.Context, status models.BookingStatus) ([]models.DemoBooking, error) {
	query := `SELECT ` + bookingColumns + ` FROM demo_bookings`
	var args []interface{}
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []models.DemoBooking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateStatus moves a booking to status. Unknown ids give sql.ErrNoRows.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.BookingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE demo_bookings SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	s.logger.Info("booking status changed", zap.String("id", id), zap.String("status", string(status)))
	return nil
}

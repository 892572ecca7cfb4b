// Package lead records who asked the site chat its first question.
package lead

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

const (
	AnonymousName   = "Anonymous Visitor"
	UnassignedEmail = "unassigned@lead.internal"
	UnknownIP       = "unknown"
	DeviceMobile    = "Mobile"
	DeviceDesktop   = "Desktop"
)

// CaptureRequest is what is known about a visitor when they first use the chat.
type CaptureRequest struct {
	UserID     string
	Name       string
	Email      string
	FirstQuery string
	Location   *models.Location
	UserAgent  string
	IP         string
}

// DeviceFromUserAgent is a coarse mobile/desktop split.
func DeviceFromUserAgent(ua string) string {
	if strings.Contains(ua, "Mobile") {
		return DeviceMobile
	}
	return DeviceDesktop
}

// NewLead applies the anonymous fallbacks for everything the visitor never told us.
func NewLead(req CaptureRequest, now time.Time) *models.Lead {
	location := models.UnknownLocation()
	if req.Location != nil && !req.Location.IsZero() {
		location = *req.Location
	}
	return &models.Lead{
		ID:         uuid.NewString(),
		UserID:     strings.TrimSpace(req.UserID),
		Name:       orDefault(req.Name, AnonymousName),
		Email:      orDefault(req.Email, UnassignedEmail),
		FirstQuery: strings.TrimSpace(req.FirstQuery),
		Location:   location,
		Device:     DeviceFromUserAgent(req.UserAgent),
		IP:         orDefault(req.IP, UnknownIP),
		CreatedAt:  now.UTC(),
	}
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logging.OrNop(logger).Named("lead")}
}

// Capture stores l unless the visitor already has a lead. It reports whether a
// row was written. Callers serialise captures per visitor.
func (s *Service) Capture(ctx context.Context, l *models.Lead) (bool, error) {
	if l == nil || l.UserID == "" {
		return false, errors.New("lead needs a user id")
	}
	if l.FirstQuery == "" {
		return false, errors.New("lead needs a first query")
	}
	if _, err := s.ForUser(ctx, l.UserID); err == nil {
		return false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	loc := l.Location
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, user_id, name, email, first_query, city, country, lat, lng, flag, device, ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Name, l.Email, l.FirstQuery,
		loc.City, loc.Country, loc.Lat, loc.Lng, loc.Flag, l.Device, l.IP, l.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	s.logger.Info("lead captured", zap.String("user_id", l.UserID), zap.String("device", l.Device))
	return true, nil
}

const leadColumns = `id, user_id, name, email, first_query, city, country, lat, lng, flag, device, ip, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row scanner) (models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.UserID, &l.Name, &l.Email, &l.FirstQuery,
		&l.Location.City, &l.Location.Country, &l.Location.Lat, &l.Location.Lng, &l.Location.Flag,
		&l.Device, &l.IP, &l.CreatedAt)
	return l, err
}

// ForUser returns the visitor's lead or sql.ErrNoRows.
func (s *Service) ForUser(ctx context.Context, userID string) (*models.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &l, nil
}

// List returns leads newest first.
func (s *Service) List(ctx context.Context) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	leads := []models.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// Package visitor keeps track of site visitors and supplies the capture widget
// with who is recording.
package visitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curiousminds/internal/capture"
	"curiousminds/internal/logging"
	"curiousminds/internal/models"
	"curiousminds/internal/redis"
)

const cacheTTL = 24 * time.Hour

type RegisterRequest struct {
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	Phone    string           `json:"phone"`
	Location *models.Location `json:"location"`
}

type Service struct {
	db     *sql.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewService builds the visitor service; redis may be nil.
func NewService(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *Service {
	return &Service{db: db, redis: redisClient, logger: logging.OrNop(logger).Named("visitor")}
}

// Register starts a visitor session. Every field is optional.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Visitor, error) {
	v := &models.Visitor{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	}
	if req.Location != nil {
		v.Location = *req.Location
	}
	loc := v.Location
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO visitors (id, name, email, phone, city, country, lat, lng, flag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Email, v.Phone, loc.City, loc.Country, loc.Lat, loc.Lng, loc.Flag, v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert visitor: %w", err)
	}
	s.cache(ctx, v)
	return v, nil
}

// Get loads a visitor, reading through the redis cache when one is configured.
func (s *Service) Get(ctx context.Context, id string) (*models.Visitor, error) {
	if id == "" {
		return nil, sql.ErrNoRows
	}
	if v, ok := s.cached(ctx, id); ok {
		return v, nil
	}
	var v models.Visitor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, city, country, lat, lng, flag, created_at FROM visitors WHERE id = ?`, id,
	).Scan(&v.ID, &v.Name, &v.Email, &v.Phone,
		&v.Location.City, &v.Location.Country, &v.Location.Lat, &v.Location.Lng, &v.Location.Flag,
		&v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	s.cache(ctx, &v)
	return &v, nil
}

// Identity is the read-only snapshot handed to a capture widget. An id with no
// visitor row is an anonymous browser session and is kept as is; only an empty
// id gets a fresh one.
func (s *Service) Identity(ctx context.Context, id string) capture.Identity {
	id = strings.TrimSpace(id)
	if id == "" {
		return capture.Identity{SessionID: uuid.NewString()}
	}
	v, err := s.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("visitor lookup failed", zap.String("visitor_id", id), zap.Error(err))
		}
		return capture.Identity{SessionID: id}
	}
	defaults := &capture.Defaults{Name: v.Name, Phone: v.Phone}
	if !v.Location.IsZero() {
		loc := v.Location
		defaults.Location = &loc
	}
	return capture.Identity{SessionID: v.ID, Defaults: defaults}
}

func cacheKey(id string) string {
	return "visitor:" + id
}

func (s *Service) cached(ctx context.Context, id string) (*models.Visitor, bool) {
	if s.redis == nil {
		return nil, false
	}
	var v models.Visitor
	if err := s.redis.GetJSON(ctx, cacheKey(id), &v); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("visitor cache read failed", zap.String("visitor_id", id), zap.Error(err))
		}
		return nil, false
	}
	return &v, true
}

func (s *Service) cache(ctx context.Context, v *models.Visitor) {
	if s.redis == nil {
		return
	}
	if err := s.redis.SetJSON(ctx, cacheKey(v.ID), v, cacheTTL); err != nil {
		s.logger.Warn("visitor cache write failed", zap.String("visitor_id", v.ID), zap.Error(err))
	}
}

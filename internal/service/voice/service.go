// Package voice stores voice messages left through the capture widget and serves
// them back to the inbox.
package voice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curiousminds/internal/logging"
	"curiousminds/internal/models"
	"curiousminds/internal/redis"
)

// NotifyChannel carries a Notification for every stored voice message.
const NotifyChannel = "voice:new"

var ErrInvalidStatus = errors.New("invalid voice message status")

// Notification is published when a voice message lands in the inbox.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

// Service persists NeuralComm records.
type Service struct {
	db     *sql.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewService builds the voice service; redis may be nil.
func NewService(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *Service {
	return &Service{db: db, redis: redisClient, logger: logging.OrNop(logger).Named("voice")}
}

// Save inserts comm, filling id, timestamp and status when missing.
func (s *Service) Save(ctx context.Context, comm *models.NeuralComm) error {
	if comm == nil {
		return errors.New("voice message is required")
	}
	if strings.TrimSpace(comm.AudioDataURL) == "" {
		return errors.New("voice message has no audio")
	}
	if comm.ID == "" {
		comm.ID = uuid.NewString()
	}
	if comm.CreatedAt.IsZero() {
		comm.CreatedAt = time.Now().UTC()
	}
	if comm.Status == "" {
		comm.Status = models.CommUnread
	}
	if !comm.Status.Valid() {
		return ErrInvalidStatus
	}
	loc := comm.Location
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO neural_comms (id, user_id, name, phone, audio, duration, city, country, lat, lng, flag, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		comm.ID, comm.UserID, comm.Name, comm.Phone, comm.AudioDataURL, comm.Duration,
		loc.City, loc.Country, loc.Lat, loc.Lng, loc.Flag, string(comm.Status), comm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert voice message: %w", err)
	}
	s.notify(ctx, comm)
	return nil
}

func (s *Service) notify(ctx context.Context, comm *models.NeuralComm) {
	if s.redis == nil {
		return
	}
	note := Notification{
		ID:        comm.ID,
		UserID:    comm.UserID,
		Name:      comm.Name,
		Duration:  comm.Duration,
		CreatedAt: comm.CreatedAt,
	}
	if err := s.redis.PublishJSON(ctx, NotifyChannel, note); err != nil {
		s.logger.Warn("publish voice notification failed", zap.String("comm_id", comm.ID), zap.Error(err))
	}
}

// List returns messages newest first, without audio payloads. An empty status lists all.
func (s *Service) List(ctx context.Context, status models.CommStatus) ([]models.NeuralComm, error) {
	query := `SELECT id, user_id, name, phone, duration, city, country, lat, lng, flag, status, created_at FROM neural_comms`
	var args []interface{}
	if status != "" {
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list voice messages: %w", err)
	}
	defer rows.Close()

	comms := []models.NeuralComm{}
	for rows.Next() {
		var c models.NeuralComm
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Duration,
			&c.Location.City, &c.Location.Country, &c.Location.Lat, &c.Location.Lng, &c.Location.Flag,
			&c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan voice message: %w", err)
		}
		comms = append(comms, c)
	}
	return comms, rows.Err()
}

// Get returns one message including its audio. Missing ids yield sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, id string) (*models.NeuralComm, error) {
	var c models.NeuralComm
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, phone, audio, duration, city, country, lat, lng, flag, status, created_at
		 FROM neural_comms WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.AudioDataURL, &c.Duration,
		&c.Location.City, &c.Location.Country, &c.Location.Lat, &c.Location.Lng, &c.Location.Flag,
		&c.Status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get voice message: %w", err)
	}
	return &c, nil
}

// UpdateStatus moves a message between UNREAD, REPLIED and ARCHIVED.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.CommStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx, `UPDATE neural_comms SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update voice message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("voice message rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Watch streams notifications until ctx ends. It needs redis.
func (s *Service) Watch(ctx context.Context) (<-chan Notification, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("voice notifications: %w", redis.ErrNotConfigured)
	}
	pubsub, err := s.redis.Subscribe(ctx, NotifyChannel)
	if err != nil {
		return nil, err
	}
	out := make(chan Notification)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					s.logger.Warn("voice notification decode failed", zap.Error(err))
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

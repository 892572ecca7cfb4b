package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"curiousminds/internal/models"
	"curiousminds/internal/service/booking"
	"curiousminds/internal/service/lead"
	"curiousminds/internal/worker"
)

func isFirstQuestion(history []models.ChatMessage) bool {
	for _, m := range history {
		if m.Role == models.RoleUser {
			return false
		}
	}
	return true
}

// captureLead queues a lead for the visitor's first chat question. It never
// fails the chat.
func (h *Handler) captureLead(c *gin.Context, sessionID, query string) {
	sessionID = strings.TrimSpace(sessionID)
	if h.leads == nil || sessionID == "" {
		return
	}
	req := lead.CaptureRequest{
		UserID:     sessionID,
		FirstQuery: query,
		UserAgent:  c.Request.UserAgent(),
		IP:         c.ClientIP(),
	}
	if v, err := h.visitors.Get(c.Request.Context(), sessionID); err == nil {
		req.Name = v.Name
		req.Email = v.Email
		req.Location = &v.Location
	} else if !errors.Is(err, sql.ErrNoRows) {
		h.logger.Warn("visitor lookup for lead failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	l := lead.NewLead(req, h.clock.Now())

	err := h.jobs.Submit(worker.Job{
		Key:  l.UserID,
		Name: "capture_lead",
		Run: func(ctx context.Context) error {
			_, err := h.leads.Capture(ctx, l)
			return err
		},
	})
	if err != nil {
		h.logger.Warn("lead not queued", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *Handler) listLeads(c *gin.Context) {
	leads, err := h.leads.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads})
}

type createBookingRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required"`
	Grade     string `json:"grade" binding:"required,oneof=1 2 3 4 5 6 7 8 9 10 11 12 University"`
	FocusArea string `json:"focus_area"`
}

// createBooking queues a demo booking on the worker pool.
func (h *Handler) createBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	area, err := booking.FocusArea(req.FocusArea)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity := h.visitors.Identity(c.Request.Context(), req.SessionID)
	b := &models.DemoBooking{
		ID:        uuid.NewString(),
		UserID:    identity.SessionID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Grade:     req.Grade,
		FocusArea: area,
		Status:    models.BookingPending,
		Location:  models.UnknownLocation(),
		CreatedAt: h.clock.Now().UTC(),
	}
	if d := identity.Defaults; d != nil && d.Location != nil && !d.Location.IsZero() {
		b.Location = *d.Location
	}

	err = h.jobs.Submit(worker.Job{
		Key:  b.UserID,
		Name: "save_demo_booking",
		Run: func(ctx context.Context) error {
			return h.bookings.Save(ctx, b)
		},
	})
	if err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": b.ID, "status": b.Status})
}

func (h *Handler) listBookings(c *gin.Context) {
	status := models.BookingStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	bookings, err := h.bookings.List(c.Request.Context(), status)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"demo_bookings": bookings})
}

func (h *Handler) updateBooking(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status := models.BookingStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := h.bookings.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		switch {
		case errors.Is(err, booking.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "demo booking not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

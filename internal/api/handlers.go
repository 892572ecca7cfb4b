// Package api exposes the site's HTTP routes and the voice widget websocket.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"curiousminds/internal/audio"
	"curiousminds/internal/capture"
	"curiousminds/internal/logging"
	"curiousminds/internal/models"
	"curiousminds/internal/service/ai"
	"curiousminds/internal/service/visitor"
	"curiousminds/internal/service/voice"
	"curiousminds/internal/worker"
)

type VoiceStore interface {
	List(ctx context.Context, status models.CommStatus) ([]models.NeuralComm, error)
	Get(ctx context.Context, id string) (*models.NeuralComm, error)
	UpdateStatus(ctx context.Context, id string, status models.CommStatus) error
	Watch(ctx context.Context) (<-chan voice.Notification, error)
}

type VoiceSaver interface {
	Save(ctx context.Context, comm *models.NeuralComm) error
}

type VisitorDirectory interface {
	Register(ctx context.Context, req visitor.RegisterRequest) (*models.Visitor, error)
	Get(ctx context.Context, id string) (*models.Visitor, error)
	Identity(ctx context.Context, id string) capture.Identity
}

type Assistant interface {
	Chat(ctx context.Context, history []models.ChatMessage, message string) (string, error)
	Speech(ctx context.Context, text, language string) (string, error)
	MissionImage(ctx context.Context, prompt string) (string, error)
}

type LeadStore interface {
	Capture(ctx context.Context, l *models.Lead) (bool, error)
	List(ctx context.Context) ([]models.Lead, error)
}

type BookingStore interface {
	Save(ctx context.Context, b *models.DemoBooking) error
	List(ctx context.Context, status models.BookingStatus) ([]models.DemoBooking, error)
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus) error
}

// JobSubmitter queues background work; worker.Dispatcher satisfies it.
type JobSubmitter interface {
	Submit(job worker.Job) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Voice     VoiceStore
	Saver     VoiceSaver
	Visitors  VisitorDirectory
	Leads     LeadStore
	Bookings  BookingStore
	AI        Assistant
	Jobs      JobSubmitter
	Persister capture.Persister
	Encoder   capture.Encoder
	// Clock drives widget timers; nil uses the real clock.
	Clock      clockwork.Clock
	MicTimeout time.Duration
	MimeType   string
	Logger     *zap.Logger
}

// Handler wires HTTP routes to the services.
type Handler struct {
	voice      VoiceStore
	saver      VoiceSaver
	visitors   VisitorDirectory
	leads      LeadStore
	bookings   BookingStore
	ai         Assistant
	jobs       JobSubmitter
	persister  capture.Persister
	encoder    capture.Encoder
	clock      clockwork.Clock
	micTimeout time.Duration
	mimeType   string
	logger     *zap.Logger
}

const aiTimeout = 2 * time.Minute

func NewHandler(deps Deps) *Handler {
	if deps.Encoder == nil {
		deps.Encoder = audio.MimeEncoder{PCM: audio.WAVEncoder{SampleRate: audio.DefaultPCMRate, Channels: 1}}
	}
	if deps.MicTimeout <= 0 {
		deps.MicTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.MimeType == "" {
		deps.MimeType = audio.MimeWebM
	}
	return &Handler{
		voice:      deps.Voice,
		saver:      deps.Saver,
		visitors:   deps.Visitors,
		leads:      deps.Leads,
		bookings:   deps.Bookings,
		ai:         deps.AI,
		jobs:       deps.Jobs,
		persister:  deps.Persister,
		encoder:    deps.Encoder,
		clock:      deps.Clock,
		micTimeout: deps.MicTimeout,
		mimeType:   deps.MimeType,
		logger:     logging.OrNop(deps.Logger),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger))
	api := router.Group("/api")
	api.GET("/health", h.health)

	api.POST("/visitors", h.registerVisitor)
	api.GET("/visitors/:id", h.getVisitor)

	api.GET("/voice/ws", h.voiceWidget)

	api.GET("/voice-messages", h.listVoiceMessages)
	api.POST("/voice-messages", h.createVoiceMessage)
	api.GET("/voice-messages/feed", h.voiceFeed)
	api.GET("/voice-messages/:id", h.getVoiceMessage)
	api.GET("/voice-messages/:id/audio", h.getVoiceAudio)
	api.PATCH("/voice-messages/:id", h.updateVoiceMessage)

	api.GET("/leads", h.listLeads)
	api.POST("/demo-bookings", h.createBooking)
	api.GET("/demo-bookings", h.listBookings)
	api.PATCH("/demo-bookings/:id", h.updateBooking)

	api.POST("/chat", h.chat)
	api.POST("/speech", h.speech)
	api.POST("/mission-image", h.missionImage)
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger).Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) registerVisitor(c *gin.Context) {
	var req visitor.RegisterRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	v, err := h.visitors.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) getVisitor(c *gin.Context) {
	v, err := h.visitors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "visitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) listVoiceMessages(c *gin.Context) {
	status := models.CommStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	comms, err := h.voice.List(c.Request.Context(), status)
	if err != nil {
		if errors.Is(err, voice.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice_messages": comms})
}

func (h *Handler) lookupVoiceMessage(c *gin.Context) (*models.NeuralComm, bool) {
	comm, err := h.voice.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "voice message not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return comm, true
}

func (h *Handler) getVoiceMessage(c *gin.Context) {
	comm, ok := h.lookupVoiceMessage(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, comm)
}

func (h *Handler) getVoiceAudio(c *gin.Context) {
	comm, ok := h.lookupVoiceMessage(c)
	if !ok {
		return
	}
	mime, data, err := audio.DecodeDataURL(comm.AudioDataURL)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, mime, data)
}

func (h *Handler) updateVoiceMessage(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status := models.CommStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := h.voice.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		switch {
		case errors.Is(err, voice.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "voice message not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// voiceFeed streams new voice messages as server-sent events.
func (h *Handler) voiceFeed(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	notes, err := h.voice.Watch(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	for n := range notes {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "event: voice\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) aiError(c *gin.Context, err error) {
	if errors.Is(err, ai.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.logger.Warn("ai request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "ai service unavailable"})
}

func (h *Handler) chat(c *gin.Context) {
	var req struct {
		SessionID string               `json:"session_id"`
		Message   string               `json:"message"`
		History   []models.ChatMessage `json:"history"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if isFirstQuestion(req.History) {
		h.captureLead(c, req.SessionID, req.Message)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), aiTimeout)
	defer cancel()
	reply, err := h.ai.Chat(ctx, req.History, req.Message)
	if err != nil {
		h.aiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": models.RoleModel, "text": reply})
}

func (h *Handler) speech(c *gin.Context) {
	var req struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), aiTimeout)
	defer cancel()
	url, err := h.ai.Speech(ctx, req.Text, req.Language)
	if err != nil {
		h.aiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": url})
}

func (h *Handler) missionImage(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), aiTimeout)
	defer cancel()
	url, err := h.ai.MissionImage(ctx, req.Prompt)
	if err != nil {
		h.aiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": url})
}

type createVoiceRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Audio     string `json:"audio"`
	Duration  int    `json:"duration"`
}

// createVoiceMessage accepts a recording made entirely in the browser. The save
// runs on the worker pool; the response only confirms it was queued.
func (h *Handler) createVoiceMessage(c *gin.Context) {
	var req createVoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, _, err := audio.DecodeDataURL(req.Audio); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio must be a base64 data url"})
		return
	}
	if req.Duration < 0 || req.Duration > capture.MaxRecordSeconds {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("duration must be between 0 and %d", capture.MaxRecordSeconds)})
		return
	}
	identity := h.visitors.Identity(c.Request.Context(), req.SessionID)
	comm := capture.NewRecord(identity, capture.Contact{Name: req.Name, Phone: req.Phone}, req.Audio, req.Duration, time.Now())

	err := h.jobs.Submit(worker.Job{
		Key:  comm.UserID,
		Name: "save_voice_message",
		Run: func(ctx context.Context) error {
			return h.saver.Save(ctx, comm)
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
	c.JSON(http.StatusAccepted, gin.H{"id": comm.ID, "user_id": comm.UserID, "status": comm.Status})
}

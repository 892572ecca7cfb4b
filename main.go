package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curiousminds/internal/api"
	"curiousminds/internal/config"
	"curiousminds/internal/logging"
	"curiousminds/internal/redis"
	"curiousminds/internal/service/ai"
	"curiousminds/internal/service/booking"
	"curiousminds/internal/service/lead"
	"curiousminds/internal/service/visitor"
	"curiousminds/internal/service/voice"
	"curiousminds/internal/storage"
	"curiousminds/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("CURIOUSMINDS_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.BasicConfig.LogLevel)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	dbType := cfg.BasicConfig.DBType
	logger.Info("opening database", zap.String("db_type", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	// Create necessary tables: visitors, neural_comms, leads, demo_bookings
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(cfg.Redis)
		if err != nil {
			logger.Fatal("create redis client", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Info("redis disabled, visitor cache and voice feed are off")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiService, err := ai.NewService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init ai service", zap.Error(err))
	}
	voiceService := voice.NewService(db, rdb, logger)
	visitorService := visitor.NewService(db, rdb, logger)

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	}, logger)

	handlers := api.NewHandler(api.Deps{
		Voice:      voiceService,
		Saver:      voiceService,
		Visitors:   visitorService,
		Leads:      lead.NewService(db, logger),
		Bookings:   booking.NewService(db, logger),
		AI:         aiService,
		Jobs:       dispatcher,
		Persister:  voice.NewInbox(voiceService, dispatcher, logger),
		MicTimeout: time.Duration(cfg.Capture.MicTimeout) * time.Second,
		MimeType:   cfg.Capture.MimeType,
		Logger:     logger,
	})

	if cfg.BasicConfig.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// pending voice message saves finish before the database closes
	dispatcher.Close()
}

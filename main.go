package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvasboard/config"
	"canvasboard/config/database"
	askHandler "canvasboard/internal/ask"
	askService "canvasboard/internal/ask/service"
	embedHandler "canvasboard/internal/embed"
	embedService "canvasboard/internal/embed/service"
	handwritingHandler "canvasboard/internal/handwriting"
	handwritingRepo "canvasboard/internal/handwriting/repository"
	handwritingService "canvasboard/internal/handwriting/service"
	"canvasboard/internal/llm"
	pdfHandler "canvasboard/internal/pdf"
	pdfRepo "canvasboard/internal/pdf/repository"
	pdfService "canvasboard/internal/pdf/service"
	roomHandler "canvasboard/internal/room"
	videoHandler "canvasboard/internal/video"
	videoService "canvasboard/internal/video/service"
	"canvasboard/middleware"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/storage"
	"canvasboard/router"
	"canvasboard/socket"
)

func main() {
	cfg, foundDotenv, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	if !foundDotenv {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Sugar.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()

	store, localDir := newStorage(cfg)

	// Sync relay: the hub loop and the periodic saver share ctx so shutdown
	// flushes every dirty room.
	hub := socket.NewHub(socket.NewRoomStore(db), cfg.SyncSaveInterval)
	go hub.Run(ctx)
	go hub.SaveWorker(ctx)

	openAI := llm.New(llm.Config{
		APIKey:         cfg.OpenAIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		VisionModel:    cfg.VisionModel,
		MaxRetries:     2,
	})
	askLLM := llm.New(llm.Config{
		APIKey:    cfg.AskAPIKey,
		BaseURL:   cfg.AskBaseURL,
		ChatModel: cfg.AskModel,
	})

	pdfSvc := pdfService.NewPDFService(pdfRepo.NewPDFRepository(db), store, pdfService.PDFCPUExtractor{},
		openAI, cfg.PDFBucket, cfg.MaxPDFSize)

	handwritingSvc := handwritingService.NewHandwritingService(handwritingRepo.NewHandwritingRepository(db),
		store, hub, openAI, openAI, cfg.HandwritingBucket, cfg.OCRQueueSize)
	handwritingSvc.Start(ctx, cfg.OCRWorkers)

	askLimiter := middleware.NewRateLimiter(cfg.AskRPS, cfg.AskBurst, 10*time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				askLimiter.Cleanup()
			}
		}
	}()

	handlers := router.Handlers{
		Room:        roomHandler.NewRoomHandler(hub),
		PDF:         pdfHandler.NewPDFHandler(pdfSvc),
		Handwriting: handwritingHandler.NewHandwritingHandler(handwritingSvc),
		Ask:         askHandler.NewAskHandler(askService.NewAskService(askLLM, hub)),
		Video:       videoHandler.NewVideoHandler(videoService.NewVideoService(cfg.DailyAPIKey, cfg.DailyBaseURL)),
		Embed:       embedHandler.NewEmbedHandler(embedService.NewEmbedService(cfg.GoogleMapsAPIKey, cfg.YouTubeAPIKey, cfg.YouTubeBaseURL)),
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: router.Setup(handlers, router.Options{
			JWTSecret:     cfg.SupabaseJWTSecret,
			AskLimiter:    askLimiter,
			TrustProxy:    cfg.TrustProxy,
			LocalFilesDir: localDir,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Canvas backend listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Errorf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("HTTP shutdown: %v", err)
	}

	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logger.Sugar.Warn("Timed out waiting for rooms to flush")
	}
	handwritingSvc.Wait()
}

func newStorage(cfg *config.Config) (storage.Store, string) {
	if cfg.StorageBackend == config.StorageLocal {
		local, err := storage.NewLocal(cfg.LocalStorageDir, cfg.PublicBaseURL)
		if err != nil {
			logger.Sugar.Fatalf("Local storage: %v", err)
		}
		logger.Sugar.Infof("Storing uploads under %s", cfg.LocalStorageDir)
		return local, cfg.LocalStorageDir
	}
	return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey), ""
}

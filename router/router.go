package router

import (
	"net/http"

	askHandler "canvasboard/internal/ask"
	embedHandler "canvasboard/internal/embed"
	handwritingHandler "canvasboard/internal/handwriting"
	pdfHandler "canvasboard/internal/pdf"
	roomHandler "canvasboard/internal/room"
	videoHandler "canvasboard/internal/video"
	"canvasboard/middleware"
	"canvasboard/pkg/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Room        *roomHandler.RoomHandler
	PDF         *pdfHandler.PDFHandler
	Handwriting *handwritingHandler.HandwritingHandler
	Ask         *askHandler.AskHandler
	Video       *videoHandler.VideoHandler
	Embed       *embedHandler.EmbedHandler
}

type Options struct {
	JWTSecret  string
	AskLimiter *middleware.RateLimiter

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that sets those headers.
	TrustProxy bool

	// LocalFilesDir is served under /files/ when uploads are kept on disk.
	LocalFilesDir string
}

func Setup(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"message": "tldraw AI chat server"})
	})
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.LocalFilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(opts.LocalFilesDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.JWTSecret))

		// Legacy sync relay
		r.Get("/api/ws/rooms/{id}", h.Room.ServeWs)
		r.Route("/api/sync/rooms/{id}", func(r chi.Router) {
			r.Get("/snapshot", h.Room.GetSnapshot)
			r.Post("/snapshot", h.Room.ReplaceSnapshot)
			r.Get("/presence", h.Room.Presence)
			r.Post("/frame", h.Room.Frame)
		})
		r.Delete("/api/sync/rooms/{id}", h.Room.DeleteRoom)

		ask := http.Handler(http.HandlerFunc(h.Ask.Ask))
		if opts.AskLimiter != nil {
			ask = opts.AskLimiter.Middleware(ask)
		}
		r.Method(http.MethodPost, "/api/ask", ask)

		// PDF RAG
		r.Post("/api/pdf/upload", h.PDF.Upload)
		r.Get("/api/pdf/documents", h.PDF.ListDocuments)
		r.Post("/api/pdf/search", h.PDF.Search)
		r.Get("/api/pdf/{id}", h.PDF.GetDocument)
		r.Delete("/api/pdf/{id}", h.PDF.DeleteDocument)

		r.Post("/api/handwriting-upload", h.Handwriting.Upload)
		r.Get("/api/handwriting/{id}", h.Handwriting.GetNote)

		r.Post("/api/video/room", h.Video.GetOrCreateRoom)

		r.Get("/api/embed/maps", h.Embed.Maps)
		r.Get("/api/embed/youtube", h.Embed.YouTube)
	})

	return middleware.CORSMiddleware(r)
}

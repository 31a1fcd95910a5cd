package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chat-backend/internal/handlers"
	"chat-backend/internal/middleware"
	"chat-backend/internal/websocket"
)

func New(
	ctx context.Context,
	jwtAuth *middleware.JWTAuth,
	chatHandler *handlers.ChatHandler,
	catalogHandler *handlers.CatalogHandler,
	wsHub *websocket.Hub,
	frontendURL string,
	chatRateLimit int,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	chatLimiter := middleware.NewRateLimiter(ctx, chatRateLimit, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {

		// ──── Chat ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(chatLimiter.Middleware).Post("/chat", chatHandler.Chat)
			r.Get("/chats/{chatId}/messages", chatHandler.History)
		})

		// ──── Model catalog (answers 401 in its own format) ────
		r.With(jwtAuth.Optional).Get("/ai/get-models", catalogHandler.Models)

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}

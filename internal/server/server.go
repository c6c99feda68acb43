// Package server exposes the mini-program API and the operator panel
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/t59688/btx/internal/auth"
	"github.com/t59688/btx/internal/repository"
	"github.com/t59688/btx/internal/service"
)

type Server struct {
	addr          string
	adminUsername string
	adminPassword string
	log           *slog.Logger
	tokens        *auth.Manager
	users         *service.UserService
	artworks      *service.ArtworkService
	styles        *service.StyleService
	credits       *service.CreditService
	orders        *service.OrderService
	cardKeys      *service.CardKeyService
	admin         *service.AdminService
	router        *chi.Mux
}

func NewServer(addr, adminUsername, adminPassword string, log *slog.Logger, tokens *auth.Manager,
	users *service.UserService, artworks *service.ArtworkService, styles *service.StyleService,
	credits *service.CreditService, orders *service.OrderService, cardKeys *service.CardKeyService,
	admin *service.AdminService) *Server {

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:          addr,
		adminUsername: adminUsername,
		adminPassword: adminPassword,
		log:           log,
		tokens:        tokens,
		users:         users,
		artworks:      artworks,
		styles:        styles,
		credits:       credits,
		orders:        orders,
		cardKeys:      cardKeys,
		admin:         admin,
		router:        r,
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(authed chi.Router) {
			authed.Use(s.authMiddleware)

			authed.Get("/users/me", s.handleGetMe)
			authed.Put("/users/me", s.handleUpdateMe)

			authed.Get("/styles", s.handleListStyles)
			authed.Get("/styles/categories", s.handleListCategories)
			authed.Get("/styles/{id}", s.handleGetStyle)

			authed.Route("/artworks", func(r chi.Router) {
				r.Post("/", s.handleCreateArtwork)
				r.Get("/", s.handleListMyArtworks)
				r.Get("/{id}", s.handleGetArtwork)
				r.Get("/{id}/progress", s.handleArtworkProgress)
				r.Put("/{id}/publish", s.handlePublishArtwork)
				r.Delete("/{id}", s.handleDeleteArtwork)
				r.Post("/{id}/like", s.handleLikeArtwork)
				r.Delete("/{id}/like", s.handleUnlikeArtwork)
			})
			authed.Get("/gallery", s.handleGallery)

			authed.Get("/credits/balance", s.handleCreditBalance)
			authed.Get("/credits/records", s.handleCreditRecords)
			authed.Post("/credits/ad-reward", s.handleAdReward)

			authed.Get("/products", s.handleListProducts)
			authed.Post("/orders", s.handleCreateOrder)
			authed.Get("/orders", s.handleListOrders)
			authed.Get("/orders/{orderNo}/status", s.handleOrderStatus)

			authed.Post("/card-keys/redeem", s.handleRedeemCardKey)
		})
	})

	r.Route("/admin", func(panel chi.Router) {
		panel.Use(s.basicAuthMiddleware())

		panel.Get("/users", s.handleAdminListUsers)
		panel.Put("/users/{id}/blocked", s.handleAdminSetBlocked)
		panel.Post("/users/{id}/credits", s.handleAdminAdjustCredits)

		panel.Route("/styles", func(r chi.Router) {
			r.Get("/", s.handleAdminListStyles)
			r.Post("/", s.handleAdminCreateStyle)
			r.Put("/{id}", s.handleAdminUpdateStyle)
			r.Delete("/{id}", s.handleAdminDeleteStyle)
		})
		panel.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleAdminListProducts)
			r.Post("/", s.handleAdminCreateProduct)
			r.Put("/{id}", s.handleAdminUpdateProduct)
			r.Delete("/{id}", s.handleAdminDeleteProduct)
		})
		panel.Put("/artworks/{id}/hide", s.handleAdminHideArtwork)

		panel.Route("/card-keys", func(r chi.Router) {
			r.Get("/", s.handleAdminListCardKeys)
			r.Post("/", s.handleAdminGenerateCardKeys)
		})
		panel.Route("/configs", func(r chi.Router) {
			r.Get("/", s.handleAdminListConfigs)
			r.Put("/", s.handleAdminSetConfig)
		})
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type contextKey string

const userIDKey contextKey = "userID"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := s.tokens.Parse(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.adminUsername || pass != s.adminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="gallery-admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentUserID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// serviceError maps well-known service errors onto HTTP statuses,
// keeping their user-facing messages.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrStyleNotFound),
		errors.Is(err, service.ErrArtworkNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrCardKeyNotFound),
		errors.Is(err, service.ErrUserNotFound):
		s.errorJSON(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrArtworkForbidden),
		errors.Is(err, service.ErrUserBlocked):
		s.errorJSON(w, http.StatusForbidden, err)
	case errors.Is(err, repository.ErrInsufficientBalance):
		s.errorJSON(w, http.StatusPaymentRequired, err)
	case errors.Is(err, service.ErrStyleInactive),
		errors.Is(err, service.ErrImageSourceRequired),
		errors.Is(err, service.ErrInvalidImageData),
		errors.Is(err, service.ErrNotCompleted),
		errors.Is(err, service.ErrCardKeyExhausted),
		errors.Is(err, service.ErrAlreadyRedeemed):
		s.errorJSON(w, http.StatusBadRequest, err)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) errorJSON(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

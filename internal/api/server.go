// Package api exposes the chat pipeline over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopkeeper/backend/internal/chat"
	"github.com/shopkeeper/backend/internal/circuitbreaker"
	"github.com/shopkeeper/backend/internal/coupon"
	"github.com/shopkeeper/backend/internal/middleware"
	"github.com/shopkeeper/backend/internal/ratelimit"
	"github.com/shopkeeper/backend/internal/session"
)

// ChatHandler is satisfied by *chat.Service.
type ChatHandler interface {
	HandleMessage(ctx context.Context, msg chat.Message) (*chat.Response, error)
}

type Deps struct {
	Chat     ChatHandler
	Coupons  *coupon.Service
	Sessions session.Store
	Governor *ratelimit.Governor
	Breakers *circuitbreaker.Manager
	// Events serves the WebSocket stream; nil disables the route.
	Events   http.Handler
	Gatherer prometheus.Gatherer
	Ready    func() error

	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, logger: deps.Logger}
}

// Router wires every route and the shared middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.CORS(s.deps.AllowedOrigins))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/coupons/validate", s.handleValidateCoupon).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/sessions/{identity}", s.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/ratelimit/stats", s.handleRateLimitStats).Methods(http.MethodGet)
	if s.deps.Events != nil {
		v1.Handle("/events/ws", s.deps.Events).Methods(http.MethodGet)
	}
	return r
}
